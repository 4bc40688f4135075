// Package bridge exposes a ChatBot over a websocket so a browser UI can
// drive the tutor. Every frame is handled under one server-wide lock, so
// the session manager sees at most one call at a time across connections.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"TutorChat/internal/chatbot"
	"TutorChat/internal/config"
	"TutorChat/internal/transcript"
	"TutorChat/internal/tutor"
)

// Frame types
const (
	TypeSend     = "send"
	TypeReport   = "report"
	TypeNew      = "new"
	TypeSetKey   = "set_key"
	TypeSetModel = "set_model"
	TypeStatus   = "status"
	TypeReply    = "reply"
	TypeError    = "error"
)

// Error kinds specific to the bridge
const (
	KindRateLimited = "rate_limited"
	KindBadFrame    = "bad_frame"
)

// Request is an inbound frame.
type Request struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	Mode  string `json:"mode,omitempty"`
	Value string `json:"value,omitempty"`
}

// Response is an outbound frame. ID echoes the request id.
type Response struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Turn    *transcript.Turn `json:"turn,omitempty"`
	Text    string           `json:"text,omitempty"`
	Status  *chatbot.Status  `json:"status,omitempty"`
	Kind    string           `json:"kind,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Options tunes the per-connection flood control.
type Options struct {
	RatePerSecond float64
	Burst         int
}

// Server serves the websocket endpoint.
type Server struct {
	bot      *chatbot.ChatBot
	logger   *slog.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu sync.Mutex
}

// NewServer creates a bridge over bot.
func NewServer(bot *chatbot.ChatBot, logger *slog.Logger, opts Options) (*Server, error) {
	if bot == nil {
		return nil, fmt.Errorf("chatbot cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	return &Server{
		bot:    bot,
		logger: logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHostOrigin,
		},
	}, nil
}

// sameHostOrigin accepts requests without an Origin header and requests
// whose Origin host matches the Host header or is a loopback host.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if host == r.Host {
		return true
	}
	name := host
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name == "localhost" || name == "127.0.0.1" || name == "[::1]"
}

// Handler returns the HTTP handler with the websocket mounted at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(8 * 1024 * 1024)

	limiter := rate.NewLimiter(rate.Limit(s.opts.RatePerSecond), s.opts.Burst)
	s.logger.Info("bridge client connected", "remote", r.RemoteAddr)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("bridge read failed", "remote", r.RemoteAddr, "error", err)
			}
			break
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			if err := conn.WriteJSON(Response{Type: TypeError, Kind: KindBadFrame, Message: err.Error()}); err != nil {
				break
			}
			continue
		}

		var resp Response
		if !limiter.Allow() {
			resp = Response{Type: TypeError, Kind: KindRateLimited, Message: "too many requests, slow down"}
		} else {
			resp = s.Handle(r.Context(), req)
		}
		resp.ID = req.ID
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Warn("bridge write failed", "remote", r.RemoteAddr, "error", err)
			break
		}
	}
	s.logger.Info("bridge client disconnected", "remote", r.RemoteAddr)
}

// Handle executes one frame against the chatbot under the server lock.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Type {
	case TypeSend:
		return s.handleSend(ctx, req)

	case TypeReport:
		return Response{Type: TypeReport, Text: s.bot.Report(ctx)}

	case TypeNew:
		if err := s.bot.Reset(ctx); err != nil {
			return errorResponse(err)
		}
		return s.status()

	case TypeSetKey:
		if err := s.bot.SetKey(req.Value); err != nil {
			return errorResponse(err)
		}
		return s.status()

	case TypeSetModel:
		if err := s.bot.SetModel(req.Value); err != nil {
			return errorResponse(err)
		}
		return s.status()

	case TypeStatus:
		return s.status()

	default:
		return Response{Type: TypeError, Kind: KindBadFrame, Message: fmt.Sprintf("unknown frame type %q", req.Type)}
	}
}

func (s *Server) handleSend(ctx context.Context, req Request) Response {
	if strings.TrimSpace(req.Text) == "" && req.Image == "" {
		return errorResponse(&tutor.ValidationError{Field: "message", Reason: "text or image is required"})
	}
	if req.Mode != "" {
		m, err := config.ParseMode(req.Mode)
		if err != nil {
			return errorResponse(&tutor.ValidationError{Field: "mode", Reason: err.Error()})
		}
		if err := s.bot.SetMode(m); err != nil {
			return errorResponse(err)
		}
	}

	var img *transcript.Image
	if req.Image != "" {
		media, err := tutor.ParseDataURI(req.Image)
		if err != nil {
			return errorResponse(err)
		}
		if base64.StdEncoding.DecodedLen(len(media.Data)) > chatbot.MaxImageBytes {
			return errorResponse(&tutor.ValidationError{Field: "image", Reason: "larger than 5 MB"})
		}
		img = &transcript.Image{MIMEType: media.MIMEType, DataURI: req.Image}
	}

	turn, err := s.bot.Ask(ctx, req.Text, img)
	if err != nil {
		resp := errorResponse(err)
		resp.Turn = &turn
		return resp
	}
	return Response{Type: TypeReply, Turn: &turn}
}

func (s *Server) status() Response {
	st := s.bot.Status()
	return Response{Type: TypeStatus, Status: &st}
}

func errorResponse(err error) Response {
	return Response{Type: TypeError, Kind: chatbot.ErrorKind(err), Message: err.Error()}
}
