package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"TutorChat/internal/backend"
	"TutorChat/internal/cache"
	"TutorChat/internal/config"
	"TutorChat/internal/registry"
	"TutorChat/internal/store"
	"TutorChat/internal/transcript"
	"TutorChat/internal/tutor"
)

// MaxImageBytes is the largest image accepted by /image.
const MaxImageBytes = 5 * 1024 * 1024

// ApologyText replaces the tutor reply when a send fails.
const ApologyText = "Sorry, I ran into a problem sending your message. Please try again!"

// ReportHeading prefixes generated reports.
const ReportHeading = "AUTOMATED REPORT:"

// Transcripts persists conversations.
type Transcripts interface {
	SaveConversation(c *transcript.Conversation) error
	AppendTurns(conversationID string, turns ...transcript.Turn) error
	LoadConversation(id string) (*transcript.Conversation, error)
	UpdateMode(conversationID string, mode config.Mode) error
}

// Deps are the collaborators of a ChatBot.
type Deps struct {
	Manager  *tutor.Manager
	Registry *registry.Registry
	Store    Transcripts
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// ChatBot drives one tutoring conversation on top of the session manager.
// It is not safe for concurrent use; the REPL reads one line at a time and
// the bridge holds a lock around every call.
type ChatBot struct {
	config   config.Config
	manager  *tutor.Manager
	registry *registry.Registry
	store    Transcripts
	reports  cache.Reports
	logger   *slog.Logger
	tracer   trace.Tracer

	conv *transcript.Conversation
	mode config.Mode
}

// Status is a snapshot of the chat state.
type Status struct {
	ConversationID string      `json:"conversation_id"`
	Mode           config.Mode `json:"mode"`
	HasCredential  bool        `json:"has_credential"`
	PreferredModel string      `json:"preferred_model"`
	ActiveModel    string      `json:"active_model"`
	Cursor         int         `json:"cursor"`
	HasSession     bool        `json:"has_session"`
	Turns          int         `json:"turns"`
}

// NewChatBot creates a new ChatBot. When cfg.ConversationID is set the
// stored conversation is resumed, otherwise a new one is started.
func NewChatBot(cfg config.Config, deps Deps) (*ChatBot, error) {
	if deps.Manager == nil || deps.Registry == nil || deps.Store == nil {
		return nil, fmt.Errorf("manager, registry and store are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("tutorchat")
	}

	cb := &ChatBot{
		config:   cfg,
		manager:  deps.Manager,
		registry: deps.Registry,
		store:    deps.Store,
		logger:   deps.Logger,
		tracer:   deps.Tracer,
		mode:     config.ModeHint,
	}

	if cfg.ConversationID != "" {
		conv, err := cb.store.LoadConversation(cfg.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to resume conversation: %w", err)
		}
		cb.conv = conv
		if conv.Mode != "" {
			cb.mode = conv.Mode
		}
		cb.logger.Info("resumed conversation", "conversation_id", conv.ID, "turns", conv.Len())
		return cb, nil
	}

	if err := cb.startConversation(); err != nil {
		return nil, err
	}
	return cb, nil
}

func (cb *ChatBot) startConversation() error {
	conv := transcript.NewConversation(cb.mode)
	if err := cb.store.SaveConversation(conv); err != nil {
		return err
	}
	if err := cb.store.AppendTurns(conv.ID, conv.Turns()...); err != nil {
		return err
	}
	cb.conv = conv
	cb.logger.Info("created new conversation", "conversation_id", conv.ID)
	return nil
}

// Conversation returns the current conversation.
func (cb *ChatBot) Conversation() *transcript.Conversation { return cb.conv }

// Mode returns the pedagogical mode applied to the next message.
func (cb *ChatBot) Mode() config.Mode { return cb.mode }

// SetMode changes the pedagogical mode and stores it with the conversation.
func (cb *ChatBot) SetMode(m config.Mode) error {
	if err := cb.store.UpdateMode(cb.conv.ID, m); err != nil {
		return err
	}
	cb.mode = m
	cb.conv.Mode = m
	cb.logger.Info("mode changed", "mode", m)
	return nil
}

// SetKey stores a new API key.
func (cb *ChatBot) SetKey(value string) error {
	return cb.registry.SetCredential(value)
}

// SetModel stores the preferred model.
func (cb *ChatBot) SetModel(id string) error {
	return cb.registry.SetPreferredModel(id)
}

// Status returns a snapshot of the chat state.
func (cb *ChatBot) Status() Status {
	return Status{
		ConversationID: cb.conv.ID,
		Mode:           cb.mode,
		HasCredential:  cb.registry.HasCredential(),
		PreferredModel: cb.registry.PreferredModel(),
		ActiveModel:    cb.manager.ActiveModel(),
		Cursor:         cb.manager.Cursor(),
		HasSession:     cb.manager.HasSession(),
		Turns:          cb.conv.Len(),
	}
}

// Reset starts a new conversation and a fresh session on the preferred
// model. The conversation is replaced even when the session cannot start.
func (cb *ChatBot) Reset(ctx context.Context) error {
	if err := cb.startConversation(); err != nil {
		return err
	}
	return cb.manager.InitializeSession(ctx)
}

// Ask sends one student message. The user turn and the reply turn are
// appended and persisted. When the send fails, the reply turn is an
// error-flagged apology and the send error is returned alongside it.
func (cb *ChatBot) Ask(ctx context.Context, text string, img *transcript.Image) (transcript.Turn, error) {
	ctx, span := cb.tracer.Start(ctx, "chatbot.ask", trace.WithAttributes(
		attribute.String("conversation_id", cb.conv.ID),
		attribute.String("mode", string(cb.mode)),
		attribute.Bool("image", img != nil),
	))
	defer span.End()

	user := transcript.NewTurn(transcript.RoleUser, text).WithImage(img)
	cb.conv.Append(user)

	req := tutor.Request{Text: text, Mode: cb.mode}
	if img != nil {
		req.Image = img.DataURI
	}

	var reply transcript.Turn
	res, sendErr := cb.manager.Send(ctx, req)
	if sendErr != nil {
		span.RecordError(sendErr)
		cb.logger.Error("failed to send message", "conversation_id", cb.conv.ID, "error", sendErr)
		reply = transcript.NewTurn(transcript.RoleAssistant, apologyFor(sendErr))
		reply.IsError = true
	} else {
		span.SetAttributes(attribute.String("model", res.Model), attribute.Int("fallbacks", res.Fallbacks))
		reply = transcript.NewTurn(transcript.RoleAssistant, res.Text)
	}
	cb.conv.Append(reply)

	if err := cb.store.AppendTurns(cb.conv.ID, user, reply); err != nil {
		cb.logger.Error("failed to save turns", "conversation_id", cb.conv.ID, "error", err)
	}
	return reply, sendErr
}

func apologyFor(err error) string {
	var cerr *tutor.ConfigurationError
	var verr *tutor.ValidationError
	switch {
	case errors.As(err, &cerr):
		return cerr.Error()
	case errors.As(err, &verr):
		return "I couldn't read that: " + verr.Error()
	default:
		return ApologyText
	}
}

// Report generates the student support report for the conversation.
// Reports are cached until the transcript changes.
func (cb *ChatBot) Report(ctx context.Context) string {
	turns := cb.conv.Turns()
	key := cache.GenerateCacheKey(cb.conv.ID, turns)
	if cached, ok := cb.reports.Load(key); ok {
		cb.logger.Info("cache hit", "key", key[:16])
		return cached.Report
	}

	report := cb.manager.GenerateSummary(ctx, turns)
	if !strings.HasPrefix(report, tutor.ReportFailurePrefix) && report != tutor.NoCredentialReportText {
		cb.reports.Store(key, report)
		cb.logger.Info("cached report", "key", key[:16])
	}
	return report
}

// LoadImage reads an image file for sending. Files over MaxImageBytes or
// with a non-image media type are rejected.
func LoadImage(path string) (*transcript.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if info.Size() > MaxImageBytes {
		return nil, &tutor.ValidationError{Field: "image", Reason: "larger than 5 MB"}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, &tutor.ValidationError{Field: "image", Reason: fmt.Sprintf("%s is %s, not an image", filepath.Base(path), mt.String())}
	}
	return &transcript.Image{
		MIMEType: mt.String(),
		DataURI:  tutor.EncodeDataURI(mt.String(), raw),
	}, nil
}

// handleCommand handles slash commands. It reports whether the REPL should exit.
func (cb *ChatBot) handleCommand(ctx context.Context, out io.Writer, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}
	arg := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		err := cb.Reset(ctx)
		fmt.Fprintln(out, "Started new conversation:", cb.conv.ID)
		fmt.Fprintf(out, "Tutor: %s\n\n", transcript.Greeting)
		return false, err

	case "/mode":
		if arg == "" {
			fmt.Fprintf(out, "Current mode: %s\n", cb.mode)
			return false, nil
		}
		m, err := config.ParseMode(arg)
		if err != nil {
			return false, err
		}
		if err := cb.SetMode(m); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Mode set to: %s\n", m)
		return false, nil

	case "/models":
		preferred := cb.registry.PreferredModel()
		active := cb.manager.ActiveModel()
		fmt.Fprintln(out, "\nAvailable models (fallback order):")
		for i, id := range cb.registry.Models() {
			var marks []string
			if id == preferred {
				marks = append(marks, "preferred")
			}
			if id == active && cb.manager.HasSession() {
				marks = append(marks, "active")
			}
			suffix := ""
			if len(marks) > 0 {
				suffix = " (" + strings.Join(marks, ", ") + ")"
			}
			fmt.Fprintf(out, "%d. %s - %s%s\n", i+1, id, cb.registry.Describe(id), suffix)
		}
		fmt.Fprintln(out)
		return false, nil

	case "/model":
		if arg == "" {
			return false, fmt.Errorf("usage: /model <id>")
		}
		if err := cb.SetModel(arg); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Preferred model set to: %s\n", arg)
		return false, nil

	case "/key":
		if err := cb.SetKey(arg); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "API key saved.")
		return false, nil

	case "/image":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /image <path> [message]")
		}
		img, err := LoadImage(parts[1])
		if err != nil {
			return false, err
		}
		text := strings.TrimSpace(strings.TrimPrefix(arg, parts[1]))
		cb.printReply(ctx, out, text, img)
		return false, nil

	case "/report":
		fmt.Fprintln(out, "Generating report...")
		fmt.Fprintf(out, "%s\n\n%s\n\n", ReportHeading, cb.Report(ctx))
		return false, nil

	case "/history":
		for _, t := range cb.conv.Turns() {
			text := t.Text
			if t.Image != nil {
				text = strings.TrimSpace(text + " [image " + t.Image.MIMEType + "]")
			}
			flag := ""
			if t.IsError {
				flag = " (error)"
			}
			fmt.Fprintf(out, "[%s] %s%s: %s\n", t.CreatedAt.Format("15:04"), t.Role, flag, text)
		}
		fmt.Fprintln(out)
		return false, nil

	case "/help":
		fmt.Fprintln(out, "Available commands:")
		fmt.Fprintln(out, "  /quit, /exit             - Exit")
		fmt.Fprintln(out, "  /new                     - Start a new conversation")
		fmt.Fprintln(out, "  /mode <hint|guide|solve> - Set how much help the tutor gives")
		fmt.Fprintln(out, "  /models                  - List models in fallback order")
		fmt.Fprintln(out, "  /model <id>              - Set the preferred model")
		fmt.Fprintln(out, "  /key <api-key>           - Save the API key")
		fmt.Fprintln(out, "  /image <path> [message]  - Send a photo of an exercise")
		fmt.Fprintln(out, "  /report                  - Generate a student support report")
		fmt.Fprintln(out, "  /history                 - Show the conversation")
		fmt.Fprintln(out, "  /help                    - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

func (cb *ChatBot) printReply(ctx context.Context, out io.Writer, text string, img *transcript.Image) {
	reply, err := cb.Ask(ctx, text, img)
	if err != nil {
		var terr *tutor.TransientAPIError
		if errors.As(err, &terr) {
			fmt.Fprintf(out, "Error: %v (model %s, %s)\n", err, terr.Model, terr.Kind)
		}
	}
	fmt.Fprintf(out, "Tutor: %s\n\n", reply.Text)
}

// Run starts the REPL on in/out.
func (cb *ChatBot) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "=== TutorChat ===")
	fmt.Fprintf(out, "Conversation: %s\n", cb.conv.ID)
	fmt.Fprintf(out, "Mode: %s  Model: %s\n", cb.mode, cb.registry.PreferredModel())
	if !cb.registry.HasCredential() {
		fmt.Fprintln(out, "No API key configured. Use /key <api-key> to set one.")
	}
	fmt.Fprintln(out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(out)

	turns := cb.conv.Turns()
	if len(turns) > 0 && turns[len(turns)-1].Role == transcript.RoleAssistant {
		fmt.Fprintf(out, "Tutor: %s\n\n", turns[len(turns)-1].Text)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, out, input)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				cb.logger.Error("command error", "command", strings.Fields(input)[0], "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		cb.printReply(ctx, out, input, nil)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	fmt.Fprintln(out, "Goodbye!")
	return nil
}

// ErrorKind names the class of a ChatBot error for clients.
func ErrorKind(err error) string {
	var cerr *tutor.ConfigurationError
	var verr *tutor.ValidationError
	var terr *tutor.TransientAPIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cerr):
		return "configuration"
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &terr):
		if terr.Kind == backend.KindOther {
			return "api"
		}
		return "api_" + terr.Kind.String()
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
