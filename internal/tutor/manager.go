// Package tutor implements the fallback chat session manager.
//
// The Manager owns at most one live chat session, bound to one model of the
// registry's priority list. When a send fails because the model is
// rate-limited or unavailable, the session is rebuilt on the next model and
// the same payload is sent again. The cursor only moves forward within a
// conversation; InitializeSession resets it to the preferred model.
//
// A Manager is not safe for concurrent use. Callers serialize Send,
// GenerateSummary and configuration changes.
package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TutorChat/internal/backend"
	"TutorChat/internal/config"
	"TutorChat/internal/registry"
	"TutorChat/internal/transcript"
)

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Logger            *slog.Logger
	Tracer            trace.Tracer
	Meter             metric.Meter
	Generation        config.Generation
	SystemInstruction string
}

// Reply is the outcome of a successful Send.
type Reply struct {
	Text      string
	Model     string
	Fallbacks int
	Usage     backend.Usage
}

// Manager is the fallback session manager.
type Manager struct {
	registry *registry.Registry
	dial     backend.Dialer
	gen      backend.GenerationConfig

	logger *slog.Logger
	tracer trace.Tracer

	attempts     metric.Int64Counter
	fallbacks    metric.Int64Counter
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram

	cursor  int
	session backend.Session
	client  backend.Client
}

// NewManager creates a manager over reg. dial turns the stored credential
// into a client handle.
func NewManager(reg *registry.Registry, dial backend.Dialer, opts Options) (*Manager, error) {
	if reg == nil || dial == nil {
		return nil, fmt.Errorf("registry and dialer are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("tutorchat")
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("tutorchat")
	}
	if opts.Generation == (config.Generation{}) {
		opts.Generation = config.Default().Generation
	}
	if opts.SystemInstruction == "" {
		opts.SystemInstruction = SystemInstruction
	}

	m := &Manager{
		registry: reg,
		dial:     dial,
		gen: backend.GenerationConfig{
			SystemInstruction: opts.SystemInstruction,
			Temperature:       opts.Generation.Temperature,
			MaxOutputTokens:   opts.Generation.MaxOutputTokens,
		},
		logger: opts.Logger,
		tracer: opts.Tracer,
	}

	var err error
	if m.attempts, err = opts.Meter.Int64Counter("tutor.send.attempts",
		metric.WithDescription("Send attempts per model")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.fallbacks, err = opts.Meter.Int64Counter("tutor.fallbacks",
		metric.WithDescription("Advances to the next fallback model")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.inputTokens, err = opts.Meter.Int64Counter("llm.usage.input_tokens",
		metric.WithDescription("LLM usage metric: input tokens")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.outputTokens, err = opts.Meter.Int64Counter("llm.usage.output_tokens",
		metric.WithDescription("LLM usage metric: output tokens")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.duration, err = opts.Meter.Float64Histogram("http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds")); err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}

	reg.OnChange(m.invalidate)
	return m, nil
}

// invalidate drops state derived from a registry value that just changed.
func (m *Manager) invalidate(c registry.Change) {
	switch c {
	case registry.CredentialChanged:
		m.client = nil
		m.session = nil
	case registry.PreferredModelChanged:
		m.session = nil
	}
	m.logger.Info("session invalidated", "change", c.String())
}

// Cursor returns the index of the active fallback candidate.
func (m *Manager) Cursor() int { return m.cursor }

// ActiveModel returns the model the cursor points at.
func (m *Manager) ActiveModel() string { return m.registry.Models()[m.cursor] }

// HasSession reports whether a live session exists.
func (m *Manager) HasSession() bool { return m.session != nil }

func (m *Manager) clientHandle() (backend.Client, error) {
	if m.client != nil {
		return m.client, nil
	}
	key, ok := m.registry.Credential()
	if !ok {
		return nil, &ConfigurationError{}
	}
	c, err := m.dial(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	m.client = c
	return c, nil
}

func (m *Manager) newSession(model string) (backend.Session, error) {
	c, err := m.clientHandle()
	if err != nil {
		return nil, err
	}
	s, err := c.CreateSession(model, m.gen, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", model, err)
	}
	return s, nil
}

// InitializeSession starts a new conversation: the cursor goes back to the
// preferred model and a fresh session with empty history is bound to it.
func (m *Manager) InitializeSession(ctx context.Context) error {
	_, span := m.tracer.Start(ctx, "tutor.initialize_session")
	defer span.End()

	if !m.registry.HasCredential() {
		return &ConfigurationError{}
	}

	m.cursor = 0
	if idx := m.registry.IndexOf(m.registry.PreferredModel()); idx >= 0 {
		m.cursor = idx
	}
	model := m.registry.Models()[m.cursor]

	s, err := m.newSession(model)
	if err != nil {
		m.session = nil
		span.RecordError(err)
		return err
	}
	m.session = s
	span.SetAttributes(attribute.String("model", model), attribute.Int("cursor", m.cursor))
	m.logger.Info("chat session initialized", "model", model, "cursor", m.cursor)
	return nil
}

// Send delivers one student message and returns the tutor's reply. On a
// capacity or availability failure it moves to the next model and resends
// the same payload; the new session starts with empty history.
func (m *Manager) Send(ctx context.Context, req Request) (Reply, error) {
	ctx, span := m.tracer.Start(ctx, "tutor.send")
	defer span.End()

	if !m.registry.HasCredential() {
		return Reply{}, &ConfigurationError{}
	}
	if m.session == nil {
		if err := m.InitializeSession(ctx); err != nil {
			return Reply{}, err
		}
	}

	payload, err := BuildPayload(req)
	if err != nil {
		return Reply{}, err
	}

	models := m.registry.Models()
	start := m.cursor
	for {
		model := models[m.cursor]
		reply, err := m.attempt(ctx, payload)
		if err == nil {
			text := reply.Text
			if strings.TrimSpace(text) == "" {
				text = EmptyReplyText
			}
			span.SetAttributes(attribute.String("model", model), attribute.Int("fallbacks", m.cursor-start))
			return Reply{Text: text, Model: model, Fallbacks: m.cursor - start, Usage: reply.Usage}, nil
		}

		kind := backend.KindOf(err)
		if !kind.Retryable() || m.cursor >= len(models)-1 {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind.String())
			m.logger.Error("send failed", "model", model, "kind", kind, "error", err)
			return Reply{}, &TransientAPIError{Model: model, Kind: kind, Err: err}
		}

		m.cursor++
		next := models[m.cursor]
		m.fallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", model),
			attribute.String("to", next),
			attribute.String("kind", kind.String()),
		))
		m.logger.Warn("falling back to next model", "failed", model, "next", next, "kind", kind, "error", err)

		s, err := m.newSession(next)
		if err != nil {
			m.session = nil
			span.RecordError(err)
			return Reply{}, &TransientAPIError{Model: next, Kind: backend.KindOther, Err: err}
		}
		m.session = s
	}
}

// attempt submits the payload to the bound session once.
func (m *Manager) attempt(ctx context.Context, payload backend.Payload) (backend.Reply, error) {
	model := m.session.Model()
	ctx, span := m.tracer.Start(ctx, "tutor.attempt", trace.WithAttributes(
		attribute.String("model", model),
		attribute.Int("cursor", m.cursor),
	))
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("model", model))
	m.attempts.Add(ctx, 1, attrs)

	begin := time.Now()
	reply, err := m.session.Send(ctx, payload)
	m.duration.Record(ctx, float64(time.Since(begin).Milliseconds()), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, backend.KindOf(err).String())
		return backend.Reply{}, err
	}
	m.recordUsage(ctx, model, reply.Usage)
	return reply, nil
}

func (m *Manager) recordUsage(ctx context.Context, model string, u backend.Usage) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	if u.InputTokens > 0 {
		m.inputTokens.Add(ctx, u.InputTokens, attrs)
	}
	if u.OutputTokens > 0 {
		m.outputTokens.Add(ctx, u.OutputTokens, attrs)
	}
}

// GenerateSummary writes the student support report for turns. It never
// touches the chat session or the cursor. Models are tried from the cursor
// to the end of the list; any failure moves on to the next one. Failures
// are returned as text, never as an error.
func (m *Manager) GenerateSummary(ctx context.Context, turns []transcript.Turn) string {
	ctx, span := m.tracer.Start(ctx, "tutor.generate_summary")
	defer span.End()

	if !m.registry.HasCredential() {
		return NoCredentialReportText
	}
	c, err := m.clientHandle()
	if err != nil {
		return fmt.Sprintf("%s: %v", ReportFailurePrefix, err)
	}

	prompt := BuildReportPrompt(turns)
	models := m.registry.Models()

	var lastErr error
	for i := m.cursor; i < len(models); i++ {
		reply, err := c.GenerateOnce(ctx, models[i], prompt)
		if err == nil {
			m.recordUsage(ctx, models[i], reply.Usage)
			span.SetAttributes(attribute.String("model", models[i]))
			if strings.TrimSpace(reply.Text) == "" {
				return EmptyReportText
			}
			return reply.Text
		}
		lastErr = err
		m.logger.Warn("report generation failed", "model", models[i], "error", err)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all models failed")
	return fmt.Sprintf("%s: %v", ReportFailurePrefix, lastErr)
}
