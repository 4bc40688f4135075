// Package backend defines the outbound network-call surface to the hosted
// model API and its OpenAI-compatible implementation.
package backend

import (
	"context"
	"strings"
)

// InlineMedia is binary content sent inline with a message.
// Data is base64-encoded.
type InlineMedia struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Segment is one part of an outgoing payload: either text or inline media.
type Segment struct {
	Text  string       `json:"text,omitempty"`
	Media *InlineMedia `json:"inline_media,omitempty"`
}

// Payload is an ordered sequence of segments.
type Payload struct {
	Segments []Segment `json:"segments"`
}

// TextPayload builds a single-segment text payload.
func TextPayload(text string) Payload {
	return Payload{Segments: []Segment{{Text: text}}}
}

// IsPlainText reports whether the payload carries only text segments.
func (p Payload) IsPlainText() bool {
	for _, s := range p.Segments {
		if s.Media != nil {
			return false
		}
	}
	return true
}

// Text joins the text segments.
func (p Payload) Text() string {
	var parts []string
	for _, s := range p.Segments {
		if s.Media == nil {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Role of a history message
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is a prior turn used to seed a session.
type Message struct {
	Role    Role
	Payload Payload
}

// GenerationConfig holds the fixed parameters a session is created with.
type GenerationConfig struct {
	SystemInstruction string
	Temperature       float64
	MaxOutputTokens   int
}

// Usage records token consumption for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Reply is the result of a successful send.
type Reply struct {
	Text  string
	Usage Usage
}

// Session is a stateful conversation bound to one model. The session keeps
// the conversation history; callers send only the new message.
type Session interface {
	Model() string
	Send(ctx context.Context, p Payload) (Reply, error)
}

// Client is a handle to the remote API for one credential.
type Client interface {
	CreateSession(model string, cfg GenerationConfig, history []Message) (Session, error)
	GenerateOnce(ctx context.Context, model, prompt string) (Reply, error)
}

// Dialer creates a client for an API key.
type Dialer func(apiKey string) (Client, error)
