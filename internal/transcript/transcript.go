package transcript

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"TutorChat/internal/config"
)

// Role identifies the author of a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Greeting opens every new conversation.
const Greeting = "Hi! I'm your tutor. Send me a problem (text or a photo) and tell me " +
	"whether you want a hint, step-by-step guidance, or a full solution."

// Image is an inline image attached to a user turn
type Image struct {
	MIMEType string `json:"mime_type"`
	DataURI  string `json:"data_uri"`
}

// Turn represents a single chat turn. Turns are immutable once appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Image     *Image    `json:"image,omitempty"`
	IsError   bool      `json:"is_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, text string) Turn {
	now := time.Now()
	return Turn{
		ID:        newID(now),
		Role:      role,
		Text:      text,
		CreatedAt: now,
	}
}

// WithImage returns a copy of the turn carrying img.
func (t Turn) WithImage(img *Image) Turn {
	t.Image = img
	return t
}

// Conversation is the transcript of one tutoring chat
type Conversation struct {
	ID        string      `json:"id"`
	StartedAt time.Time   `json:"started_at"`
	Mode      config.Mode `json:"mode"`

	mu    sync.RWMutex
	turns []Turn
}

// NewConversation starts a conversation with the tutor greeting.
func NewConversation(mode config.Mode) *Conversation {
	c := &Conversation{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Mode:      mode,
	}
	c.turns = append(c.turns, NewTurn(RoleAssistant, Greeting))
	return c
}

// Restore rebuilds a conversation from stored turns.
func Restore(id string, startedAt time.Time, mode config.Mode, turns []Turn) *Conversation {
	c := &Conversation{ID: id, StartedAt: startedAt, Mode: mode}
	c.turns = append(c.turns, turns...)
	return c
}

// Append adds a turn to the end of the transcript
func (c *Conversation) Append(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
}

// Turns returns a copy of the transcript
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}
