package chatbot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TutorChat/internal/backend"
	"TutorChat/internal/config"
	"TutorChat/internal/registry"
	"TutorChat/internal/store"
	"TutorChat/internal/transcript"
	"TutorChat/internal/tutor"
)

var testModels = []config.Model{
	{ID: "model-a", Description: "first"},
	{ID: "model-b", Description: "second"},
}

type stubClient struct {
	mu      sync.Mutex
	fail    map[string]backend.Kind
	sent    []backend.Payload
	reports int
}

func (c *stubClient) CreateSession(model string, _ backend.GenerationConfig, _ []backend.Message) (backend.Session, error) {
	return &stubSession{c: c, model: model}, nil
}

func (c *stubClient) GenerateOnce(_ context.Context, model, _ string) (backend.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports++
	if k, ok := c.fail[model]; ok {
		return backend.Reply{}, &backend.Error{Kind: k, Model: model, Err: errors.New("boom")}
	}
	return backend.Reply{Text: "report by " + model}, nil
}

type stubSession struct {
	c     *stubClient
	model string
}

func (s *stubSession) Model() string { return s.model }

func (s *stubSession) Send(_ context.Context, p backend.Payload) (backend.Reply, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.sent = append(s.c.sent, p)
	if k, ok := s.c.fail[s.model]; ok {
		return backend.Reply{}, &backend.Error{Kind: k, Model: s.model, Err: errors.New("boom")}
	}
	return backend.Reply{Text: "tutor says hi from " + s.model}, nil
}

type fixture struct {
	bot    *ChatBot
	store  *store.SQLiteStore
	reg    *registry.Registry
	client *stubClient
	cfg    config.Config
	mgr    *tutor.Manager
}

func newFixture(t *testing.T, key string) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := registry.New(st, testModels)
	require.NoError(t, err)
	if key != "" {
		require.NoError(t, reg.SetCredential(key))
	}

	client := &stubClient{fail: map[string]backend.Kind{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := tutor.NewManager(reg, func(string) (backend.Client, error) { return client, nil },
		tutor.Options{Logger: logger})
	require.NoError(t, err)

	cfg := config.Default()
	bot, err := NewChatBot(cfg, Deps{Manager: mgr, Registry: reg, Store: st, Logger: logger})
	require.NoError(t, err)
	return &fixture{bot: bot, store: st, reg: reg, client: client, cfg: cfg, mgr: mgr}
}

func TestNewConversationIsPersistedWithGreeting(t *testing.T) {
	f := newFixture(t, "k")
	conv, err := f.store.LoadConversation(f.bot.Conversation().ID)
	require.NoError(t, err)
	turns := conv.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, transcript.Greeting, turns[0].Text)
}

func TestAskPersistsTurns(t *testing.T) {
	f := newFixture(t, "k")
	require.NoError(t, f.bot.SetMode(config.ModeSolve))

	reply, err := f.bot.Ask(context.Background(), "solve x+1=2", nil)
	require.NoError(t, err)
	assert.Equal(t, "tutor says hi from model-a", reply.Text)
	assert.False(t, reply.IsError)
	require.Len(t, f.client.sent, 1)
	assert.Contains(t, f.client.sent[0].Text(), "[CURRENT MODE: SOLVE]")

	conv, err := f.store.LoadConversation(f.bot.Conversation().ID)
	require.NoError(t, err)
	turns := conv.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, transcript.RoleUser, turns[1].Role)
	assert.Equal(t, "solve x+1=2", turns[1].Text)
	assert.Equal(t, reply.ID, turns[2].ID)
}

func TestAskFailureAppendsErrorTurn(t *testing.T) {
	f := newFixture(t, "k")
	f.client.fail["model-a"] = backend.KindCapacityExhausted
	f.client.fail["model-b"] = backend.KindCapacityExhausted

	reply, err := f.bot.Ask(context.Background(), "hello", nil)
	var terr *tutor.TransientAPIError
	require.True(t, errors.As(err, &terr))
	assert.True(t, reply.IsError)
	assert.Equal(t, ApologyText, reply.Text)
	assert.Equal(t, "api_capacity_exhausted", ErrorKind(err))

	conv, err := f.store.LoadConversation(f.bot.Conversation().ID)
	require.NoError(t, err)
	turns := conv.Turns()
	require.Len(t, turns, 3)
	assert.True(t, turns[2].IsError)
}

func TestAskWithoutKey(t *testing.T) {
	f := newFixture(t, "")

	reply, err := f.bot.Ask(context.Background(), "hello", nil)
	assert.Equal(t, "configuration", ErrorKind(err))
	assert.True(t, reply.IsError)
	assert.Contains(t, reply.Text, "API key")
	assert.Empty(t, f.client.sent)
}

func TestResumeConversation(t *testing.T) {
	f := newFixture(t, "k")
	_, err := f.bot.Ask(context.Background(), "first", nil)
	require.NoError(t, err)

	cfg := f.cfg
	cfg.ConversationID = f.bot.Conversation().ID
	resumed, err := NewChatBot(cfg, Deps{Manager: f.mgr, Registry: f.reg, Store: f.store})
	require.NoError(t, err)
	assert.Equal(t, 3, resumed.Conversation().Len())

	cfg.ConversationID = "missing"
	_, err = NewChatBot(cfg, Deps{Manager: f.mgr, Registry: f.reg, Store: f.store})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestResumeKeepsLatestMode(t *testing.T) {
	f := newFixture(t, "k")
	require.NoError(t, f.bot.SetMode(config.ModeGuide))
	require.NoError(t, f.bot.SetMode(config.ModeSolve))

	cfg := f.cfg
	cfg.ConversationID = f.bot.Conversation().ID
	resumed, err := NewChatBot(cfg, Deps{Manager: f.mgr, Registry: f.reg, Store: f.store})
	require.NoError(t, err)
	assert.Equal(t, config.ModeSolve, resumed.Mode())
}

func TestReportIsCachedUntilTranscriptChanges(t *testing.T) {
	f := newFixture(t, "k")
	ctx := context.Background()

	assert.Equal(t, "report by model-a", f.bot.Report(ctx))
	assert.Equal(t, "report by model-a", f.bot.Report(ctx))
	assert.Equal(t, 1, f.client.reports)

	_, err := f.bot.Ask(ctx, "more", nil)
	require.NoError(t, err)
	f.bot.Report(ctx)
	assert.Equal(t, 2, f.client.reports)
}

func TestReportFailuresAreNotCached(t *testing.T) {
	f := newFixture(t, "k")
	f.client.fail["model-a"] = backend.KindOther
	f.client.fail["model-b"] = backend.KindOther
	ctx := context.Background()

	assert.Contains(t, f.bot.Report(ctx), tutor.ReportFailurePrefix)
	f.bot.Report(ctx)
	assert.Equal(t, 4, f.client.reports)
}

func TestResetStartsNewConversation(t *testing.T) {
	f := newFixture(t, "k")
	before := f.bot.Conversation().ID

	require.NoError(t, f.bot.Reset(context.Background()))
	assert.NotEqual(t, before, f.bot.Conversation().ID)
	assert.True(t, f.mgr.HasSession())
	assert.Equal(t, 1, f.bot.Conversation().Len())
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()

	// minimal PNG signature + IHDR chunk header
	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	pngPath := filepath.Join(dir, "ex.png")
	require.NoError(t, os.WriteFile(pngPath, png, 0o644))

	img, err := LoadImage(pngPath)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.True(t, strings.HasPrefix(img.DataURI, "data:image/png;base64,"))

	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("just text"), 0o644))
	_, err = LoadImage(txtPath)
	var verr *tutor.ValidationError
	assert.True(t, errors.As(err, &verr))

	bigPath := filepath.Join(dir, "big.png")
	require.NoError(t, os.WriteFile(bigPath, append(png, make([]byte, MaxImageBytes)...), 0o644))
	_, err = LoadImage(bigPath)
	assert.True(t, errors.As(err, &verr))

	_, err = LoadImage(filepath.Join(dir, "nope.png"))
	assert.Error(t, err)
}

func TestRunREPL(t *testing.T) {
	f := newFixture(t, "")
	in := strings.NewReader(strings.Join([]string{
		"/key   ",
		"/key secret",
		"/mode guide",
		"/mode loud",
		"/model model-b",
		"/models",
		"what is a prime?",
		"/history",
		"/bogus",
		"/quit",
		"never read",
	}, "\n"))
	var out bytes.Buffer

	require.NoError(t, f.bot.Run(context.Background(), in, &out))

	got := out.String()
	assert.Contains(t, got, "No API key configured")
	assert.Contains(t, got, "Error: invalid api key")
	assert.Contains(t, got, "API key saved.")
	assert.Contains(t, got, "Mode set to: guide")
	assert.Contains(t, got, `Error: unknown mode "loud"`)
	assert.Contains(t, got, "Preferred model set to: model-b")
	assert.Contains(t, got, "2. model-b - second (preferred)")
	assert.Contains(t, got, "Tutor: tutor says hi from model-b")
	assert.Contains(t, got, "user: what is a prime?")
	assert.Contains(t, got, "unknown command: /bogus")
	assert.Contains(t, got, "Goodbye!")
	assert.NotContains(t, got, "never read")

	require.Len(t, f.client.sent, 1)
	assert.Contains(t, f.client.sent[0].Text(), "[CURRENT MODE: GUIDE]")
}

func TestRunImageCommand(t *testing.T) {
	f := newFixture(t, "k")
	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	path := filepath.Join(t.TempDir(), "ex.png")
	require.NoError(t, os.WriteFile(path, png, 0o644))

	var out bytes.Buffer
	require.NoError(t, f.bot.Run(context.Background(), strings.NewReader("/image "+path+"\n/quit\n"), &out))

	require.Len(t, f.client.sent, 1)
	p := f.client.sent[0]
	require.Len(t, p.Segments, 2)
	assert.Contains(t, p.Segments[0].Text, tutor.ImageOnlyText)
	assert.Equal(t, "image/png", p.Segments[1].Media.MIMEType)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "validation", ErrorKind(&tutor.ValidationError{Field: "x", Reason: "y"}))
	assert.Equal(t, "api", ErrorKind(&tutor.TransientAPIError{Kind: backend.KindOther, Err: errors.New("x")}))
	assert.Equal(t, "api_model_unavailable", ErrorKind(&tutor.TransientAPIError{Kind: backend.KindModelUnavailable, Err: errors.New("x")}))
	assert.Equal(t, "internal", ErrorKind(errors.New("x")))
}
