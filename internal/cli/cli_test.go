package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	db     string
	logDir string
}

func newEnv(t *testing.T) env {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"TUTORCHAT_DB", "TUTORCHAT_LOG_DIR", "TUTORCHAT_BASE_URL", "TUTORCHAT_LISTEN"} {
		t.Setenv(k, "")
	}
	return env{
		db:     filepath.Join(home, "data", "tc.db"),
		logDir: filepath.Join(home, "logs"),
	}
}

func (e env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--db", e.db, "--log-dir", e.logDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestKeyCommands(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "", "key", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not configured")

	_, err = e.run(t, "", "key", "set", "   ")
	assert.ErrorContains(t, err, "invalid api key")

	out, err = e.run(t, "", "key", "set", "AIzaSecretValue1234")
	require.NoError(t, err)
	assert.Contains(t, out, "API key saved.")

	out, err = e.run(t, "", "key", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "configured (********1234)")
	assert.NotContains(t, out, "AIzaSecret")
}

func TestKeySetFromStdin(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "piped-key-9876\n", "key", "set")
	require.NoError(t, err)
	assert.Contains(t, out, "API key saved.")

	out, err = e.run(t, "", "key", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "9876")
}

func TestModelCommands(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "", "model", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "* 1. gemini-2.5-flash")
	assert.Contains(t, out, "  2. gemini-2.5-pro")

	_, err = e.run(t, "", "model", "set", "gpt-unknown")
	assert.ErrorContains(t, err, "invalid model")

	out, err = e.run(t, "", "model", "set", "gemini-2.5-pro")
	require.NoError(t, err)
	assert.Contains(t, out, "gemini-2.5-pro")

	out, err = e.run(t, "", "model", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "* 2. gemini-2.5-pro")
}

func TestChatWithoutKeyAndConversations(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "/mode solve\n/quit\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "No API key configured")
	assert.Contains(t, out, "Mode set to: solve")
	assert.Contains(t, out, "Goodbye!")

	out, err = e.run(t, "", "conversations")
	require.NoError(t, err)
	assert.Contains(t, out, "1 turns")
	assert.Contains(t, out, "solve")

	_, err = e.run(t, "", "chat", "--conversation", "does-not-exist")
	assert.Error(t, err)

	_, err = e.run(t, "", "chat", "--mode", "shout")
	assert.ErrorContains(t, err, "unknown mode")
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tutorchat dev")
}
