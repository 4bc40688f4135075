package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TutorChat/internal/config"
)

func TestNewConversationStartsWithGreeting(t *testing.T) {
	c := NewConversation(config.ModeHint)
	require.Equal(t, 1, c.Len())
	turns := c.Turns()
	assert.Equal(t, RoleAssistant, turns[0].Role)
	assert.Equal(t, Greeting, turns[0].Text)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, config.ModeHint, c.Mode)
}

func TestTurnIDsAreOrdered(t *testing.T) {
	a := NewTurn(RoleUser, "a")
	b := NewTurn(RoleUser, "b")
	assert.Less(t, a.ID, b.ID)
}

func TestTurnsReturnsCopy(t *testing.T) {
	c := NewConversation(config.ModeGuide)
	c.Append(NewTurn(RoleUser, "2+2?"))

	turns := c.Turns()
	turns[1].Text = "mutated"

	assert.Equal(t, "2+2?", c.Turns()[1].Text)
}

func TestWithImageDoesNotMutateOriginal(t *testing.T) {
	base := NewTurn(RoleUser, "")
	withImg := base.WithImage(&Image{MIMEType: "image/png", DataURI: "data:image/png;base64,AAAA"})
	assert.Nil(t, base.Image)
	require.NotNil(t, withImg.Image)
	assert.Equal(t, "image/png", withImg.Image.MIMEType)
}
