package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"TutorChat/internal/transcript"
)

func TestGenerateCacheKey(t *testing.T) {
	a := transcript.NewTurn(transcript.RoleUser, "2x = 4")
	b := transcript.NewTurn(transcript.RoleAssistant, "divide both sides")

	k1 := GenerateCacheKey("conv", []transcript.Turn{a})
	assert.Len(t, k1, 64)
	assert.Equal(t, k1, GenerateCacheKey("conv", []transcript.Turn{a}))
	assert.NotEqual(t, k1, GenerateCacheKey("conv", []transcript.Turn{a, b}))
	assert.NotEqual(t, k1, GenerateCacheKey("other", []transcript.Turn{a}))
}

func TestReports(t *testing.T) {
	var r Reports
	_, ok := r.Load("k")
	assert.False(t, ok)

	r.Store("k", "report")
	got, ok := r.Load("k")
	assert.True(t, ok)
	assert.Equal(t, "report", got.Report)
	assert.False(t, got.Timestamp.IsZero())
}
