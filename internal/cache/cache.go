package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"TutorChat/internal/transcript"
)

// CachedReport is a previously generated support report
type CachedReport struct {
	Report    string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from the conversation turns.
// Turn ids are unique, so appending a turn always changes the key.
func GenerateCacheKey(conversationID string, turns []transcript.Turn) string {
	h := sha256.New()
	h.Write([]byte(conversationID))
	for _, t := range turns {
		h.Write([]byte(t.ID))
		h.Write([]byte(t.Role))
		h.Write([]byte(t.Text))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Reports caches generated reports by transcript key.
type Reports struct {
	m sync.Map
}

// Load returns the cached report for key.
func (r *Reports) Load(key string) (CachedReport, bool) {
	v, ok := r.m.Load(key)
	if !ok {
		return CachedReport{}, false
	}
	return v.(CachedReport), true
}

// Store caches report under key.
func (r *Reports) Store(key, report string) {
	r.m.Store(key, CachedReport{Report: report, Timestamp: time.Now()})
}
