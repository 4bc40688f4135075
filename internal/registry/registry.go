// Package registry holds the API credential and the fallback model list.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"TutorChat/internal/config"
	"TutorChat/internal/store"
)

// Store is the durable key-value storage behind the registry.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// ValidationError reports a rejected configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Change describes what a registry write touched.
type Change int

const (
	CredentialChanged Change = iota
	PreferredModelChanged
)

func (c Change) String() string {
	switch c {
	case CredentialChanged:
		return "credential"
	case PreferredModelChanged:
		return "preferred_model"
	default:
		return "unknown"
	}
}

// Registry is the credential and model registry.
type Registry struct {
	store  Store
	models []config.Model

	mu         sync.RWMutex
	credential string
	preferred  string
	listeners  []func(Change)
}

// New loads the credential and preferred model from s. models must be
// non-empty and in fallback priority order.
func New(s Store, models []config.Model) (*Registry, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("model list must not be empty")
	}
	r := &Registry{
		store:  s,
		models: append([]config.Model(nil), models...),
	}

	key, _, err := s.Get(store.KeyAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	model, _, err := s.Get(store.KeySelectedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferred model: %w", err)
	}
	r.credential = key
	r.preferred = model
	return r, nil
}

// OnChange registers fn to be called after every successful write.
func (r *Registry) OnChange(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notify(c Change) {
	r.mu.RLock()
	listeners := append([]func(Change){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// Credential returns the stored credential, if any.
func (r *Registry) Credential() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.credential, r.credential != ""
}

// HasCredential reports whether a non-empty credential is stored.
func (r *Registry) HasCredential() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return strings.TrimSpace(r.credential) != ""
}

// SetCredential persists a new credential. Empty or whitespace-only input
// is rejected and leaves the stored credential unchanged.
func (r *Registry) SetCredential(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return &ValidationError{Field: "api key", Reason: "must not be empty"}
	}
	if err := r.store.Set(store.KeyAPIKey, value); err != nil {
		return err
	}
	r.mu.Lock()
	r.credential = value
	r.mu.Unlock()

	r.notify(CredentialChanged)
	return nil
}

// PreferredModel returns the persisted preference, or the first model when unset.
func (r *Registry) PreferredModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.preferred == "" {
		return r.models[0].ID
	}
	return r.preferred
}

// SetPreferredModel persists id as the preferred model. id must be listed.
func (r *Registry) SetPreferredModel(id string) error {
	id = strings.TrimSpace(id)
	if r.IndexOf(id) < 0 {
		return &ValidationError{Field: "model", Reason: fmt.Sprintf("%q is not one of %s", id, strings.Join(r.Models(), ", "))}
	}
	if err := r.store.Set(store.KeySelectedModel, id); err != nil {
		return err
	}
	r.mu.Lock()
	r.preferred = id
	r.mu.Unlock()

	r.notify(PreferredModelChanged)
	return nil
}

// Models returns the model identifiers in fallback priority order.
func (r *Registry) Models() []string {
	ids := make([]string, len(r.models))
	for i, m := range r.models {
		ids[i] = m.ID
	}
	return ids
}

// IndexOf returns the position of id in the model list, or -1.
func (r *Registry) IndexOf(id string) int {
	for i, m := range r.models {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Describe returns the description of a listed model.
func (r *Registry) Describe(id string) string {
	if i := r.IndexOf(id); i >= 0 {
		return r.models[i].Description
	}
	return ""
}
