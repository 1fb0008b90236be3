// Package sessions tracks active broadcast sessions and hands finished
// captures to recording storage.
package sessions

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrEmptyStreamKey rejects a publish admission with no usable stream key.
var ErrEmptyStreamKey = errors.New("empty stream key")

// Registry maps an active stream key to its transport session identifier.
// It is process-local by design: sessions cannot outlive the process, so the
// registry is correctly empty after a restart. All mutation goes through
// Register and Unregister; each is a single non-blocking critical section.
type Registry struct {
	mu     sync.Mutex
	active map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]string)}
}

// Register admits a publish under streamKey. An empty key rejects the
// admission. A new publish under an existing key supersedes the old mapping
// rather than stacking.
func (r *Registry) Register(streamKey, transportSessionID string) error {
	if streamKey == "" {
		return ErrEmptyStreamKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.active[streamKey]; ok {
		slog.Warn("stream key re-published, superseding previous session",
			"stream_key", streamKey, "previous_session", prev, "session", transportSessionID)
	}
	r.active[streamKey] = transportSessionID
	return nil
}

// Unregister removes the mapping for streamKey. An absent key is a no-op.
func (r *Registry) Unregister(streamKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, streamKey)
}

// ActiveCount reports the number of live sessions for observability.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
