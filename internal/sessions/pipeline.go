package sessions

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/castkeep/castkeep/internal/metrics"
	"github.com/castkeep/castkeep/internal/storage"
)

// Pipeline glues transport admission events to the recording store: it admits
// publishes into the Registry and, when a broadcast ends, hands the capture
// left in the temp directory to the configured storage backend.
type Pipeline struct {
	registry *Registry
	store    storage.Backend
	tempDir  string
	metrics  *metrics.Metrics // optional
}

// NewPipeline creates a Pipeline. metrics may be nil.
func NewPipeline(registry *Registry, store storage.Backend, tempDir string, m *metrics.Metrics) *Pipeline {
	return &Pipeline{registry: registry, store: store, tempDir: tempDir, metrics: m}
}

// StreamKeyFromPath derives the stream key as the final segment of a publish
// path such as "/live/abc123".
func StreamKeyFromPath(p string) string {
	p = strings.Trim(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// HandlePublishStart admits a new broadcast. A non-nil error tells the
// transport layer to refuse the connection; no state is created in that case.
func (p *Pipeline) HandlePublishStart(sessionID, path string) error {
	key := StreamKeyFromPath(path)
	if err := p.registry.Register(key, sessionID); err != nil {
		slog.Warn("rejected publish", "session_id", sessionID, "path", path, "error", err)
		return err
	}
	slog.Info("publish started", "stream_key", key, "session_id", sessionID)
	if p.metrics != nil {
		p.metrics.IncPublishes()
	}
	return nil
}

// HandlePublishEnd tears down the session and persists the capture the media
// server left in the temp directory. Storage failures are reported in the
// Result, never raised.
func (p *Pipeline) HandlePublishEnd(ctx context.Context, sessionID, path string) storage.Result {
	key := StreamKeyFromPath(path)
	if key == "" {
		return storage.Result{Success: false, Error: ErrEmptyStreamKey.Error()}
	}

	p.registry.Unregister(key)
	slog.Info("publish ended", "stream_key", key, "session_id", sessionID)

	tempPath := filepath.Join(p.tempDir, key+".flv")
	res := p.store.Save(ctx, tempPath, key, storage.Metadata{StreamKey: key})
	if res.Success {
		slog.Info("recording saved",
			"stream_key", key,
			"file", res.Metadata.FileName,
			"size", res.Metadata.FileSize)
		if p.metrics != nil {
			p.metrics.IncRecordingsSaved()
		}
	} else {
		slog.Warn("recording not saved", "stream_key", key, "error", res.Error)
		if p.metrics != nil {
			p.metrics.IncRecordingsFailed()
		}
	}
	return res
}
