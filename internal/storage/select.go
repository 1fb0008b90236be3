package storage

import (
	"context"
	"log/slog"
	"strings"
)

// Recognized backend names. "remote" is accepted as an alias for "s3".
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendRemote = "remote"
)

// Options selects and configures a backend.
type Options struct {
	Backend        string
	RecordingsPath string
	CapacityBytes  int64
	S3             S3Config
}

// New constructs the configured backend. Unrecognized or absent backend names
// warn and fall back to local; they never fail. A remote backend that fails
// its reachability probe is a configuration error and aborts construction.
func New(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendS3, BackendRemote:
		b, err := NewS3Backend(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		slog.Info("using s3 recording storage", "bucket", opts.S3.Bucket, "prefix", opts.S3.Prefix)
		return b, nil
	case BackendLocal, "":
		slog.Info("using local recording storage", "path", opts.RecordingsPath)
		return NewLocalBackend(opts.RecordingsPath, opts.CapacityBytes), nil
	default:
		slog.Warn("unknown storage backend, falling back to local",
			"backend", opts.Backend, "path", opts.RecordingsPath)
		return NewLocalBackend(opts.RecordingsPath, opts.CapacityBytes), nil
	}
}
