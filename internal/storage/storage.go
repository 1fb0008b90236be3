// Package storage persists finished broadcast captures and serves them back
// through a uniform backend contract. Two backends exist: a local filesystem
// tree and an S3-compatible object store. Save never returns a Go error for
// expected failure modes; callers always get a structured Result they can log.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Failure modes callers can test with errors.Is.
var (
	// ErrTempFileNotFound indicates the source capture disappeared before save.
	ErrTempFileNotFound = errors.New("temp file not found")

	// ErrRecordingNotFound indicates the requested recording does not exist.
	ErrRecordingNotFound = errors.New("recording not found")
)

// Metadata describes a persisted recording. It is immutable once produced and,
// together with the backend-specific location, uniquely identifies the object.
type Metadata struct {
	StreamKey     string    `json:"stream_key"`
	FileName      string    `json:"file_name"`
	FileSize      int64     `json:"file_size"`
	Duration      float64   `json:"duration,omitempty"`
	Quality       string    `json:"quality,omitempty"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	UploadTime    time.Time `json:"upload_time"`
}

// Result is the outcome of a Save call. Metadata is populated even on failure
// (with zeroed fields) so callers can log consistently.
type Result struct {
	Success  bool     `json:"success"`
	FilePath string   `json:"file_path,omitempty"`
	URL      string   `json:"url,omitempty"`
	Metadata Metadata `json:"metadata"`
	Error    string   `json:"error,omitempty"`
}

// UsageInfo reports backend consumption. AvailableBytes reflects the
// configured capacity policy, not literal free space: neither backend owns
// its volume or bucket exclusively.
type UsageInfo struct {
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// Backend abstracts recording storage. Implementations may be called
// concurrently across different stream keys and must not assume exclusive
// access to the underlying store.
type Backend interface {
	// Save persists the capture at tempPath under streamKey. On success the
	// source file no longer exists and Metadata.FileSize equals the persisted
	// object's size. Expected failures (missing source, unreachable backend)
	// come back in the Result, never as a panic.
	Save(ctx context.Context, tempPath, streamKey string, partial Metadata) Result

	// ResolveURL returns a URL for the named recording, usable for at most
	// expiry unless a public front door is configured, in which case a stable
	// public URL is returned and expiry is ignored. Returns
	// ErrRecordingNotFound if the object does not exist.
	ResolveURL(ctx context.Context, fileName string, expiry time.Duration) (string, error)

	// Delete removes the named recording. Deletion is idempotent: an absent
	// object reports false, not an error. Failures are logged and report false.
	Delete(ctx context.Context, fileName string) bool

	// List enumerates recordings newest first, optionally filtered by stream
	// key. Enumeration failures yield an empty slice, never an error.
	List(ctx context.Context, streamKeyFilter string) []Metadata

	// Usage reports consumption; zeros on failure.
	Usage(ctx context.Context) UsageInfo
}

// Cleanable is implemented by backends that support age-based retention.
type Cleanable interface {
	// CleanupOldRecordings deletes recordings older than maxAgeHours and
	// returns the number removed. Failures on individual objects do not
	// abort the sweep.
	CleanupOldRecordings(maxAgeHours int) int
}

// timestampSanitizer strips characters that are unsafe in filenames and
// object keys from RFC 3339 timestamps.
var timestampSanitizer = strings.NewReplacer(":", "-", ".", "-")

// destFileName derives a collision-resistant destination name from the stream
// key and the given time. Millisecond precision keeps back-to-back saves under
// the same key from colliding.
func destFileName(streamKey, ext string, now time.Time) string {
	ts := timestampSanitizer.Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	return fmt.Sprintf("%s_%s%s", streamKey, ts, ext)
}

// streamKeyFromFileName recovers the stream key from a destination file name
// by splitting at the first underscore. Stream keys that themselves contain
// an underscore are ambiguous here; that is a known limitation of the flat
// naming scheme.
func streamKeyFromFileName(name string) string {
	if i := strings.Index(name, "_"); i > 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// recordingExt returns the extension to persist under, defaulting to .flv
// when the capture has none.
func recordingExt(tempPath string) string {
	if ext := filepath.Ext(tempPath); ext != "" {
		return ext
	}
	return ".flv"
}

func failure(meta Metadata, err error) Result {
	return Result{Success: false, Metadata: meta, Error: err.Error()}
}
