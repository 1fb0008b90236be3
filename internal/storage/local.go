package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalBackend implements Backend against a flat directory of recordings.
// Files are stored at {root}/{streamKey}_{timestamp}{ext}.
type LocalBackend struct {
	root     string
	capacity int64
}

// NewLocalBackend creates a LocalBackend rooted at the given directory.
// capacity is the policy estimate reported as total space by Usage; the
// backend does not own exclusive use of its volume, so real disk free space
// would be misleading.
func NewLocalBackend(root string, capacity int64) *LocalBackend {
	return &LocalBackend{root: root, capacity: capacity}
}

// Save moves the capture into the recordings root with an atomic rename, then
// stats the destination for the authoritative size. Rename rather than
// copy-then-delete: there is no window where a half-copied file can be
// reported as complete.
func (l *LocalBackend) Save(_ context.Context, tempPath, streamKey string, partial Metadata) Result {
	meta := partial
	meta.StreamKey = streamKey

	if _, err := os.Stat(tempPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failure(meta, fmt.Errorf("%w: %s", ErrTempFileNotFound, tempPath))
		}
		return failure(meta, fmt.Errorf("stat temp file %s: %w", tempPath, err))
	}

	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return failure(meta, fmt.Errorf("create recordings dir %s: %w", l.root, err))
	}

	name := destFileName(streamKey, recordingExt(tempPath), time.Now())
	dest := filepath.Join(l.root, name)
	if err := os.Rename(tempPath, dest); err != nil {
		return failure(meta, fmt.Errorf("move recording to %s: %w", dest, err))
	}

	info, err := os.Stat(dest)
	if err != nil {
		return failure(meta, fmt.Errorf("stat recording %s: %w", dest, err))
	}

	meta.FileName = name
	meta.FileSize = info.Size()
	meta.UploadTime = time.Now()
	return Result{Success: true, FilePath: dest, URL: "/recordings/" + name, Metadata: meta}
}

// ResolveURL returns the stable serving path for a recording. The local
// backend has no access control, so expiry is ignored.
func (l *LocalBackend) ResolveURL(_ context.Context, fileName string, _ time.Duration) (string, error) {
	if filepath.Base(fileName) != fileName {
		return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, fileName)
	}
	if _, err := os.Stat(filepath.Join(l.root, fileName)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, fileName)
	}
	return "/recordings/" + fileName, nil
}

// Delete removes a recording. Absent files report false, not an error.
func (l *LocalBackend) Delete(_ context.Context, fileName string) bool {
	if filepath.Base(fileName) != fileName {
		return false
	}
	err := os.Remove(filepath.Join(l.root, fileName))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to delete recording", "file", fileName, "error", err)
		}
		return false
	}
	return true
}

// List enumerates recordings newest first. streamKeyFilter matches as a
// filename prefix; the stream key of each entry is derived by splitting the
// name at the first underscore.
func (l *LocalBackend) List(_ context.Context, streamKeyFilter string) []Metadata {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to list recordings", "root", l.root, "error", err)
		}
		return []Metadata{}
	}

	out := make([]Metadata, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if streamKeyFilter != "" && !strings.HasPrefix(name, streamKeyFilter) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Metadata{
			StreamKey:  streamKeyFromFileName(name),
			FileName:   name,
			FileSize:   info.Size(),
			UploadTime: info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UploadTime.After(out[j].UploadTime) })
	return out
}

// Usage sums recording sizes against the configured capacity estimate.
func (l *LocalBackend) Usage(_ context.Context) UsageInfo {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to read recordings dir for usage", "root", l.root, "error", err)
			return UsageInfo{}
		}
		return UsageInfo{AvailableBytes: l.capacity}
	}

	var used int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		used += info.Size()
	}

	available := l.capacity - used
	if available < 0 {
		available = 0
	}
	return UsageInfo{UsedBytes: used, AvailableBytes: available}
}

// CleanupOldRecordings deletes recordings older than maxAgeHours and returns
// the count removed. The sweep is best-effort: a failure on one file does not
// stop the rest.
func (l *LocalBackend) CleanupOldRecordings(maxAgeHours int) int {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("recording cleanup: failed to read recordings dir", "root", l.root, "error", err)
		}
		return 0
	}

	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.root, entry.Name())); err != nil {
			slog.Warn("recording cleanup: failed to delete file", "file", entry.Name(), "error", err)
			continue
		}
		deleted++
	}
	return deleted
}
