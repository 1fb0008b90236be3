package storage

import (
	"strings"
	"testing"
	"time"
)

func TestDestFileName(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 30, 45, 123_000_000, time.UTC)
	name := destFileName("abc123", ".flv", ts)

	want := "abc123_2024-06-01T12-30-45-123Z.flv"
	if name != want {
		t.Errorf("unexpected destination name: got %q, want %q", name, want)
	}
	if strings.ContainsAny(name, ":") {
		t.Errorf("destination name contains unsafe characters: %q", name)
	}
}

func TestDestFileName_CollisionResistance(t *testing.T) {
	t1 := time.Date(2024, 6, 1, 12, 30, 45, 100_000_000, time.UTC)
	t2 := t1.Add(time.Millisecond)
	if destFileName("key", ".flv", t1) == destFileName("key", ".flv", t2) {
		t.Error("saves one millisecond apart produced the same name")
	}
}

func TestStreamKeyFromFileName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"abc123_2024-06-01T12-30-45-123Z.flv", "abc123"},
		{"my_key_2024-06-01T12-30-45-123Z.flv", "my"}, // split at first underscore
		{"nounderscore.flv", "nounderscore"},
	}
	for _, tt := range tests {
		if got := streamKeyFromFileName(tt.name); got != tt.want {
			t.Errorf("streamKeyFromFileName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRecordingExt(t *testing.T) {
	if got := recordingExt("/tmp/abc.mp4"); got != ".mp4" {
		t.Errorf("got %q, want .mp4", got)
	}
	if got := recordingExt("/tmp/noext"); got != ".flv" {
		t.Errorf("extensionless temp file should default to .flv, got %q", got)
	}
}
