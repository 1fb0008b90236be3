package egress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/castkeep/castkeep/internal/metrics"
)

// DefaultRetryDelay is the wait before re-querying participants whose tracks
// are not yet visible.
const DefaultRetryDelay = 3 * time.Second

// Orchestrator runs at most one derived-output job per room. It reacts to
// track-published and ingress-ended events delivered concurrently and
// possibly out of order; idempotency is enforced purely by presence in the
// active and pending maps, never by re-invoking start.
type Orchestrator struct {
	rooms      RoomClient
	egress     EgressClient
	retryDelay time.Duration
	metrics    *metrics.Metrics // optional

	mu      sync.Mutex
	active  map[string]string   // room -> egress job id
	pending map[string]struct{} // rooms with a start attempt in flight
}

// NewOrchestrator creates an Orchestrator. retryDelay bounds the wait between
// the two participant-resolution attempts; zero or negative selects
// DefaultRetryDelay. metrics may be nil.
func NewOrchestrator(rooms RoomClient, egress EgressClient, retryDelay time.Duration, m *metrics.Metrics) *Orchestrator {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Orchestrator{
		rooms:      rooms,
		egress:     egress,
		retryDelay: retryDelay,
		metrics:    m,
		active:     make(map[string]string),
		pending:    make(map[string]struct{}),
	}
}

// HandleTrackPublished reacts to a track-published event for a room.
// Audio-only events are ignored: audio alone cannot anchor a composite
// output. Duplicate deliveries while a job is active or a start attempt is
// in flight are no-ops.
func (o *Orchestrator) HandleTrackPublished(ctx context.Context, room string, trackType TrackType) {
	if trackType != TrackTypeVideo {
		return
	}

	o.mu.Lock()
	if _, ok := o.active[room]; ok {
		o.mu.Unlock()
		return
	}
	if _, ok := o.pending[room]; ok {
		o.mu.Unlock()
		return
	}
	o.pending[room] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.pending, room)
		o.mu.Unlock()
	}()

	audioID, videoID, ok := o.resolveTracks(ctx, room)
	if !ok {
		// Recoverable on the next track event, never fatal.
		slog.Warn("abandoning egress start, tracks not resolvable", "room", room)
		return
	}

	egressID, err := o.egress.StartTrackComposite(ctx, room, audioID, videoID)
	if err != nil {
		slog.Error("failed to start egress", "room", room, "error", err)
		return
	}

	o.mu.Lock()
	o.active[room] = egressID
	o.mu.Unlock()

	slog.Info("egress started",
		"room", room,
		"egress_id", egressID,
		"audio_track", audioID,
		"video_track", videoID)
	if o.metrics != nil {
		o.metrics.IncEgressStarted()
	}
}

// resolveTracks queries the participant list for a publisher exposing both an
// audio and a video track. The platform's participant view lags the publish
// event, so a first miss waits one bounded delay and retries exactly once.
func (o *Orchestrator) resolveTracks(ctx context.Context, room string) (audioID, videoID string, ok bool) {
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(o.retryDelay):
			case <-ctx.Done():
				return "", "", false
			}
		}
		participants, err := o.rooms.ListParticipants(ctx, room)
		if err != nil {
			slog.Warn("participant query failed", "room", room, "attempt", attempt+1, "error", err)
			continue
		}
		if a, v, found := pickTracks(participants); found {
			return a, v, true
		}
		slog.Info("publisher tracks not yet visible", "room", room, "attempt", attempt+1)
	}
	return "", "", false
}

// pickTracks finds the first participant publishing both an audio and a video
// track.
func pickTracks(participants []ParticipantInfo) (audioID, videoID string, ok bool) {
	for _, p := range participants {
		var a, v string
		for _, t := range p.Tracks {
			switch t.Type {
			case TrackTypeAudio:
				if a == "" {
					a = t.SID
				}
			case TrackTypeVideo:
				if v == "" {
					v = t.SID
				}
			}
		}
		if a != "" && v != "" {
			return a, v, true
		}
	}
	return "", "", false
}

// HandleIngressEnded stops the room's egress if one is running. The mapping
// is removed unconditionally, before the stop call is made: a failed stop
// must not leave a stale mapping that blocks a future start.
func (o *Orchestrator) HandleIngressEnded(ctx context.Context, room string) {
	o.mu.Lock()
	egressID, ok := o.active[room]
	delete(o.active, room)
	o.mu.Unlock()
	if !ok {
		return
	}

	if err := o.egress.Stop(ctx, egressID); err != nil {
		slog.Warn("failed to stop egress", "room", room, "egress_id", egressID, "error", err)
	} else {
		slog.Info("egress stopped", "room", room, "egress_id", egressID)
	}
	if o.metrics != nil {
		o.metrics.IncEgressStopped()
	}
}

// ActiveEgress reports the job id running for a room, if any.
func (o *Orchestrator) ActiveEgress(room string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.active[room]
	return id, ok
}

// ActiveCount reports the number of rooms with a running job.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}
