package egress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockRoomClient serves scripted participant listings.
type mockRoomClient struct {
	mu        sync.Mutex
	responses [][]ParticipantInfo // one per call; last repeats
	err       error
	calls     int
}

func (m *mockRoomClient) ListParticipants(_ context.Context, _ string) ([]ParticipantInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, nil
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func (m *mockRoomClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockEgressClient records start/stop calls.
type mockEgressClient struct {
	mu         sync.Mutex
	startErr   error
	stopErr    error
	startCalls int
	stopCalls  int
	lastAudio  string
	lastVideo  string
	lastStop   string
}

func (m *mockEgressClient) StartTrackComposite(_ context.Context, room, audioTrackID, videoTrackID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	m.lastAudio = audioTrackID
	m.lastVideo = videoTrackID
	if m.startErr != nil {
		return "", m.startErr
	}
	return "egress-" + room, nil
}

func (m *mockEgressClient) Stop(_ context.Context, egressID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	m.lastStop = egressID
	return m.stopErr
}

func bothTracks() []ParticipantInfo {
	return []ParticipantInfo{{
		Identity: "publisher",
		Tracks: []TrackInfo{
			{SID: "TR_audio", Type: TrackTypeAudio},
			{SID: "TR_video", Type: TrackTypeVideo},
		},
	}}
}

func TestOrchestrator_StartsOnVideoTrack(t *testing.T) {
	rooms := &mockRoomClient{responses: [][]ParticipantInfo{bothTracks()}}
	eg := &mockEgressClient{}
	o := NewOrchestrator(rooms, eg, time.Millisecond, nil)

	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)

	if eg.startCalls != 1 {
		t.Fatalf("expected 1 start call, got %d", eg.startCalls)
	}
	if eg.lastAudio != "TR_audio" || eg.lastVideo != "TR_video" {
		t.Errorf("started with wrong tracks: audio=%q video=%q", eg.lastAudio, eg.lastVideo)
	}
	if id, ok := o.ActiveEgress("room1"); !ok || id != "egress-room1" {
		t.Errorf("active mapping missing or wrong: id=%q ok=%v", id, ok)
	}
}

func TestOrchestrator_IgnoresAudioOnly(t *testing.T) {
	rooms := &mockRoomClient{responses: [][]ParticipantInfo{bothTracks()}}
	eg := &mockEgressClient{}
	o := NewOrchestrator(rooms, eg, time.Millisecond, nil)

	o.HandleTrackPublished(context.Background(), "room1", TrackTypeAudio)

	if rooms.callCount() != 0 || eg.startCalls != 0 {
		t.Error("audio-only event triggered orchestration")
	}
}

func TestOrchestrator_DuplicateEventWhileActiveIsNoop(t *testing.T) {
	rooms := &mockRoomClient{responses: [][]ParticipantInfo{bothTracks()}}
	eg := &mockEgressClient{}
	o := NewOrchestrator(rooms, eg, time.Millisecond, nil)

	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)
	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)

	if eg.startCalls != 1 {
		t.Errorf("duplicate event started a second job: %d starts", eg.startCalls)
	}
}

func TestOrchestrator_RetriesOnceThenSucceeds(t *testing.T) {
	rooms := &mockRoomClient{responses: [][]ParticipantInfo{
		nil,          // first query: tracks not yet visible
		bothTracks(), // second query succeeds
	}}
	eg := &mockEgressClient{}
	o := NewOrchestrator(rooms, eg, time.Millisecond, nil)

	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)

	if rooms.callCount() != 2 {
		t.Errorf("expected 2 participant queries, got %d", rooms.callCount())
	}
	if eg.startCalls != 1 {
		t.Errorf("expected start after retry, got %d starts", eg.startCalls)
	}
}

func TestOrchestrator_AbandonsAfterTwoAttempts(t *testing.T) {
	rooms := &mockRoomClient{responses: [][]ParticipantInfo{nil}}
	eg := &mockEgressClient{}
	o := NewOrchestrator(rooms, eg, time.Millisecond, nil)

	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)

	if rooms.callCount() != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", rooms.callCount())
	}
	if eg.startCalls != 0 {
		t.Error("start called despite unresolvable tracks")
	}
	if _, ok := o.ActiveEgress("room1"); ok {
		t.Error("abandoned start left an active mapping")
	}

	// A later event must be able to try again.
	rooms.mu.Lock()
	rooms.responses = [][]ParticipantInfo{bothTracks()}
	rooms.calls = 0
	rooms.mu.Unlock()

	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)
	if eg.startCalls != 1 {
		t.Errorf("retry after abandonment did not start: %d starts", eg.startCalls)
	}
}

func TestOrchestrator_StartFailureLeavesNoMapping(t *testing.T) {
	rooms := &mockRoomClient{responses: [][]ParticipantInfo{bothTracks()}}
	eg := &mockEgressClient{startErr: errors.New("egress unavailable")}
	o := NewOrchestrator(rooms, eg, time.Millisecond, nil)

	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)

	if _, ok := o.ActiveEgress("room1"); ok {
		t.Error("failed start left an active mapping")
	}
	if o.ActiveCount() != 0 {
		t.Errorf("expected 0 active jobs, got %d", o.ActiveCount())
	}
}

func TestOrchestrator_IngressEndedStopsJob(t *testing.T) {
	rooms := &mockRoomClient{responses: [][]ParticipantInfo{bothTracks()}}
	eg := &mockEgressClient{}
	o := NewOrchestrator(rooms, eg, time.Millisecond, nil)

	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)
	o.HandleIngressEnded(context.Background(), "room1")

	if eg.stopCalls != 1 {
		t.Fatalf("expected 1 stop call, got %d", eg.stopCalls)
	}
	if eg.lastStop != "egress-room1" {
		t.Errorf("stopped wrong job: %q", eg.lastStop)
	}
	if _, ok := o.ActiveEgress("room1"); ok {
		t.Error("mapping survived ingress end")
	}
}

func TestOrchestrator_IngressEndedWithoutJobIsNoop(t *testing.T) {
	eg := &mockEgressClient{}
	o := NewOrchestrator(&mockRoomClient{}, eg, time.Millisecond, nil)

	o.HandleIngressEnded(context.Background(), "room1")
	if eg.stopCalls != 0 {
		t.Error("stop called for room without a job")
	}
}

func TestOrchestrator_StopFailureStillRemovesMapping(t *testing.T) {
	rooms := &mockRoomClient{responses: [][]ParticipantInfo{bothTracks()}}
	eg := &mockEgressClient{stopErr: errors.New("already stopped")}
	o := NewOrchestrator(rooms, eg, time.Millisecond, nil)

	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)
	o.HandleIngressEnded(context.Background(), "room1")

	if _, ok := o.ActiveEgress("room1"); ok {
		t.Error("failed stop left a stale mapping")
	}

	// A fresh broadcast in the same room must be able to start again.
	o.HandleTrackPublished(context.Background(), "room1", TrackTypeVideo)
	if eg.startCalls != 2 {
		t.Errorf("stale state blocked restart: %d starts", eg.startCalls)
	}
}

func TestPickTracks(t *testing.T) {
	participants := []ParticipantInfo{
		{Identity: "viewer", Tracks: nil},
		{Identity: "audio-only", Tracks: []TrackInfo{{SID: "A1", Type: TrackTypeAudio}}},
		{Identity: "publisher", Tracks: []TrackInfo{
			{SID: "A2", Type: TrackTypeAudio},
			{SID: "V2", Type: TrackTypeVideo},
		}},
	}

	audio, video, ok := pickTracks(participants)
	if !ok {
		t.Fatal("pickTracks found no publisher")
	}
	if audio != "A2" || video != "V2" {
		t.Errorf("picked wrong tracks: audio=%q video=%q", audio, video)
	}

	if _, _, ok := pickTracks(participants[:2]); ok {
		t.Error("pickTracks matched a participant without both tracks")
	}
}
