// Package egress starts and stops derived-output jobs in lock-step with a
// room's primary input, reacting to asynchronous platform events.
package egress

import "context"

// TrackType identifies the media kind of a published track.
type TrackType string

const (
	TrackTypeAudio TrackType = "AUDIO"
	TrackTypeVideo TrackType = "VIDEO"
)

// TrackInfo describes a track published into a room.
type TrackInfo struct {
	SID  string
	Type TrackType
}

// ParticipantInfo describes a room participant and its published tracks.
type ParticipantInfo struct {
	Identity string
	Tracks   []TrackInfo
}

// RoomClient queries the media platform for a room's current participants.
// The platform's view is eventually consistent: tracks that exist may not be
// visible immediately after their publish event.
type RoomClient interface {
	ListParticipants(ctx context.Context, room string) ([]ParticipantInfo, error)
}

// EgressClient controls derived-output jobs on the media platform.
type EgressClient interface {
	// StartTrackComposite composes one audio and one video track into a
	// single output stream and returns the job id.
	StartTrackComposite(ctx context.Context, room, audioTrackID, videoTrackID string) (string, error)

	// Stop terminates a running job.
	Stop(ctx context.Context, egressID string) error
}
