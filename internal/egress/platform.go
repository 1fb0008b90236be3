package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	listParticipantsPath    = "/twirp/livekit.RoomService/ListParticipants"
	startTrackCompositePath = "/twirp/livekit.Egress/StartTrackCompositeEgress"
	stopEgressPath          = "/twirp/livekit.Egress/StopEgress"

	serviceTokenTTL = 10 * time.Minute
)

// PlatformClient talks to the media platform's room and egress APIs over
// HTTP. It implements both RoomClient and EgressClient. Requests carry a
// short-lived HS256 service token minted from the shared API key and secret.
type PlatformClient struct {
	baseURL    string
	apiKey     string
	apiSecret  []byte
	httpClient *http.Client
}

// NewPlatformClient creates a PlatformClient for the given API endpoint.
func NewPlatformClient(baseURL, apiKey, apiSecret string) *PlatformClient {
	return &PlatformClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  []byte(apiSecret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type serviceClaims struct {
	jwt.RegisteredClaims
	Video map[string]any `json:"video"`
}

func (c *PlatformClient) serviceToken() (string, error) {
	now := time.Now()
	claims := serviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.apiKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(serviceTokenTTL)),
		},
		Video: map[string]any{"roomAdmin": true, "roomList": true},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.apiSecret)
}

func (c *PlatformClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.serviceToken()
	if err != nil {
		return fmt.Errorf("mint service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// ListParticipants returns the room's current participants and their tracks.
func (c *PlatformClient) ListParticipants(ctx context.Context, room string) ([]ParticipantInfo, error) {
	var out struct {
		Participants []struct {
			Identity string `json:"identity"`
			Tracks   []struct {
				SID  string `json:"sid"`
				Type string `json:"type"`
			} `json:"tracks"`
		} `json:"participants"`
	}
	if err := c.post(ctx, listParticipantsPath, map[string]string{"room": room}, &out); err != nil {
		return nil, err
	}

	participants := make([]ParticipantInfo, 0, len(out.Participants))
	for _, p := range out.Participants {
		info := ParticipantInfo{Identity: p.Identity}
		for _, t := range p.Tracks {
			info.Tracks = append(info.Tracks, TrackInfo{SID: t.SID, Type: TrackType(t.Type)})
		}
		participants = append(participants, info)
	}
	return participants, nil
}

// StartTrackComposite starts a derived-output job composing the two tracks
// and returns its id.
func (c *PlatformClient) StartTrackComposite(ctx context.Context, room, audioTrackID, videoTrackID string) (string, error) {
	body := map[string]string{
		"room_name":      room,
		"audio_track_id": audioTrackID,
		"video_track_id": videoTrackID,
	}
	var out struct {
		EgressID string `json:"egress_id"`
	}
	if err := c.post(ctx, startTrackCompositePath, body, &out); err != nil {
		return "", err
	}
	if out.EgressID == "" {
		return "", fmt.Errorf("%s: response missing egress_id", startTrackCompositePath)
	}
	return out.EgressID, nil
}

// Stop terminates a running derived-output job.
func (c *PlatformClient) Stop(ctx context.Context, egressID string) error {
	return c.post(ctx, stopEgressPath, map[string]string{"egress_id": egressID}, nil)
}
