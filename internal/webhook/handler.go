// Package webhook receives signed platform event callbacks and feeds the
// egress orchestrator. Deliveries are verified against a shared secret before
// any state mutation; once a signature checks out the response is always a
// success acknowledgment, so orchestration failures cannot trigger
// sender-side retry storms.
package webhook

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/castkeep/castkeep/internal/egress"
	"github.com/castkeep/castkeep/internal/metrics"
)

// Event names the handler reacts to; anything else is acknowledged and
// ignored.
const (
	EventTrackPublished = "track_published"
	EventIngressEnded   = "ingress_ended"
)

const maxBodyBytes = 1 << 20

// Event is the decoded webhook payload.
type Event struct {
	Event string     `json:"event"`
	Room  *RoomInfo  `json:"room,omitempty"`
	Track *TrackInfo `json:"track,omitempty"`
}

// RoomInfo identifies the room an event concerns.
type RoomInfo struct {
	Name string `json:"name"`
}

// TrackInfo identifies the track a track_published event concerns.
type TrackInfo struct {
	SID  string `json:"sid"`
	Type string `json:"type"`
}

// EventSink consumes verified events; satisfied by *egress.Orchestrator.
type EventSink interface {
	HandleTrackPublished(ctx context.Context, room string, trackType egress.TrackType)
	HandleIngressEnded(ctx context.Context, room string)
}

// sigClaims is the signature token: an HS256 JWT whose sha256 claim is the
// hex digest of the request body.
type sigClaims struct {
	jwt.RegisteredClaims
	Sha256 string `json:"sha256"`
}

// Handler verifies and dispatches webhook deliveries.
type Handler struct {
	apiKey  string
	secret  []byte
	sink    EventSink
	metrics *metrics.Metrics // optional

	// dispatch runs a verified event's side effects. The default spawns a
	// goroutine so the acknowledgment is not held behind the orchestrator's
	// retry delay; tests replace it with an inline call.
	dispatch func(fn func())
}

// NewHandler creates a Handler verifying deliveries signed with apiSecret and
// issued by apiKey. metrics may be nil.
func NewHandler(apiKey, apiSecret string, sink EventSink, m *metrics.Metrics) *Handler {
	return &Handler{
		apiKey:   apiKey,
		secret:   []byte(apiSecret),
		sink:     sink,
		metrics:  m,
		dispatch: func(fn func()) { go fn() },
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.verify(r.Header.Get("Authorization"), body); err != nil {
		slog.Warn("rejected webhook delivery", "error", err, "remote", r.RemoteAddr)
		if h.metrics != nil {
			h.metrics.IncWebhookRejected()
		}
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		slog.Warn("malformed webhook payload", "error", err)
		if h.metrics != nil {
			h.metrics.IncWebhookRejected()
		}
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	h.route(ev)

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) route(ev Event) {
	switch ev.Event {
	case EventTrackPublished:
		if ev.Room == nil || ev.Room.Name == "" || ev.Track == nil {
			slog.Warn("track_published event missing room or track, ignoring")
			return
		}
		room := ev.Room.Name
		trackType := egress.TrackType(ev.Track.Type)
		h.dispatch(func() {
			h.sink.HandleTrackPublished(context.Background(), room, trackType)
		})
	case EventIngressEnded:
		if ev.Room == nil || ev.Room.Name == "" {
			slog.Warn("ingress_ended event missing room, ignoring")
			return
		}
		room := ev.Room.Name
		h.dispatch(func() {
			h.sink.HandleIngressEnded(context.Background(), room)
		})
	default:
		slog.Debug("ignoring webhook event", "event", ev.Event)
	}
}

// verify checks the Authorization token: HS256 signature over the shared
// secret, issuer matching the API key, and a constant-time comparison of the
// body digest claim.
func (h *Handler) verify(authHeader string, body []byte) error {
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if raw == "" {
		return errors.New("missing authorization token")
	}

	claims := &sigClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.secret, nil
	})
	if err != nil {
		return fmt.Errorf("parse signature token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid signature token")
	}
	if h.apiKey != "" && claims.Issuer != h.apiKey {
		return errors.New("unknown token issuer")
	}

	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(digest), []byte(claims.Sha256)) != 1 {
		return errors.New("payload digest mismatch")
	}
	return nil
}
