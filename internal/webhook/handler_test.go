package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/castkeep/castkeep/internal/egress"
)

const (
	testAPIKey    = "api-key"
	testAPISecret = "api-secret"
)

// recordingSink captures dispatched events.
type recordingSink struct {
	published []string
	ended     []string
	types     []egress.TrackType
}

func (s *recordingSink) HandleTrackPublished(_ context.Context, room string, trackType egress.TrackType) {
	s.published = append(s.published, room)
	s.types = append(s.types, trackType)
}

func (s *recordingSink) HandleIngressEnded(_ context.Context, room string) {
	s.ended = append(s.ended, room)
}

// newTestHandler builds a Handler with synchronous dispatch so tests can
// assert on sink state immediately after ServeHTTP returns.
func newTestHandler(sink EventSink) *Handler {
	h := NewHandler(testAPIKey, testAPISecret, sink, nil)
	h.dispatch = func(fn func()) { fn() }
	return h
}

func signBody(t *testing.T, secret []byte, issuer string, body []byte) string {
	t.Helper()
	sum := sha256.Sum256(body)
	claims := sigClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Sha256: hex.EncodeToString(sum[:]),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func deliver(t *testing.T, h *Handler, body []byte, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/platform", strings.NewReader(string(body)))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func eventBody(t *testing.T, event, room, trackType string) []byte {
	t.Helper()
	ev := map[string]any{"event": event}
	if room != "" {
		ev["room"] = map[string]string{"name": room}
	}
	if trackType != "" {
		ev["track"] = map[string]string{"sid": "TR_1", "type": trackType}
	}
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestHandler_TrackPublished(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHandler(sink)

	body := eventBody(t, EventTrackPublished, "room1", "VIDEO")
	rec := deliver(t, h, body, "Bearer "+signBody(t, []byte(testAPISecret), testAPIKey, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sink.published) != 1 || sink.published[0] != "room1" {
		t.Errorf("event not dispatched: %v", sink.published)
	}
	if sink.types[0] != egress.TrackTypeVideo {
		t.Errorf("wrong track type: %v", sink.types[0])
	}
}

func TestHandler_IngressEnded(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHandler(sink)

	body := eventBody(t, EventIngressEnded, "room1", "")
	rec := deliver(t, h, body, "Bearer "+signBody(t, []byte(testAPISecret), testAPIKey, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(sink.ended) != 1 || sink.ended[0] != "room1" {
		t.Errorf("event not dispatched: %v", sink.ended)
	}
}

func TestHandler_UnknownEventAcknowledged(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHandler(sink)

	body := eventBody(t, "room_started", "room1", "")
	rec := deliver(t, h, body, "Bearer "+signBody(t, []byte(testAPISecret), testAPIKey, body))

	if rec.Code != http.StatusOK {
		t.Errorf("unknown event should still be acknowledged, got %d", rec.Code)
	}
	if len(sink.published) != 0 || len(sink.ended) != 0 {
		t.Error("unknown event was dispatched")
	}
}

func TestHandler_MissingToken(t *testing.T) {
	h := newTestHandler(&recordingSink{})
	rec := deliver(t, h, eventBody(t, EventTrackPublished, "room1", "VIDEO"), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_WrongSecret(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHandler(sink)

	body := eventBody(t, EventTrackPublished, "room1", "VIDEO")
	rec := deliver(t, h, body, "Bearer "+signBody(t, []byte("other-secret"), testAPIKey, body))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if len(sink.published) != 0 {
		t.Error("event dispatched despite bad signature")
	}
}

func TestHandler_WrongIssuer(t *testing.T) {
	h := newTestHandler(&recordingSink{})
	body := eventBody(t, EventTrackPublished, "room1", "VIDEO")
	rec := deliver(t, h, body, "Bearer "+signBody(t, []byte(testAPISecret), "other-key", body))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_TamperedBody(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHandler(sink)

	signed := eventBody(t, EventIngressEnded, "room1", "")
	auth := "Bearer " + signBody(t, []byte(testAPISecret), testAPIKey, signed)
	tampered := eventBody(t, EventIngressEnded, "victim-room", "")

	rec := deliver(t, h, tampered, auth)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for digest mismatch, got %d", rec.Code)
	}
	if len(sink.ended) != 0 {
		t.Error("tampered event was dispatched")
	}
}

func TestHandler_MalformedPayload(t *testing.T) {
	h := newTestHandler(&recordingSink{})

	body := []byte("{not json")
	rec := deliver(t, h, body, "Bearer "+signBody(t, []byte(testAPISecret), testAPIKey, body))

	// Signature is valid, payload is not: malformed, not unauthorized.
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(&recordingSink{})
	req := httptest.NewRequest(http.MethodGet, "/webhooks/platform", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandler_EventMissingRoomIgnored(t *testing.T) {
	sink := &recordingSink{}
	h := newTestHandler(sink)

	body := []byte(`{"event":"track_published"}`)
	rec := deliver(t, h, body, "Bearer "+signBody(t, []byte(testAPISecret), testAPIKey, body))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(sink.published) != 0 {
		t.Error("event without room was dispatched")
	}
}
