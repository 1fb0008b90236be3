package egress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func platformTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *PlatformClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewPlatformClient(srv.URL, "api-key", "api-secret")
}

func TestPlatformClient_ListParticipants(t *testing.T) {
	var gotPath, gotAuth string
	_, client := platformTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"participants": []map[string]any{{
				"identity": "publisher",
				"tracks": []map[string]string{
					{"sid": "TR_a", "type": "AUDIO"},
					{"sid": "TR_v", "type": "VIDEO"},
				},
			}},
		})
	})

	participants, err := client.ListParticipants(context.Background(), "room1")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if gotPath != listParticipantsPath {
		t.Errorf("called wrong path: %q", gotPath)
	}
	if len(participants) != 1 || participants[0].Identity != "publisher" {
		t.Fatalf("unexpected participants: %+v", participants)
	}
	if len(participants[0].Tracks) != 2 || participants[0].Tracks[1].Type != TrackTypeVideo {
		t.Errorf("unexpected tracks: %+v", participants[0].Tracks)
	}

	// The request carries a service token signed with the shared secret.
	raw := strings.TrimPrefix(gotAuth, "Bearer ")
	if raw == gotAuth {
		t.Fatalf("missing bearer token in %q", gotAuth)
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte("api-secret"), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("service token does not verify: %v", err)
	}
	if iss, _ := token.Claims.GetIssuer(); iss != "api-key" {
		t.Errorf("unexpected token issuer: %q", iss)
	}
}

func TestPlatformClient_StartTrackComposite(t *testing.T) {
	var gotBody map[string]string
	_, client := platformTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"egress_id": "EG_1"})
	})

	id, err := client.StartTrackComposite(context.Background(), "room1", "TR_a", "TR_v")
	if err != nil {
		t.Fatalf("StartTrackComposite failed: %v", err)
	}
	if id != "EG_1" {
		t.Errorf("unexpected egress id: %q", id)
	}
	if gotBody["room_name"] != "room1" || gotBody["audio_track_id"] != "TR_a" || gotBody["video_track_id"] != "TR_v" {
		t.Errorf("unexpected request body: %v", gotBody)
	}
}

func TestPlatformClient_StartTrackCompositeMissingID(t *testing.T) {
	_, client := platformTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})

	if _, err := client.StartTrackComposite(context.Background(), "room1", "a", "v"); err == nil {
		t.Error("expected error for response missing egress_id")
	}
}

func TestPlatformClient_ErrorStatusSurfacesDetail(t *testing.T) {
	_, client := platformTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room not found", http.StatusNotFound)
	})

	err := client.Stop(context.Background(), "EG_1")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "room not found") {
		t.Errorf("error lacks status or detail: %v", err)
	}
}

func TestPlatformClient_Stop(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	_, client := platformTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("{}"))
	})

	if err := client.Stop(context.Background(), "EG_1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if gotPath != stopEgressPath {
		t.Errorf("called wrong path: %q", gotPath)
	}
	if gotBody["egress_id"] != "EG_1" {
		t.Errorf("unexpected request body: %v", gotBody)
	}
}
