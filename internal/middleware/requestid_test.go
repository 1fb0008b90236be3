package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID_Generated(t *testing.T) {
	var gotID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if gotID == "" {
		t.Error("request ID not present in context")
	}
	if rec.Header().Get(RequestIDHeader) != gotID {
		t.Error("response header does not match context request ID")
	}
}

func TestRequestID_HonorsExistingHeader(t *testing.T) {
	var gotID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-supplied-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotID != "client-supplied-id" {
		t.Errorf("expected client-supplied ID, got %q", gotID)
	}
}

func TestGetRequestID_AbsentContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("expected empty ID, got %q", got)
	}
}
