package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// These routes answer without touching the database, so a nil pool is enough.
func TestRouterSmoke(t *testing.T) {
	router := NewRouter(Config{SubmitRateLimitPerMin: 60}, nil)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{name: "healthz", method: http.MethodGet, target: "/healthz", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, target: "/metrics", wantStatus: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, target: "/nope", wantStatus: http.StatusNotFound},
		{name: "question invalid body", method: http.MethodPost, target: "/questions/", body: "{", wantStatus: http.StatusBadRequest},
		{name: "question blank text", method: http.MethodPost, target: "/questions/", body: `{"text":" ","options":[{"text":"A"}]}`, wantStatus: http.StatusBadRequest},
		{name: "question bad id", method: http.MethodPatch, target: "/questions/abc", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "submit invalid body", method: http.MethodPost, target: "/submit/", body: "nope", wantStatus: http.StatusBadRequest},
		{name: "user bad id", method: http.MethodGet, target: "/users/x", wantStatus: http.StatusBadRequest},
		{name: "user responses bad id", method: http.MethodGet, target: "/users/0/responses", wantStatus: http.StatusBadRequest},
		{name: "subscale invalid method", method: http.MethodPost, target: "/subscales/", body: `{"name":"A","method":"median"}`, wantStatus: http.StatusBadRequest},
		{name: "normalization bad id", method: http.MethodGet, target: "/subscales/x/normalization-table/", wantStatus: http.StatusBadRequest},
		{name: "upload without multipart", method: http.MethodPost, target: "/subscales/1/upload-normalization/", body: "x", wantStatus: http.StatusBadRequest},
		{name: "method not allowed", method: http.MethodPut, target: "/questions/1", body: "{}", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestRouterErrorEnvelopeCarriesRequestID(t *testing.T) {
	router := NewRouter(Config{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/users/x", nil)
	req.Header.Set("X-Request-Id", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `"ok":false`) || !strings.Contains(body, `"request_id":"req-42"`) {
		t.Fatalf("unexpected error body %s", body)
	}
}
