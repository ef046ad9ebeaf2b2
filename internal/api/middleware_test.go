package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	rec := serve(RequestID(okHandler), httptest.NewRequest("GET", "/api/v1/segments", nil))
	if id := rec.Header().Get("X-Request-ID"); len(id) != 16 {
		t.Errorf("generated id = %q, want 16 hex chars", id)
	}

	req := httptest.NewRequest("GET", "/api/v1/segments", nil)
	req.Header.Set("X-Request-ID", "upstream-7")
	if id := serve(RequestID(okHandler), req).Header().Get("X-Request-ID"); id != "upstream-7" {
		t.Errorf("id = %q, want the caller's", id)
	}
}

func TestCORSWithOrigins(t *testing.T) {
	const site = "https://lectures.example.edu"
	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantCode   int
		wantAllow  string
		wantCalled bool
	}{
		{"open_get", nil, "GET", "", http.StatusOK, "*", true},
		{"open_preflight", nil, "OPTIONS", site, http.StatusNoContent, "*", false},
		{"listed_origin", []string{site}, "GET", site, http.StatusOK, site, true},
		{"unlisted_get_still_served", []string{site}, "GET", "https://other.example", http.StatusOK, "", true},
		{"unlisted_preflight_refused", []string{site}, "OPTIONS", "https://other.example", http.StatusForbidden, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
			req := httptest.NewRequest(tt.method, "/api/v1/quizzes", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := serve(CORSWithOrigins(tt.origins)(inner), req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if called != tt.wantCalled {
				t.Errorf("inner called = %v, want %v", called, tt.wantCalled)
			}
		})
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", site)
	rec := serve(CORSWithOrigins([]string{site})(okHandler), req)
	if rec.Header().Get("Vary") != "Origin" {
		t.Error("echoed origin needs Vary: Origin")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID") {
		t.Error("SSE reconnect header must be allowed")
	}
}

func TestRateLimiter(t *testing.T) {
	h := RateLimiter(1, 2)(okHandler)
	hit := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/quizzes", nil)
		req.RemoteAddr = addr
		return serve(h, req)
	}

	for i := 0; i < 2; i++ {
		if rec := hit("192.0.2.10:5000"); rec.Code != http.StatusOK {
			t.Fatalf("request %d within burst: status %d", i, rec.Code)
		}
	}
	rec := hit("192.0.2.10:5001")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("over burst: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Error("missing Retry-After")
	}

	if rec := hit("192.0.2.11:5000"); rec.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	const token = "lecture-token"
	tests := []struct {
		name   string
		token  string
		target string
		header string
		want   int
	}{
		{"no_token_configured", "", "/", "", http.StatusOK},
		{"header_match", token, "/", "Bearer " + token, http.StatusOK},
		{"header_mismatch", token, "/", "Bearer nope", http.StatusUnauthorized},
		{"missing", token, "/", "", http.StatusUnauthorized},
		{"basic_scheme", token, "/", "Basic bGVjdHVyZQ==", http.StatusUnauthorized},
		{"query_for_event_source", token, "/?token=" + token, "", http.StatusOK},
		{"query_mismatch", token, "/?token=nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if rec := serve(BearerAuth(tt.token)(okHandler), req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	if rec := serve(RequireAuth("")(okHandler), httptest.NewRequest("POST", "/api/v1/query", nil)); rec.Code != http.StatusForbidden {
		t.Errorf("unconfigured: status = %d, want 403", rec.Code)
	}
	if rec := serve(RequireAuth("x")(okHandler), httptest.NewRequest("POST", "/api/v1/query", nil)); rec.Code != http.StatusOK {
		t.Errorf("configured: status = %d, want 200", rec.Code)
	}
}

func TestRecoverer(t *testing.T) {
	if rec := serve(Recoverer(okHandler), httptest.NewRequest("GET", "/", nil)); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("nil segment") })
	rec := serve(Recoverer(boom), httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error != "internal server error" {
		t.Errorf("body = %s (%v)", rec.Body, err)
	}
}
