package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Error("no request ID in context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("response header %q != context ID %q", rec.Header().Get("X-Request-ID"), seen)
	}
}

func TestRequestIDHonorsCaller(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetRequestID(r.Context()); got != "retry-7" {
			t.Errorf("request ID = %q, want caller's retry-7", got)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "retry-7")
	h.ServeHTTP(httptest.NewRecorder(), req)
}

func TestAPIKeyAuth(t *testing.T) {
	keys := map[string]string{"key-a": "clinic-a"}
	var client string
	h := APIKeyAuth(keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client = GetClientID(r.Context())
	}))

	cases := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantClient string
	}{
		{"missing key", "", "", http.StatusUnauthorized, ""},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized, ""},
		{"header key", "X-API-Key", "key-a", http.StatusOK, "clinic-a"},
		{"bearer key", "Authorization", "Bearer key-a", http.StatusOK, "clinic-a"},
	}
	for _, c := range cases {
		client = ""
		req := httptest.NewRequest(http.MethodPost, "/conversions", nil)
		if c.header != "" {
			req.Header.Set(c.header, c.value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != c.wantStatus {
			t.Errorf("%s: status = %d, want %d", c.name, rec.Code, c.wantStatus)
		}
		if client != c.wantClient {
			t.Errorf("%s: client = %q, want %q", c.name, client, c.wantClient)
		}
	}
}

func TestMaxBodyRejectsOversizedUpload(t *testing.T) {
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: status = %d, want 413", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny")))
	if rec.Code != http.StatusOK {
		t.Errorf("small body: status = %d, want 200", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the handler")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/conversions", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	methods := rec.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(methods, "POST") || strings.Contains(methods, "DELETE") {
		t.Errorf("allowed methods = %q, want GET/POST/OPTIONS only", methods)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Errorf("allowed headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestRecoverConvertsPanics(t *testing.T) {
	h := Recover(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("broken handler")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
