package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// fakeTokens accepts a fixed set of tokens
type fakeTokens struct {
	claims map[string]*domain.TokenClaims
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{claims: map[string]*domain.TokenClaims{
		"reader": {Subject: "alice", Scopes: []string{domain.ScopeRead}},
		"writer": {Subject: "bob", Scopes: []string{domain.ScopeRead, domain.ScopeWrite}},
	}}
}

func (f *fakeTokens) GenerateToken(claims *domain.TokenClaims) (string, error) {
	return claims.Subject, nil
}

func (f *fakeTokens) ParseToken(token string) (*domain.TokenClaims, error) {
	if token == "expired" {
		return nil, domain.ErrTokenExpired
	}
	c, ok := f.claims[token]
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	return c, nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{name: "valid bearer token", header: "Bearer abc123", expected: "abc123"},
		{name: "bearer with extra spaces", header: "Bearer   token-with-spaces   ", expected: "token-with-spaces"},
		{name: "lowercase bearer", header: "bearer token123", expected: "token123"},
		{name: "empty header", header: "", expected: ""},
		{name: "no bearer prefix", header: "token123", expected: ""},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := extractBearerToken(req); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	m := NewAuthMiddleware(newFakeTokens())

	tests := []struct {
		name      string
		header    string
		query     string
		websocket bool
		status    int
		body      string
	}{
		{name: "missing token", status: http.StatusUnauthorized, body: "missing authorization token"},
		{name: "invalid token", header: "Bearer nope", status: http.StatusUnauthorized, body: "invalid token"},
		{name: "expired token", header: "Bearer expired", status: http.StatusUnauthorized, body: "token expired"},
		{name: "valid token", header: "Bearer reader", status: http.StatusOK},
		{name: "query token ignored without upgrade", query: "?token=reader", status: http.StatusUnauthorized},
		{name: "query token on websocket upgrade", query: "?token=reader", websocket: true, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.websocket {
				req.Header.Set("Upgrade", "websocket")
			}
			rr := httptest.NewRecorder()
			m.Authenticate(okHandler).ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			if tt.body != "" {
				if got := decodeError(t, rr); got != tt.body {
					t.Errorf("expected error %q, got %q", tt.body, got)
				}
			}
		})
	}
}

func TestAuthMiddleware_Authenticate_SetsContext(t *testing.T) {
	m := NewAuthMiddleware(newFakeTokens())

	var got *domain.AuthContext
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAuthContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer writer")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil {
		t.Fatal("expected auth context")
	}
	if got.Subject != "bob" {
		t.Errorf("expected subject bob, got %q", got.Subject)
	}
	if !got.CanWrite() {
		t.Error("expected write scope")
	}
}

func TestAuthMiddleware_RequireWrite(t *testing.T) {
	m := NewAuthMiddleware(newFakeTokens())

	tests := []struct {
		name   string
		ctx    *domain.AuthContext
		status int
	}{
		{name: "no context", status: http.StatusUnauthorized},
		{name: "read only", ctx: &domain.AuthContext{Subject: "alice", Scopes: []string{domain.ScopeRead}}, status: http.StatusForbidden},
		{name: "write", ctx: &domain.AuthContext{Subject: "bob", Scopes: []string{domain.ScopeWrite}}, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			if tt.ctx != nil {
				req = req.WithContext(context.WithValue(req.Context(), authContextKey, tt.ctx))
			}
			rr := httptest.NewRecorder()
			m.RequireWrite(okHandler).ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestGetAuthContext_EmptyContext(t *testing.T) {
	if GetAuthContext(context.Background()) != nil {
		t.Error("expected nil auth context")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	handler := NewLoggingMiddleware(slog.New(slog.DiscardHandler)).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := NewRecoveryMiddleware(slog.New(slog.DiscardHandler)).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
	if got := decodeError(t, rr); got != "internal server error" {
		t.Errorf("unexpected error %q", got)
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := NewCORSMiddleware([]string{"http://app.example"}).Handler(okHandler)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "http://app.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example" {
			t.Errorf("expected allowed origin header, got %q", got)
		}
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "http://evil.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no CORS header, got %q", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/", nil)
		req.Header.Set("Origin", "http://app.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status %d, got %d", http.StatusNoContent, rr.Code)
		}
	})
}

func TestResponseWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusCreated)

	if rw.statusCode != http.StatusCreated {
		t.Errorf("expected captured status %d, got %d", http.StatusCreated, rw.statusCode)
	}
	if rr.Code != http.StatusCreated {
		t.Errorf("expected written status %d, got %d", http.StatusCreated, rr.Code)
	}
}
