package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/custodia-labs/collect-core/internal/core/connections"
	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driving"
)

// mockCollect is a configurable driving.CollectService
type mockCollect struct {
	konnectors map[string]*domain.Konnector
	statuses   map[string]domain.ConnectionStatus

	connectFn      func(ctx context.Context, k *domain.Konnector, a *domain.Account, folderPath string, opts driving.ConnectOptions) (*domain.Connection, error)
	runFn          func(ctx context.Context, k *domain.Konnector, a *domain.Account, opts driving.ConnectOptions) (*domain.Job, bool, error)
	infosFn        func(ctx context.Context, slug string) (*domain.Konnector, error)
	updateFn       func(ctx context.Context, k *domain.Konnector, a *domain.Account, v domain.AccountValues) (*domain.Account, error)
	updateFolderFn func(ctx context.Context, k *domain.Konnector, a *domain.Account, v domain.AccountValues) (*domain.Account, error)
	deleteFn       func(ctx context.Context, k *domain.Konnector) error
	deleteConnFn   func(ctx context.Context, t *domain.Trigger) error
	launchFn       func(ctx context.Context, t *domain.Trigger, delay time.Duration) (*domain.Job, error)

	calls  []string
	purged bool
}

func newMockCollect(ks ...*domain.Konnector) *mockCollect {
	m := &mockCollect{
		konnectors: make(map[string]*domain.Konnector),
		statuses:   make(map[string]domain.ConnectionStatus),
	}
	for _, k := range ks {
		m.konnectors[k.Slug] = k
	}
	return m
}

func applyOptions(opts []driving.ConnectOption) driving.ConnectOptions {
	var o driving.ConnectOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (m *mockCollect) ConnectAccount(ctx context.Context, k *domain.Konnector, a *domain.Account, folderPath string, opts ...driving.ConnectOption) (*domain.Connection, error) {
	m.calls = append(m.calls, "ConnectAccount")
	if m.connectFn != nil {
		return m.connectFn(ctx, k, a, folderPath, applyOptions(opts))
	}
	return nil, errors.New("not implemented")
}

func (m *mockCollect) RunAccount(ctx context.Context, k *domain.Konnector, a *domain.Account, opts ...driving.ConnectOption) (*domain.Job, bool, error) {
	m.calls = append(m.calls, "RunAccount")
	if m.runFn != nil {
		return m.runFn(ctx, k, a, applyOptions(opts))
	}
	return nil, false, errors.New("not implemented")
}

func (m *mockCollect) all() []*domain.Konnector {
	var out []*domain.Konnector
	for _, k := range m.konnectors {
		out = append(out, k.Clone())
	}
	domain.SortKonnectorsByName(out)
	return out
}

func (m *mockCollect) Find() []*domain.Konnector {
	m.calls = append(m.calls, "Find")
	return m.all()
}

func (m *mockCollect) FindConnected() []*domain.Konnector {
	m.calls = append(m.calls, "FindConnected")
	var out []*domain.Konnector
	for _, k := range m.all() {
		if k.HasAccounts() {
			out = append(out, k)
		}
	}
	return out
}

func (m *mockCollect) FindByCategory(category string) []*domain.Konnector {
	m.calls = append(m.calls, "FindByCategory:"+category)
	return m.all()
}

func (m *mockCollect) FindByDataType(dataType string) []*domain.Konnector {
	m.calls = append(m.calls, "FindByDataType:"+dataType)
	return m.all()
}

func (m *mockCollect) Categories() []string { return []string{"banking", "others"} }

func (m *mockCollect) KonnectorBySlug(slug string) *domain.Konnector {
	return m.konnectors[slug].Clone()
}

func (m *mockCollect) FetchKonnectorInfos(ctx context.Context, slug string) (*domain.Konnector, error) {
	if m.infosFn != nil {
		return m.infosFn(ctx, slug)
	}
	if k := m.KonnectorBySlug(slug); k != nil {
		return k, nil
	}
	return nil, fmt.Errorf("konnector %s: %w", slug, domain.ErrNotFound)
}

func (m *mockCollect) UpdateAccount(ctx context.Context, k *domain.Konnector, a *domain.Account, v domain.AccountValues) (*domain.Account, error) {
	m.calls = append(m.calls, "UpdateAccount")
	return m.updateFn(ctx, k, a, v)
}

func (m *mockCollect) UpdateFolderPath(ctx context.Context, k *domain.Konnector, a *domain.Account, v domain.AccountValues) (*domain.Account, error) {
	m.calls = append(m.calls, "UpdateFolderPath")
	return m.updateFolderFn(ctx, k, a, v)
}

func (m *mockCollect) DeleteAccounts(ctx context.Context, k *domain.Konnector) error {
	m.calls = append(m.calls, "DeleteAccounts")
	if m.deleteFn != nil {
		return m.deleteFn(ctx, k)
	}
	return nil
}

func (m *mockCollect) DeleteConnection(ctx context.Context, t *domain.Trigger) error {
	m.calls = append(m.calls, "DeleteConnection")
	if m.deleteConnFn != nil {
		return m.deleteConnFn(ctx, t)
	}
	return nil
}

func (m *mockCollect) LaunchTriggerAndQueue(ctx context.Context, t *domain.Trigger, delay time.Duration) (*domain.Job, error) {
	m.calls = append(m.calls, "LaunchTriggerAndQueue")
	return m.launchFn(ctx, t, delay)
}

func (m *mockCollect) ListConnections(slug string) []connections.Connection {
	if slug != "" && slug != "fakebank" {
		return nil
	}
	return []connections.Connection{{Slug: "fakebank", TriggerID: "t1", Projection: domain.StatusConnected}}
}

func (m *mockCollect) Queue() []connections.QueueItem {
	return []connections.QueueItem{{Slug: "fakebank", TriggerID: "t1", Label: "Fake Bank", Status: connections.QueueOngoing}}
}

func (m *mockCollect) PurgeQueue() { m.purged = true }

func (m *mockCollect) ConfiguredKonnectors() []string { return nil }

func (m *mockCollect) ConnectionStatus(slug string) domain.ConnectionStatus { return m.statuses[slug] }

func (m *mockCollect) ConnectionError(slug string) string {
	if m.statuses[slug] == domain.StatusErrored {
		return "LOGIN_FAILED"
	}
	return ""
}

func (m *mockCollect) IsConnectionStatusRunning(slug string) bool {
	return m.statuses[slug] == domain.StatusRunning
}

func (m *mockCollect) KonnectorHasAccount(slug string) bool {
	k := m.konnectors[slug]
	return k != nil && k.HasAccounts()
}

func (m *mockCollect) KonnectorResult(slug string) *domain.KonnectorResult { return nil }

// fakeTriggers resolves a fixed set of triggers
type fakeTriggers map[string]*domain.Trigger

func (f fakeTriggers) GetTrigger(ctx context.Context, id string) (*domain.Trigger, error) {
	if t, ok := f[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("trigger %s: %w", id, domain.ErrNotFound)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

// Test helpers

func fakeBank() *domain.Konnector {
	return &domain.Konnector{
		Slug:     "fakebank",
		Name:     "Fake Bank",
		Category: "banking",
		Accounts: []*domain.Account{{
			DocMeta:     domain.DocMeta{ID: "acc1", Rev: "1-a"},
			AccountType: "fakebank",
			Auth:        map[string]string{"login": "jdoe", "password": "secret", "folderPath": "/Bank"},
			FolderID:    "folder1",
		}},
	}
}

func testTrigger() *domain.Trigger {
	return &domain.Trigger{
		DocMeta:     domain.DocMeta{ID: "t1"},
		TriggerType: domain.TriggerTypeCron,
		WorkerType:  domain.WorkerKonnector,
		Message:     &domain.TriggerMessage{Konnector: "fakebank", Account: "acc1"},
	}
}

func newTestServer(collect *mockCollect, checks map[string]Pinger) *Server {
	return NewServer(Config{Version: "1.2.3", Logger: slog.New(slog.DiscardHandler)}, Dependencies{
		Collect:  collect,
		Triggers: fakeTriggers{"t1": testTrigger()},
		Tokens:   newFakeTokens(),
		Checks:   checks,
	})
}

func doRequest(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

// Health

func TestHandleHealth(t *testing.T) {
	s := newTestServer(newMockCollect(), nil)
	rr := doRequest(t, s, "GET", "/health", "", nil)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(newMockCollect(), nil)
	rr := doRequest(t, s, "GET", "/version", "", nil)

	var resp VersionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %q", resp.Version)
	}
}

func TestHandleReady(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		s := newTestServer(newMockCollect(), map[string]Pinger{"postgres": stubPinger{}, "queue": stubPinger{}})
		rr := doRequest(t, s, "GET", "/ready", "", nil)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
	})

	t.Run("failing check", func(t *testing.T) {
		s := newTestServer(newMockCollect(), map[string]Pinger{"postgres": stubPinger{}, "redis": stubPinger{err: errors.New("connection refused")}})
		rr := doRequest(t, s, "GET", "/ready", "", nil)

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
		}
		var resp ReadyResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Checks["redis"] != "connection refused" || resp.Checks["postgres"] != "ok" {
			t.Errorf("unexpected checks %v", resp.Checks)
		}
	})
}

func TestRoutes_RequireAuth(t *testing.T) {
	s := newTestServer(newMockCollect(fakeBank()), nil)

	if rr := doRequest(t, s, "GET", "/api/v1/konnectors", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d without token, got %d", http.StatusUnauthorized, rr.Code)
	}
	if rr := doRequest(t, s, "DELETE", "/api/v1/queue", "reader", nil); rr.Code != http.StatusForbidden {
		t.Errorf("expected status %d for read-only token, got %d", http.StatusForbidden, rr.Code)
	}
}

// Catalogue

func TestHandleListKonnectors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		status int
		call   string
	}{
		{name: "default", query: "", status: http.StatusOK, call: "FindByCategory:"},
		{name: "by category", query: "?category=banking", status: http.StatusOK, call: "FindByCategory:banking"},
		{name: "by data type", query: "?dataType=bill", status: http.StatusOK, call: "FindByDataType:bill"},
		{name: "connected", query: "?connected=true", status: http.StatusOK, call: "FindConnected"},
		{name: "not only connected", query: "?connected=false", status: http.StatusOK, call: "Find"},
		{name: "invalid connected", query: "?connected=maybe", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collect := newMockCollect(fakeBank())
			s := newTestServer(collect, nil)
			rr := doRequest(t, s, "GET", "/api/v1/konnectors"+tt.query, "reader", nil)

			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			if tt.call != "" && (len(collect.calls) != 1 || collect.calls[0] != tt.call) {
				t.Errorf("expected call %q, got %v", tt.call, collect.calls)
			}
		})
	}
}

func TestHandleListKonnectors_RedactsSecrets(t *testing.T) {
	collect := newMockCollect(fakeBank())
	collect.statuses["fakebank"] = domain.StatusErrored
	s := newTestServer(collect, nil)

	rr := doRequest(t, s, "GET", "/api/v1/konnectors", "reader", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("secret")) {
		t.Errorf("password leaked in response: %s", rr.Body.String())
	}

	var resp []KonnectorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("expected 1 konnector, got %d", len(resp))
	}
	if resp[0].Slug != "fakebank" || resp[0].Status != domain.StatusErrored || resp[0].ConnectionError != "LOGIN_FAILED" {
		t.Errorf("unexpected konnector %+v", resp[0])
	}
	if resp[0].Accounts[0].Login() != "jdoe" {
		t.Errorf("expected login to be kept, got %q", resp[0].Accounts[0].Login())
	}
}

func TestHandleGetKonnector(t *testing.T) {
	s := newTestServer(newMockCollect(fakeBank()), nil)

	if rr := doRequest(t, s, "GET", "/api/v1/konnectors/fakebank", "reader", nil); rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if rr := doRequest(t, s, "GET", "/api/v1/konnectors/unknown", "reader", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestHandleKonnectorStatus(t *testing.T) {
	collect := newMockCollect(fakeBank())
	collect.statuses["fakebank"] = domain.StatusRunning
	s := newTestServer(collect, nil)

	rr := doRequest(t, s, "GET", "/api/v1/konnectors/fakebank/status", "reader", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp ConnectionStatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != domain.StatusRunning || !resp.Running || !resp.HasAccount {
		t.Errorf("unexpected status %+v", resp)
	}
}

// Accounts

func TestHandleConnectAccount(t *testing.T) {
	body := ConnectRequest{Auth: map[string]string{"login": "jdoe", "password": "secret"}, FolderPath: "/Bank"}

	tests := []struct {
		name   string
		slug   string
		body   any
		result func() (*domain.Connection, error)
		status int
	}{
		{
			name: "finished",
			slug: "fakebank",
			body: body,
			result: func() (*domain.Connection, error) {
				return &domain.Connection{Account: &domain.Account{Auth: map[string]string{"login": "jdoe", "password": "secret"}}}, nil
			},
			status: http.StatusCreated,
		},
		{
			name:   "enqueued",
			slug:   "fakebank",
			body:   body,
			result: func() (*domain.Connection, error) { return &domain.Connection{Enqueued: true}, nil },
			status: http.StatusAccepted,
		},
		{name: "unknown konnector", slug: "unknown", body: body, status: http.StatusNotFound},
		{name: "missing folder", slug: "fakebank", body: ConnectRequest{Auth: body.Auth}, status: http.StatusBadRequest},
		{name: "invalid body", slug: "fakebank", body: "nope", status: http.StatusBadRequest},
		{
			name:   "konnector failed",
			slug:   "fakebank",
			body:   body,
			result: func() (*domain.Connection, error) { return nil, &domain.JobError{JobID: "j1", Message: "LOGIN_FAILED"} },
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "install timeout",
			slug: "fakebank",
			body: body,
			result: func() (*domain.Connection, error) {
				return nil, fmt.Errorf("install: %w", &domain.TimeoutError{Kind: domain.TimeoutInstall, After: time.Minute})
			},
			status: http.StatusGatewayTimeout,
		},
		{
			name:   "missing parameter",
			slug:   "fakebank",
			body:   body,
			result: func() (*domain.Connection, error) { return nil, domain.MissingParam("createAccount", "auth") },
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collect := newMockCollect(fakeBank())
			collect.connectFn = func(ctx context.Context, k *domain.Konnector, a *domain.Account, folderPath string, opts driving.ConnectOptions) (*domain.Connection, error) {
				if a.AccountType != k.Slug {
					t.Errorf("expected account type %q, got %q", k.Slug, a.AccountType)
				}
				return tt.result()
			}
			s := newTestServer(collect, nil)

			rr := doRequest(t, s, "POST", "/api/v1/konnectors/"+tt.slug+"/accounts", "writer", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if bytes.Contains(rr.Body.Bytes(), []byte("secret")) {
				t.Errorf("password leaked in response: %s", rr.Body.String())
			}
		})
	}
}

func TestHandleConnectAccount_Options(t *testing.T) {
	collect := newMockCollect(fakeBank())
	var got driving.ConnectOptions
	collect.connectFn = func(ctx context.Context, k *domain.Konnector, a *domain.Account, folderPath string, opts driving.ConnectOptions) (*domain.Connection, error) {
		got = opts
		return &domain.Connection{}, nil
	}
	s := newTestServer(collect, nil)

	rr := doRequest(t, s, "POST", "/api/v1/konnectors/fakebank/accounts", "writer",
		ConnectRequest{FolderPath: "/Bank", Wait: true, EnqueueAfterMs: 1500})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if !got.DisableEnqueue {
		t.Error("expected enqueue to be disabled")
	}
	if got.EnqueueAfter != 1500*time.Millisecond {
		t.Errorf("expected enqueue after 1.5s, got %v", got.EnqueueAfter)
	}
}

func TestHandleRunAccount(t *testing.T) {
	collect := newMockCollect(fakeBank())
	collect.runFn = func(ctx context.Context, k *domain.Konnector, a *domain.Account, opts driving.ConnectOptions) (*domain.Job, bool, error) {
		if a.ID != "acc1" {
			t.Errorf("expected account acc1, got %q", a.ID)
		}
		return &domain.Job{DocMeta: domain.DocMeta{ID: "j1"}, State: domain.JobRunning}, true, nil
	}
	s := newTestServer(collect, nil)

	rr := doRequest(t, s, "POST", "/api/v1/konnectors/fakebank/accounts/acc1/run", "writer", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rr.Code)
	}
	var resp RunResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Enqueued || resp.Job == nil || resp.Job.ID != "j1" {
		t.Errorf("unexpected response %+v", resp)
	}

	if rr := doRequest(t, s, "POST", "/api/v1/konnectors/fakebank/accounts/missing/run", "writer", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected status %d for unknown account, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestHandleUpdateAccount(t *testing.T) {
	updated := func(ctx context.Context, k *domain.Konnector, a *domain.Account, v domain.AccountValues) (*domain.Account, error) {
		c := a.Clone()
		v.ApplyTo(c)
		return c, nil
	}

	tests := []struct {
		name   string
		values domain.AccountValues
		call   string
	}{
		{name: "credentials", values: domain.AccountValues{Login: "jdoe2", Password: "pw"}, call: "UpdateAccount"},
		{name: "same folder", values: domain.AccountValues{FolderPath: "/Bank"}, call: "UpdateAccount"},
		{name: "moved folder", values: domain.AccountValues{FolderPath: "/Banks/Fake"}, call: "UpdateFolderPath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collect := newMockCollect(fakeBank())
			collect.updateFn = updated
			collect.updateFolderFn = updated
			s := newTestServer(collect, nil)

			rr := doRequest(t, s, "PUT", "/api/v1/konnectors/fakebank/accounts/acc1", "writer", tt.values)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
			}
			if len(collect.calls) != 1 || collect.calls[0] != tt.call {
				t.Errorf("expected call %q, got %v", tt.call, collect.calls)
			}
			if bytes.Contains(rr.Body.Bytes(), []byte(`"password"`)) {
				t.Errorf("password leaked in response: %s", rr.Body.String())
			}
		})
	}
}

func TestHandleUpdateAccount_Conflict(t *testing.T) {
	collect := newMockCollect(fakeBank())
	collect.updateFn = func(ctx context.Context, k *domain.Konnector, a *domain.Account, v domain.AccountValues) (*domain.Account, error) {
		return nil, &domain.ConflictError{DocID: a.ID, ExpectedRev: "1-a", ActualRev: "2-b"}
	}
	s := newTestServer(collect, nil)

	rr := doRequest(t, s, "PUT", "/api/v1/konnectors/fakebank/accounts/acc1", "writer", domain.AccountValues{Login: "x", Password: "y"})
	if rr.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, rr.Code)
	}
}

func TestHandleDeleteAccounts(t *testing.T) {
	collect := newMockCollect(fakeBank())
	s := newTestServer(collect, nil)

	if rr := doRequest(t, s, "DELETE", "/api/v1/konnectors/fakebank/accounts", "writer", nil); rr.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}

	collect.deleteFn = func(ctx context.Context, k *domain.Konnector) error {
		return errors.New("stack unreachable")
	}
	rr := doRequest(t, s, "DELETE", "/api/v1/konnectors/fakebank/accounts", "writer", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
	if got := decodeError(t, rr); got != "internal server error" {
		t.Errorf("expected internal error to be hidden, got %q", got)
	}
}

// Connections

func TestHandleListConnections(t *testing.T) {
	s := newTestServer(newMockCollect(), nil)

	rr := doRequest(t, s, "GET", "/api/v1/connections?slug=other", "reader", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if got := bytes.TrimSpace(rr.Body.Bytes()); string(got) != "[]" {
		t.Errorf("expected empty list, got %s", got)
	}

	rr = doRequest(t, s, "GET", "/api/v1/connections", "reader", nil)
	var conns []connections.Connection
	if err := json.NewDecoder(rr.Body).Decode(&conns); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(conns) != 1 || conns[0].TriggerID != "t1" || conns[0].Projection != domain.StatusConnected {
		t.Errorf("unexpected connections %+v", conns)
	}
}

func TestHandleConfiguredKonnectors_EmptyList(t *testing.T) {
	s := newTestServer(newMockCollect(), nil)

	rr := doRequest(t, s, "GET", "/api/v1/configured", "reader", nil)
	if got := bytes.TrimSpace(rr.Body.Bytes()); string(got) != "[]" {
		t.Errorf("expected empty list, got %s", got)
	}
}

func TestHandleQueue(t *testing.T) {
	collect := newMockCollect()
	s := newTestServer(collect, nil)

	rr := doRequest(t, s, "GET", "/api/v1/queue", "reader", nil)
	var items []connections.QueueItem
	if err := json.NewDecoder(rr.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].Status != connections.QueueOngoing {
		t.Errorf("unexpected queue %+v", items)
	}

	if rr := doRequest(t, s, "DELETE", "/api/v1/queue", "writer", nil); rr.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}
	if !collect.purged {
		t.Error("expected queue to be purged")
	}
}

func TestHandleLaunchTrigger(t *testing.T) {
	collect := newMockCollect()
	var gotDelay time.Duration
	collect.launchFn = func(ctx context.Context, tr *domain.Trigger, delay time.Duration) (*domain.Job, error) {
		gotDelay = delay
		return &domain.Job{DocMeta: domain.DocMeta{ID: "j1"}, State: domain.JobQueued, TriggerID: tr.ID}, nil
	}
	s := newTestServer(collect, nil)

	rr := doRequest(t, s, "POST", "/api/v1/triggers/t1/launch?delayMs=250", "writer", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rr.Code)
	}
	if gotDelay != 250*time.Millisecond {
		t.Errorf("expected delay 250ms, got %v", gotDelay)
	}

	if rr := doRequest(t, s, "POST", "/api/v1/triggers/t1/launch?delayMs=soon", "writer", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for invalid delay, got %d", http.StatusBadRequest, rr.Code)
	}
	if rr := doRequest(t, s, "POST", "/api/v1/triggers/missing/launch", "writer", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected status %d for unknown trigger, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestHandleDeleteConnection(t *testing.T) {
	collect := newMockCollect()
	var deleted string
	collect.deleteConnFn = func(ctx context.Context, tr *domain.Trigger) error {
		deleted = tr.ID
		return nil
	}
	s := newTestServer(collect, nil)

	if rr := doRequest(t, s, "DELETE", "/api/v1/triggers/t1", "writer", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}
	if deleted != "t1" {
		t.Errorf("expected trigger t1 to be deleted, got %q", deleted)
	}
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrMalformedAction, http.StatusBadRequest},
		{fmt.Errorf("create: %w", domain.ErrAlreadyExists), http.StatusConflict},
		{fmt.Errorf("install: %w", domain.ErrKonnectorErrored), http.StatusUnprocessableEntity},
		{&domain.ManifestFetchError{Source: "git://x", Err: errors.New("bad gateway")}, http.StatusBadGateway},
		{&domain.ManifestFetchError{Source: "git://x", Err: domain.ErrNotFound}, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	s := newTestServer(newMockCollect(), nil)
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.writeDomainError(rr, tt.err)
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}
		})
	}
}
