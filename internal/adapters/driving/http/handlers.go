package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/custodia-labs/collect-core/internal/core/connections"
	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driving"
)

// readyTimeout bounds each dependency ping of /ready.
const readyTimeout = 2 * time.Second

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// ReadyResponse reports each dependency check
// @Description Readiness status with per-dependency results
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks,omitempty"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// KonnectorResponse is a catalogue konnector with its connection status
// @Description Konnector with connection status
type KonnectorResponse struct {
	*domain.Konnector
	Status          domain.ConnectionStatus `json:"status,omitempty" swaggertype:"string" example:"connected"`
	ConnectionError string                  `json:"connection_error,omitempty"`
}

// ConnectionStatusResponse is the aggregated status of one konnector
// @Description Aggregated connection status of a konnector
type ConnectionStatusResponse struct {
	Slug       string                  `json:"slug" example:"fakebank"`
	Status     domain.ConnectionStatus `json:"status" swaggertype:"string" example:"running"`
	Error      string                  `json:"error,omitempty"`
	Running    bool                    `json:"running"`
	HasAccount bool                    `json:"has_account"`
	Result     *domain.KonnectorResult `json:"result,omitempty"`
}

// ConnectRequest creates a connection for a konnector
// @Description Account credentials and destination folder
type ConnectRequest struct {
	Auth       map[string]string `json:"auth"`
	FolderPath string            `json:"folderPath" example:"/Administrative/Fake Bank"`

	// Wait blocks until the workflow finishes instead of returning once enqueued
	Wait bool `json:"wait,omitempty"`

	// EnqueueAfterMs overrides the delay after which the call returns
	EnqueueAfterMs int `json:"enqueueAfterMs,omitempty"`
}

// RunRequest controls how long a run call blocks
// @Description Run options
type RunRequest struct {
	Wait           bool `json:"wait,omitempty"`
	EnqueueAfterMs int  `json:"enqueueAfterMs,omitempty"`
}

// RunResponse is a queued or finished run
// @Description Konnector run
type RunResponse struct {
	Job      *domain.Job `json:"job,omitempty"`
	Enqueued bool        `json:"enqueued"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the database, the task queue and the lock backend
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	for name, p := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			resp.Status = "not ready"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}
	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Catalogue endpoints

// handleListCategories godoc
// @Summary      List categories
// @Description  Returns the konnector categories declared in the registry
// @Tags         Catalogue
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   string
// @Failure      401  {object}  ErrorResponse
// @Router       /categories [get]
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories := s.collect.Categories()
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, categories)
}

// handleListKonnectors godoc
// @Summary      List konnectors
// @Description  Lists catalogue konnectors, optionally filtered by category, data type or connection
// @Tags         Catalogue
// @Produce      json
// @Security     BearerAuth
// @Param        category   query     string  false  "Category (unknown or 'all' returns everything)"
// @Param        dataType   query     string  false  "Declared data type"
// @Param        connected  query     bool    false  "Only konnectors with an account"
// @Success      200        {array}   KonnectorResponse
// @Failure      400        {object}  ErrorResponse
// @Failure      401        {object}  ErrorResponse
// @Router       /konnectors [get]
func (s *Server) handleListKonnectors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var konnectors []*domain.Konnector
	switch {
	case q.Get("connected") != "":
		connected, err := strconv.ParseBool(q.Get("connected"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid connected parameter")
			return
		}
		if connected {
			konnectors = s.collect.FindConnected()
		} else {
			konnectors = s.collect.Find()
		}
	case q.Get("dataType") != "":
		konnectors = s.collect.FindByDataType(q.Get("dataType"))
	default:
		konnectors = s.collect.FindByCategory(q.Get("category"))
	}

	resp := make([]KonnectorResponse, 0, len(konnectors))
	for _, k := range konnectors {
		resp = append(resp, s.konnectorResponse(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetKonnector godoc
// @Summary      Get konnector
// @Description  Returns the konnector enriched with its published manifest
// @Tags         Catalogue
// @Produce      json
// @Security     BearerAuth
// @Param        slug  path      string  true  "Konnector slug"
// @Success      200   {object}  KonnectorResponse
// @Failure      401   {object}  ErrorResponse
// @Failure      404   {object}  ErrorResponse
// @Router       /konnectors/{slug} [get]
func (s *Server) handleGetKonnector(w http.ResponseWriter, r *http.Request) {
	k, err := s.collect.FetchKonnectorInfos(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.konnectorResponse(k))
}

// handleKonnectorStatus godoc
// @Summary      Get connection status
// @Description  Returns the aggregated connection status of a konnector
// @Tags         Catalogue
// @Produce      json
// @Security     BearerAuth
// @Param        slug  path      string  true  "Konnector slug"
// @Success      200   {object}  ConnectionStatusResponse
// @Failure      401   {object}  ErrorResponse
// @Failure      404   {object}  ErrorResponse
// @Router       /konnectors/{slug}/status [get]
func (s *Server) handleKonnectorStatus(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if s.collect.KonnectorBySlug(slug) == nil {
		writeError(w, http.StatusNotFound, "konnector not found")
		return
	}
	writeJSON(w, http.StatusOK, ConnectionStatusResponse{
		Slug:       slug,
		Status:     s.collect.ConnectionStatus(slug),
		Error:      s.collect.ConnectionError(slug),
		Running:    s.collect.IsConnectionStatusRunning(slug),
		HasAccount: s.collect.KonnectorHasAccount(slug),
		Result:     s.collect.KonnectorResult(slug),
	})
}

// Account endpoints

// handleConnectAccount godoc
// @Summary      Connect an account
// @Description  Creates the folder and account, installs the konnector, schedules its trigger and runs it once.
// @Description  Returns 202 when the workflow is still running after the enqueue delay.
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        slug     path      string          true  "Konnector slug"
// @Param        request  body      ConnectRequest  true  "Credentials and folder"
// @Success      201      {object}  domain.Connection
// @Success      202      {object}  domain.Connection
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Failure      422      {object}  ErrorResponse  "Konnector run failed"
// @Failure      504      {object}  ErrorResponse
// @Router       /konnectors/{slug}/accounts [post]
func (s *Server) handleConnectAccount(w http.ResponseWriter, r *http.Request) {
	k := s.collect.KonnectorBySlug(r.PathValue("slug"))
	if k == nil {
		writeError(w, http.StatusNotFound, "konnector not found")
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FolderPath == "" {
		writeError(w, http.StatusBadRequest, "folderPath is required")
		return
	}

	account := &domain.Account{AccountType: k.Slug, Auth: req.Auth}
	conn, err := s.collect.ConnectAccount(r.Context(), k, account, req.FolderPath, connectOptions(req.Wait, req.EnqueueAfterMs)...)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if conn.Enqueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, redactConnection(conn))
}

// handleRunAccount godoc
// @Summary      Run an account
// @Description  Runs the konnector once for an existing account
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        slug     path      string      true   "Konnector slug"
// @Param        id       path      string      true   "Account ID"
// @Param        request  body      RunRequest  false  "Run options"
// @Success      200      {object}  RunResponse
// @Success      202      {object}  RunResponse
// @Failure      401      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Failure      422      {object}  ErrorResponse
// @Router       /konnectors/{slug}/accounts/{id}/run [post]
func (s *Server) handleRunAccount(w http.ResponseWriter, r *http.Request) {
	k, account, ok := s.lookupAccount(w, r)
	if !ok {
		return
	}

	var req RunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	job, enqueued, err := s.collect.RunAccount(r.Context(), k, account, connectOptions(req.Wait, req.EnqueueAfterMs)...)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if enqueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, RunResponse{Job: job, Enqueued: enqueued})
}

// handleUpdateAccount godoc
// @Summary      Update an account
// @Description  Changes credentials (login and password together) and/or moves the destination folder
// @Tags         Accounts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        slug     path      string                true  "Konnector slug"
// @Param        id       path      string                true  "Account ID"
// @Param        request  body      domain.AccountValues  true  "New values"
// @Success      200      {object}  domain.Account
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse
// @Router       /konnectors/{slug}/accounts/{id} [put]
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	k, account, ok := s.lookupAccount(w, r)
	if !ok {
		return
	}

	var values domain.AccountValues
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		updated *domain.Account
		err     error
	)
	moved := values.FolderPath != "" && values.FolderPath != account.Auth[domain.AuthFolderPath]
	if moved && account.FolderID != "" {
		updated, err = s.collect.UpdateFolderPath(r.Context(), k, account, values)
	} else {
		updated, err = s.collect.UpdateAccount(r.Context(), k, account, values)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactAccount(updated))
}

// handleDeleteAccounts godoc
// @Summary      Disconnect a konnector
// @Description  Deletes every account of the konnector with its trigger and folder link
// @Tags         Accounts
// @Produce      json
// @Security     BearerAuth
// @Param        slug  path  string  true  "Konnector slug"
// @Success      204   "No Content"
// @Failure      401   {object}  ErrorResponse
// @Failure      403   {object}  ErrorResponse
// @Failure      404   {object}  ErrorResponse
// @Router       /konnectors/{slug}/accounts [delete]
func (s *Server) handleDeleteAccounts(w http.ResponseWriter, r *http.Request) {
	k := s.collect.KonnectorBySlug(r.PathValue("slug"))
	if k == nil {
		writeError(w, http.StatusNotFound, "konnector not found")
		return
	}
	if err := s.collect.DeleteAccounts(r.Context(), k); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Connection endpoints

// handleListConnections godoc
// @Summary      List connections
// @Description  Returns the per-trigger connection state, optionally for one konnector
// @Tags         Connections
// @Produce      json
// @Security     BearerAuth
// @Param        slug  query     string  false  "Konnector slug"
// @Success      200   {array}   connections.Connection
// @Failure      401   {object}  ErrorResponse
// @Router       /connections [get]
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.collect.ListConnections(r.URL.Query().Get("slug"))
	if conns == nil {
		conns = []connections.Connection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

// handleConfiguredKonnectors godoc
// @Summary      List configured konnectors
// @Description  Returns the slugs having an active connection
// @Tags         Connections
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   string
// @Failure      401  {object}  ErrorResponse
// @Router       /configured [get]
func (s *Server) handleConfiguredKonnectors(w http.ResponseWriter, r *http.Request) {
	slugs := s.collect.ConfiguredKonnectors()
	if slugs == nil {
		slugs = []string{}
	}
	writeJSON(w, http.StatusOK, slugs)
}

// handleQueue godoc
// @Summary      Get queue
// @Description  Returns the connections shown in the queue widget
// @Tags         Connections
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   connections.QueueItem
// @Failure      401  {object}  ErrorResponse
// @Router       /queue [get]
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collect.Queue())
}

// handlePurgeQueue godoc
// @Summary      Purge queue
// @Description  Clears the queue widget
// @Tags         Connections
// @Security     BearerAuth
// @Success      204  "No Content"
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /queue [delete]
func (s *Server) handlePurgeQueue(w http.ResponseWriter, r *http.Request) {
	s.collect.PurgeQueue()
	w.WriteHeader(http.StatusNoContent)
}

// handleLaunchTrigger godoc
// @Summary      Launch a trigger
// @Description  Runs the connection now; it joins the queue if still running after delayMs
// @Tags         Connections
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true   "Trigger ID"
// @Param        delayMs  query     int     false  "Queue delay in milliseconds"
// @Success      202      {object}  domain.Job
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /triggers/{id}/launch [post]
func (s *Server) handleLaunchTrigger(w http.ResponseWriter, r *http.Request) {
	var delay time.Duration
	if v := r.URL.Query().Get("delayMs"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			writeError(w, http.StatusBadRequest, "invalid delayMs parameter")
			return
		}
		delay = time.Duration(ms) * time.Millisecond
	}

	trigger, err := s.triggers.GetTrigger(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	job, err := s.collect.LaunchTriggerAndQueue(r.Context(), trigger, delay)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleDeleteConnection godoc
// @Summary      Delete a connection
// @Description  Deletes the trigger and its account
// @Tags         Connections
// @Security     BearerAuth
// @Param        id   path  string  true  "Trigger ID"
// @Success      204  "No Content"
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /triggers/{id} [delete]
func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	trigger, err := s.triggers.GetTrigger(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.collect.DeleteConnection(r.Context(), trigger); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpers

func (s *Server) lookupAccount(w http.ResponseWriter, r *http.Request) (*domain.Konnector, *domain.Account, bool) {
	k := s.collect.KonnectorBySlug(r.PathValue("slug"))
	if k == nil {
		writeError(w, http.StatusNotFound, "konnector not found")
		return nil, nil, false
	}
	i := k.AccountIndex(r.PathValue("id"))
	if i < 0 {
		writeError(w, http.StatusNotFound, "account not found")
		return nil, nil, false
	}
	return k, k.Accounts[i], true
}

func (s *Server) konnectorResponse(k *domain.Konnector) KonnectorResponse {
	return KonnectorResponse{
		Konnector:       redactKonnector(k),
		Status:          s.collect.ConnectionStatus(k.Slug),
		ConnectionError: s.collect.ConnectionError(k.Slug),
	}
}

func connectOptions(wait bool, enqueueAfterMs int) []driving.ConnectOption {
	var opts []driving.ConnectOption
	if wait {
		opts = append(opts, driving.WithoutEnqueue())
	}
	if enqueueAfterMs > 0 {
		opts = append(opts, driving.EnqueueAfter(time.Duration(enqueueAfterMs)*time.Millisecond))
	}
	return opts
}

// redactAccount drops secrets from an account returned to clients.
func redactAccount(a *domain.Account) *domain.Account {
	if a == nil {
		return nil
	}
	c := a.Clone()
	delete(c.Auth, domain.AuthPassword)
	if c.OAuth != nil {
		c.OAuth = &domain.OAuthInfo{Scope: c.OAuth.Scope}
	}
	return c
}

func redactKonnector(k *domain.Konnector) *domain.Konnector {
	c := k.Clone()
	for i, a := range c.Accounts {
		c.Accounts[i] = redactAccount(a)
	}
	return c
}

func redactConnection(conn *domain.Connection) *domain.Connection {
	c := *conn
	if c.Konnector != nil {
		c.Konnector = redactKonnector(c.Konnector)
	}
	c.Account = redactAccount(c.Account)
	return &c
}

// writeDomainError maps domain errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrMalformedAction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, domain.ErrJobFailed), errors.Is(err, domain.ErrKonnectorErrored):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrManifestUnavailable), errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
