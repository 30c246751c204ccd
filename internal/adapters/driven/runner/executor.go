// Package runner executes konnector jobs on a remote konnector runner.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.KonnectorExecutor = (*Executor)(nil)

// KonnectorError is a failure reported by the konnector itself, such as
// LOGIN_FAILED. Its text is what users see as the connection error.
type KonnectorError struct {
	Code string
}

func (e *KonnectorError) Error() string { return e.Code }

// Config configures an Executor.
type Config struct {
	// URL of the runner's execution endpoint
	URL        string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Executor posts jobs to the runner and waits for the outcome. The job
// timeout is carried by ctx.
type Executor struct {
	url    string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.URL == "" {
		return nil, errors.New("runner URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// bounded by the job context instead
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{url: cfg.URL, token: cfg.Token, http: httpClient, logger: logger}, nil
}

type runRequest struct {
	JobID        string `json:"job_id"`
	TriggerID    string `json:"trigger_id,omitempty"`
	Konnector    string `json:"konnector"`
	Account      string `json:"account"`
	FolderToSave string `json:"folder_to_save,omitempty"`
	Deadline     string `json:"deadline,omitempty"`
}

type runResponse struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Execute runs the konnector of job.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) error {
	if job.Message == nil || job.Message.Konnector == "" {
		return domain.MissingParam("execute", "message.konnector")
	}
	body := runRequest{
		JobID:        job.ID,
		TriggerID:    job.TriggerID,
		Konnector:    job.Message.Konnector,
		Account:      job.Message.Account,
		FolderToSave: job.Message.FolderToSave,
	}
	if deadline, ok := ctx.Deadline(); ok {
		body.Deadline = deadline.UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("runner request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read runner response: %w", err)
	}
	var out runResponse
	_ = json.Unmarshal(raw, &out)

	e.logger.Debug("konnector executed",
		"job_id", job.ID, "konnector", body.Konnector,
		"status", resp.StatusCode, "duration", time.Since(start))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("runner returned %d: %w", resp.StatusCode, domain.ErrServiceUnavailable)
	case out.Error != "":
		return &KonnectorError{Code: out.Error}
	case resp.StatusCode >= 300:
		return fmt.Errorf("runner returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	case out.State != "" && domain.JobState(out.State) != domain.JobDone:
		return &KonnectorError{Code: "UNKNOWN_ERROR"}
	}
	return nil
}
