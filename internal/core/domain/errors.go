package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates a document revision mismatch
	ErrConflict = errors.New("conflict")

	// ErrTimeout indicates a wait for a remote condition elapsed
	ErrTimeout = errors.New("timeout")

	// ErrMalformedAction indicates a reducer action that references a trigger
	// without an id or a konnector slug
	ErrMalformedAction = errors.New("malformed action")

	// ErrManifestUnavailable indicates the konnector manifest could not be fetched
	ErrManifestUnavailable = errors.New("manifest unavailable")

	// ErrJobFailed indicates a konnector job reached the errored state
	ErrJobFailed = errors.New("job failed")

	// ErrKonnectorErrored indicates the konnector installation ended in error
	ErrKonnectorErrored = errors.New("konnector errored")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrServiceUnavailable indicates a backend could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)

// MissingParameterError is returned when a required argument is absent.
type MissingParameterError struct {
	Op    string
	Param string
}

func (e *MissingParameterError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("missing parameter %q", e.Param)
	}
	return fmt.Sprintf("%s: missing parameter %q", e.Op, e.Param)
}

// Is makes MissingParameterError match ErrInvalidInput.
func (e *MissingParameterError) Is(target error) bool {
	return target == ErrInvalidInput
}

// MissingParam builds a MissingParameterError.
func MissingParam(op, param string) error {
	return &MissingParameterError{Op: op, Param: param}
}

// ConflictError reports a revision mismatch on update.
type ConflictError struct {
	DocID       string
	ExpectedRev string
	ActualRev   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %s: revision %q does not match %q", e.DocID, e.ExpectedRev, e.ActualRev)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TimeoutKind tells which wait elapsed.
type TimeoutKind string

const (
	TimeoutInstall TimeoutKind = "install"
	TimeoutJob     TimeoutKind = "job"
	TimeoutPoll    TimeoutKind = "poll"
)

// TimeoutError is returned when a polled condition did not hold in time.
type TimeoutError struct {
	Kind    TimeoutKind
	Subject string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s timeout after %s", e.Kind, e.After)
	}
	return fmt.Sprintf("%s timeout for %s after %s", e.Kind, e.Subject, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsInstallTimeout reports whether err is an installation timeout.
func IsInstallTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) && te.Kind == TimeoutInstall
}

// IsJobTimeout reports whether err is a job run timeout.
func IsJobTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) && te.Kind == TimeoutJob
}

// JobError carries the error string reported by an errored job.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	return e.Message
}

func (e *JobError) Is(target error) bool {
	return target == ErrJobFailed
}

// ManifestFetchError wraps a failure to retrieve a konnector manifest.
type ManifestFetchError struct {
	Source string
	Err    error
}

func (e *ManifestFetchError) Error() string {
	return fmt.Sprintf("fetch manifest %s: %v", e.Source, e.Err)
}

func (e *ManifestFetchError) Unwrap() []error {
	return []error{ErrManifestUnavailable, e.Err}
}
