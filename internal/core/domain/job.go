package domain

import "time"

// JobState is the execution state of a job.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobErrored JobState = "errored"
)

// IsTerminal returns true for done and errored.
func (s JobState) IsTerminal() bool {
	return s == JobDone || s == JobErrored
}

// IsActive returns true for queued and running.
func (s JobState) IsActive() bool {
	return s == JobQueued || s == JobRunning
}

// Job is one execution of a konnector.
type Job struct {
	DocMeta

	Worker     string          `json:"worker"`
	State      JobState        `json:"state"`
	Error      string          `json:"error,omitempty"`
	TriggerID  string          `json:"trigger_id,omitempty"`
	Message    *TriggerMessage `json:"message,omitempty"`
	Options    *JobOptions     `json:"options,omitempty"`
	QueuedAt   time.Time       `json:"queued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// JobOptions are the execution limits of a job.
type JobOptions struct {
	Priority     int           `json:"priority"`
	Timeout      time.Duration `json:"timeout"`
	MaxExecCount int           `json:"max_exec_count"`
}

// KonnectorSlug returns the konnector the job runs.
func (j *Job) KonnectorSlug() string {
	if j == nil || j.Message == nil {
		return ""
	}
	return j.Message.Konnector
}

// IsKonnectorJob reports whether the job runs a konnector.
func (j *Job) IsKonnectorJob() bool {
	return j != nil && j.Worker == WorkerKonnector
}

// MarkRunning moves the job to running.
func (j *Job) MarkRunning(now time.Time) {
	j.State = JobRunning
	j.StartedAt = &now
}

// Finish moves the job to a terminal state.
func (j *Job) Finish(now time.Time, errMsg string) {
	j.FinishedAt = &now
	if errMsg != "" {
		j.State = JobErrored
		j.Error = errMsg
		return
	}
	j.State = JobDone
	j.Error = ""
}

// JobRequest asks the job API to queue a konnector execution.
type JobRequest struct {
	Konnector    string
	Account      string
	FolderToSave string
	TriggerID    string
	Priority     int
	Timeout      time.Duration
	MaxExecCount int
}

// ResultState is the outcome recorded for a konnector.
type ResultState string

const (
	ResultConnected ResultState = "connected"
	ResultErrored   ResultState = "errored"
)

// KonnectorResult is the latest execution outcome of a konnector.
// Its id is the konnector slug.
type KonnectorResult struct {
	DocMeta

	State         ResultState `json:"state"`
	Error         string      `json:"error,omitempty"`
	Account       string      `json:"account,omitempty"`
	LastExecution *time.Time  `json:"last_execution,omitempty"`
	LastSuccess   *time.Time  `json:"last_success,omitempty"`
}

// Slug returns the konnector slug the result belongs to.
func (r *KonnectorResult) Slug() string {
	return r.ID
}
