package domain

import (
	"testing"
	"time"
)

func TestJobState(t *testing.T) {
	tests := []struct {
		state    JobState
		terminal bool
		active   bool
	}{
		{JobQueued, false, true},
		{JobRunning, false, true},
		{JobDone, true, false},
		{JobErrored, true, false},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("%s terminal: expected %v, got %v", tt.state, tt.terminal, got)
		}
		if got := tt.state.IsActive(); got != tt.active {
			t.Errorf("%s active: expected %v, got %v", tt.state, tt.active, got)
		}
	}
}

func TestJobKonnector(t *testing.T) {
	var nilJob *Job
	if nilJob.KonnectorSlug() != "" || nilJob.IsKonnectorJob() {
		t.Error("nil job has no konnector")
	}

	j := &Job{Worker: WorkerKonnector, Message: &TriggerMessage{Konnector: "fakebank"}}
	if j.KonnectorSlug() != "fakebank" {
		t.Errorf("expected fakebank, got %q", j.KonnectorSlug())
	}
	if !j.IsKonnectorJob() {
		t.Error("expected konnector job")
	}
	if (&Job{Worker: "thumbnail"}).IsKonnectorJob() {
		t.Error("thumbnail job is not a konnector job")
	}
}

func TestJobLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	j := &Job{State: JobQueued}

	j.MarkRunning(now)
	if j.State != JobRunning || j.StartedAt == nil || !j.StartedAt.Equal(now) {
		t.Errorf("unexpected running job %+v", j)
	}

	j.Finish(now.Add(time.Minute), "LOGIN_FAILED")
	if j.State != JobErrored || j.Error != "LOGIN_FAILED" {
		t.Errorf("unexpected errored job %+v", j)
	}

	j.Finish(now.Add(2*time.Minute), "")
	if j.State != JobDone || j.Error != "" {
		t.Errorf("expected done with error cleared, got %+v", j)
	}
	if !j.FinishedAt.Equal(now.Add(2 * time.Minute)) {
		t.Errorf("unexpected finish time %s", j.FinishedAt)
	}
}

func TestPermissionSaveFolderID(t *testing.T) {
	var nilPerm *Permission
	if nilPerm.SaveFolderID() != "" {
		t.Error("nil permission grants nothing")
	}

	p := &Permission{Permissions: map[string]PermissionRule{
		PermissionSaveFolder: {Type: DoctypeFiles, Values: []string{"folder1"}},
	}}
	if got := p.SaveFolderID(); got != "folder1" {
		t.Errorf("expected folder1, got %q", got)
	}

	p.Permissions[PermissionSaveFolder] = PermissionRule{Type: DoctypeFiles}
	if got := p.SaveFolderID(); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
