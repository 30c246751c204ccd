package connections

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

func trigger(id, slug, account string) *domain.Trigger {
	t := &domain.Trigger{
		TriggerType: domain.TriggerTypeCron,
		WorkerType:  domain.WorkerKonnector,
		Message:     &domain.TriggerMessage{Konnector: slug, Account: account},
	}
	t.ID = id
	return t
}

func triggerWithState(id, slug, account string, status domain.JobState, lastErr string) *domain.Trigger {
	t := trigger(id, slug, account)
	t.CurrentState = &domain.TriggerState{Status: status, LastError: lastErr}
	return t
}

func job(triggerID, slug string, state domain.JobState, errMsg string) *domain.Job {
	j := &domain.Job{
		Worker:    domain.WorkerKonnector,
		State:     state,
		Error:     errMsg,
		TriggerID: triggerID,
		Message:   &domain.TriggerMessage{Konnector: slug},
	}
	j.ID = "job-" + triggerID
	return j
}

func mustReduce(t *testing.T, s State, a Action) State {
	t.Helper()
	next, err := Reduce(s, a)
	if err != nil {
		t.Fatalf("Reduce(%s) error = %v", a.Type, err)
	}
	return next
}

func TestReduce_MalformedTrigger(t *testing.T) {
	malformed := map[string]*domain.Trigger{
		"nil trigger":     nil,
		"missing id":      trigger("", "fake-bank", "acc-1"),
		"missing slug":    trigger("trg-1", "", "acc-1"),
		"missing account": trigger("trg-1", "fake-bank", ""),
		"missing message": {DocMeta: domain.DocMeta{ID: "trg-1"}},
	}
	types := []ActionType{
		ActionCreateConnection,
		ActionConnectionDeleted,
		ActionDeleteConnection,
		ActionEnqueueConnection,
		ActionLaunchTrigger,
		ActionUpdateRunningStatus,
		ActionUpdateError,
	}

	for name, trg := range malformed {
		for _, typ := range types {
			t.Run(name+"/"+string(typ), func(t *testing.T) {
				s := State{}
				next, err := Reduce(s, Action{Type: typ, Trigger: trg})
				if !errors.Is(err, domain.ErrMalformedAction) {
					t.Fatalf("expected ErrMalformedAction, got %v", err)
				}
				if len(next) != 0 {
					t.Errorf("state changed on malformed action: %v", next)
				}
			})
		}
	}
}

func TestReduce_ReceiveDoneTrigger(t *testing.T) {
	s := mustReduce(t, nil, ReceiveData(triggerWithState("trg-1", "fake-bank", "acc-1", domain.JobDone, "")))

	ts := s["fake-bank"].Triggers["trg-1"]
	if !ts.IsConnected {
		t.Error("expected isConnected")
	}
	if ts.HasError {
		t.Error("expected no error")
	}
	if ts.IsRunning {
		t.Error("expected not running")
	}
	if ts.Account != "acc-1" {
		t.Errorf("expected account acc-1, got %q", ts.Account)
	}
}

func TestReduce_ErroredJobOverridesConnected(t *testing.T) {
	s := mustReduce(t, nil, ReceiveData(triggerWithState("trg-1", "fake-bank", "acc-1", domain.JobDone, "")))
	s = mustReduce(t, s, ReceiveNewDocument(job("trg-1", "fake-bank", domain.JobErrored, "X")))

	ts := s["fake-bank"].Triggers["trg-1"]
	if !ts.HasError {
		t.Error("expected hasError")
	}
	if ts.IsConnected {
		t.Error("expected isConnected to be false")
	}
	if ts.Error != "X" {
		t.Errorf("expected error X, got %q", ts.Error)
	}
	if ts.Account != "acc-1" {
		t.Errorf("job must keep trigger account, got %q", ts.Account)
	}
}

func TestReduce_RunningStatuses(t *testing.T) {
	for _, state := range []domain.JobState{domain.JobQueued, domain.JobRunning} {
		s := mustReduce(t, nil, ReceiveData(job("trg-1", "fake-bank", state, "")))
		if !s["fake-bank"].Triggers["trg-1"].IsRunning {
			t.Errorf("%s job should be running", state)
		}
	}
}

func TestReduce_SkipsIrrelevantDocuments(t *testing.T) {
	noStatus := trigger("trg-1", "fake-bank", "acc-1")
	serviceJob := job("trg-2", "fake-bank", domain.JobDone, "")
	serviceJob.Worker = "service"
	orphanJob := job("", "fake-bank", domain.JobDone, "")

	s := State{}
	next := mustReduce(t, s, ReceiveData(noStatus, serviceJob, orphanJob, "not a document", nil))
	if len(next) != 0 {
		t.Errorf("expected no state, got %v", next)
	}

	empty := mustReduce(t, s, ReceiveData())
	if len(empty) != 0 {
		t.Errorf("expected empty batch to be a no-op")
	}
}

func TestReduce_RawDocuments(t *testing.T) {
	body, _ := json.Marshal(map[string]any{
		"type":      "@cron",
		"arguments": "0 0 0 * * 1",
		"worker":    "konnector",
		"message":   map[string]string{"konnector": "fake-bank", "account": "acc-1"},
		"current_state": map[string]any{
			"status":     "errored",
			"last_error": "LOGIN_FAILED",
		},
	})
	doc := &domain.Document{ID: "trg-1", Rev: "1-a", Doctype: domain.DoctypeTriggers, Body: body}
	accountDoc := &domain.Document{ID: "acc-1", Doctype: domain.DoctypeAccounts, Body: []byte(`{}`)}

	s := mustReduce(t, nil, ReceiveNewDocument(doc, accountDoc))

	ts := s["fake-bank"].Triggers["trg-1"]
	if !ts.HasError || ts.Error != "LOGIN_FAILED" {
		t.Errorf("unexpected trigger state %+v", ts)
	}
}

func TestReduce_EnqueueThenPurge(t *testing.T) {
	t1 := trigger("trg-1", "fake-bank", "acc-1")
	t2 := trigger("trg-2", "other-bank", "acc-2")

	s := mustReduce(t, nil, EnqueueConnection(t1))
	s = mustReduce(t, s, EnqueueConnection(t2))

	for _, trg := range []*domain.Trigger{t1, t2} {
		if !IsConnectionEnqueued(s, trg) {
			t.Errorf("%s should be enqueued", trg.ID)
		}
	}

	purged := mustReduce(t, s, PurgeQueue())
	for _, trg := range []*domain.Trigger{t1, t2} {
		if IsConnectionEnqueued(purged, trg) {
			t.Errorf("%s should not be enqueued after purge", trg.ID)
		}
	}
	if !IsConnectionEnqueued(s, t1) {
		t.Error("purge must not modify the previous state")
	}
}

func TestReduce_DeleteLifecycle(t *testing.T) {
	trg := trigger("trg-1", "fake-bank", "acc-1")
	s := mustReduce(t, nil, ReceiveData(triggerWithState("trg-1", "fake-bank", "acc-1", domain.JobDone, "")))

	s = mustReduce(t, s, DeleteConnection(trg))
	if !IsConnectionDeleting(s, trg) {
		t.Fatal("expected isDeleting")
	}
	if got := ConnectionStatus(s, "fake-bank", []string{"acc-1"}); got != domain.StatusDeleting {
		t.Errorf("expected deleting status, got %q", got)
	}

	s = mustReduce(t, s, ConnectionDeleted(trg))
	if _, ok := s["fake-bank"].Triggers["trg-1"]; ok {
		t.Error("trigger should be removed")
	}
}

func TestReduce_LaunchAndRunningStatus(t *testing.T) {
	trg := trigger("trg-1", "fake-bank", "acc-1")

	s := mustReduce(t, nil, LaunchTrigger(trg))
	if !IsConnectionRunning(s, trg) {
		t.Fatal("launch should mark running")
	}
	if TriggerAccount(s, trg) != "acc-1" {
		t.Error("launch should record account")
	}

	s = mustReduce(t, s, UpdateRunningStatus(trg, false))
	if IsConnectionRunning(s, trg) {
		t.Error("expected not running")
	}
}

func TestReduce_CreateAndError(t *testing.T) {
	trg := trigger("trg-1", "fake-bank", "acc-1")

	s := mustReduce(t, nil, CreateConnection(trg, "folder-1"))
	if got := s["fake-bank"].Triggers["trg-1"].Account; got != "acc-1" {
		t.Errorf("expected account acc-1, got %q", got)
	}

	s = mustReduce(t, s, UpdateError(trg, errors.New("LOGIN_FAILED")))
	if ConnectionError(s, trg) != "LOGIN_FAILED" {
		t.Errorf("unexpected error %q", ConnectionError(s, trg))
	}
	if got := ConnectionStatus(s, "fake-bank", []string{"acc-1"}); got != domain.StatusErrored {
		t.Errorf("expected errored, got %q", got)
	}
}

func TestReduce_UnknownActionIsNoop(t *testing.T) {
	s := State{"fake-bank": {Triggers: map[string]TriggerState{"trg-1": {Account: "acc-1"}}}}
	next := mustReduce(t, s, Action{Type: "SOMETHING_ELSE"})
	if len(next) != 1 {
		t.Error("unknown action changed state")
	}
}

func TestReduce_LastExecutionFromJob(t *testing.T) {
	started := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	j := job("trg-1", "fake-bank", domain.JobRunning, "")
	j.StartedAt = &started

	s := mustReduce(t, nil, ReceiveData(j))
	got := TriggerLastExecution(s, trigger("trg-1", "fake-bank", "acc-1"))
	if got == nil || !got.Equal(started) {
		t.Errorf("expected last execution %v, got %v", started, got)
	}
}
