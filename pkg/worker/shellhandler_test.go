package worker_test

import (
	"context"
	"encoding/json"
	"testing"

	"forgequeue/pkg/job"
	"forgequeue/pkg/worker"
)

func TestShellHandlerRunsSuccessfulCommand(t *testing.T) {
	payload, _ := json.Marshal(worker.ShellCommand{Command: "sh", Args: []string{"-c", "exit 0"}})
	h := worker.ShellHandler(worker.ShellHandlerConfig{})

	result := h(context.Background(), job.Record{ID: "a", Payload: payload})
	if result.Outcome != job.OutcomeOK {
		t.Fatalf("got %v, want OK: %v", result.Outcome, result.Err)
	}
}

func TestShellHandlerFailsOnNonZeroExit(t *testing.T) {
	payload, _ := json.Marshal(worker.ShellCommand{Command: "sh", Args: []string{"-c", "exit 7"}})
	h := worker.ShellHandler(worker.ShellHandlerConfig{})

	result := h(context.Background(), job.Record{ID: "a", Payload: payload})
	if result.Outcome != job.OutcomeFailed {
		t.Fatalf("got %v, want Failed", result.Outcome)
	}
}

func TestShellHandlerAbortsOnBadPayload(t *testing.T) {
	h := worker.ShellHandler(worker.ShellHandlerConfig{})

	result := h(context.Background(), job.Record{ID: "a", Payload: []byte("not json")})
	if result.Outcome != job.OutcomeAborted {
		t.Fatalf("got %v, want Aborted", result.Outcome)
	}
}

func TestShellHandlerAbortsOnEmptyCommand(t *testing.T) {
	payload, _ := json.Marshal(worker.ShellCommand{})
	h := worker.ShellHandler(worker.ShellHandlerConfig{})

	result := h(context.Background(), job.Record{ID: "a", Payload: payload})
	if result.Outcome != job.OutcomeAborted {
		t.Fatalf("got %v, want Aborted", result.Outcome)
	}
}
