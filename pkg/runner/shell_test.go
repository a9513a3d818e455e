package runner_test

import (
	"context"
	"testing"
	"time"

	"forgequeue/pkg/runner"
)

func TestShellRunnerCapturesOutput(t *testing.T) {
	r := runner.NewShellRunner()
	result := r.Run(context.Background(), "sh", []string{"-c", "echo out; echo err 1>&2"})

	if result.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d: %+v", result.ExitCode, result)
	}
	if result.Stdout != "out\n" {
		t.Fatalf("got stdout %q", result.Stdout)
	}
	if result.Stderr != "err\n" {
		t.Fatalf("got stderr %q", result.Stderr)
	}
}

func TestShellRunnerReportsNonZeroExit(t *testing.T) {
	r := runner.NewShellRunner()
	result := r.Run(context.Background(), "sh", []string{"-c", "exit 7"})

	if result.ExitCode != 7 {
		t.Fatalf("got exit code %d, want 7", result.ExitCode)
	}
}

func TestShellRunnerRespectsContextTimeout(t *testing.T) {
	r := runner.NewShellRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := r.Run(ctx, "sh", []string{"-c", "sleep 5"})
	if result.ExitCode == 0 {
		t.Fatalf("expected non-zero exit code after timeout, got %+v", result)
	}
}
