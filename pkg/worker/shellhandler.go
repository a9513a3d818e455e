package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"forgequeue/pkg/job"
	"forgequeue/pkg/logstore"
	"forgequeue/pkg/runner"
)

// ShellCommand is the JSON shape a producer's Payload must decode into
// for ShellHandler to run it: a command plus its arguments, matching
// the teacher's JobCommand string but split for exec.CommandContext.
type ShellCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// ShellHandlerConfig configures ShellHandler.
type ShellHandlerConfig struct {
	Runner  runner.Runner     // defaults to runner.NewShellRunner()
	Logs    logstore.LogStore // optional; nil disables log capture
	Codec   job.Codec         // defaults to job.JSONCodec{}
	Timeout time.Duration     // defaults to 5 minutes, matching the teacher's executor
	Log     *zap.Logger
}

// ShellHandler decodes a Record's payload into a ShellCommand, runs it
// through a Runner, archives captured output via an optional LogStore,
// and maps the exit code to a job.Result.
func ShellHandler(cfg ShellHandlerConfig) Handler {
	r := cfg.Runner
	if r == nil {
		r = runner.NewShellRunner()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = job.JSONCodec{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	return func(ctx context.Context, rec job.Record) job.Result {
		var cmd ShellCommand
		if err := codec.Decode(rec.Payload, &cmd); err != nil {
			return job.Aborted(job.CodecError(err))
		}
		if cmd.Command == "" {
			return job.Aborted(job.NewError(job.KindHandlerAborted, fmt.Errorf("empty command")))
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result := r.Run(runCtx, cmd.Command, cmd.Args)

		if cfg.Logs != nil {
			combined := append([]byte(result.Stdout), []byte(result.Stderr)...)
			if _, err := cfg.Logs.Store(ctx, rec.ID, combined); err != nil {
				log.Warn("shell handler: failed to archive logs", zap.String("job_id", rec.ID), zap.Error(err))
			}
		}

		if result.Error != nil {
			return job.Failed(job.NewError(job.KindHandlerFailed, result.Error))
		}
		if result.ExitCode != 0 {
			return job.Failed(job.NewError(job.KindHandlerFailed,
				fmt.Errorf("command exited %d: %s", result.ExitCode, result.Stderr)))
		}
		return job.Ok()
	}
}
