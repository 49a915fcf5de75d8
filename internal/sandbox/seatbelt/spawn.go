package seatbelt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// SandboxEnvVar is set on every Seatbelt-spawned child so nested tooling
// can detect it is already running inside a sandbox.
const SandboxEnvVar = "CODEXCORE_SANDBOX"

// SpawnRequest bundles everything needed to build and run a Seatbelt
// command, adapted from the teacher's sandbox.Config+Execute split.
type SpawnRequest struct {
	Command           []string
	Cwd               string
	Filesystem        FilesystemPolicy
	NetworkPolicyText string
	Env               []string
	Timeout           time.Duration
}

// Result mirrors the teacher's sandbox.Result.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Killed   bool
}

// Run builds the Seatbelt argument list for req and executes it via
// /usr/bin/sandbox-exec, same timeout/process-group/output-capture shape
// as the teacher's ProcessSandbox.Execute.
func Run(ctx context.Context, req SpawnRequest, logger *zap.Logger) (*Result, error) {
	args := BuildArgs(req.Command, req.Filesystem, req.NetworkPolicyText, nil)

	start := time.Now()
	execCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, PathToSandboxExec, args...)
	cmd.Dir = req.Cwd
	cmd.Env = append(req.Env, SandboxEnvVar+"=seatbelt")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if logger != nil {
		logger.Info("spawning seatbelt command", zap.Strings("command", req.Command), zap.String("cwd", req.Cwd))
	}

	err := cmd.Run()
	result := &Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}

	if execCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.ExitCode = -1
		return result, fmt.Errorf("sandboxed command timed out after %v", req.Timeout)
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("seatbelt exec failed: %w", err)
	}
	return result, nil
}
