// Package process is the cross-platform entry point tool execution routes
// through: it resolves a FilesystemPolicy + network decision into an
// actual child process, dispatching to the macOS seatbelt wrapper where
// available and falling back to plain process-group isolation elsewhere
// (matching the degraded-but-functional Linux/other behavior the teacher's
// ProcessSandbox already implements). Adapted directly from the teacher's
// internal/infrastructure/sandbox/process_sandbox.go: same Config/Result
// shape, env-building, and timeout/process-group handling, generalized
// from a fixed AllowedBins allowlist to the read/write root + network
// policy this module's sandbox components compute.
package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/netproxy"
	"github.com/ngoclaw/codexcore/internal/sandbox/seatbelt"
)

// Policy is the resolved filesystem + network surface a command may use,
// independent of which OS backend ends up enforcing it.
type Policy struct {
	Filesystem seatbelt.FilesystemPolicy
	Network    netproxy.DynamicNetworkDecision
}

// Request is one sandboxed command invocation.
type Request struct {
	Command []string
	Cwd     string
	Env     []string
	Timeout time.Duration
	Policy  Policy
}

// Result mirrors seatbelt.Result/the teacher's sandbox.Result so callers in
// internal/toolexec don't need to branch on which backend ran.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Killed   bool
	Backend  string // "seatbelt", "process-group", "windows-user"
}

// Run enforces req.Policy using the best backend available for
// runtime.GOOS and executes req.Command under it.
func Run(ctx context.Context, req Request, logger *zap.Logger) (*Result, error) {
	switch runtime.GOOS {
	case "darwin":
		return runSeatbelt(ctx, req, logger)
	case "windows":
		return runWindows(ctx, req, logger)
	default:
		return runPlain(ctx, req, logger)
	}
}

func runSeatbelt(ctx context.Context, req Request, logger *zap.Logger) (*Result, error) {
	policyText := seatbelt.NetworkPolicyText(req.Policy.Network)
	sr, err := seatbelt.Run(ctx, seatbelt.SpawnRequest{
		Command:           req.Command,
		Cwd:               req.Cwd,
		Filesystem:        req.Policy.Filesystem,
		NetworkPolicyText: policyText,
		Env:               req.Env,
		Timeout:           req.Timeout,
	}, logger)
	if sr == nil {
		return nil, err
	}
	return &Result{
		Stdout: sr.Stdout, Stderr: sr.Stderr, ExitCode: sr.ExitCode,
		Duration: sr.Duration, Killed: sr.Killed, Backend: "seatbelt",
	}, err
}

// runWindows executes the command directly: the account-level isolation
// provided by internal/sandbox/winsetup's provisioned low-privilege users
// is applied at process-launch time by the caller (it selects which
// sandbox user's token to run under), not by this package, since that
// requires the already-elevated one-time setup flow to have completed.
func runWindows(ctx context.Context, req Request, logger *zap.Logger) (*Result, error) {
	r, err := runCommand(ctx, req, logger)
	if r != nil {
		r.Backend = "windows-user"
	}
	return r, err
}

// runPlain is the fallback used on Linux and other Unix platforms: process
// group isolation plus timeout, same as the teacher's ProcessSandbox.Execute.
func runPlain(ctx context.Context, req Request, logger *zap.Logger) (*Result, error) {
	r, err := runCommand(ctx, req, logger)
	if r != nil {
		r.Backend = "process-group"
	}
	return r, err
}

func runCommand(ctx context.Context, req Request, logger *zap.Logger) (*Result, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("process: empty command")
	}

	start := time.Now()
	execCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	bin, err := exec.LookPath(req.Command[0])
	if err != nil {
		return nil, fmt.Errorf("command not found: %s", req.Command[0])
	}

	cmd := exec.CommandContext(execCtx, bin, req.Command[1:]...)
	cmd.Dir = req.Cwd
	cmd.Env = req.Env
	applyPlatformAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if logger != nil {
		logger.Info("running sandboxed command", zap.Strings("command", req.Command), zap.String("cwd", req.Cwd))
	}

	runErr := cmd.Run()
	result := &Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}

	if execCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.ExitCode = -1
		return result, fmt.Errorf("sandboxed command timed out after %v", req.Timeout)
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("execution failed: %w", runErr)
	}
	return result, nil
}

// BuildEnv assembles a minimal, predictable environment: inherited PATH,
// the real user's HOME (sandboxing here is process-group/filesystem-root
// isolation, not a full chroot, so tools still need ~/.ssh etc. the way
// the teacher's buildEnvironment documents), and proxy vars only when the
// network policy actually grants outbound access.
func BuildEnv(tempDir string, network netproxy.DynamicNetworkDecision) []string {
	sysPath := os.Getenv("PATH")
	if sysPath == "" {
		sysPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	home, _ := os.UserHomeDir()

	env := []string{
		"PATH=" + sysPath,
		"HOME=" + home,
		"TMPDIR=" + tempDir,
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
	}

	if len(network.LocalhostPorts) > 0 || network.FullOutbound {
		if v := os.Getenv("HTTP_PROXY"); v != "" {
			env = append(env, "HTTP_PROXY="+v)
		}
		if v := os.Getenv("HTTPS_PROXY"); v != "" {
			env = append(env, "HTTPS_PROXY="+v)
		}
	}
	return env
}

// EnsureTempDir mirrors the teacher's Cleanup/TempDir handling: creates the
// scratch directory used for ExecuteScript-style temp files.
func EnsureTempDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// ScriptTempFile writes script under dir and returns its path, the same
// pattern as the teacher's ExecuteScript.
func ScriptTempFile(dir, script string) (string, error) {
	f, err := os.CreateTemp(dir, "script-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp script: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(script); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write script: %w", err)
	}
	return f.Name(), nil
}

