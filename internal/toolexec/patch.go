package toolexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/sandbox/process"
)

// ApplyPatch applies a unified-diff patch under cwd using the system
// `patch` binary, writing the diff to a temp file first rather than
// piping it through a shell string (the teacher's ApplyPatchTool
// interpolates the patch into an `echo '...' | patch` shell command,
// which is unsafe against a patch body containing single quotes; this
// version avoids the shell entirely).
//
// Grounded on the teacher's internal/infrastructure/tool/advanced_tools.go
// ApplyPatchTool, generalized to run under the same process.Policy as any
// other sandboxed exec rather than via ProcessSandbox.ExecuteShell.
func ApplyPatch(ctx context.Context, patch, cwd string, policy process.Policy, logger *zap.Logger) (output string, success bool, err error) {
	if patch == "" {
		return "patch is required", false, nil
	}

	tmpDir, err := os.MkdirTemp("", "codexcore-patch-*")
	if err != nil {
		return "", false, fmt.Errorf("toolexec: create patch temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	patchFile := filepath.Join(tmpDir, "patch.diff")
	if err := os.WriteFile(patchFile, []byte(patch), 0o600); err != nil {
		return "", false, fmt.Errorf("toolexec: write patch file: %w", err)
	}

	req := process.Request{
		Command: []string{"patch", "-p1", "--no-backup-if-mismatch", "-i", patchFile},
		Cwd:     cwd,
		Env:     process.BuildEnv(tmpDir, policy.Network),
		Timeout: 30 * time.Second,
		Policy:  policy,
	}

	result, runErr := process.Run(ctx, req, logger)
	if result == nil {
		return "", false, fmt.Errorf("toolexec: apply_patch: %w", runErr)
	}
	if runErr != nil || result.ExitCode != 0 {
		return result.Stdout + result.Stderr, false, nil
	}
	return result.Stdout, true, nil
}
