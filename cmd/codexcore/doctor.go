package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ngoclaw/codexcore/internal/appwiring"
)

// doctorCmd mirrors the teacher's "doctor" environment-diagnostic
// subcommand, generalized from Go-toolchain/Python-env checks to this
// module's own runtime dependencies: CODEX_HOME, the sandbox-exec
// binary on macOS, and whether any config.toml has been written yet.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "check the local environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("codexcore doctor v%s\n\n", cliVersion)

			checks := []struct {
				name  string
				check func() (string, bool)
			}{
				{"CODEX_HOME", checkCodexHome},
				{"config.toml", checkConfigFile},
				{"sandbox backend", checkSandboxBackend},
			}

			allOK := true
			for _, c := range checks {
				val, ok := c.check()
				icon := "[ok]"
				if !ok {
					icon = "[!!]"
					allOK = false
				}
				fmt.Printf("  %s %-16s %s\n", icon, c.name, val)
			}

			fmt.Println()
			if !allOK {
				return fmt.Errorf("one or more checks failed")
			}
			fmt.Println("all checks passed")
			return nil
		},
	}
}

func checkCodexHome() (string, bool) {
	home := appwiring.ResolveCodexHome()
	if _, err := os.Stat(home); err == nil {
		return home, true
	}
	return home + " (not yet created)", true
}

func checkConfigFile() (string, bool) {
	path := appwiring.ResolveCodexHome() + "/config.toml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return path + " (using defaults)", true
}

func checkSandboxBackend() (string, bool) {
	switch runtime.GOOS {
	case "darwin":
		if _, err := os.Stat("/usr/bin/sandbox-exec"); err == nil {
			return "seatbelt (/usr/bin/sandbox-exec)", true
		}
		return "sandbox-exec not found", false
	case "windows":
		return "windows sandbox user helper", true
	default:
		return "process-group fallback", true
	}
}
