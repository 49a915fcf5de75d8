// Command codexcore is the terminal entry point: a cobra CLI whose
// default action runs one turn against the configured model and prints
// the assistant's reply, plus doctor/config/serve subcommands. Terminal
// UI rendering is out of this module's scope (spec §1 Non-goals), so the
// default command is a single-shot request/response rather than an
// interactive REPL -- the engine underneath is the same one the app
// server drives.
//
// Grounded on the teacher's internal/interfaces/cli/app.go command table
// (doctor/serve/version), generalized from the teacher's Telegram/gRPC
// gateway bootstrap to this module's layeredconfig/sandbox/llmclient
// composition root.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/appserver"
	"github.com/ngoclaw/codexcore/internal/appwiring"
	"github.com/ngoclaw/codexcore/internal/itemstore"
	"github.com/ngoclaw/codexcore/internal/obslog"
	"github.com/ngoclaw/codexcore/internal/turn"
)

const (
	cliName    = "codexcore"
	cliVersion = "0.1.0"
)

func main() {
	root := &cobra.Command{
		Use:   cliName + " [message]",
		Short: "codexcore — a sandboxed terminal coding agent engine",
		Args:  cobra.ArbitraryArgs,
		RunE:  runExec,
	}
	root.Flags().StringP("model", "m", "", "override the configured default model")
	root.Flags().StringP("workspace", "w", "", "workspace root (defaults to the current directory)")

	root.AddCommand(versionCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	logger, err := obslog.New(obslog.Config{Level: "warn", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// runExec runs one turn with the trailing positional args as the user
// message and prints the assistant's reply to stdout.
func runExec(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	logger := newLogger()
	defer logger.Sync()

	env, err := appwiring.Load("", logger)
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	workspace, _ := cmd.Flags().GetString("workspace")
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	model, _ := cmd.Flags().GetString("model")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-quit; cancel() }()

	history := itemstore.NewContextManager(logger, false)
	notifier := turn.NotifierFunc(func(e turn.TurnEvent) {
		switch e.Outcome {
		case turn.OutcomeTurnError:
			fmt.Fprintf(os.Stderr, "turn error: %v\n", e.Err)
		}
	})

	runner, err := env.NewTurnRunner(appwiring.TurnDeps{
		History:   history,
		Workspace: workspace,
		Model:     model,
		Notifier:  notifier,
	})
	if err != nil {
		return fmt.Errorf("build turn runner: %w", err)
	}

	userItem := itemstore.Item{
		Kind: itemstore.KindMessage,
		Role: itemstore.RoleUser,
		Content: []itemstore.ContentItem{itemstore.InputText(strings.Join(args, " "))},
	}
	if err := runner.Run(ctx, []itemstore.Item{userItem}); err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}

	fmt.Println(lastAssistantText(history.Snapshot()))
	return nil
}

func lastAssistantText(items []itemstore.Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.Kind != itemstore.KindMessage || it.Role != itemstore.RoleAssistant {
			continue
		}
		var text strings.Builder
		for _, c := range it.Content {
			if c.Kind == itemstore.ContentInputText || c.Kind == itemstore.ContentOutputText {
				text.WriteString(c.Text)
			}
		}
		return text.String()
	}
	return ""
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the stdio JSON-RPC app server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := obslog.New(obslog.Config{Level: "info", Format: "json", OutputPath: "stdout"})
			if err != nil {
				return err
			}
			defer logger.Sync()

			env, err := appwiring.Load("", logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			go func() { <-quit; cancel() }()

			conn := appserver.NewConn(os.Stdin, os.Stdout, logger)
			dispatcher := appserver.NewDispatcher(conn, logger)
			server := appwiring.NewServer(env)
			server.RegisterHandlers(dispatcher)
			server.RegisterPerConnection(dispatcher, logger)

			return dispatcher.Run(ctx)
		},
	}
}
