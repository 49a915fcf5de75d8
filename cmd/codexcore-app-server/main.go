// Command codexcore-app-server runs the engine as a long-lived stdio
// JSON-RPC subprocess, the same role the teacher's cmd/gateway/main.go
// plays for the HTTP/Telegram/gRPC gateway: a thin main that builds the
// composition root and blocks on it until shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ngoclaw/codexcore/internal/appserver"
	"github.com/ngoclaw/codexcore/internal/appwiring"
	"github.com/ngoclaw/codexcore/internal/obslog"
)

const (
	appName    = "codexcore-app-server"
	appVersion = "0.1.0"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := obslog.New(obslog.Config{Level: "info", Format: "json", OutputPath: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: logger init: %v\n", appName, err)
		return 1
	}
	defer logger.Sync()

	logger.Info("starting", zap.String("name", appName), zap.String("version", appVersion))

	env, err := appwiring.Load("", logger)
	if err != nil {
		logger.Error("failed to load environment", zap.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	conn := appserver.NewConn(os.Stdin, os.Stdout, logger)
	dispatcher := appserver.NewDispatcher(conn, logger)

	server := appwiring.NewServer(env)
	server.RegisterHandlers(dispatcher)
	server.RegisterPerConnection(dispatcher, logger)

	if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("connection terminated", zap.Error(err))
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}
