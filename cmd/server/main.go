package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"office-messenger/dispatcher"
	"office-messenger/domain"
	"office-messenger/envelope"
	"office-messenger/fanout"
	"office-messenger/internal"
	"office-messenger/runtime"
	"office-messenger/runtime/workers"
	"office-messenger/server"
	"office-messenger/storage"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// The pattern keeps deferred cleanup (database handles) running on every exit path.
func run() (int, error) {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// 1. Configuration & Logger
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	// 2. Storage (per-channel message logs + shared channel directory)
	store, err := storage.NewMessageStore(config.MessageDir, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("message store: %w", err)
	}
	defer func() {
		logger.Info("Closing message logs...")
		_ = store.Close()
	}()

	// Sticky logs exist for the lifetime of the server, so the watcher has
	// their artifacts from the start.
	for _, channel := range domain.StickyChannels() {
		if err := store.CreateOrOpen(channel); err != nil {
			return exitRuntime, fmt.Errorf("provision channel log %s: %w", channel, err)
		}
	}

	directory, err := storage.NewDirectory(config.DirectoryDir, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("channel directory: %w", err)
	}
	defer func() {
		logger.Info("Closing channel directory...")
		_ = directory.Close()
	}()

	// 3. Core collaborators
	codec := envelope.NewCodec(config.RobotName, envelope.LocalIP())
	registry := runtime.NewRegistry(logger)
	engine := fanout.NewEngine(logger, registry, directory, codec)
	disp := dispatcher.New(logger, registry, store, directory, codec, config.LatestCount)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Supervision: endpoint, change-notification bus, liveness, telemetry
	sup := workers.NewSupervisor(logger)
	sup.Add(
		server.New(logger, config.ListenAddr(), registry, disp, codec),
		workers.NewWatcherWorker(logger, config.MessageDir, store, engine),
		workers.NewLivenessWorker(logger, registry, config.LivenessInterval),
		workers.NewTelemetryWorker(logger, registry, config.TelemetryInterval),
	)

	logger.Info("Starting supervisor and all workers", "addr", config.ListenAddr())
	sup.Run(ctx)

	logger.Info("Program stopped cleanly")
	return exitOK, nil
}
