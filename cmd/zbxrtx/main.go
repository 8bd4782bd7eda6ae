// Command zbxrtx tails a monitoring tool's NDJSON real-time export
// directory and fans the records out over HTTP as a live SSE stream, a
// JSON snapshot, or a demo page.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"zbxrtx/internal/config"
	"zbxrtx/internal/hub"
	"zbxrtx/internal/httpapi"
	"zbxrtx/internal/logging"
	"zbxrtx/internal/tailer"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // allow all levels; filtering done by ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "zbxrtx",
		Short: "Real-time fan-out of a monitoring tool's NDJSON export directory",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start tailing and serving events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return run(ctx, logger)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("config loaded",
		"dir", cfg.Dir, "port", cfg.Port, "rbCapacity", cfg.RingCapacity)

	ring := hub.NewRingBuffer(cfg.RingCapacity, nil)
	sseHub := hub.NewSseHub(hub.SseHubOptions{
		HeartbeatInterval: time.Duration(cfg.HeartbeatMS) * time.Millisecond,
		DropThreshold:     cfg.SSEDropThreshold,
		Logger:            logger,
	})

	dt := tailer.NewDirectory(cfg.Dir, tailer.DirectoryOptions{
		PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		MaxBackoff:   time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		Logger:       logger,
		OnEvent:      dispatchTailerEvent(logger, ring, sseHub),
	})

	if err := dt.Start(ctx); err != nil {
		return fmt.Errorf("start directory tailer: %w", err)
	}
	sseHub.HeartbeatStart(func() int64 { return time.Now().UnixMilli() })

	httpServer := httpapi.New(httpapi.Options{
		Ring:   ring,
		SseHub: sseHub,
		Logger: logger,
	})

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server exited with error", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	return shutdown(logger, httpServer, dt, sseHub)
}

// shutdown performs the ordering pinned in spec §4.5/§5: hub.close →
// DirectoryTailer.stop → HTTP close, protected by a 5s hard-kill timer.
func shutdown(logger *slog.Logger, httpServer *httpapi.Server, dt *tailer.DirectoryTailer, sseHub *hub.SseHub) error {
	done := make(chan struct{})
	go func() {
		sseHub.Close()
		dt.Stop()

		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := httpServer.Stop(stopCtx); err != nil {
			logger.Error("http server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(5 * time.Second):
		logger.Error("shutdown exceeded hard-kill timer, forcing exit")
		os.Exit(1)
		return nil // unreachable
	}
}

// dispatchTailerEvent wires DirectoryTailer's data events onto the ring and
// hub (spec §4.5): push assigns the id and timestamp, broadcast uses event =
// "zabbix." + family and id = envelope.id.
func dispatchTailerEvent(logger *slog.Logger, ring *hub.RingBuffer, sseHub *hub.SseHub) tailer.Sink {
	return func(e tailer.Event) {
		switch e.Kind {
		case tailer.EventData:
			env := ring.Push(hub.Envelope{
				Source: hub.Source{File: basename(e.Path), Family: e.Family},
				Record: e.Line,
			})
			sseHub.Broadcast(env)
		case tailer.EventWarn:
			logger.Warn(e.Msg, "path", e.Path, "error", e.Err)
		case tailer.EventInfo:
			logger.Info(e.Msg, "path", e.Path)
		case tailer.EventReady:
			logger.Info("file ready", "path", e.Path, "size", e.Size, "inode", e.Inode)
		}
	}
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
