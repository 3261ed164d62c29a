package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dudu/inpaintd/internal/artifact"
	"github.com/dudu/inpaintd/internal/config"
	"github.com/dudu/inpaintd/internal/inference"
	"github.com/dudu/inpaintd/internal/orchestrator"
	"github.com/dudu/inpaintd/internal/pipeline"
	"github.com/dudu/inpaintd/internal/server"
	"github.com/dudu/inpaintd/internal/session"
)

const version = "0.1.0"

func main() {
	root := newRootCmd()

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inpaintd",
		Short: "Landmark-guided face inpainting service",
		Long: `inpaintd serves a pretrained face inpainting model over HTTP.

Clients upload a photograph and a painted mask; the service locates facial
landmarks, synthesizes content inside the masked region and returns
download URLs for the result and a landmark visualization.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(newServeCmd())

	return cmd
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inpainting HTTP server",
		Example: `  # Start with built-in defaults
  inpaintd serve

  # Start with a config file
  inpaintd serve --config inpaintd.yml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	return cmd
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := inference.Initialize(cfg.OrtLibraryPath); err != nil {
		return err
	}
	defer func() {
		if err := inference.Shutdown(); err != nil {
			slog.Error("failed to shut down ONNX Runtime", "err", err)
		}
	}()

	slog.Info("loading models", "landmark", cfg.LandmarkModelPath,
		"inpaint", cfg.InpaintModelPath, "device", cfg.Device)
	orch, err := orchestrator.New(orchestrator.Config{
		LandmarkModelPath: cfg.LandmarkModelPath,
		InpaintModelPath:  cfg.InpaintModelPath,
		InputSize:         256,
		Device:            inference.Device(cfg.Device),
		Timeout:           cfg.InferenceTimeout,
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	sessions, err := session.NewManager(cfg.DataDir, cfg.Retention)
	if err != nil {
		return err
	}
	defer sessions.Shutdown()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Sweep(sweepCtx, cfg.SweepInterval)

	pl := pipeline.New(sessions, artifact.NewStore(), orch, cfg.Workers)
	e := server.Build(pl, cfg.MaxUploadSize, cfg.LogLevel)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("inpaintd listening", "addr", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "err", err)
			return err
		}
		slog.Info("server stopped")
		return nil
	case err := <-serverErr:
		return err
	}
}
