package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/gupsammy/MacJarvis/internal/capture"
	"github.com/gupsammy/MacJarvis/internal/config"
	"github.com/gupsammy/MacJarvis/internal/console"
	"github.com/gupsammy/MacJarvis/internal/credentials"
	"github.com/gupsammy/MacJarvis/internal/health"
	"github.com/gupsammy/MacJarvis/internal/liveapi"
	"github.com/gupsammy/MacJarvis/internal/logging"
	"github.com/gupsammy/MacJarvis/internal/sampler"
	"github.com/gupsammy/MacJarvis/internal/secmem"
	"github.com/gupsammy/MacJarvis/internal/session"
)

var autoConnect bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a live session in the terminal console",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession()
	},
}

func init() {
	runCmd.Flags().BoolVar(&autoConnect, "connect", false, "connect as soon as the console starts")
}

func runSession() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Prompt before the console takes over the terminal
	key, err := resolveAPIKey(ctx, credentialStore(cfg))
	if err != nil {
		return err
	}
	defer key.Zero()

	logFile, err := initFileLogging(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	host := health.CollectHost()
	log.Info("starting MacJarvis",
		"version", version,
		"os", host.OSType,
		"osVersion", host.OSVersion,
		"arch", host.Architecture,
		"model", cfg.Model,
		"captureDrivers", captureDriversCompiled,
	)

	client := liveapi.New(liveapi.ConfigFrom(cfg), key)
	sources := session.NewSources(capture.NewMediaDriver(), capture.VideoConstraints{
		Width:  cfg.CameraWidth,
		Height: cfg.CameraHeight,
	})
	mon := health.NewMonitor()
	coord := session.New(client, sources, sessionConfig(cfg, mon))

	ui := console.New(coord, client, mon)
	logging.InitForwarder(logging.ForwarderConfig{Sink: ui.ShowLog, MinLevel: "warn"})
	defer logging.StopForwarder()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return ui.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		coord.Close()
		return nil
	})
	if autoConnect {
		g.Go(func() error {
			if err := coord.Connect(gctx); err != nil {
				log.Warn("auto-connect failed", logging.KeyError, err.Error())
			}
			return nil
		})
	}

	err = g.Wait()
	m := coord.Metrics()
	log.Info("shutdown complete", "framesSent", m.FramesSent, "audioChunks", m.AudioChunks)
	return err
}

func sessionConfig(cfg *config.Config, mon *health.Monitor) session.Config {
	return session.Config{
		Video: sampler.VideoConfig{
			Interval:    time.Duration(cfg.FrameIntervalMs) * time.Millisecond,
			ScaleFactor: cfg.FrameScale,
			Quality:     cfg.JPEGQuality,
		},
		Audio: sampler.AudioConfig{
			ChunkSamples: cfg.AudioChunkSamples,
			VolumeWindow: cfg.VolumeWindowMs * 16, // samples per ms at 16 kHz
		},
		Health: mon,
	}
}

// resolveAPIKey returns the configured key, asking for one on first run when
// attached to a terminal.
func resolveAPIKey(ctx context.Context, store *credentials.FileStore) (*secmem.SecureString, error) {
	key, err := store.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	if !key.IsEmpty() {
		return key, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("no API key configured; run 'macjarvis key set' or set %s", credentials.EnvAPIKey)
	}
	fmt.Println("No Gemini API key found. Get one at https://aistudio.google.com/apikey")
	entered, err := readSecret("API key: ")
	if err != nil {
		return nil, err
	}
	if err := store.SetAPIKey(ctx, entered); err != nil {
		return nil, err
	}
	fmt.Printf("Saved to %s\n", store.Path())
	return secmem.NewSecureString(entered), nil
}
