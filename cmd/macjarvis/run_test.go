package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gupsammy/MacJarvis/internal/config"
	"github.com/gupsammy/MacJarvis/internal/credentials"
	"github.com/gupsammy/MacJarvis/internal/health"
)

func TestSessionConfigFromDefaults(t *testing.T) {
	cfg := config.Default()
	mon := health.NewMonitor()
	sc := sessionConfig(cfg, mon)

	if sc.Video.Interval != 500*time.Millisecond {
		t.Errorf("Interval = %v", sc.Video.Interval)
	}
	if sc.Video.ScaleFactor != 0.25 || sc.Video.Quality != 100 {
		t.Errorf("video = %+v", sc.Video)
	}
	if sc.Audio.ChunkSamples != 2048 || sc.Audio.VolumeWindow != 400 {
		t.Errorf("audio = %+v", sc.Audio)
	}
	if sc.Health != mon {
		t.Error("health monitor not passed through")
	}
}

func TestResolveAPIKeyUsesStoredKey(t *testing.T) {
	t.Setenv(credentials.EnvAPIKey, "")
	store := credentials.NewFileStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	if err := store.SetAPIKey(context.Background(), "stored-key"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}

	key, err := resolveAPIKey(context.Background(), store)
	if err != nil {
		t.Fatalf("resolveAPIKey: %v", err)
	}
	if key.Reveal() != "stored-key" {
		t.Fatalf("key = %q", key.Reveal())
	}
}
