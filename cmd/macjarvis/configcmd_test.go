package main

import (
	"path/filepath"
	"testing"

	"github.com/gupsammy/MacJarvis/internal/config"
)

func TestInitConfigWritesDefaultsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "macjarvis.yaml")
	oldFile, oldForce := cfgFile, forceInit
	cfgFile, forceInit = path, false
	t.Cleanup(func() { cfgFile, forceInit = oldFile, oldForce })

	if err := initConfig(); err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FrameIntervalMs != config.Default().FrameIntervalMs {
		t.Errorf("FrameIntervalMs = %d", cfg.FrameIntervalMs)
	}

	if err := initConfig(); err == nil {
		t.Fatal("second initConfig without --force should fail")
	}
	forceInit = true
	if err := initConfig(); err != nil {
		t.Fatalf("initConfig --force: %v", err)
	}
}
