package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gupsammy/MacJarvis/internal/capture"
	"github.com/gupsammy/MacJarvis/internal/config"
	"github.com/gupsammy/MacJarvis/internal/health"
	"github.com/gupsammy/MacJarvis/internal/httputil"
)

var doctorJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and credential status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkStatus()
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List screen sources and the one that would be shared",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSources()
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the host, capture drivers and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor()
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
}

func checkStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Println("Status: Not configured")
		return err
	}
	initStderrLogging(cfg)

	fmt.Printf("Config:    %s\n", configPath())
	fmt.Printf("Endpoint:  %s\n", httputil.RedactURL(cfg.APIURL))
	fmt.Printf("Model:     %s (%s responses)\n", cfg.Model, cfg.ResponseModality)
	fmt.Printf("Frames:    every %dms at %.0f%% scale\n", cfg.FrameIntervalMs, cfg.FrameScale*100)

	key, origin, err := credentialStore(cfg).Lookup(context.Background())
	if err != nil {
		fmt.Printf("API key:   error: %v\n", err)
		return nil
	}
	if key.IsEmpty() {
		fmt.Println("API key:   not configured")
		return nil
	}
	defer key.Zero()
	fmt.Printf("API key:   %s (%s)\n", key.Masked(), origin)
	return nil
}

func listSources() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initStderrLogging(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sources, err := capture.NewMediaDriver().ScreenSources(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No screen sources found.")
		if !captureDriversCompiled {
			fmt.Println("This build has no capture drivers (built without cgo).")
		}
		return nil
	}

	selected, _ := capture.SelectScreenSource(sources)
	for _, s := range sources {
		mark := " "
		if s.ID == selected.ID {
			mark = "*"
		}
		fmt.Printf("%s %-24s %s\n", mark, s.ID, s.Name)
	}
	return nil
}

type doctorReport struct {
	Version        string             `json:"version"`
	Host           *health.HostReport `json:"host"`
	CaptureDrivers bool               `json:"captureDrivers"`
	ScreenSources  int                `json:"screenSources"`
	ConfigWarnings []string           `json:"configWarnings,omitempty"`
	APIKey         string             `json:"apiKey"`
}

func runDoctor() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	initStderrLogging(cfg)

	report := doctorReport{
		Version:        version,
		Host:           health.CollectHost(),
		CaptureDrivers: captureDriversCompiled,
	}

	result := cfg.ValidateTiered()
	for _, e := range result.AllErrors() {
		report.ConfigWarnings = append(report.ConfigWarnings, e.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if sources, err := capture.NewMediaDriver().ScreenSources(ctx); err == nil {
		report.ScreenSources = len(sources)
	}

	report.APIKey = "missing"
	if key, origin, err := credentialStore(cfg).Lookup(ctx); err != nil {
		report.APIKey = "error: " + err.Error()
	} else if !key.IsEmpty() {
		report.APIKey = string(origin)
		key.Zero()
	}

	if doctorJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	h := report.Host
	fmt.Printf("MacJarvis v%s\n", report.Version)
	fmt.Printf("Host:            %s (%s %s, %s)\n", h.Hostname, h.OSType, h.OSVersion, h.Architecture)
	fmt.Printf("CPU:             %s, %d threads\n", h.CPUModel, h.CPUThreads)
	fmt.Printf("Memory:          %d MB, %.0f%% used; this process %d MB\n", h.RAMTotalMB, h.RAMUsedPct, h.ProcessRSSMB)
	fmt.Printf("Capture drivers: %v\n", report.CaptureDrivers)
	fmt.Printf("Screen sources:  %d\n", report.ScreenSources)
	fmt.Printf("API key:         %s\n", report.APIKey)
	for _, w := range report.ConfigWarnings {
		fmt.Printf("Config:          %s\n", w)
	}
	return nil
}
