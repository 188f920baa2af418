package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gupsammy/MacJarvis/internal/config"
	"github.com/gupsammy/MacJarvis/internal/credentials"
	"github.com/gupsammy/MacJarvis/internal/logging"
)

var (
	version  = "0.1.0"
	cfgFile  string
	logLevel string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:          "macjarvis",
	Short:        "MacJarvis live assistant",
	Long:         `MacJarvis - stream your microphone, webcam or screen to the Gemini Live API from the terminal`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MacJarvis v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/MacJarvis/macjarvis.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the config. Fatal problems are returned;
// everything else has been clamped and logged.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		for _, err := range result.Fatals {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		return nil, fmt.Errorf("invalid configuration")
	}
	for _, err := range result.Warnings {
		log.Warn("config validation", logging.KeyError, err.Error())
	}
	return cfg, nil
}

// initFileLogging points the global logger at the rotated log file. The
// returned closer flushes it.
func initFileLogging(cfg *config.Config) (io.Closer, error) {
	w, err := logging.NewFileWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, w)
	return w, nil
}

// initStderrLogging is used by the short-lived commands.
func initStderrLogging(cfg *config.Config) {
	level := cfg.LogLevel
	if logLevel == "" {
		level = "warn"
	}
	logging.Init(cfg.LogFormat, level, os.Stderr)
}

func credentialStore(cfg *config.Config) *credentials.FileStore {
	return credentials.NewFileStore(cfg.CredentialsFile)
}
