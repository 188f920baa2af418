package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	DefaultAPIURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
	DefaultModel  = "models/gemini-2.0-flash-exp"
)

type Config struct {
	APIURL                string  `mapstructure:"api_url"`
	RESTURL               string  `mapstructure:"rest_url"`
	Model                 string  `mapstructure:"model"`
	ResponseModality      string  `mapstructure:"response_modality"`
	Voice                 string  `mapstructure:"voice"`
	SystemInstruction     string  `mapstructure:"system_instruction"`
	ConnectTimeoutSeconds int     `mapstructure:"connect_timeout_seconds"`
	FrameIntervalMs       int     `mapstructure:"frame_interval_ms"`
	FrameScale            float64 `mapstructure:"frame_scale"`
	JPEGQuality           int     `mapstructure:"jpeg_quality"`
	AudioChunkSamples     int     `mapstructure:"audio_chunk_samples"`
	VolumeWindowMs        int     `mapstructure:"volume_window_ms"`
	CameraWidth           int     `mapstructure:"camera_width"`
	CameraHeight          int     `mapstructure:"camera_height"`
	CredentialsFile       string  `mapstructure:"credentials_file"`

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		APIURL:                DefaultAPIURL,
		RESTURL:               "https://generativelanguage.googleapis.com/v1beta",
		Model:                 DefaultModel,
		ResponseModality:      "text",
		Voice:                 "Aoede",
		ConnectTimeoutSeconds: 15,
		FrameIntervalMs:       500,
		FrameScale:            0.25,
		JPEGQuality:           100,
		AudioChunkSamples:     2048,
		VolumeWindowMs:        25,
		CameraWidth:           1280,
		CameraHeight:          720,
		CredentialsFile:       filepath.Join(configDir(), "credentials.yaml"),
		LogLevel:              "info",
		LogFormat:             "text",
		LogFile:               filepath.Join(configDir(), "logs", "macjarvis.log"),
		LogMaxSizeMB:          10,
		LogMaxBackups:         3,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("macjarvis")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MACJARVIS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("api_url", cfg.APIURL)
	v.Set("rest_url", cfg.RESTURL)
	v.Set("model", cfg.Model)
	v.Set("response_modality", cfg.ResponseModality)
	v.Set("voice", cfg.Voice)
	v.Set("system_instruction", cfg.SystemInstruction)
	v.Set("connect_timeout_seconds", cfg.ConnectTimeoutSeconds)
	v.Set("frame_interval_ms", cfg.FrameIntervalMs)
	v.Set("frame_scale", cfg.FrameScale)
	v.Set("jpeg_quality", cfg.JPEGQuality)
	v.Set("audio_chunk_samples", cfg.AudioChunkSamples)
	v.Set("volume_window_ms", cfg.VolumeWindowMs)
	v.Set("camera_width", cfg.CameraWidth)
	v.Set("camera_height", cfg.CameraHeight)
	v.Set("credentials_file", cfg.CredentialsFile)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "macjarvis.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// Dir returns the per-user directory holding config, credentials and logs.
func Dir() string {
	return configDir()
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "MacJarvis")
	}
	return filepath.Join(os.TempDir(), "MacJarvis")
}
