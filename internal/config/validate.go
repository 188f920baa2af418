package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validModalities = map[string]bool{
	"text":  true,
	"audio": true,
}

// ValidationResult separates errors that must stop startup from values
// that were auto-corrected.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// ValidateTiered checks the config and clamps out-of-range numbers in place.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("api_url %q is not a valid URL: %w", c.APIURL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			r.Fatals = append(r.Fatals, fmt.Errorf("api_url scheme must be ws or wss, got %q", u.Scheme))
		}
	} else {
		r.Fatals = append(r.Fatals, fmt.Errorf("api_url is empty"))
	}

	if c.RESTURL != "" {
		u, err := url.Parse(c.RESTURL)
		if err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("rest_url %q is not a valid URL: %w", c.RESTURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			r.Fatals = append(r.Fatals, fmt.Errorf("rest_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.Model == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("model is empty, using %s", DefaultModel))
		c.Model = DefaultModel
	} else if !strings.HasPrefix(c.Model, "models/") {
		c.Model = "models/" + c.Model
	}

	if !validModalities[strings.ToLower(c.ResponseModality)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("response_modality %q is not valid (use text or audio), using text", c.ResponseModality))
		c.ResponseModality = "text"
	} else {
		c.ResponseModality = strings.ToLower(c.ResponseModality)
	}

	c.ConnectTimeoutSeconds = clampInt(&r, "connect_timeout_seconds", c.ConnectTimeoutSeconds, 1, 120)
	c.FrameIntervalMs = clampInt(&r, "frame_interval_ms", c.FrameIntervalMs, 100, 10000)
	c.JPEGQuality = clampInt(&r, "jpeg_quality", c.JPEGQuality, 1, 100)
	c.AudioChunkSamples = clampInt(&r, "audio_chunk_samples", c.AudioChunkSamples, 256, 16384)
	c.VolumeWindowMs = clampInt(&r, "volume_window_ms", c.VolumeWindowMs, 5, 1000)

	// Clamp scale so frames never collapse to zero or grow past native size
	if c.FrameScale <= 0 || c.FrameScale > 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("frame_scale %.2f is outside (0, 1], using 0.25", c.FrameScale))
		c.FrameScale = 0.25
	}

	if c.CameraWidth < 0 || c.CameraHeight < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("camera size %dx%d is negative, letting the driver choose", c.CameraWidth, c.CameraHeight))
		c.CameraWidth, c.CameraHeight = 0, 0
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.LogMaxSizeMB < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_size_mb %d is below minimum 1, clamping", c.LogMaxSizeMB))
		c.LogMaxSizeMB = 1
	}
	if c.LogMaxBackups < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_backups %d is negative, clamping", c.LogMaxBackups))
		c.LogMaxBackups = 0
	}

	return r
}

func clampInt(r *ValidationResult, key string, v, lo, hi int) int {
	if v < lo {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	}
	if v > hi {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
