package console

import (
	"errors"
	"strings"
	"testing"

	"github.com/gupsammy/MacJarvis/internal/capture"
	"github.com/gupsammy/MacJarvis/internal/liveapi"
	"github.com/gupsammy/MacJarvis/internal/logging"
	"github.com/gupsammy/MacJarvis/internal/session"
)

func TestVolumeWidth(t *testing.T) {
	tests := []struct {
		level float64
		want  int
	}{
		{0, 5},
		{0.01, 5},
		{0.03, 6},
		{0.035, 7},
		{0.04, 8},
		{1, 8},
	}
	for _, tt := range tests {
		if got := volumeWidth(tt.level); got != tt.want {
			t.Errorf("volumeWidth(%v) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestVolumeBarFixedWidth(t *testing.T) {
	for _, level := range []float64{0, 0.03, 1} {
		bar := volumeBar(level)
		if len(bar) != maxVolumeWidth+2 {
			t.Errorf("volumeBar(%v) = %q, want width %d", level, bar, maxVolumeWidth+2)
		}
	}
	if got := strings.Count(volumeBar(1), "|"); got != maxVolumeWidth {
		t.Errorf("full bar has %d segments", got)
	}
}

func TestRenderStatus(t *testing.T) {
	tests := []struct {
		name string
		snap session.Snapshot
		want []string
		not  []string
	}{
		{
			name: "idle",
			snap: session.Snapshot{},
			want: []string{"disconnected", "mic off", "video none"},
			not:  []string{"model"},
		},
		{
			name: "recording with webcam",
			snap: session.Snapshot{Connected: true, Recording: true, Active: capture.Webcam, InVolume: 1},
			want: []string{"[green]connected", "[||||||||]", "webcam"},
		},
		{
			name: "muted",
			snap: session.Snapshot{Connected: true, Muted: true},
			want: []string{"muted"},
			not:  []string{"|"},
		},
		{
			name: "model speaking",
			snap: session.Snapshot{Connected: true, OutVolume: 0.5},
			want: []string{"model [||||||||]"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renderStatus(tt.snap, "connection:healthy")
			for _, w := range append(tt.want, "connection:healthy") {
				if !strings.Contains(got, w) {
					t.Errorf("status %q missing %q", got, w)
				}
			}
			for _, n := range tt.not {
				if strings.Contains(got, n) {
					t.Errorf("status %q should not contain %q", got, n)
				}
			}
		})
	}
}

func TestFormatContent(t *testing.T) {
	tests := []struct {
		in   liveapi.Content
		want string
	}{
		{liveapi.Content{}, ""},
		{liveapi.Content{Text: "hello"}, "hello"},
		{liveapi.Content{TurnComplete: true}, "\n"},
		{liveapi.Content{Text: "cut", Interrupted: true}, "cut [yellow](interrupted)[-]\n"},
	}
	for _, tt := range tests {
		if got := formatContent(tt.in); got != tt.want {
			t.Errorf("formatContent(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatContentEscapesTags(t *testing.T) {
	got := formatContent(liveapi.Content{Text: "see [red]this[-]"})
	if strings.Contains(got, "[red]") {
		t.Fatalf("model text should be escaped, got %q", got)
	}
}

func TestDescribe(t *testing.T) {
	if got := describe(capture.ErrPermissionDenied); !strings.Contains(got, "Privacy") {
		t.Errorf("permission message = %q", got)
	}
	if got := describe(liveapi.ErrNotConnected); !strings.Contains(got, "F2") {
		t.Errorf("not connected message = %q", got)
	}
	if got := describe(errors.New("boom")); got != "boom" {
		t.Errorf("fallback = %q", got)
	}
}

func TestFormatLog(t *testing.T) {
	got := formatLog(logging.Entry{
		Level:     "WARN",
		Component: "capture",
		Message:   "start failed",
		Fields:    map[string]any{logging.KeyError: "permission denied"},
	})
	want := "[yellow]capture start failed: permission denied[-]\n"
	if got != want {
		t.Fatalf("formatLog = %q, want %q", got, want)
	}
}
