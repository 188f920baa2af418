package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gupsammy/MacJarvis/internal/capture"
	"github.com/gupsammy/MacJarvis/internal/capture/capturetest"
)

func TestSelectScreenSource(t *testing.T) {
	tests := []struct {
		name    string
		sources []capture.ScreenSource
		wantID  string
		wantErr error
	}{
		{
			name:    "prefers full screen",
			sources: []capture.ScreenSource{{ID: "window:1", Name: "A"}, {ID: "screen:1", Name: "B"}},
			wantID:  "screen:1",
		},
		{
			name:    "falls back to first source",
			sources: []capture.ScreenSource{{ID: "window:1", Name: "A"}},
			wantID:  "window:1",
		},
		{
			name:    "first screen wins",
			sources: []capture.ScreenSource{{ID: "screen:2"}, {ID: "screen:1"}},
			wantID:  "screen:2",
		},
		{
			name:    "empty list",
			sources: nil,
			wantErr: capture.ErrNoSourceFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := capture.SelectScreenSource(tt.sources)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ID != tt.wantID {
				t.Fatalf("selected %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}

func TestSourceStartStop(t *testing.T) {
	drv := &capturetest.Driver{}
	src := capture.NewSource(capture.Webcam, drv)

	if src.IsStreaming() || src.Stream() != nil {
		t.Fatal("new source should be stopped")
	}

	st, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !src.IsStreaming() || src.Stream() != st {
		t.Fatal("source should hold the started stream")
	}

	again, err := src.Start(context.Background())
	if err != nil || again != st {
		t.Fatalf("second Start should return the current stream, got %v, %v", again, err)
	}
	if n := len(drv.Opened()); n != 1 {
		t.Fatalf("driver opened %d streams, want 1", n)
	}

	src.Stop()
	if src.IsStreaming() || src.Stream() != nil {
		t.Fatal("source should be stopped after Stop")
	}
	if !drv.Last(capture.Webcam).Closed() {
		t.Fatal("Stop should close the stream")
	}

	src.Stop() // no-op
}

func TestSourceStartFailureKeepsSourceStopped(t *testing.T) {
	drv := &capturetest.Driver{}
	drv.FailNext(capture.Webcam, capture.ErrPermissionDenied)
	src := capture.NewSource(capture.Webcam, drv)

	_, err := src.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if src.IsStreaming() {
		t.Fatal("failed start must leave the source stopped")
	}
}

func TestSourceWrapsUnknownDriverErrors(t *testing.T) {
	drv := &capturetest.Driver{}
	drv.FailNext(capture.Microphone, errors.New("device busy"))
	src := capture.NewSource(capture.Microphone, drv)

	_, err := src.Start(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestSourceWithoutDriverIsNotSupported(t *testing.T) {
	src := capture.NewSource(capture.Screen, nil)
	if _, err := src.Start(context.Background()); !errors.Is(err, capture.ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

func TestScreenSourceStartSelectsScreen(t *testing.T) {
	drv := &capturetest.Driver{}
	drv.SetScreenSources([]capture.ScreenSource{{ID: "window:1", Name: "A"}, {ID: "screen:1", Name: "B"}})
	src := capture.NewSource(capture.Screen, drv)

	if _, err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if drv.OpenedScreen != "screen:1" {
		t.Fatalf("opened %q, want screen:1", drv.OpenedScreen)
	}
}

func TestScreenSourceStartWithNoSources(t *testing.T) {
	src := capture.NewSource(capture.Screen, &capturetest.Driver{})
	if _, err := src.Start(context.Background()); !errors.Is(err, capture.ErrNoSourceFound) {
		t.Fatalf("err = %v, want ErrNoSourceFound", err)
	}
}

func TestSourceExternalEndNotifiesWatchers(t *testing.T) {
	drv := &capturetest.Driver{}
	src := capture.NewSource(capture.Screen, drv)
	drv.SetScreenSources([]capture.ScreenSource{{ID: "screen:1"}})

	var mu sync.Mutex
	var got []capture.Status
	cancel := src.Watch(func(s capture.Status) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	defer cancel()

	if _, err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Last(capture.Screen).End(nil)

	if src.IsStreaming() {
		t.Fatal("source should be stopped after the device ended the stream")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("watch statuses = %+v, want start and end", got)
	}
	if !got[0].Streaming || got[1].Streaming || !got[1].Ended {
		t.Fatalf("unexpected statuses: %+v", got)
	}
}

func TestSourceIgnoresEndOfReplacedStream(t *testing.T) {
	drv := &capturetest.Driver{}
	src := capture.NewSource(capture.Webcam, drv)

	if _, err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := drv.Last(capture.Webcam)
	src.Stop()

	second, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}

	// A late end from the old stream must not tear down the new one
	first.End(errors.New("late"))
	if src.Stream() != second {
		t.Fatal("stale end event stopped the current stream")
	}
}

func TestStartHonoursCancelledContext(t *testing.T) {
	src := capture.NewSource(capture.Microphone, &capturetest.Driver{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestKindIsVideo(t *testing.T) {
	if capture.Microphone.IsVideo() || !capture.Webcam.IsVideo() || !capture.Screen.IsVideo() {
		t.Fatal("IsVideo classification wrong")
	}
}

func TestAudioBufferFrames(t *testing.T) {
	b := capture.AudioBuffer{Int16: make([]int16, 10), Channels: 2}
	if b.Frames() != 5 {
		t.Fatalf("Frames = %d, want 5", b.Frames())
	}
	b = capture.AudioBuffer{Float32: make([]float32, 6)}
	if b.Frames() != 6 {
		t.Fatalf("Frames = %d, want 6", b.Frames())
	}
}
