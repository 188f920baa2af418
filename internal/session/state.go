package session

import (
	"context"

	"github.com/gupsammy/MacJarvis/internal/capture"
	"github.com/gupsammy/MacJarvis/internal/media"
)

// Connection is the live model connection as the coordinator sees it.
// Status listeners may run on the goroutine calling Connect or Disconnect.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
	Connected() bool
	SendRealtimeInput(chunks []media.Chunk) error
	OnStatus(fn func(connected bool)) func()
	OnVolume(fn func(level float64)) func()
}

// ActiveVideo is the video source currently shown and sampled. The zero
// value means no active video.
type ActiveVideo struct {
	Kind   capture.Kind
	Stream capture.VideoStream
}

// None reports whether no video source is active.
func (a ActiveVideo) None() bool {
	return a.Stream == nil
}

// Snapshot is a copy of the session state handed to subscribers.
type Snapshot struct {
	Connected bool
	Muted     bool
	Recording bool
	// Active is empty when no video source is active.
	Active    capture.Kind
	InVolume  float64
	OutVolume float64
	Sources   SourceStates
}

// SourceStates records which capture devices currently hold a live stream.
type SourceStates struct {
	Microphone bool
	Webcam     bool
	Screen     bool
}
