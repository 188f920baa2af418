// Package capture wraps the platform capture devices (microphone, webcam,
// screen) behind a uniform start/stop/stream contract.
package capture

import (
	"context"
	"errors"
	"image"
)

// Kind identifies a device class.
type Kind string

const (
	Microphone Kind = "microphone"
	Webcam     Kind = "webcam"
	Screen     Kind = "screen"
)

// IsVideo reports whether sources of this kind produce frames.
func (k Kind) IsVideo() bool {
	return k == Webcam || k == Screen
}

func (k Kind) String() string {
	return string(k)
}

var (
	ErrPermissionDenied  = errors.New("capture: permission denied")
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
	ErrNoSourceFound     = errors.New("capture: no source found")
	ErrNotSupported      = errors.New("capture: not supported")
)

// Stream is a live handle to an acquired device.
type Stream interface {
	// ID is unique per acquisition; restarting a source yields a new ID.
	ID() string
	Kind() Kind
	// OnEnded registers fn to run once when the device ends the stream on its
	// own (unplugged, permission revoked). It does not fire after Close.
	// Registering after the stream ended runs fn immediately.
	OnEnded(fn func(err error))
	// Close releases every track. Safe to call more than once.
	Close() error
}

// VideoStream exposes the most recent decoded frame.
type VideoStream interface {
	Stream
	// ViewFrame calls fn with the latest frame and reports whether one was
	// available. fn must not retain img.
	ViewFrame(fn func(img image.Image)) bool
}

// AudioBuffer is one block of interleaved samples. Exactly one of Int16 or
// Float32 is set.
type AudioBuffer struct {
	Int16      []int16
	Float32    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames in the buffer.
func (b AudioBuffer) Frames() int {
	ch := b.Channels
	if ch < 1 {
		ch = 1
	}
	if b.Int16 != nil {
		return len(b.Int16) / ch
	}
	return len(b.Float32) / ch
}

// AudioStream yields blocks of microphone samples.
type AudioStream interface {
	Stream
	// ReadAudio blocks until the next block is available. It returns an
	// error once the stream is closed or ended.
	ReadAudio() (AudioBuffer, error)
}

// ScreenSource is one capturable screen or window as enumerated by the host.
type ScreenSource struct {
	ID   string
	Name string
}

// VideoConstraints are preferred (not required) camera dimensions. Zero lets
// the driver choose.
type VideoConstraints struct {
	Width  int
	Height int
}

// Driver is the platform capture backend.
type Driver interface {
	OpenMicrophone(ctx context.Context) (AudioStream, error)
	OpenCamera(ctx context.Context, c VideoConstraints) (VideoStream, error)
	// ScreenSources lists capturable screens in host order. An empty list is
	// not an error.
	ScreenSources(ctx context.Context) ([]ScreenSource, error)
	OpenScreen(ctx context.Context, sourceID string) (VideoStream, error)
}
