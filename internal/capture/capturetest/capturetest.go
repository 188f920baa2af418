// Package capturetest provides an in-memory capture.Driver for tests.
package capturetest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gupsammy/MacJarvis/internal/capture"
)

var errClosed = errors.New("capturetest: stream closed")

// Driver is a scriptable capture.Driver. Zero value is ready to use.
type Driver struct {
	mu      sync.Mutex
	errs    map[capture.Kind]error
	sources []capture.ScreenSource
	opened  []*Stream
	seq     int
	// OpenedScreen records the source ID passed to the last OpenScreen.
	OpenedScreen string
}

// FailNext makes every open of kind fail with err until cleared with nil.
func (d *Driver) FailNext(kind capture.Kind, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.errs == nil {
		d.errs = make(map[capture.Kind]error)
	}
	d.errs[kind] = err
}

// SetScreenSources sets what ScreenSources returns.
func (d *Driver) SetScreenSources(sources []capture.ScreenSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources = sources
}

// Opened returns every stream opened so far, oldest first.
func (d *Driver) Opened() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.opened...)
}

// Last returns the newest stream of kind, or nil.
func (d *Driver) Last(kind capture.Kind) *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.opened) - 1; i >= 0; i-- {
		if d.opened[i].kind == kind {
			return d.opened[i]
		}
	}
	return nil
}

func (d *Driver) open(kind capture.Kind) (*Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errs[kind]; err != nil {
		return nil, err
	}
	d.seq++
	s := newStream(fmt.Sprintf("%s-%d", kind, d.seq), kind)
	d.opened = append(d.opened, s)
	return s, nil
}

func (d *Driver) OpenMicrophone(ctx context.Context) (capture.AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := d.open(capture.Microphone)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Driver) OpenCamera(ctx context.Context, _ capture.VideoConstraints) (capture.VideoStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := d.open(capture.Webcam)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Driver) ScreenSources(ctx context.Context) ([]capture.ScreenSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]capture.ScreenSource(nil), d.sources...), nil
}

func (d *Driver) OpenScreen(ctx context.Context, sourceID string) (capture.VideoStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.OpenedScreen = sourceID
	d.mu.Unlock()
	s, err := d.open(capture.Screen)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Stream implements both capture.VideoStream and capture.AudioStream.
type Stream struct {
	id   string
	kind capture.Kind

	mu       sync.Mutex
	frame    image.Image
	closed   bool
	ended    bool
	endErr   error
	handlers []func(error)

	audio chan capture.AudioBuffer
	done  chan struct{}
}

func newStream(id string, kind capture.Kind) *Stream {
	return &Stream{
		id:    id,
		kind:  kind,
		audio: make(chan capture.AudioBuffer, 64),
		done:  make(chan struct{}),
	}
}

func (s *Stream) ID() string         { return s.id }
func (s *Stream) Kind() capture.Kind { return s.kind }

func (s *Stream) OnEnded(fn func(error)) {
	s.mu.Lock()
	if s.ended {
		err := s.endErr
		s.mu.Unlock()
		fn(err)
		return
	}
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// End simulates the device ending the stream (unplug, revoked permission).
func (s *Stream) End(err error) {
	s.mu.Lock()
	if s.closed || s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.endErr = err
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(err)
	}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetFrame sets the frame returned by ViewFrame.
func (s *Stream) SetFrame(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = img
}

func (s *Stream) ViewFrame(fn func(image.Image)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil || s.closed {
		return false
	}
	fn(s.frame)
	return true
}

// PushAudio queues a block for ReadAudio.
func (s *Stream) PushAudio(buf capture.AudioBuffer) {
	select {
	case s.audio <- buf:
	case <-s.done:
	}
}

func (s *Stream) ReadAudio() (capture.AudioBuffer, error) {
	select {
	case buf := <-s.audio:
		return buf, nil
	case <-s.done:
		return capture.AudioBuffer{}, errClosed
	}
}
