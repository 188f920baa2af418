package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gupsammy/MacJarvis/internal/logging"
)

// Status is delivered to watchers whenever a source starts or stops.
type Status struct {
	Kind      Kind
	Streaming bool
	// Ended is set when the device ended the stream rather than Stop.
	Ended bool
	Err   error
}

// Source is the long-lived adapter for one device class. It owns at most one
// live Stream at a time.
type Source struct {
	kind        Kind
	driver      Driver
	constraints VideoConstraints
	log         *slog.Logger

	opMu sync.Mutex // serializes Start and Stop

	mu       sync.Mutex
	stream   Stream
	watchers map[int]func(Status)
	nextID   int
}

// Option configures a Source.
type Option func(*Source)

// WithVideoConstraints sets preferred camera dimensions.
func WithVideoConstraints(c VideoConstraints) Option {
	return func(s *Source) { s.constraints = c }
}

func NewSource(kind Kind, driver Driver, opts ...Option) *Source {
	s := &Source{
		kind:     kind,
		driver:   driver,
		log:      logging.L("capture").With(logging.KeySource, string(kind)),
		watchers: make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Kind() Kind {
	return s.kind
}

// IsStreaming reports whether the source currently holds a live stream.
func (s *Source) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Stream returns the live stream, or nil when stopped.
func (s *Source) Stream() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Start acquires the device. Starting a source that is already streaming
// returns the current stream.
func (s *Source) Start(ctx context.Context) (Stream, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if st := s.Stream(); st != nil {
		return st, nil
	}

	st, err := s.open(ctx)
	if err != nil {
		s.log.Warn("start failed", logging.KeyError, err.Error())
		return nil, err
	}

	s.mu.Lock()
	s.stream = st
	s.mu.Unlock()

	st.OnEnded(func(err error) { s.handleEnded(st, err) })

	if s.Stream() != st {
		return nil, fmt.Errorf("%w: %s ended while starting", ErrDeviceUnavailable, s.kind)
	}

	s.log.Info("started", "streamId", st.ID())
	s.notify(Status{Kind: s.kind, Streaming: true})
	return st, nil
}

// Stop releases the device. It is a no-op when already stopped.
func (s *Source) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	st := s.stream
	s.stream = nil
	s.mu.Unlock()

	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		s.log.Warn("close failed", "streamId", st.ID(), logging.KeyError, err.Error())
	}
	s.log.Info("stopped", "streamId", st.ID())
	s.notify(Status{Kind: s.kind, Streaming: false})
}

// Watch registers fn for start/stop transitions. The returned func
// unregisters it.
func (s *Source) Watch(fn func(Status)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Source) open(ctx context.Context) (Stream, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("%w: no capture driver for %s", ErrNotSupported, s.kind)
	}

	var (
		st  Stream
		err error
	)
	switch s.kind {
	case Microphone:
		st, err = s.driver.OpenMicrophone(ctx)
	case Webcam:
		st, err = s.driver.OpenCamera(ctx, s.constraints)
	case Screen:
		st, err = s.openScreen(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", ErrNotSupported, s.kind)
	}
	if err != nil {
		return nil, describe(s.kind, err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s driver returned no stream", ErrDeviceUnavailable, s.kind)
	}
	return st, nil
}

func (s *Source) openScreen(ctx context.Context) (VideoStream, error) {
	sources, err := s.driver.ScreenSources(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := SelectScreenSource(sources)
	if err != nil {
		return nil, err
	}
	s.log.Debug("selected screen source", "id", selected.ID, "name", selected.Name, "candidates", len(sources))
	return s.driver.OpenScreen(ctx, selected.ID)
}

// handleEnded runs on the driver's goroutine when the device ends the stream.
func (s *Source) handleEnded(st Stream, err error) {
	s.mu.Lock()
	if s.stream != st {
		// Stopped or replaced already
		s.mu.Unlock()
		return
	}
	s.stream = nil
	s.mu.Unlock()

	st.Close()
	s.log.Info("stream ended by device", "streamId", st.ID(), logging.KeyError, errString(err))
	s.notify(Status{Kind: s.kind, Streaming: false, Ended: true, Err: err})
}

func (s *Source) notify(status Status) {
	s.mu.Lock()
	fns := make([]func(Status), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}

// describe makes sure a driver error carries one of the package sentinels.
func describe(kind Kind, err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrDeviceUnavailable),
		errors.Is(err, ErrNoSourceFound),
		errors.Is(err, ErrNotSupported),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, kind, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
