// Package session coordinates capture devices, samplers and the live
// connection for one user session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gupsammy/MacJarvis/internal/capture"
	"github.com/gupsammy/MacJarvis/internal/health"
	"github.com/gupsammy/MacJarvis/internal/logging"
	"github.com/gupsammy/MacJarvis/internal/media"
	"github.com/gupsammy/MacJarvis/internal/sampler"
)

// ErrNotVideo is returned when a non-video kind is requested as video.
var ErrNotVideo = errors.New("not a video source")

// Sources holds the long-lived adapters, one per device class.
type Sources struct {
	Microphone *capture.Source
	Webcam     *capture.Source
	Screen     *capture.Source
}

// NewSources builds the three adapters on one driver.
func NewSources(driver capture.Driver, camera capture.VideoConstraints) Sources {
	return Sources{
		Microphone: capture.NewSource(capture.Microphone, driver),
		Webcam:     capture.NewSource(capture.Webcam, driver, capture.WithVideoConstraints(camera)),
		Screen:     capture.NewSource(capture.Screen, driver),
	}
}

// Config tunes the samplers. Zero values take the sampler defaults.
type Config struct {
	Video  sampler.VideoConfig
	Audio  sampler.AudioConfig
	Clock  sampler.Clock
	Health *health.Monitor
}

// Coordinator owns which video source is active, keeps at most one open, and
// drives the samplers from the connected/muted/active state.
//
// Transitions are serialized by opMu. Callbacks arriving from devices, the
// connection or the samplers only take stateMu; anything that needs a full
// transition is moved to its own goroutine.
type Coordinator struct {
	conn    Connection
	sources Sources
	audio   *sampler.Audio
	video   *sampler.Video
	metrics *media.StreamMetrics
	health  *health.Monitor
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	opMu sync.Mutex

	stateMu   sync.Mutex
	connected bool
	muted     bool
	recording bool
	active    ActiveVideo
	inVolume  float64
	outVolume float64

	lmu      sync.Mutex
	nextID   int
	subs     map[int]func(Snapshot)
	videoObs map[int]func(capture.VideoStream)
}

// New wires a coordinator to conn and sources. Close releases it.
func New(conn Connection, sources Sources, cfg Config) *Coordinator {
	if cfg.Health == nil {
		cfg.Health = health.NewMonitor()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Coordinator{
		conn:     conn,
		sources:  sources,
		metrics:  media.NewStreamMetrics(),
		health:   cfg.Health,
		log:      logging.L("session"),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]func(Snapshot)),
		videoObs: make(map[int]func(capture.VideoStream)),
	}
	s.audio = sampler.NewAudio(cfg.Audio, sources.Microphone)
	s.video = sampler.NewVideo(cfg.Video, cfg.Clock, s.sendVideo, s.metrics)

	s.unsubs = append(s.unsubs,
		conn.OnStatus(s.handleStatus),
		conn.OnVolume(s.handleOutVolume),
		s.audio.OnData(s.handleAudioData),
		s.audio.OnVolume(s.handleInVolume),
		sources.Microphone.Watch(s.handleMicStatus),
		sources.Webcam.Watch(s.handleVideoStatus),
		sources.Screen.Watch(s.handleVideoStatus),
	)
	s.health.Update(health.Connection, health.Unknown, "not connected")
	return s
}

// Health returns the component health monitor.
func (s *Coordinator) Health() *health.Monitor {
	return s.health
}

// Metrics returns the stream counters of the current or last session.
func (s *Coordinator) Metrics() media.MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Snapshot returns the current state.
func (s *Coordinator) Snapshot() Snapshot {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.snapshotLocked()
}

func (s *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		Connected: s.connected,
		Muted:     s.muted,
		Recording: s.recording,
		Active:    s.active.Kind,
		InVolume:  s.inVolume,
		OutVolume: s.outVolume,
		Sources: SourceStates{
			Microphone: streaming(s.sources.Microphone),
			Webcam:     streaming(s.sources.Webcam),
			Screen:     streaming(s.sources.Screen),
		},
	}
}

func streaming(src *capture.Source) bool {
	return src != nil && src.IsStreaming()
}

// ActiveVideo returns the active video selection.
func (s *Coordinator) ActiveVideo() ActiveVideo {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.active
}

// Connect opens the connection. No capture device is started apart from
// the microphone, which follows connected && !muted.
func (s *Coordinator) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stateMu.Lock()
	already := s.connected
	s.stateMu.Unlock()
	if already && s.conn.Connected() {
		return nil
	}

	if err := s.conn.Connect(ctx); err != nil {
		s.health.Update(health.Connection, health.Unhealthy, err.Error())
		s.log.Warn("connect failed", logging.KeyError, err.Error())
		return err
	}

	s.metrics.Reset()

	s.stateMu.Lock()
	s.connected = true
	s.stateMu.Unlock()
	s.health.Update(health.Connection, health.Healthy, "")
	s.log.Info("session connected")

	s.reconcileLocked(ctx)
	s.publish()
	return nil
}

// Disconnect closes the connection and releases every capture device.
func (s *Coordinator) Disconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.conn.Disconnect()
	s.teardownLocked("disconnected")
}

// teardownLocked resets to the disconnected state with no active video.
// Webcam and screen are stopped whether or not they were active.
func (s *Coordinator) teardownLocked(reason string) {
	s.stateMu.Lock()
	wasConnected := s.connected
	hadVideo := !s.active.None()
	s.connected = false
	s.active = ActiveVideo{}
	s.stateMu.Unlock()

	s.video.Update(false, nil)
	s.sources.Webcam.Stop()
	s.sources.Screen.Stop()
	s.reconcileLocked(s.ctx)

	if hadVideo {
		s.emitVideo(nil)
	}
	if wasConnected {
		m := s.metrics.Snapshot()
		s.log.Info("session ended",
			"reason", reason,
			"framesSent", m.FramesSent,
			"framesSkipped", m.FramesSkipped,
			"audioChunks", m.AudioChunks,
			"bandwidthKBps", m.BandwidthKBps,
			logging.KeyDurationMs, m.Uptime.Milliseconds(),
		)
	}
	s.health.Update(health.Connection, health.Unknown, reason)
	s.publish()
}

// RequestVideoSource makes kind the active video source. Any other video
// source is fully stopped before kind is started. On failure no video
// source is active and observers receive nil.
func (s *Coordinator) RequestVideoSource(ctx context.Context, kind capture.Kind) (capture.VideoStream, error) {
	if !kind.IsVideo() {
		return nil, fmt.Errorf("%w: %s", ErrNotVideo, kind)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	target := s.videoSource(kind)

	s.stateMu.Lock()
	prev := s.active
	if prev.Kind != kind {
		s.active = ActiveVideo{}
	}
	connected := s.connected
	s.stateMu.Unlock()
	if prev.Kind != kind && !prev.None() {
		s.video.Update(connected, nil)
	}

	for _, other := range []*capture.Source{s.sources.Webcam, s.sources.Screen} {
		if other != target && other.IsStreaming() {
			other.Stop()
		}
	}

	st, err := target.Start(ctx)
	var vs capture.VideoStream
	if err == nil {
		var ok bool
		if vs, ok = st.(capture.VideoStream); !ok {
			target.Stop()
			err = fmt.Errorf("%w: %s stream %T has no frames", capture.ErrNotSupported, kind, st)
		}
	}
	if err != nil {
		s.clearActive()
		s.health.Update(componentFor(kind), health.Unhealthy, err.Error())
		s.log.Warn("video source failed", logging.KeySource, kind.String(), logging.KeyError, err.Error())
		return nil, err
	}

	s.stateMu.Lock()
	s.active = ActiveVideo{Kind: kind, Stream: vs}
	connected = s.connected
	s.stateMu.Unlock()

	s.video.Update(connected, vs)
	s.health.Update(componentFor(kind), health.Healthy, "")
	s.log.Info("video source active", logging.KeySource, kind.String(), "streamId", vs.ID())
	s.emitVideo(vs)
	s.publish()
	return vs, nil
}

// StopActiveVideo stops the active video source, if any, and clears the
// selection.
func (s *Coordinator) StopActiveVideo() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stateMu.Lock()
	active := s.active
	s.stateMu.Unlock()
	if active.None() {
		return
	}

	src := s.videoSource(active.Kind)
	if src.Stream() == capture.Stream(active.Stream) {
		src.Stop()
	}
	s.clearActive()
	s.log.Info("video source stopped", logging.KeySource, active.Kind.String())
}

// clearActive drops the selection, stops sampling and tells observers.
func (s *Coordinator) clearActive() {
	s.stateMu.Lock()
	s.active = ActiveVideo{}
	connected := s.connected
	s.stateMu.Unlock()

	s.video.Update(connected, nil)
	s.emitVideo(nil)
	s.publish()
}

// ToggleMute flips muted and applies it to the microphone immediately.
func (s *Coordinator) ToggleMute() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stateMu.Lock()
	s.muted = !s.muted
	muted := s.muted
	s.stateMu.Unlock()

	s.log.Info("mute toggled", "muted", muted)
	s.reconcileLocked(s.ctx)
	s.publish()
	return muted
}

// reconcileLocked makes the samplers match the current state. Calling it
// repeatedly with unchanged state has no effect.
func (s *Coordinator) reconcileLocked(ctx context.Context) {
	s.stateMu.Lock()
	connected, muted, active := s.connected, s.muted, s.active
	s.stateMu.Unlock()

	s.video.Update(connected, active.Stream)

	recording := false
	if connected && !muted {
		if err := s.audio.Start(ctx); err != nil {
			s.health.Update(health.Microphone, health.Unhealthy, err.Error())
			s.log.Warn("microphone unavailable", logging.KeyError, err.Error())
		} else {
			recording = true
			s.health.Update(health.Microphone, health.Healthy, "")
		}
	} else {
		s.audio.Stop()
	}

	s.stateMu.Lock()
	s.recording = recording
	if !recording {
		s.inVolume = 0
	}
	s.stateMu.Unlock()
}

// Close disconnects and detaches every listener. The coordinator cannot be
// reused.
func (s *Coordinator) Close() {
	s.Disconnect()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.cancel()
}

func (s *Coordinator) videoSource(kind capture.Kind) *capture.Source {
	if kind == capture.Screen {
		return s.sources.Screen
	}
	return s.sources.Webcam
}

func componentFor(kind capture.Kind) string {
	switch kind {
	case capture.Webcam:
		return health.Webcam
	case capture.Screen:
		return health.Screen
	}
	return health.Microphone
}

func (s *Coordinator) sendVideo(chunks []media.Chunk) error {
	s.stateMu.Lock()
	connected := s.connected
	s.stateMu.Unlock()
	if !connected {
		return errNotConnected
	}
	return s.conn.SendRealtimeInput(chunks)
}

var errNotConnected = errors.New("session not connected")

// Callbacks below run on device, connection or sampler goroutines.

func (s *Coordinator) handleAudioData(data string) {
	s.stateMu.Lock()
	send := s.connected && !s.muted
	s.stateMu.Unlock()
	if !send {
		return
	}
	if err := s.conn.SendRealtimeInput([]media.Chunk{{MimeType: media.MimeAudioPCM, Data: data}}); err != nil {
		s.log.Debug("audio chunk not sent", logging.KeyError, err.Error())
		return
	}
	s.metrics.RecordAudioSent(len(data))
}

func (s *Coordinator) handleInVolume(level float64) {
	s.stateMu.Lock()
	s.inVolume = level
	s.stateMu.Unlock()
	s.publish()
}

func (s *Coordinator) handleOutVolume(level float64) {
	s.stateMu.Lock()
	s.outVolume = level
	s.stateMu.Unlock()
	s.publish()
}

func (s *Coordinator) handleStatus(up bool) {
	if up {
		return
	}
	go s.connectionLost()
}

// connectionLost tears down like Disconnect when the connection drops on
// its own. There is no automatic reconnect.
func (s *Coordinator) connectionLost() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stateMu.Lock()
	connected := s.connected
	s.stateMu.Unlock()
	if !connected || s.conn.Connected() {
		return
	}
	s.log.Warn("connection lost")
	s.teardownLocked("connection lost")
	s.health.Update(health.Connection, health.Unhealthy, "connection lost")
}

func (s *Coordinator) handleMicStatus(st capture.Status) {
	if st.Ended {
		msg := "ended by device"
		if st.Err != nil {
			msg = st.Err.Error()
		}
		s.health.Update(health.Microphone, health.Degraded, msg)
		s.stateMu.Lock()
		s.recording = false
		s.inVolume = 0
		s.stateMu.Unlock()
		s.publish()
	}
}

func (s *Coordinator) handleVideoStatus(st capture.Status) {
	if !st.Ended {
		return
	}
	msg := "ended by device"
	if st.Err != nil {
		msg = st.Err.Error()
	}
	s.health.Update(componentFor(st.Kind), health.Degraded, msg)
	go s.videoEnded(st.Kind)
}

// videoEnded clears the selection if the active stream is the one that
// ended.
func (s *Coordinator) videoEnded(kind capture.Kind) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stateMu.Lock()
	active := s.active
	s.stateMu.Unlock()
	if active.None() || active.Kind != kind {
		return
	}
	if s.videoSource(kind).Stream() == capture.Stream(active.Stream) {
		// Already replaced by a newer start of the same source
		return
	}
	s.log.Info("active video ended", logging.KeySource, kind.String())
	s.clearActive()
}

// Subscribe registers fn for state changes. The returned func unregisters
// it. fn must not call back into the coordinator synchronously.
func (s *Coordinator) Subscribe(fn func(Snapshot)) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.lmu.Lock()
		delete(s.subs, id)
		s.lmu.Unlock()
	}
}

// OnVideoStreamChange registers fn for the stream to display, nil when
// nothing is active.
func (s *Coordinator) OnVideoStreamChange(fn func(capture.VideoStream)) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.videoObs[id] = fn
	return func() {
		s.lmu.Lock()
		delete(s.videoObs, id)
		s.lmu.Unlock()
	}
}

func (s *Coordinator) publish() {
	snap := s.Snapshot()
	s.lmu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Coordinator) emitVideo(st capture.VideoStream) {
	s.lmu.Lock()
	fns := make([]func(capture.VideoStream), 0, len(s.videoObs))
	for _, fn := range s.videoObs {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}
