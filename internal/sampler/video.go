// Package sampler turns live capture streams into realtime input chunks.
package sampler

import (
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/gupsammy/MacJarvis/internal/capture"
	"github.com/gupsammy/MacJarvis/internal/logging"
	"github.com/gupsammy/MacJarvis/internal/media"
)

// SendFunc forwards chunks to the connection.
type SendFunc func(chunks []media.Chunk) error

// VideoConfig controls frame sampling.
type VideoConfig struct {
	Interval    time.Duration // 500ms = 2 samples/s
	ScaleFactor float64       // 0.25
	Quality     int           // JPEG quality 1-100
}

func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Interval:    500 * time.Millisecond,
		ScaleFactor: 0.25,
		Quality:     100,
	}
}

// Video samples the attached stream while connected. Each sample schedules
// the next one; any change of stream or connection cancels the pending timer.
type Video struct {
	cfg     VideoConfig
	clock   Clock
	send    SendFunc
	metrics *media.StreamMetrics
	log     *slog.Logger

	mu        sync.Mutex
	connected bool
	stream    capture.VideoStream
	epoch     uint64
	timer     Timer
}

func NewVideo(cfg VideoConfig, clock Clock, send SendFunc, metrics *media.StreamMetrics) *Video {
	def := DefaultVideoConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ScaleFactor <= 0 || cfg.ScaleFactor > 1 {
		cfg.ScaleFactor = def.ScaleFactor
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if clock == nil {
		clock = RealClock()
	}
	if metrics == nil {
		metrics = media.NewStreamMetrics()
	}
	return &Video{
		cfg:     cfg,
		clock:   clock,
		send:    send,
		metrics: metrics,
		log:     logging.L("sampler").With("sampler", "video"),
	}
}

// Update sets the inputs the sampler derives its behaviour from. Calling it
// with unchanged values is a no-op.
func (v *Video) Update(connected bool, stream capture.VideoStream) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if connected == v.connected && stream == v.stream {
		return
	}
	v.connected = connected
	v.stream = stream
	v.epoch++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	if v.active() {
		v.scheduleLocked(0)
	}
}

// Running reports whether a sample is scheduled.
func (v *Video) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.timer != nil
}

// Metrics returns the counters shared with the audio path.
func (v *Video) Metrics() *media.StreamMetrics {
	return v.metrics
}

func (v *Video) active() bool {
	return v.connected && v.stream != nil
}

func (v *Video) scheduleLocked(d time.Duration) {
	epoch := v.epoch
	v.timer = v.clock.AfterFunc(d, func() { v.tick(epoch) })
}

// tick holds mu while sampling so a concurrent Update (disconnect) waits for
// an in-flight frame instead of racing it onto the wire.
func (v *Video) tick(epoch uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if epoch != v.epoch || !v.active() {
		return
	}
	v.timer = nil
	v.sampleLocked()

	if epoch == v.epoch && v.active() {
		v.scheduleLocked(v.cfg.Interval)
	}
}

func (v *Video) sampleLocked() {
	v.metrics.RecordSample()

	var (
		chunk media.Chunk
		err   error
	)
	start := time.Now()
	ok := v.stream.ViewFrame(func(img image.Image) {
		chunk, err = media.EncodeFrame(img, v.cfg.ScaleFactor, v.cfg.Quality)
	})
	if !ok || errors.Is(err, media.ErrEmptyFrame) {
		v.metrics.RecordSkip()
		return
	}
	if err != nil {
		v.metrics.RecordSkip()
		v.log.Warn("frame encode failed", logging.KeyError, err.Error())
		return
	}
	encodeTime := time.Since(start)

	if v.send == nil {
		return
	}
	if err := v.send([]media.Chunk{chunk}); err != nil {
		v.log.Debug("frame not sent", logging.KeyError, err.Error())
		return
	}
	v.metrics.RecordFrameSent(encodeTime, len(chunk.Data))
}
