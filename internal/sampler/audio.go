package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gupsammy/MacJarvis/internal/capture"
	"github.com/gupsammy/MacJarvis/internal/logging"
	"github.com/gupsammy/MacJarvis/internal/media"
)

// AudioConfig controls microphone chunking.
type AudioConfig struct {
	ChunkSamples int // samples per chunk at 16 kHz (2048 = 128ms)
	VolumeWindow int // samples per volume update at 16 kHz (400 = 25ms)
}

func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		ChunkSamples: 2048,
		VolumeWindow: 400,
	}
}

// Audio records the microphone while started and hands each chunk to data
// listeners as base64 PCM16LE at 16 kHz mono.
type Audio struct {
	cfg    AudioConfig
	source *capture.Source
	log    *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}

	lmu      sync.Mutex
	nextID   int
	onData   map[int]func(string)
	onVolume map[int]func(float64)
}

func NewAudio(cfg AudioConfig, mic *capture.Source) *Audio {
	def := DefaultAudioConfig()
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = def.ChunkSamples
	}
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = def.VolumeWindow
	}
	return &Audio{
		cfg:      cfg,
		source:   mic,
		log:      logging.L("sampler").With("sampler", "audio"),
		onData:   make(map[int]func(string)),
		onVolume: make(map[int]func(float64)),
	}
}

// OnData registers fn for every encoded chunk. The returned func unregisters it.
func (a *Audio) OnData(fn func(base64 string)) func() {
	a.lmu.Lock()
	defer a.lmu.Unlock()
	id := a.nextID
	a.nextID++
	a.onData[id] = fn
	return func() {
		a.lmu.Lock()
		delete(a.onData, id)
		a.lmu.Unlock()
	}
}

// OnVolume registers fn for volume updates in [0, 1].
func (a *Audio) OnVolume(fn func(level float64)) func() {
	a.lmu.Lock()
	defer a.lmu.Unlock()
	id := a.nextID
	a.nextID++
	a.onVolume[id] = fn
	return func() {
		a.lmu.Lock()
		delete(a.onVolume, id)
		a.lmu.Unlock()
	}
}

// Running reports whether the microphone is being recorded. A recording
// whose device ended on its own is not running.
func (a *Audio) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aliveLocked()
}

func (a *Audio) aliveLocked() bool {
	if !a.running {
		return false
	}
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

// Start opens the microphone and begins a fresh recording. It is a no-op
// when already running.
func (a *Audio) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.aliveLocked() {
		return nil
	}
	if a.running {
		// Device ended underneath us; reap the old loop first
		a.source.Stop()
		<-a.done
		a.running = false
	}

	st, err := a.source.Start(ctx)
	if err != nil {
		return err
	}
	as, ok := st.(capture.AudioStream)
	if !ok {
		a.source.Stop()
		return fmt.Errorf("%w: microphone stream %T has no samples", capture.ErrNotSupported, st)
	}

	done := make(chan struct{})
	a.done = done
	a.running = true
	go a.record(as, done)
	a.log.Info("recording started")
	return nil
}

// Stop releases the microphone and waits for the recording loop to exit.
// Nothing buffered survives into the next Start.
func (a *Audio) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.source.Stop()
	<-a.done
	a.done = nil
	a.log.Info("recording stopped")
}

func (a *Audio) record(st capture.AudioStream, done chan struct{}) {
	defer close(done)

	chunker := media.NewChunker(a.cfg.ChunkSamples)
	meter := media.NewVolumeMeter(a.cfg.VolumeWindow)
	var (
		resampler *media.Resampler
		rate, ch  int
		mono      []int16
	)

	for {
		buf, err := st.ReadAudio()
		if err != nil {
			a.log.Debug("recording loop exit", logging.KeyError, err.Error())
			return
		}
		if resampler == nil || buf.SampleRate != rate || buf.Channels != ch {
			rate, ch = buf.SampleRate, buf.Channels
			resampler = media.NewResampler(rate, ch)
		}

		mono = mono[:0]
		if buf.Int16 != nil {
			mono = resampler.WriteInt16(mono, buf.Int16)
		} else {
			mono = resampler.WriteFloat32(mono, buf.Float32)
		}

		meter.Write(mono, a.emitVolume)
		chunker.Write(mono, func(samples []int16) {
			a.emitData(media.NewAudioChunk(samples).Data)
		})
	}
}

func (a *Audio) emitData(data string) {
	a.lmu.Lock()
	fns := make([]func(string), 0, len(a.onData))
	for _, fn := range a.onData {
		fns = append(fns, fn)
	}
	a.lmu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

func (a *Audio) emitVolume(level float64) {
	a.lmu.Lock()
	fns := make([]func(float64), 0, len(a.onVolume))
	for _, fn := range a.onVolume {
		fns = append(fns, fn)
	}
	a.lmu.Unlock()
	for _, fn := range fns {
		fn(level)
	}
}
