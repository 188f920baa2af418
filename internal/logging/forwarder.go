package logging

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultForwardBuffer = 256

// Entry is a single log record handed to a Forwarder sink.
type Entry struct {
	Timestamp time.Time
	Level     string
	Component string
	Message   string
	Fields    map[string]any
}

// ForwarderConfig configures the record forwarder.
type ForwarderConfig struct {
	Sink       func(Entry)
	MinLevel   string // "debug", "info", "warn", "error"
	BufferSize int
}

// Forwarder buffers log entries and delivers them to a sink on its own
// goroutine so a slow consumer never blocks the logging call site.
type Forwarder struct {
	sink         func(Entry)
	buffer       chan Entry
	stopChan     chan struct{}
	wg           sync.WaitGroup
	stopOnce     sync.Once
	minLevel     slog.Level
	mu           sync.RWMutex // protects minLevel
	droppedCount atomic.Int64
}

// NewForwarder creates a new forwarder. A nil sink discards entries.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultForwardBuffer
	}
	sink := cfg.Sink
	if sink == nil {
		sink = func(Entry) {}
	}
	return &Forwarder{
		sink:     sink,
		buffer:   make(chan Entry, size),
		stopChan: make(chan struct{}),
		minLevel: parseLevel(cfg.MinLevel),
	}
}

// Start begins the delivery loop.
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go f.deliverLoop()
}

// Stop flushes buffered entries and stops the delivery loop.
// Safe to call multiple times.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopChan)
	})
	f.wg.Wait()
}

// Enqueue adds an entry to the buffer. Non-blocking; drops if the buffer is full.
func (f *Forwarder) Enqueue(entry Entry) {
	select {
	case f.buffer <- entry:
	default:
		dropped := f.droppedCount.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			fmt.Fprintf(os.Stderr, "[log-forwarder] buffer full, dropped %d log entries\n", dropped)
		}
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (f *Forwarder) Dropped() int64 {
	return f.droppedCount.Load()
}

// SetMinLevel dynamically adjusts the minimum forwarding level.
func (f *Forwarder) SetMinLevel(level string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minLevel = parseLevel(level)
}

// ShouldForward returns true if the given level meets the minimum threshold.
func (f *Forwarder) ShouldForward(level slog.Level) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return level >= f.minLevel
}

func (f *Forwarder) deliverLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopChan:
			for {
				select {
				case entry := <-f.buffer:
					f.sink(entry)
				default:
					return
				}
			}
		case entry := <-f.buffer:
			f.sink(entry)
		}
	}
}
