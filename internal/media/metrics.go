package media

import (
	"sync"
	"time"
)

// StreamMetrics counts what a connected session sampled and sent.
type StreamMetrics struct {
	mu sync.RWMutex

	FramesSampled uint64
	FramesSent    uint64
	FramesSkipped uint64
	AudioChunks   uint64

	LastEncodeTime time.Duration
	LastFrameSize  int
	TotalBytesSent uint64
	startTime      time.Time
}

func NewStreamMetrics() *StreamMetrics {
	return &StreamMetrics{startTime: time.Now()}
}

// Reset zeroes every counter and restarts the uptime clock.
func (m *StreamMetrics) Reset() {
	m.mu.Lock()
	m.FramesSampled = 0
	m.FramesSent = 0
	m.FramesSkipped = 0
	m.AudioChunks = 0
	m.LastEncodeTime = 0
	m.LastFrameSize = 0
	m.TotalBytesSent = 0
	m.startTime = time.Now()
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordSample() {
	m.mu.Lock()
	m.FramesSampled++
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordSkip() {
	m.mu.Lock()
	m.FramesSkipped++
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordFrameSent(d time.Duration, size int) {
	m.mu.Lock()
	m.FramesSent++
	m.LastEncodeTime = d
	m.LastFrameSize = size
	m.TotalBytesSent += uint64(size)
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordAudioSent(size int) {
	m.mu.Lock()
	m.AudioChunks++
	m.TotalBytesSent += uint64(size)
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of metrics for logging.
type MetricsSnapshot struct {
	FramesSampled uint64
	FramesSent    uint64
	FramesSkipped uint64
	AudioChunks   uint64
	EncodeMs      float64
	LastFrameSize int
	BandwidthKBps float64
	Uptime        time.Duration
}

func (m *StreamMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	bw := float64(0)
	if uptime.Seconds() > 0 {
		bw = float64(m.TotalBytesSent) / uptime.Seconds() / 1024.0
	}

	return MetricsSnapshot{
		FramesSampled: m.FramesSampled,
		FramesSent:    m.FramesSent,
		FramesSkipped: m.FramesSkipped,
		AudioChunks:   m.AudioChunks,
		EncodeMs:      float64(m.LastEncodeTime.Microseconds()) / 1000.0,
		LastFrameSize: m.LastFrameSize,
		BandwidthKBps: bw,
		Uptime:        uptime,
	}
}
