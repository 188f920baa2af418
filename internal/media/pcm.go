package media

import (
	"encoding/binary"
	"math"
)

// PCM16LE serializes samples as little-endian 16-bit PCM.
func PCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16LE is the inverse of PCM16LE. A trailing odd byte is ignored.
func DecodePCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// RMS returns the root mean square of samples normalized to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func floatToPCM16(v float64) int16 {
	s := math.Round(v * 32768.0)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

// Resampler mixes interleaved input down to mono and converts it to the
// target rate. Downsampling averages the samples that fall into each output
// slot; upsampling repeats the last value. State carries across Write calls.
type Resampler struct {
	channels int
	ratio    float64 // input samples per output sample

	accum      float64
	accumCount int
	pos        float64
	last       float64
}

// NewResampler builds a converter from (rate, channels) to mono TargetSampleRate.
func NewResampler(sampleRate, channels int) *Resampler {
	if channels < 1 {
		channels = 1
	}
	if sampleRate <= 0 {
		sampleRate = TargetSampleRate
	}
	return &Resampler{
		channels: channels,
		ratio:    float64(sampleRate) / float64(TargetSampleRate),
	}
}

// WriteInt16 converts interleaved int16 frames and appends to dst.
func (r *Resampler) WriteInt16(dst []int16, interleaved []int16) []int16 {
	frames := len(interleaved) / r.channels
	for i := 0; i < frames; i++ {
		var mono float64
		for ch := 0; ch < r.channels; ch++ {
			mono += float64(interleaved[i*r.channels+ch]) / 32768.0
		}
		dst = r.push(dst, mono/float64(r.channels))
	}
	return dst
}

// WriteFloat32 converts interleaved float32 frames in [-1, 1] and appends to dst.
func (r *Resampler) WriteFloat32(dst []int16, interleaved []float32) []int16 {
	frames := len(interleaved) / r.channels
	for i := 0; i < frames; i++ {
		var mono float64
		for ch := 0; ch < r.channels; ch++ {
			mono += float64(interleaved[i*r.channels+ch])
		}
		dst = r.push(dst, mono/float64(r.channels))
	}
	return dst
}

func (r *Resampler) push(dst []int16, mono float64) []int16 {
	r.accum += mono
	r.accumCount++
	r.pos++

	for r.pos >= r.ratio {
		if r.accumCount > 0 {
			r.last = r.accum / float64(r.accumCount)
			r.accum = 0
			r.accumCount = 0
		}
		dst = append(dst, floatToPCM16(r.last))
		r.pos -= r.ratio
	}
	return dst
}

// Chunker cuts a continuous sample stream into fixed-size chunks.
type Chunker struct {
	size int
	buf  []int16
}

func NewChunker(size int) *Chunker {
	if size < 1 {
		size = 2048
	}
	return &Chunker{size: size, buf: make([]int16, 0, size)}
}

// Write appends samples and calls emit for every full chunk. The slice
// passed to emit is owned by the callee.
func (c *Chunker) Write(samples []int16, emit func([]int16)) {
	for len(samples) > 0 {
		n := c.size - len(c.buf)
		if n > len(samples) {
			n = len(samples)
		}
		c.buf = append(c.buf, samples[:n]...)
		samples = samples[n:]

		if len(c.buf) == c.size {
			out := make([]int16, c.size)
			copy(out, c.buf)
			c.buf = c.buf[:0]
			emit(out)
		}
	}
}

// Buffered returns how many samples are waiting for a full chunk.
func (c *Chunker) Buffered() int {
	return len(c.buf)
}

// VolumeMeter reports a smoothed level once per window of audio:
// level = max(rms, previous*0.7).
type VolumeMeter struct {
	window int
	sum    float64
	count  int
	level  float64
}

const volumeDecay = 0.7

// NewVolumeMeter measures windows of windowSamples mono samples.
func NewVolumeMeter(windowSamples int) *VolumeMeter {
	if windowSamples < 1 {
		windowSamples = 400
	}
	return &VolumeMeter{window: windowSamples}
}

// Write feeds samples and calls emit with the level at the end of each window.
func (v *VolumeMeter) Write(samples []int16, emit func(float64)) {
	for _, s := range samples {
		f := float64(s) / 32768.0
		v.sum += f * f
		v.count++
		if v.count == v.window {
			rms := math.Sqrt(v.sum / float64(v.count))
			v.level = math.Max(rms, v.level*volumeDecay)
			v.sum = 0
			v.count = 0
			emit(v.level)
		}
	}
}

// Level returns the most recent smoothed level.
func (v *VolumeMeter) Level() float64 {
	return v.level
}
