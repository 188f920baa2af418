// Package media holds the encoded payloads sent to the live model and the
// conversions that produce them.
package media

import (
	"encoding/base64"
	"strings"
)

// Mime types accepted by the realtime input endpoint.
const (
	MimeAudioPCM = "audio/pcm;rate=16000"
	MimeJPEG     = "image/jpeg"
)

// TargetSampleRate is the rate of every outgoing audio chunk.
const TargetSampleRate = 16000

// Chunk is one realtime input payload. Data is base64 without a data-URI
// prefix.
type Chunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NewAudioChunk encodes mono 16 kHz samples as a PCM16LE chunk.
func NewAudioChunk(samples []int16) Chunk {
	return Chunk{
		MimeType: MimeAudioPCM,
		Data:     base64.StdEncoding.EncodeToString(PCM16LE(samples)),
	}
}

// NewImageChunk wraps an encoded JPEG.
func NewImageChunk(jpegData []byte) Chunk {
	return Chunk{
		MimeType: MimeJPEG,
		Data:     base64.StdEncoding.EncodeToString(jpegData),
	}
}

// StripDataURI removes a "data:<mime>;base64," prefix if present.
func StripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, ","); i >= 0 {
		return s[i+1:]
	}
	return s
}
