package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

// MediaDriver captures through pion/mediadevices. Device backends register
// themselves by blank import (camera, microphone, screen); without them every
// open fails with ErrDeviceUnavailable and ScreenSources is empty.
type MediaDriver struct{}

func NewMediaDriver() *MediaDriver {
	return &MediaDriver{}
}

func (d *MediaDriver) OpenMicrophone(ctx context.Context) (AudioStream, error) {
	ms, err := acquire(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Audio: func(c *mediadevices.MediaTrackConstraints) {
				c.ChannelCount = prop.Int(1)
				c.SampleRate = prop.Int(48000)
			},
		})
	})
	if err != nil {
		return nil, classify(Microphone, err)
	}

	tracks := ms.GetAudioTracks()
	if len(tracks) == 0 {
		closeTracks(ms.GetTracks())
		return nil, fmt.Errorf("%w: microphone returned no audio track", ErrDeviceUnavailable)
	}
	at, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		closeTracks(ms.GetTracks())
		return nil, fmt.Errorf("%w: unexpected audio track type %T", ErrNotSupported, tracks[0])
	}
	return newAudioStream(Microphone, at, ms.GetTracks()), nil
}

func (d *MediaDriver) OpenCamera(ctx context.Context, vc VideoConstraints) (VideoStream, error) {
	ms, err := acquire(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				if vc.Width > 0 {
					c.Width = prop.Int(vc.Width)
				}
				if vc.Height > 0 {
					c.Height = prop.Int(vc.Height)
				}
			},
		})
	})
	if err != nil {
		return nil, classify(Webcam, err)
	}
	return videoFromMedia(Webcam, ms)
}

// ScreenSources lists the registered screen capture devices. IDs carry the
// ScreenPrefix so selection prefers them over any window sources.
func (d *MediaDriver) ScreenSources(ctx context.Context) ([]ScreenSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sources []ScreenSource
	for _, info := range mediadevices.EnumerateDevices() {
		if info.DeviceType != driver.Screen {
			continue
		}
		name := info.Label
		if name == "" {
			name = info.DeviceID
		}
		sources = append(sources, ScreenSource{
			ID:   ScreenPrefix + info.DeviceID,
			Name: name,
		})
	}
	return sources, nil
}

func (d *MediaDriver) OpenScreen(ctx context.Context, sourceID string) (VideoStream, error) {
	deviceID := strings.TrimPrefix(sourceID, ScreenPrefix)
	ms, err := acquire(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.DeviceID = prop.StringExact(deviceID)
			},
		})
	})
	if err != nil {
		return nil, classify(Screen, err)
	}
	return videoFromMedia(Screen, ms)
}

func videoFromMedia(kind Kind, ms mediadevices.MediaStream) (VideoStream, error) {
	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		closeTracks(ms.GetTracks())
		return nil, fmt.Errorf("%w: %s returned no video track", ErrDeviceUnavailable, kind)
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeTracks(ms.GetTracks())
		return nil, fmt.Errorf("%w: unexpected video track type %T", ErrNotSupported, tracks[0])
	}
	return newVideoStream(kind, vt, ms.GetTracks()), nil
}

// acquire runs a blocking device open and honours ctx. A stream that arrives
// after ctx is done is closed.
func acquire(ctx context.Context, open func() (mediadevices.MediaStream, error)) (mediadevices.MediaStream, error) {
	type result struct {
		ms  mediadevices.MediaStream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ms, err := open()
		ch <- result{ms: ms, err: err}
	}()

	select {
	case r := <-ch:
		return r.ms, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil && r.ms != nil {
				closeTracks(r.ms.GetTracks())
			}
		}()
		return nil, ctx.Err()
	}
}

// classify maps driver error text onto the capture sentinels.
func classify(kind Kind, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"),
		strings.Contains(msg, "denied"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, kind, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, kind, err)
	}
}

func closeTracks(tracks []mediadevices.Track) {
	for _, t := range tracks {
		t.Close()
	}
}

// trackStream holds the state shared by audio and video streams.
type trackStream struct {
	id     string
	kind   Kind
	tracks []mediadevices.Track

	mu       sync.Mutex
	ended    bool
	endErr   error
	handlers []func(error)

	closed    atomic.Bool
	closeOnce sync.Once
}

func newTrackStream(kind Kind, tracks []mediadevices.Track) *trackStream {
	ts := &trackStream{
		id:     uuid.NewString(),
		kind:   kind,
		tracks: tracks,
	}
	for _, t := range tracks {
		t.OnEnded(ts.fireEnded)
	}
	return ts
}

func (ts *trackStream) ID() string { return ts.id }
func (ts *trackStream) Kind() Kind { return ts.kind }

func (ts *trackStream) OnEnded(fn func(err error)) {
	ts.mu.Lock()
	if ts.ended {
		err := ts.endErr
		ts.mu.Unlock()
		fn(err)
		return
	}
	ts.handlers = append(ts.handlers, fn)
	ts.mu.Unlock()
}

func (ts *trackStream) fireEnded(err error) {
	if ts.closed.Load() {
		return
	}
	ts.mu.Lock()
	if ts.ended {
		ts.mu.Unlock()
		return
	}
	ts.ended = true
	ts.endErr = err
	handlers := ts.handlers
	ts.handlers = nil
	ts.mu.Unlock()

	for _, fn := range handlers {
		fn(err)
	}
}

func (ts *trackStream) closeTracks() {
	ts.closeOnce.Do(func() {
		ts.closed.Store(true)
		closeTracks(ts.tracks)
	})
}

type audioStream struct {
	*trackStream
	reader audio.Reader
}

func newAudioStream(kind Kind, track *mediadevices.AudioTrack, all []mediadevices.Track) *audioStream {
	return &audioStream{
		trackStream: newTrackStream(kind, all),
		reader:      track.NewReader(false),
	}
}

func (a *audioStream) ReadAudio() (AudioBuffer, error) {
	if a.closed.Load() {
		return AudioBuffer{}, fmt.Errorf("%w: stream closed", ErrDeviceUnavailable)
	}
	chunk, release, err := a.reader.Read()
	if err != nil {
		a.fireEnded(err)
		return AudioBuffer{}, err
	}
	defer release()

	info := chunk.ChunkInfo()
	buf := AudioBuffer{SampleRate: info.SamplingRate, Channels: info.Channels}
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		buf.Int16 = append([]int16(nil), c.Data...)
	case *wave.Float32Interleaved:
		buf.Float32 = append([]float32(nil), c.Data...)
	default:
		return AudioBuffer{}, fmt.Errorf("%w: audio format %T", ErrNotSupported, chunk)
	}
	return buf, nil
}

func (a *audioStream) Close() error {
	a.closeTracks()
	return nil
}

type videoStream struct {
	*trackStream
	done chan struct{}

	frameMu sync.Mutex
	frame   image.Image
	release func()
}

func newVideoStream(kind Kind, track *mediadevices.VideoTrack, all []mediadevices.Track) *videoStream {
	v := &videoStream{
		trackStream: newTrackStream(kind, all),
		done:        make(chan struct{}),
	}
	go v.readLoop(track.NewReader(true))
	return v
}

// readLoop keeps the latest frame so sampling never waits on the device.
func (v *videoStream) readLoop(r video.Reader) {
	for {
		img, release, err := r.Read()
		if err != nil {
			v.fireEnded(err)
			return
		}
		select {
		case <-v.done:
			release()
			return
		default:
		}

		v.frameMu.Lock()
		if v.release != nil {
			v.release()
		}
		v.frame, v.release = img, release
		v.frameMu.Unlock()
	}
}

func (v *videoStream) ViewFrame(fn func(img image.Image)) bool {
	v.frameMu.Lock()
	defer v.frameMu.Unlock()
	if v.frame == nil {
		return false
	}
	fn(v.frame)
	return true
}

func (v *videoStream) Close() error {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		close(v.done)
		closeTracks(v.tracks)
	})

	v.frameMu.Lock()
	if v.release != nil {
		v.release()
	}
	v.frame, v.release = nil, nil
	v.frameMu.Unlock()
	return nil
}
