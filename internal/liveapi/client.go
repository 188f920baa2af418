// Package liveapi is the websocket client for the Gemini Live bidirectional
// streaming endpoint.
package liveapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gupsammy/MacJarvis/internal/config"
	"github.com/gupsammy/MacJarvis/internal/logging"
	"github.com/gupsammy/MacJarvis/internal/media"
	"github.com/gupsammy/MacJarvis/internal/secmem"
)

var log = logging.L("liveapi")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024 * 1024
	sendQueueSize  = 256
)

var (
	// ErrConnectionFailure wraps every failure to establish a session.
	ErrConnectionFailure = errors.New("connection failure")
	ErrNotConnected      = errors.New("not connected")
	ErrSendQueueFull     = errors.New("send queue full")
)

// Config holds the connection settings.
type Config struct {
	URL               string
	RESTURL           string
	Model             string
	ResponseModality  string
	Voice             string
	SystemInstruction string
	ConnectTimeout    time.Duration
}

// ConfigFrom derives client settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		URL:               cfg.APIURL,
		RESTURL:           cfg.RESTURL,
		Model:             cfg.Model,
		ResponseModality:  cfg.ResponseModality,
		Voice:             cfg.Voice,
		SystemInstruction: cfg.SystemInstruction,
		ConnectTimeout:    time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
	}
}

// Client manages one live session at a time. It never reconnects on its
// own; a lost connection is reported to status listeners.
type Client struct {
	cfg    Config
	key    *secmem.SecureString
	dialer websocket.Dialer

	mu   sync.Mutex
	sess *session

	lmu       sync.Mutex
	nextID    int
	onStatus  map[int]func(bool)
	onVolume  map[int]func(float64)
	onContent map[int]func(Content)
}

type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	log  *slog.Logger
	once sync.Once
}

func (s *session) close(graceful bool) {
	s.once.Do(func() {
		close(s.done)
		if graceful {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		s.conn.Close()
	})
}

// New creates a client. key is read on every Connect.
func New(cfg Config, key *secmem.SecureString) *Client {
	if cfg.URL == "" {
		cfg.URL = config.DefaultAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = config.DefaultModel
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	return &Client{
		cfg:       cfg,
		key:       key,
		dialer:    websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		onStatus:  make(map[int]func(bool)),
		onVolume:  make(map[int]func(float64)),
		onContent: make(map[int]func(Content)),
	}
}

// Connected reports whether a session is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// SessionID returns the id of the open session, or "" when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Connect dials the endpoint, sends the setup message and waits for the
// server to acknowledge it. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.key == nil || c.key.IsEmpty() {
		return fmt.Errorf("%w: no API key", ErrConnectionFailure)
	}
	endpoint, err := c.endpoint()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: handshake status %d", ErrConnectionFailure, resp.StatusCode)
		}
		return fmt.Errorf("%w: dial: %v", ErrConnectionFailure, err)
	}
	conn.SetReadLimit(maxMessageSize)

	deadline, _ := ctx.Deadline()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err = c.handshake(conn, deadline)
	if !stop() {
		err = fmt.Errorf("%w: %v", ErrConnectionFailure, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return err
	}

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	s.log = logging.WithSession(log, s.id)

	c.mu.Lock()
	if c.sess != nil {
		// Lost a race with a concurrent Connect
		c.mu.Unlock()
		s.close(true)
		return nil
	}
	c.sess = s
	c.mu.Unlock()

	go c.writePump(s)
	go c.readPump(s)

	s.log.Info("connected", "model", c.cfg.Model)
	c.emitStatus(true)
	return nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	q := u.Query()
	q.Set("key", c.key.Reveal())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) handshake(conn *websocket.Conn, deadline time.Time) error {
	data, err := json.Marshal(c.setupMessage())
	if err != nil {
		return fmt.Errorf("%w: marshal setup: %v", ErrConnectionFailure, err)
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: send setup: %v", ErrConnectionFailure, err)
	}

	conn.SetReadDeadline(deadline)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Text != "" {
				return fmt.Errorf("%w: closed by server: %s", ErrConnectionFailure, ce.Text)
			}
			return fmt.Errorf("%w: awaiting setup: %v", ErrConnectionFailure, err)
		}
		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn("failed to parse message", logging.KeyError, err.Error())
			continue
		}
		if msg.SetupComplete != nil {
			conn.SetWriteDeadline(time.Time{})
			return nil
		}
	}
}

func (c *Client) setupMessage() setupMessage {
	modality := strings.ToUpper(c.cfg.ResponseModality)
	if modality == "" {
		modality = "TEXT"
	}
	gen := &generationConfig{ResponseModalities: []string{modality}}
	if modality == "AUDIO" && c.cfg.Voice != "" {
		gen.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: c.cfg.Voice}},
		}
	}
	msg := setupMessage{Setup: setup{Model: c.cfg.Model, GenerationConfig: gen}}
	if c.cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: c.cfg.SystemInstruction}}}
	}
	return msg
}

// Disconnect closes the open session. Status listeners are told once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.close(true)
	s.log.Info("disconnected")
	c.emitStatus(false)
}

// drop ends s after a transport failure unless it was already replaced.
func (c *Client) drop(s *session, err error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.mu.Unlock()

	s.close(false)
	s.log.Warn("connection lost", logging.KeyError, err.Error())
	c.emitStatus(false)
}

// SendRealtimeInput queues media chunks. It never blocks; a full queue
// drops the chunks and reports ErrSendQueueFull.
func (c *Client) SendRealtimeInput(chunks []media.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return c.enqueue(realtimeInputMessage{RealtimeInput: realtimeInput{MediaChunks: chunks}})
}

// SendText sends a complete user turn.
func (c *Client) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.enqueue(clientContentMessage{ClientContent: clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}})
}

func (c *Client) enqueue(msg any) error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrNotConnected
	default:
		return ErrSendQueueFull
	}
}

func (c *Client) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.drop(s, fmt.Errorf("write: %w", err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drop(s, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (c *Client) readPump(s *session) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("closed by server: %w", err)
			}
			c.drop(s, err)
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Warn("failed to parse message", logging.KeyError, err.Error())
			continue
		}
		if msg.GoAway != nil {
			s.log.Warn("server is going away", "timeLeft", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil {
			c.handleContent(s, msg.ServerContent)
		}
	}
}

func (c *Client) handleContent(s *session, sc *serverContent) {
	out := Content{TurnComplete: sc.TurnComplete, Interrupted: sc.Interrupted}
	if sc.ModelTurn != nil {
		var text strings.Builder
		for _, p := range sc.ModelTurn.Parts {
			text.WriteString(p.Text)
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MimeType, "audio/pcm") {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(media.StripDataURI(p.InlineData.Data))
			if err != nil {
				s.log.Debug("bad inline audio", logging.KeyError, err.Error())
				continue
			}
			c.emitVolume(media.RMS(media.DecodePCM16LE(raw)))
		}
		out.Text = text.String()
	}
	if !out.empty() {
		c.emitContent(out)
	}
}

// OnStatus registers fn for connection status changes. The returned func
// unregisters it. Listeners run on the goroutine that observed the change
// and must not block.
func (c *Client) OnStatus(fn func(connected bool)) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.onStatus[id] = fn
	return func() {
		c.lmu.Lock()
		delete(c.onStatus, id)
		c.lmu.Unlock()
	}
}

// OnVolume registers fn for the level of received audio, in [0, 1].
func (c *Client) OnVolume(fn func(level float64)) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.onVolume[id] = fn
	return func() {
		c.lmu.Lock()
		delete(c.onVolume, id)
		c.lmu.Unlock()
	}
}

// OnContent registers fn for model responses.
func (c *Client) OnContent(fn func(Content)) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.onContent[id] = fn
	return func() {
		c.lmu.Lock()
		delete(c.onContent, id)
		c.lmu.Unlock()
	}
}

func (c *Client) emitStatus(connected bool) {
	c.lmu.Lock()
	fns := make([]func(bool), 0, len(c.onStatus))
	for _, fn := range c.onStatus {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

func (c *Client) emitVolume(level float64) {
	c.lmu.Lock()
	fns := make([]func(float64), 0, len(c.onVolume))
	for _, fn := range c.onVolume {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(level)
	}
}

func (c *Client) emitContent(ct Content) {
	c.lmu.Lock()
	fns := make([]func(Content), 0, len(c.onContent))
	for _, fn := range c.onContent {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(ct)
	}
}
