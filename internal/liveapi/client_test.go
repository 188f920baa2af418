package liveapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gupsammy/MacJarvis/internal/media"
	"github.com/gupsammy/MacJarvis/internal/secmem"
)

type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	noSetup bool
	key     string
	setup   map[string]any
	conn    *websocket.Conn

	received chan map[string]any
	ready    chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:        t,
		received: make(chan map[string]any, 16),
		ready:    make(chan struct{}, 1),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var setup map[string]any
	if err := conn.ReadJSON(&setup); err != nil {
		return
	}
	fs.mu.Lock()
	fs.key = r.URL.Query().Get("key")
	fs.setup = setup
	fs.conn = conn
	noSetup := fs.noSetup
	fs.mu.Unlock()

	if noSetup {
		time.Sleep(2 * time.Second)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(`{"setupComplete":{}}`)); err != nil {
		return
	}
	fs.ready <- struct{}{}

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		fs.received <- msg
	}
}

func (fs *fakeServer) push(msg string) {
	fs.t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		fs.t.Fatalf("push: %v", err)
	}
}

func (fs *fakeServer) closeConn() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.conn.Close()
}

func (fs *fakeServer) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-fs.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

func connectClient(t *testing.T, fs *fakeServer, cfg Config) *Client {
	t.Helper()
	cfg.URL = fs.url()
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	c := New(cfg, secmem.NewSecureString("test-key-123456"))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	<-fs.ready
	return c
}

func TestConnectSendsSetup(t *testing.T) {
	fs := newFakeServer(t)
	c := connectClient(t, fs, Config{
		Model:             "models/test",
		ResponseModality:  "audio",
		Voice:             "Puck",
		SystemInstruction: "be brief",
	})

	if !c.Connected() || c.SessionID() == "" {
		t.Fatal("client should be connected with a session id")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.key != "test-key-123456" {
		t.Errorf("key = %q", fs.key)
	}
	raw, _ := json.Marshal(fs.setup)
	s := string(raw)
	for _, want := range []string{`"model":"models/test"`, `"responseModalities":["AUDIO"]`, `"voiceName":"Puck"`, `"text":"be brief"`} {
		if !strings.Contains(s, want) {
			t.Errorf("setup %s missing %s", s, want)
		}
	}
}

func TestConnectWithoutKeyFails(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1"}, nil)
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("err = %v, want ErrConnectionFailure", err)
	}
}

func TestConnectDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c := New(Config{URL: url, ConnectTimeout: time.Second}, secmem.NewSecureString("k"))
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("err = %v, want ErrConnectionFailure", err)
	}
	if strings.Contains(err.Error(), "key=k") {
		t.Fatalf("error leaks the key: %v", err)
	}
	if c.Connected() {
		t.Fatal("failed connect must not report connected")
	}
}

func TestConnectTimesOutWithoutSetupComplete(t *testing.T) {
	fs := newFakeServer(t)
	fs.mu.Lock()
	fs.noSetup = true
	fs.mu.Unlock()

	c := New(Config{URL: fs.url(), ConnectTimeout: 200 * time.Millisecond}, secmem.NewSecureString("k"))
	start := time.Now()
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("err = %v, want ErrConnectionFailure", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("connect should give up at the timeout")
	}
}

func TestSendRealtimeInput(t *testing.T) {
	fs := newFakeServer(t)
	c := connectClient(t, fs, Config{})

	chunk := media.NewAudioChunk(make([]int16, 4))
	if err := c.SendRealtimeInput([]media.Chunk{chunk}); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}

	msg := fs.next(t)
	ri, ok := msg["realtimeInput"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected message %v", msg)
	}
	chunks := ri["mediaChunks"].([]any)
	first := chunks[0].(map[string]any)
	if first["mimeType"] != media.MimeAudioPCM || first["data"] != chunk.Data {
		t.Fatalf("chunk = %v", first)
	}
}

func TestSendText(t *testing.T) {
	fs := newFakeServer(t)
	c := connectClient(t, fs, Config{})

	if err := c.SendText("  hello  "); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	raw, _ := json.Marshal(fs.next(t))
	want := `{"clientContent":{"turnComplete":true,"turns":[{"parts":[{"text":"hello"}],"role":"user"}]}}`
	if string(raw) != want {
		t.Fatalf("message = %s\nwant %s", raw, want)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Config{}, secmem.NewSecureString("k"))
	err := c.SendRealtimeInput([]media.Chunk{media.NewImageChunk([]byte{1})})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestContentAndVolumeListeners(t *testing.T) {
	fs := newFakeServer(t)
	c := connectClient(t, fs, Config{})

	contents := make(chan Content, 4)
	levels := make(chan float64, 4)
	defer c.OnContent(func(ct Content) { contents <- ct })()
	defer c.OnVolume(func(l float64) { levels <- l })()

	loud := make([]int16, 160)
	for i := range loud {
		loud[i] = 16384
	}
	audio := base64.StdEncoding.EncodeToString(media.PCM16LE(loud))
	fs.push(`{"serverContent":{"modelTurn":{"parts":[{"text":"hi "},{"text":"there"},{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + audio + `"}}]}}}`)
	fs.push(`{"serverContent":{"turnComplete":true}}`)

	select {
	case l := <-levels:
		if l < 0.49 || l > 0.51 {
			t.Fatalf("level = %f, want ~0.5", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for volume")
	}

	want := []Content{{Text: "hi there"}, {TurnComplete: true}}
	for _, w := range want {
		select {
		case got := <-contents:
			if got != w {
				t.Fatalf("content = %+v, want %+v", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for content")
		}
	}
}

func TestStatusListener(t *testing.T) {
	fs := newFakeServer(t)
	c := New(Config{URL: fs.url(), ConnectTimeout: 2 * time.Second}, secmem.NewSecureString("k"))

	statuses := make(chan bool, 4)
	unsub := c.OnStatus(func(up bool) { statuses <- up })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-fs.ready
	if up := <-statuses; !up {
		t.Fatal("expected connected status")
	}

	c.Disconnect()
	c.Disconnect()
	if up := <-statuses; up {
		t.Fatal("expected disconnected status")
	}
	select {
	case s := <-statuses:
		t.Fatalf("extra status %v", s)
	case <-time.After(50 * time.Millisecond):
	}

	unsub()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	<-fs.ready
	defer c.Disconnect()
	select {
	case s := <-statuses:
		t.Fatalf("unsubscribed listener got %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectionLossReported(t *testing.T) {
	fs := newFakeServer(t)
	c := connectClient(t, fs, Config{})

	lost := make(chan bool, 1)
	defer c.OnStatus(func(up bool) { lost <- up })()

	fs.closeConn()

	select {
	case up := <-lost:
		if up {
			t.Fatal("expected disconnected status")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss not reported")
	}
	if c.Connected() {
		t.Fatal("client should be disconnected after loss")
	}
	if err := c.SendText("x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendText after loss = %v", err)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models" || r.URL.Query().Get("key") != "k" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("pageToken") == "" {
			w.Write([]byte(`{"models":[{"name":"models/a","supportedGenerationMethods":["generateContent"]}],"nextPageToken":"p2"}`))
			return
		}
		w.Write([]byte(`{"models":[{"name":"models/live","supportedGenerationMethods":["bidiGenerateContent"]}]}`))
	}))
	defer srv.Close()

	c := New(Config{RESTURL: srv.URL + "/v1beta/"}, secmem.NewSecureString("k"))
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %v", models)
	}
	if models[0].SupportsLive() || !models[1].SupportsLive() {
		t.Fatalf("SupportsLive mismatch: %+v", models)
	}
}

func TestListModelsRejectedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "API key not valid", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{RESTURL: srv.URL}, secmem.NewSecureString("bad"))
	_, err := c.ListModels(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "key=bad") {
		t.Fatalf("error leaks the key: %v", err)
	}
}
