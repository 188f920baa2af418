// Package console is the terminal front end of a live session.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/gupsammy/MacJarvis/internal/capture"
	"github.com/gupsammy/MacJarvis/internal/health"
	"github.com/gupsammy/MacJarvis/internal/liveapi"
	"github.com/gupsammy/MacJarvis/internal/logging"
	"github.com/gupsammy/MacJarvis/internal/session"
	"github.com/gupsammy/MacJarvis/internal/workerpool"
)

// Controller is the part of the session coordinator the console drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect()
	RequestVideoSource(ctx context.Context, kind capture.Kind) (capture.VideoStream, error)
	StopActiveVideo()
	ToggleMute() bool
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()
	OnVideoStreamChange(fn func(capture.VideoStream)) func()
}

// Chat sends typed turns and relays model responses.
type Chat interface {
	SendText(text string) error
	OnContent(fn func(liveapi.Content)) func()
}

// Console renders the session state, the transcript and an input line.
type Console struct {
	ctrl   Controller
	chat   Chat
	health *health.Monitor
	log    *slog.Logger

	app        *tview.Application
	status     *tview.TextView
	transcript *tview.TextView
	input      *tview.InputField

	dirty chan struct{}

	actions *workerpool.Pool

	mu      sync.Mutex
	pending []string
}

// New builds the console. mon may be nil.
func New(ctrl Controller, chat Chat, mon *health.Monitor) *Console {
	c := &Console{
		ctrl:   ctrl,
		chat:   chat,
		health: mon,
		log:    logging.L("console"),
		app:    tview.NewApplication(),
		dirty:  make(chan struct{}, 1),

		actions: workerpool.New(1),
	}

	c.status = tview.NewTextView().SetDynamicColors(true)
	c.transcript = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true).
		ScrollToEnd()
	c.transcript.SetBorder(true).SetTitle(" MacJarvis ")
	c.input = tview.NewInputField().
		SetLabel("you ❯ ").
		SetFieldWidth(0)

	help := tview.NewTextView().SetDynamicColors(true).SetText(helpText)

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.status, 1, 0, false).
		AddItem(c.transcript, 0, 1, false).
		AddItem(c.input, 1, 0, true).
		AddItem(help, 1, 0, false)

	c.input.SetDoneFunc(c.handleInput)
	c.app.SetInputCapture(c.handleKey)
	c.app.SetRoot(layout, true).SetFocus(c.input)
	return c
}

// Run blocks until the user quits or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubs := []func(){
		c.ctrl.Subscribe(func(session.Snapshot) { c.markDirty() }),
		c.ctrl.OnVideoStreamChange(c.handleVideo),
	}
	if c.chat != nil {
		unsubs = append(unsubs, c.chat.OnContent(c.handleContent))
	}
	if c.health != nil {
		unsubs = append(unsubs, c.health.Watch(func(health.Check) { c.markDirty() }))
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer drainCancel()
		c.actions.Shutdown(drainCtx)
	}()

	c.status.SetText(c.statusLine())
	fmt.Fprintln(c.transcript, "[gray]Press F2 to connect.[-]")

	go c.refreshLoop(ctx)
	go func() {
		<-ctx.Done()
		c.app.Stop()
	}()

	return c.app.Run()
}

func (c *Console) statusLine() string {
	line := ""
	if c.health != nil {
		line = c.health.Line()
	}
	return renderStatus(c.ctrl.Snapshot(), line)
}

func (c *Console) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

// refreshLoop coalesces state changes into at most one redraw per tick so
// volume updates cannot flood the event loop.
func (c *Console) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		select {
		case <-c.dirty:
		default:
			continue
		}

		line := c.statusLine()
		c.mu.Lock()
		lines := c.pending
		c.pending = nil
		c.mu.Unlock()

		c.app.QueueUpdateDraw(func() {
			c.status.SetText(line)
			for _, l := range lines {
				fmt.Fprint(c.transcript, l)
			}
			if len(lines) > 0 {
				c.transcript.ScrollToEnd()
			}
		})
	}
}

// say queues a transcript line from any goroutine.
func (c *Console) say(format string, args ...any) {
	c.print(fmt.Sprintf(format, args...) + "\n")
}

func (c *Console) print(s string) {
	c.mu.Lock()
	c.pending = append(c.pending, s)
	c.mu.Unlock()
	c.markDirty()
}

func (c *Console) handleContent(ct liveapi.Content) {
	if s := formatContent(ct); s != "" {
		c.print(s)
	}
}

// ShowLog mirrors a log record into the transcript. It is a
// logging.Forwarder sink.
func (c *Console) ShowLog(e logging.Entry) {
	c.print(formatLog(e))
}

func (c *Console) handleVideo(st capture.VideoStream) {
	if st == nil {
		c.say("[gray]video off[-]")
		return
	}
	c.say("[gray]sharing %s[-]", st.Kind())
}

// handleKey runs on the event loop; anything touching devices or the
// network is moved off it.
func (c *Console) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	switch ev.Key() {
	case tcell.KeyF2:
		c.async("connect", c.toggleConnection)
	case tcell.KeyF3:
		c.async("mute", func(context.Context) error {
			c.ctrl.ToggleMute()
			return nil
		})
	case tcell.KeyF4:
		c.async("webcam", func(ctx context.Context) error { return c.toggleVideo(ctx, capture.Webcam) })
	case tcell.KeyF5:
		c.async("screen", func(ctx context.Context) error { return c.toggleVideo(ctx, capture.Screen) })
	case tcell.KeyCtrlC:
		c.app.Stop()
		return nil
	default:
		return ev
	}
	return nil
}

func (c *Console) handleInput(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	text := strings.TrimSpace(c.input.GetText())
	if text == "" {
		return
	}
	c.input.SetText("")
	fmt.Fprintf(c.transcript, "[blue]you[-]: %s\n", tview.Escape(text))
	c.transcript.ScrollToEnd()

	if c.chat == nil {
		return
	}
	go func() {
		if err := c.chat.SendText(text); err != nil {
			c.say("[red]send failed: %s[-]", tview.Escape(describe(err)))
		}
	}()
}

// async runs one user action at a time; keys pressed while a device
// prompt is pending are ignored.
func (c *Console) async(name string, fn func(context.Context) error) {
	ok := c.actions.Submit(func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			c.log.Warn("action failed", "action", name, logging.KeyError, err.Error())
			c.say("[red]%s: %s[-]", name, tview.Escape(describe(err)))
		}
	})
	if !ok {
		c.say("[gray]busy, %s ignored[-]", name)
	}
}

func (c *Console) toggleConnection(ctx context.Context) error {
	if c.ctrl.Snapshot().Connected {
		c.ctrl.Disconnect()
		c.say("[gray]disconnected[-]")
		return nil
	}
	c.say("[gray]connecting...[-]")
	if err := c.ctrl.Connect(ctx); err != nil {
		return err
	}
	c.say("[green]connected[-]")
	return nil
}

func (c *Console) toggleVideo(ctx context.Context, kind capture.Kind) error {
	if c.ctrl.Snapshot().Active == kind {
		c.ctrl.StopActiveVideo()
		return nil
	}
	_, err := c.ctrl.RequestVideoSource(ctx, kind)
	return err
}

// describe turns capture and connection errors into short user messages.
func describe(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission denied; allow access in System Settings > Privacy & Security"
	case errors.Is(err, capture.ErrNoSourceFound):
		return "no screen available to share"
	case errors.Is(err, capture.ErrNotSupported):
		return "capture is not supported in this build"
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "device unavailable: " + err.Error()
	case errors.Is(err, liveapi.ErrNotConnected):
		return "not connected; press F2"
	}
	return err.Error()
}
