package console

import (
	"fmt"
	"math"
	"strings"

	"github.com/rivo/tview"

	"github.com/gupsammy/MacJarvis/internal/liveapi"
	"github.com/gupsammy/MacJarvis/internal/logging"
	"github.com/gupsammy/MacJarvis/internal/session"
)

const (
	minVolumeWidth = 5
	maxVolumeWidth = 8
)

// volumeWidth maps an input level to the meter width, clamp(level*200, 5, 8).
func volumeWidth(level float64) int {
	w := math.Max(minVolumeWidth, math.Min(level*200, maxVolumeWidth))
	return int(math.Round(w))
}

// volumeBar renders the meter padded to its maximum width so the status
// line does not jump.
func volumeBar(level float64) string {
	w := volumeWidth(level)
	return "[" + strings.Repeat("|", w) + strings.Repeat(" ", maxVolumeWidth-w) + "]"
}

// renderStatus builds the status line from the session state.
func renderStatus(snap session.Snapshot, healthLine string) string {
	var b strings.Builder
	if snap.Connected {
		b.WriteString("[green]connected[-]")
	} else {
		b.WriteString("[red]disconnected[-]")
	}

	b.WriteString("  mic ")
	switch {
	case snap.Muted:
		b.WriteString("[yellow]muted[-]")
	case snap.Recording:
		b.WriteString(volumeBar(snap.InVolume))
	default:
		b.WriteString("off")
	}

	b.WriteString("  video ")
	if snap.Active == "" {
		b.WriteString("none")
	} else {
		b.WriteString("[aqua]" + snap.Active.String() + "[-]")
	}

	if snap.OutVolume > 0 {
		fmt.Fprintf(&b, "  model %s", volumeBar(snap.OutVolume))
	}
	if healthLine != "" {
		b.WriteString("  [gray]" + healthLine + "[-]")
	}
	return b.String()
}

// formatContent renders one response fragment for the transcript. It returns
// "" when there is nothing to show.
func formatContent(c liveapi.Content) string {
	var b strings.Builder
	if c.Text != "" {
		b.WriteString(tview.Escape(c.Text))
	}
	if c.Interrupted {
		b.WriteString(" [yellow](interrupted)[-]\n")
	} else if c.TurnComplete {
		b.WriteString("\n")
	}
	return b.String()
}

func formatLog(e logging.Entry) string {
	color := "yellow"
	if strings.EqualFold(e.Level, "error") {
		color = "red"
	}
	msg := e.Message
	if v, ok := e.Fields[logging.KeyError]; ok {
		msg += ": " + fmt.Sprint(v)
	}
	return fmt.Sprintf("[%s]%s %s[-]\n", color, e.Component, tview.Escape(msg))
}

const helpText = "[gray]F2 connect/disconnect  F3 mute  F4 webcam  F5 screen  Enter send  Ctrl+C quit[-]"
