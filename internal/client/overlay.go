package client

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gookit/color"
)

// OverlayKind classifies what an overlay communicates.
type OverlayKind int

const (
	// OverlayReloading announces an imminent full reload.
	OverlayReloading OverlayKind = iota
	// OverlayError shows a build diagnostic.
	OverlayError
	// OverlayDisconnected shows that the broadcast server is unreachable.
	OverlayDisconnected
	// OverlayUpdateFailed shows that a module update could not be applied.
	OverlayUpdateFailed
)

// String returns the overlay kind name.
func (k OverlayKind) String() string {
	switch k {
	case OverlayReloading:
		return "reloading"
	case OverlayError:
		return "error"
	case OverlayDisconnected:
		return "disconnected"
	case OverlayUpdateFailed:
		return "update-failed"
	default:
		return fmt.Sprintf("OverlayKind(%d)", int(k))
	}
}

// Overlay is the status surface of a client runtime.
type Overlay interface {
	Show(kind OverlayKind, text string)
	Hide()
}

// TerminalOverlay renders overlay states as colored lines on a terminal.
type TerminalOverlay struct {
	mu      sync.Mutex
	w       io.Writer
	noColor bool
	visible bool
}

// NewTerminalOverlay writes to w, or stderr when w is nil.
func NewTerminalOverlay(w io.Writer, noColor bool) *TerminalOverlay {
	if w == nil {
		w = os.Stderr
	}

	return &TerminalOverlay{w: w, noColor: noColor}
}

// Show prints text styled for kind.
func (o *TerminalOverlay) Show(kind OverlayKind, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.visible = true

	label := "[" + kind.String() + "]"
	if !o.noColor {
		label = styleFor(kind).Sprint(label)
	}

	_, _ = fmt.Fprintf(o.w, "%s %s\n", label, strings.TrimRight(text, "\n"))
}

// Hide prints a cleared marker if something was visible.
func (o *TerminalOverlay) Hide() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.visible {
		return
	}

	o.visible = false

	label := "[ok]"
	if !o.noColor {
		label = color.Green.Sprint(label)
	}

	_, _ = fmt.Fprintln(o.w, label)
}

func styleFor(kind OverlayKind) color.Color {
	switch kind {
	case OverlayError, OverlayUpdateFailed:
		return color.Red
	case OverlayDisconnected:
		return color.Yellow
	default:
		return color.Cyan
	}
}
