package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by input senders while no connection is up.
// The caller sees every undeliverable command; none vanish in transit.
var ErrNotConnected = errors.New("stream not connected")

// event is the wire form of one input command.
type event struct {
	Type      string   `json:"type"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	DeltaX    float64  `json:"dx,omitempty"`
	DeltaY    float64  `json:"dy,omitempty"`
	Key       string   `json:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
	Text      string   `json:"text,omitempty"`
}

func (v *Viewer) send(e event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil {
		return ErrNotConnected
	}
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

func ptr(f float64) *float64 { return &f }

// MouseDown reports a pointer press at viewer coordinates. Frames are
// captured at the page's own size, so coordinates pass through unscaled.
func (v *Viewer) MouseDown(x, y float64) error {
	return v.send(event{Type: "mousedown", X: ptr(x), Y: ptr(y)})
}

// MouseUp reports a pointer release.
func (v *Viewer) MouseUp(x, y float64) error {
	return v.send(event{Type: "mouseup", X: ptr(x), Y: ptr(y)})
}

// MouseMove reports pointer motion. Moves beyond the rate cap are
// discarded here; moves are continuous and the next one supersedes them.
func (v *Viewer) MouseMove(x, y float64) error {
	if !v.moveLimiter.Allow() {
		return nil
	}
	return v.send(event{Type: "mousemove", X: ptr(x), Y: ptr(y)})
}

// Scroll reports wheel motion in pixels.
func (v *Viewer) Scroll(x, y, deltaX, deltaY float64) error {
	return v.send(event{Type: "scroll", X: ptr(x), Y: ptr(y), DeltaX: deltaX, DeltaY: deltaY})
}

// Keystroke forwards one keyboard event. A single printable character with
// no modifiers held goes as text insertion, which sidesteps keyboard
// layout differences between the operator's machine and the browser.
// The paste shortcut is resolved locally: a simulated chord inside the
// remote browser would hit that browser's clipboard, which is empty.
// Everything else goes as a key chord.
func (v *Viewer) Keystroke(key string, modifiers []string) error {
	if isPasteChord(key, modifiers) && v.opts.ReadClipboard != nil {
		return v.Paste()
	}
	if len(modifiers) == 0 && utf8.RuneCountInString(key) == 1 {
		return v.send(event{Type: "type", Text: key})
	}
	return v.send(event{Type: "keydown", Key: key, Modifiers: modifiers})
}

// isPasteChord matches Ctrl+V and Meta+V, whichever the operator's
// platform uses.
func isPasteChord(key string, modifiers []string) bool {
	if !strings.EqualFold(key, "v") || len(modifiers) == 0 {
		return false
	}
	for _, m := range modifiers {
		switch m {
		case "Control", "Ctrl", "Meta":
		default:
			return false
		}
	}
	return true
}

// Paste resolves the paste shortcut locally: the operator's clipboard is
// read here and inserted as one text event, since the browser's own
// clipboard is empty.
func (v *Viewer) Paste() error {
	if v.opts.ReadClipboard == nil {
		return v.send(event{Type: "keydown", Key: "v", Modifiers: []string{"Control"}})
	}
	text, err := v.opts.ReadClipboard()
	if err != nil {
		return fmt.Errorf("failed to read clipboard: %w", err)
	}
	if text == "" {
		return nil
	}
	return v.send(event{Type: "type", Text: text})
}
