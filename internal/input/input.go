// Package input translates raw viewer events into the canonical command
// set applied to the driven browser.
package input

import "fmt"

// Kind enumerates the canonical input commands.
type Kind int

const (
	PointerDown Kind = iota
	PointerUp
	PointerMove
	Scroll
	Key
	TextInsert
)

func (k Kind) String() string {
	switch k {
	case PointerDown:
		return "pointer-down"
	case PointerUp:
		return "pointer-up"
	case PointerMove:
		return "pointer-move"
	case Scroll:
		return "scroll"
	case Key:
		return "key"
	case TextInsert:
		return "text-insert"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Modifier bits match the CDP Input domain encoding.
const (
	ModAlt   = 1
	ModCtrl  = 2
	ModMeta  = 4
	ModShift = 8
)

// Command is one canonical input action. Coordinates are in the frame's
// own pixel space; the capture viewport and the page viewport are the same
// size, so no scaling happens on this side.
type Command struct {
	Kind      Kind
	X, Y      float64
	DeltaX    float64
	DeltaY    float64
	Key       string
	Modifiers int
	Text      string
}

// ModifierBits converts modifier names from the wire into the CDP bitmask.
func ModifierBits(names []string) int {
	bits := 0
	for _, n := range names {
		switch n {
		case "Alt":
			bits |= ModAlt
		case "Control", "Ctrl":
			bits |= ModCtrl
		case "Meta":
			bits |= ModMeta
		case "Shift":
			bits |= ModShift
		}
	}
	return bits
}
