package input

import (
	"encoding/json"
	"fmt"
	"math"
)

// clickSnapTolerance is the maximum per-axis distance, in pixels, between a
// pointer-down and the following pointer-up for the pair to count as one
// click. Within it, the up reuses the down's exact coordinates; challenge
// widgets validate click coordinates pixel-exactly, and viewer-side
// measurement jitters by a pixel or two between the two events.
const clickSnapTolerance = 5

// Event is the wire form of one viewer action, a JSON object tagged by
// "type". Recognized types: mousedown, mouseup, mousemove, scroll, keydown,
// type.
type Event struct {
	Type      string   `json:"type"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	DeltaX    float64  `json:"dx,omitempty"`
	DeltaY    float64  `json:"dy,omitempty"`
	Key       string   `json:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
	Text      string   `json:"text,omitempty"`
}

type point struct {
	x, y float64
}

// Codec decodes wire events into Commands. It is stateful: the pending
// gesture origin survives across events so the click-snap rule can be
// applied. One codec serves one session, not one connection, so a viewer
// reconnect mid-gesture keeps the origin.
type Codec struct {
	down *point
}

func NewCodec() *Codec {
	return &Codec{}
}

// Decode parses one wire message and translates it.
func (c *Codec) Decode(data []byte) (Command, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Command{}, fmt.Errorf("malformed input event: %w", err)
	}
	return c.Translate(ev)
}

// Translate maps a wire event onto the canonical command set.
func (c *Codec) Translate(ev Event) (Command, error) {
	switch ev.Type {
	case "mousedown":
		x, y, err := coords(ev)
		if err != nil {
			return Command{}, err
		}
		c.down = &point{x, y}
		return Command{Kind: PointerDown, X: x, Y: y}, nil

	case "mouseup":
		x, y, err := coords(ev)
		if err != nil {
			return Command{}, err
		}
		if d := c.down; d != nil {
			if math.Abs(x-d.x) <= clickSnapTolerance && math.Abs(y-d.y) <= clickSnapTolerance {
				x, y = d.x, d.y
			}
		}
		c.down = nil
		return Command{Kind: PointerUp, X: x, Y: y}, nil

	case "mousemove":
		x, y, err := coords(ev)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: PointerMove, X: x, Y: y}, nil

	case "scroll":
		x, y, err := coords(ev)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: Scroll, X: x, Y: y, DeltaX: ev.DeltaX, DeltaY: ev.DeltaY}, nil

	case "keydown":
		if ev.Key == "" {
			return Command{}, fmt.Errorf("keydown event without key")
		}
		return Command{Kind: Key, Key: ev.Key, Modifiers: ModifierBits(ev.Modifiers)}, nil

	case "type":
		return Command{Kind: TextInsert, Text: ev.Text}, nil
	}

	return Command{}, fmt.Errorf("unknown input event type %q", ev.Type)
}

func coords(ev Event) (float64, float64, error) {
	if ev.X == nil || ev.Y == nil {
		return 0, 0, fmt.Errorf("%s event without coordinates", ev.Type)
	}
	return *ev.X, *ev.Y, nil
}
