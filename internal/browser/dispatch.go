package browser

import (
	"fmt"
	"unicode/utf8"

	rodinput "github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/specterlabs/handoff/internal/input"
)

// namedKeys maps wire key names onto CDP keys. Single printable characters
// arrive as text-insert instead, so this only covers the control keys a
// login form needs.
var namedKeys = map[string]rodinput.Key{
	"Enter":      rodinput.Enter,
	"Tab":        rodinput.Tab,
	"Escape":     rodinput.Escape,
	"Backspace":  rodinput.Backspace,
	"Delete":     rodinput.Delete,
	"ArrowUp":    rodinput.ArrowUp,
	"ArrowDown":  rodinput.ArrowDown,
	"ArrowLeft":  rodinput.ArrowLeft,
	"ArrowRight": rodinput.ArrowRight,
	"Home":       rodinput.Home,
	"End":        rodinput.End,
	"PageUp":     rodinput.PageUp,
	"PageDown":   rodinput.PageDown,
	"Space":      rodinput.Space,
	" ":          rodinput.Space,
}

func lookupKey(name string) (rodinput.Key, error) {
	if k, ok := namedKeys[name]; ok {
		return k, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return rodinput.Key(r), nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

func modifierKeys(bits int) []rodinput.Key {
	var keys []rodinput.Key
	if bits&input.ModAlt != 0 {
		keys = append(keys, rodinput.AltLeft)
	}
	if bits&input.ModCtrl != 0 {
		keys = append(keys, rodinput.ControlLeft)
	}
	if bits&input.ModMeta != 0 {
		keys = append(keys, rodinput.MetaLeft)
	}
	if bits&input.ModShift != 0 {
		keys = append(keys, rodinput.ShiftLeft)
	}
	return keys
}

// Dispatch replays one canonical command on the page. Pointer events go
// through raw CDP dispatch so the coordinates the codec decided on are the
// coordinates the page sees, without synthetic movement in between.
func (p *rodPage) Dispatch(cmd input.Command) error {
	switch cmd.Kind {
	case input.PointerMove:
		return proto.InputDispatchMouseEvent{
			Type:      proto.InputDispatchMouseEventTypeMouseMoved,
			X:         cmd.X,
			Y:         cmd.Y,
			Modifiers: cmd.Modifiers,
		}.Call(p.page)

	case input.PointerDown:
		return proto.InputDispatchMouseEvent{
			Type:       proto.InputDispatchMouseEventTypeMousePressed,
			X:          cmd.X,
			Y:          cmd.Y,
			Button:     proto.InputMouseButtonLeft,
			ClickCount: 1,
			Modifiers:  cmd.Modifiers,
		}.Call(p.page)

	case input.PointerUp:
		return proto.InputDispatchMouseEvent{
			Type:       proto.InputDispatchMouseEventTypeMouseReleased,
			X:          cmd.X,
			Y:          cmd.Y,
			Button:     proto.InputMouseButtonLeft,
			ClickCount: 1,
			Modifiers:  cmd.Modifiers,
		}.Call(p.page)

	case input.Scroll:
		return proto.InputDispatchMouseEvent{
			Type:   proto.InputDispatchMouseEventTypeMouseWheel,
			X:      cmd.X,
			Y:      cmd.Y,
			DeltaX: cmd.DeltaX,
			DeltaY: cmd.DeltaY,
		}.Call(p.page)

	case input.Key:
		key, err := lookupKey(cmd.Key)
		if err != nil {
			return err
		}
		if cmd.Modifiers == 0 {
			return p.page.Keyboard.Press(key)
		}
		return p.page.KeyActions().Press(modifierKeys(cmd.Modifiers)...).Type(key).Do()

	case input.TextInsert:
		return p.page.InsertText(cmd.Text)
	}

	return fmt.Errorf("cannot dispatch %s command", cmd.Kind)
}
