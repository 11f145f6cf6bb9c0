// Package stream is the duplex viewer connection: frames and status
// messages out, input commands in, on one websocket.
package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/specterlabs/handoff/internal/frame"
)

const writeTimeout = 10 * time.Second

// StatusMessage is an out-of-band tagged message sent alongside frames.
type StatusMessage struct {
	Type string `json:"type"`
}

// LoggedIn tells the viewer the login completed and the session is about
// to close itself.
var LoggedIn = StatusMessage{Type: "logged_in"}

// InputSink consumes raw input payloads in arrival order.
type InputSink interface {
	HandleInput(data []byte) error
}

// Channel wraps one websocket connection to one viewer. Frames go through
// a latest-wins mailbox: a frame the writer has not picked up yet is
// overwritten by a newer one, never queued. Status messages are written
// synchronously and never dropped.
type Channel struct {
	conn    *websocket.Conn
	mailbox *frame.Mailbox
	done    chan struct{}

	// writeMu serializes all writes on the connection; gorilla allows only
	// one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
}

func NewChannel(conn *websocket.Conn) *Channel {
	return &Channel{
		conn:    conn,
		mailbox: frame.NewMailbox(),
		done:    make(chan struct{}),
	}
}

// OfferFrame makes a frame available to the writer without blocking the
// producer. An unsent older frame is discarded.
func (c *Channel) OfferFrame(f *frame.Frame) {
	c.mailbox.Put(f)
}

// SendStatus writes a status message immediately. It returns once the
// message is on the wire, so a caller may close the channel right after
// and know the viewer saw the message first.
func (c *Channel) SendStatus(msg StatusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s status: %w", msg.Type, err)
	}
	return nil
}

// Run pumps the channel until the viewer disconnects, the sink rejects an
// input, or Close is called. Input handling and frame writing run on
// separate paths so a slow frame never delays a click.
func (c *Channel) Run(sink InputSink) error {
	go c.writeFrames()
	err := c.readInputs(sink)
	c.Close()
	return err
}

// Close tears the connection down. Safe to call more than once and from
// any goroutine.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Done signals when the channel has closed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) writeFrames() {
	for {
		select {
		case <-c.done:
			return
		case <-c.mailbox.Ready():
		}

		f := c.mailbox.Take()
		if f == nil {
			continue
		}

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := c.conn.WriteMessage(websocket.BinaryMessage, f.Data)
		c.writeMu.Unlock()
		if err != nil {
			log.Debug("frame write failed, closing channel", "seq", f.Seq, "error", err)
			c.Close()
			return
		}
	}
}

// readInputs applies viewer commands in arrival order. Every command must
// reach the browser; a command the sink cannot apply ends the connection
// rather than being silently dropped.
func (c *Channel) readInputs(sink InputSink) error {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("viewer connection lost: %w", err)
			}
			return nil
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if err := sink.HandleInput(data); err != nil {
			return fmt.Errorf("input command rejected: %w", err)
		}
	}
}
