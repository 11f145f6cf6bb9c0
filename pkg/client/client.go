// Package client is the operator side of the bridge: it maintains the
// stream connection, hands frames to the UI, and relays input back.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// reconnectInterval is the fixed delay between connection attempts.
	// The server keeps the session alive regardless, so there is nothing
	// to back off from.
	reconnectInterval = time.Second

	// moveRate caps pointer-move events sent upstream. Clicks, scrolls,
	// and keys are never throttled.
	moveRate = 30
)

// statusLoggedIn is the server's notice that login completed and the
// session is closing itself.
const statusLoggedIn = "logged_in"

// Options configure a Viewer.
type Options struct {
	// URL is the bridge's stream endpoint, e.g.
	// ws://host:8080/v1/providers/chatgpt/ws.
	URL string

	// OnFrame receives every JPEG frame as it arrives.
	OnFrame func(jpeg []byte)

	// OnLoggedIn fires when the server reports the login completed.
	OnLoggedIn func()

	// ReadClipboard supplies the paste shortcut's payload. Optional; when
	// nil the paste shortcut is forwarded as a plain key chord.
	ReadClipboard func() (string, error)
}

// Viewer maintains one stream connection to the bridge, transparently
// reconnecting when it drops. Input senders fail when no connection is up;
// the caller decides whether to surface or retry, nothing is dropped
// silently.
type Viewer struct {
	opts Options

	mu   sync.Mutex
	conn *websocket.Conn

	moveLimiter *rate.Limiter

	loggedIn chan struct{}
	once     sync.Once
}

func New(opts Options) *Viewer {
	return &Viewer{
		opts:        opts,
		moveLimiter: rate.NewLimiter(rate.Limit(moveRate), 1),
		loggedIn:    make(chan struct{}),
	}
}

// Run connects and pumps frames until the context is cancelled or the
// server reports login completion. Dropped connections are redialed on a
// fixed interval; the session on the server is untouched by our absence.
func (v *Viewer) Run(ctx context.Context) error {
	for {
		if err := v.connectAndPump(ctx); err != nil {
			log.Debug("stream connection lost", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.loggedIn:
			return nil
		case <-time.After(reconnectInterval):
		}
	}
}

func (v *Viewer) connectAndPump(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, v.opts.URL, nil)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.conn = conn
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.conn = nil
		v.mu.Unlock()
		conn.Close()
	}()

	// Unblock the read loop on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		switch messageType {
		case websocket.BinaryMessage:
			if v.opts.OnFrame != nil {
				v.opts.OnFrame(data)
			}
		case websocket.TextMessage:
			v.handleStatus(data)
		}
	}
}

func (v *Viewer) handleStatus(data []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("unparseable status message", "error", err)
		return
	}
	if msg.Type == statusLoggedIn {
		v.once.Do(func() {
			if v.opts.OnLoggedIn != nil {
				v.opts.OnLoggedIn()
			}
			close(v.loggedIn)
		})
	}
}
