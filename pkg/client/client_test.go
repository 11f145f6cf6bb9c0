package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestViewerReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		conn.WriteMessage(websocket.BinaryMessage, []byte{byte(n)})
		// Drop the connection; the viewer must come back on its own.
		conn.Close()
	}))
	defer srv.Close()

	var mu sync.Mutex
	var frames [][]byte
	v := New(Options{
		URL: wsURL(srv),
		OnFrame: func(jpeg []byte) {
			mu.Lock()
			frames = append(frames, jpeg)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) >= 2
	}, 5*time.Second, 50*time.Millisecond, "viewer never redialed after a drop")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestViewerStopsOnLoggedIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, []byte("frame"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"logged_in"}`))
		conn.Close()
	}))
	defer srv.Close()

	var notified atomic.Int32
	v := New(Options{
		URL:        wsURL(srv),
		OnLoggedIn: func() { notified.Add(1) },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := v.Run(ctx)
	require.NoError(t, err, "login completion ends the run cleanly")
	assert.Equal(t, int32(1), notified.Load())
}

// connectedViewer runs a viewer against a server that records every input
// payload it receives.
func connectedViewer(t *testing.T, opts Options) (*Viewer, chan string, context.CancelFunc) {
	t.Helper()

	inputs := make(chan string, 64)
	attached := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		attached <- struct{}{}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			inputs <- string(data)
		}
	}))
	t.Cleanup(srv.Close)

	opts.URL = wsURL(srv)
	v := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	go v.Run(ctx)
	t.Cleanup(cancel)

	select {
	case <-attached:
	case <-time.After(5 * time.Second):
		t.Fatal("viewer never connected")
	}
	// The server finishes the upgrade before the dialer returns; wait for
	// the viewer to have stored its connection before sending input.
	require.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.conn != nil
	}, 5*time.Second, 10*time.Millisecond, "viewer never stored its connection")
	return v, inputs, cancel
}

func recvEvent(t *testing.T, inputs chan string) map[string]any {
	t.Helper()
	select {
	case payload := <-inputs:
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no input arrived")
		return nil
	}
}

func TestClickEvents(t *testing.T) {
	v, inputs, _ := connectedViewer(t, Options{})

	require.NoError(t, v.MouseDown(100, 250))
	ev := recvEvent(t, inputs)
	assert.Equal(t, "mousedown", ev["type"])
	assert.Equal(t, 100.0, ev["x"])
	assert.Equal(t, 250.0, ev["y"])

	require.NoError(t, v.MouseUp(101, 251))
	ev = recvEvent(t, inputs)
	assert.Equal(t, "mouseup", ev["type"])

	require.NoError(t, v.Scroll(10, 20, 0, -120))
	ev = recvEvent(t, inputs)
	assert.Equal(t, "scroll", ev["type"])
	assert.Equal(t, -120.0, ev["dy"])
}

func TestMouseMoveThrottled(t *testing.T) {
	v, inputs, _ := connectedViewer(t, Options{})

	// A burst of moves collapses; only the rate-limited survivors go out.
	const burst = 50
	for i := 0; i < burst; i++ {
		require.NoError(t, v.MouseMove(float64(i), float64(i)))
	}

	ev := recvEvent(t, inputs)
	assert.Equal(t, "mousemove", ev["type"])

	deadline := time.After(200 * time.Millisecond)
	delivered := 1
drain:
	for {
		select {
		case <-inputs:
			delivered++
		case <-deadline:
			break drain
		}
	}
	assert.Less(t, delivered, burst/2, "most of the burst must be shed")
}

func TestKeystrokeClassification(t *testing.T) {
	v, inputs, _ := connectedViewer(t, Options{})

	// Plain printable characters travel as text so the server-side
	// keyboard layout never matters.
	require.NoError(t, v.Keystroke("a", nil))
	ev := recvEvent(t, inputs)
	assert.Equal(t, "type", ev["type"])
	assert.Equal(t, "a", ev["text"])

	require.NoError(t, v.Keystroke("é", nil))
	ev = recvEvent(t, inputs)
	assert.Equal(t, "type", ev["type"])
	assert.Equal(t, "é", ev["text"])

	require.NoError(t, v.Keystroke("Enter", nil))
	ev = recvEvent(t, inputs)
	assert.Equal(t, "keydown", ev["type"])
	assert.Equal(t, "Enter", ev["key"])

	require.NoError(t, v.Keystroke("a", []string{"Control"}))
	ev = recvEvent(t, inputs)
	assert.Equal(t, "keydown", ev["type"])
	assert.Equal(t, []any{"Control"}, ev["modifiers"])
}

func TestPasteChordReadsLocalClipboard(t *testing.T) {
	v, inputs, _ := connectedViewer(t, Options{
		ReadClipboard: func() (string, error) { return "hunter2", nil },
	})

	// The paste shortcut never travels as a chord when a clipboard reader
	// is available; the remote browser's clipboard has nothing in it.
	require.NoError(t, v.Keystroke("v", []string{"Control"}))
	ev := recvEvent(t, inputs)
	assert.Equal(t, "type", ev["type"])
	assert.Equal(t, "hunter2", ev["text"])

	require.NoError(t, v.Keystroke("V", []string{"Meta"}))
	ev = recvEvent(t, inputs)
	assert.Equal(t, "type", ev["type"])
	assert.Equal(t, "hunter2", ev["text"])

	// Other chords still travel as keys.
	require.NoError(t, v.Keystroke("c", []string{"Control"}))
	ev = recvEvent(t, inputs)
	assert.Equal(t, "keydown", ev["type"])
	assert.Equal(t, "c", ev["key"])
}

func TestPasteReadsLocalClipboard(t *testing.T) {
	v, inputs, _ := connectedViewer(t, Options{
		ReadClipboard: func() (string, error) { return "hunter2", nil },
	})

	require.NoError(t, v.Paste())
	ev := recvEvent(t, inputs)
	assert.Equal(t, "type", ev["type"])
	assert.Equal(t, "hunter2", ev["text"])
}

func TestPasteWithoutClipboardFallsBackToChord(t *testing.T) {
	v, inputs, _ := connectedViewer(t, Options{})

	require.NoError(t, v.Paste())
	ev := recvEvent(t, inputs)
	assert.Equal(t, "keydown", ev["type"])
	assert.Equal(t, "v", ev["key"])

	require.NoError(t, v.Keystroke("v", []string{"Control"}))
	ev = recvEvent(t, inputs)
	assert.Equal(t, "keydown", ev["type"])
	assert.Equal(t, "v", ev["key"])
}

func TestSendWhileDisconnected(t *testing.T) {
	v := New(Options{URL: "ws://127.0.0.1:1/ws"})
	assert.ErrorIs(t, v.MouseDown(1, 2), ErrNotConnected)
}
