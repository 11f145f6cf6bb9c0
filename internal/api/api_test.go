package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specterlabs/handoff/internal/browser"
	"github.com/specterlabs/handoff/internal/config"
	"github.com/specterlabs/handoff/internal/input"
	"github.com/specterlabs/handoff/internal/ratelimit"
	"github.com/specterlabs/handoff/internal/session"
	"github.com/specterlabs/handoff/internal/store"
	"github.com/specterlabs/handoff/pkg/models"
)

type stubPage struct {
	mu         sync.Mutex
	url        string
	dispatched []input.Command
	state      models.StorageState
}

func (p *stubPage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *stubPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *stubPage) Screenshot(context.Context) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

func (p *stubPage) Dispatch(cmd input.Command) error {
	p.mu.Lock()
	p.dispatched = append(p.dispatched, cmd)
	p.mu.Unlock()
	return nil
}

func (p *stubPage) commands() []input.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]input.Command(nil), p.dispatched...)
}

func (p *stubPage) ElementCount(string) (int, error) { return 0, nil }

func (p *stubPage) StorageState(context.Context) (*models.StorageState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.state
	return &state, nil
}

func (p *stubPage) SetStorageState(_ context.Context, state *models.StorageState) error {
	p.mu.Lock()
	p.state.Cookies = append(p.state.Cookies, state.Cookies...)
	p.state.Origins = append(p.state.Origins, state.Origins...)
	p.mu.Unlock()
	return nil
}

func (p *stubPage) Close(context.Context) error { return nil }

type stubLauncher struct {
	mu    sync.Mutex
	pages []*stubPage
}

func (l *stubLauncher) Launch(context.Context, browser.LaunchOptions) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pg := &stubPage{state: models.StorageState{
		Cookies: []models.Cookie{{Name: "auth", Value: "tok", Domain: ".chatgpt.com"}},
	}}
	l.pages = append(l.pages, pg)
	return pg, nil
}

func (l *stubLauncher) lastPage() *stubPage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pages) == 0 {
		return nil
	}
	return l.pages[len(l.pages)-1]
}

type testServer struct {
	srv      *httptest.Server
	launcher *stubLauncher
	store    *store.Store
	registry *session.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		LaunchMode:     config.LaunchLocal,
		ViewportWidth:  600,
		ViewportHeight: 800,
		FrameRate:      30,
		LaunchTimeout:  time.Second,
		CloseTimeout:   time.Second,
		DetectInterval: 10 * time.Millisecond,
	}

	launcher := &stubLauncher{}
	registry := session.NewRegistry(launcher, st, cfg)
	handler := NewHandler(registry, st, launcher)
	router := handler.SetupRoutes(ratelimit.NewLimiter(3600, 100), 3600)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		registry.StopAll()
		srv.Close()
	})

	return &testServer{srv: srv, launcher: launcher, store: st, registry: registry}
}

func (ts *testServer) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.post(t, "/v1/providers/chatgpt/login/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "started", body["status"])
	require.NotEmpty(t, body["session"])
	sessionID := body["session"]

	resp, body = ts.get(t, "/v1/providers/chatgpt/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["active"])

	// Starting again reuses the live session.
	resp, again := ts.post(t, "/v1/providers/chatgpt/login/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, again["session"])

	resp, body = ts.post(t, "/v1/providers/chatgpt/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stopped", body["status"])

	resp, body = ts.get(t, "/v1/providers/chatgpt/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, true, body["logged_in"], "cookies persisted on close")

	// Stop with nothing running still succeeds.
	resp, _ = ts.post(t, "/v1/providers/chatgpt/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusRaceWithStartAndStop(t *testing.T) {
	ts := newTestServer(t)

	// Status answers while lifecycle calls are in flight.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.srv.URL + "/v1/providers/chatgpt/status")
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	resp, _ := ts.post(t, "/v1/providers/chatgpt/login/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	wg.Wait()
}

func TestUnknownProvider(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.post(t, "/v1/providers/myspace/login/start", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "unknown provider")

	resp, _ = ts.get(t, "/v1/providers/myspace/status")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListProviders(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.get(t, "/v1/providers")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []any{"chatgpt", "grok"}, body["providers"])
}

func TestWebsocketStream(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/v1/providers/chatgpt/login/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/providers/chatgpt/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Frames flow without any client request.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.NotEmpty(t, data)

	// A click round-trips to the browser with press coordinates reused on
	// a close-enough release.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mousedown","x":50,"y":60}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mouseup","x":52,"y":58}`)))

	pg := ts.launcher.lastPage()
	require.Eventually(t, func() bool {
		return len(pg.commands()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cmds := pg.commands()
	assert.Equal(t, input.PointerDown, cmds[0].Kind)
	assert.Equal(t, input.PointerUp, cmds[1].Kind)
	assert.Equal(t, 50.0, cmds[1].X)
	assert.Equal(t, 60.0, cmds[1].Y)
}

func TestWebsocketReconnectReplacesViewer(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/v1/providers/chatgpt/login/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/providers/chatgpt/ws"
	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer first.Close()

	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer second.Close()

	// The replacement viewer streams; the session stayed up throughout.
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, _, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)

	status := ts.registry.Status("chatgpt")
	assert.True(t, status.Active)
}

func TestWebsocketWithoutSession(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/providers/chatgpt/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNavigate(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/v1/providers/chatgpt/navigate", `{"url":"https://chatgpt.com/#settings"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "navigate needs a session")

	resp, _ = ts.post(t, "/v1/providers/chatgpt/login/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.post(t, "/v1/providers/chatgpt/navigate", `{"url":"https://chatgpt.com/#settings"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://chatgpt.com/#settings", ts.launcher.lastPage().URL())

	resp, _ = ts.post(t, "/v1/providers/chatgpt/navigate", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCookieImportAndLogout(t *testing.T) {
	ts := newTestServer(t)

	// Persisted origin storage survives a cookie re-import.
	require.NoError(t, ts.store.Save("chatgpt", &models.StorageState{
		Origins: []models.Origin{{
			Origin:       "https://chatgpt.com",
			LocalStorage: []models.StorageItem{{Name: "oai-theme", Value: "dark"}},
		}},
	}))

	cookieJSON := `[{"name":"session","value":"abc123","domain":".chatgpt.com","path":"/","secure":true,"httpOnly":true,"expirationDate":1893456000,"sameSite":"lax"}]`
	resp, body := ts.post(t, "/v1/providers/chatgpt/cookies", cookieJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["cookies"])

	saved, err := ts.store.Load("chatgpt")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Len(t, saved.Cookies, 1)
	require.Len(t, saved.Origins, 1, "import replaces cookies, keeps origin storage")

	_, status := ts.get(t, "/v1/providers/chatgpt/status")
	assert.Equal(t, true, status["logged_in"])

	resp, _ = ts.post(t, "/v1/providers/chatgpt/cookies", "not a cookie file")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.post(t, "/v1/providers/chatgpt/logout", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, status = ts.get(t, "/v1/providers/chatgpt/status")
	assert.Equal(t, false, status["logged_in"])
}

func TestRateLimitExhaustion(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	cfg := &config.Config{
		LaunchMode:     config.LaunchLocal,
		ViewportWidth:  600,
		ViewportHeight: 800,
		FrameRate:      30,
		LaunchTimeout:  time.Second,
		CloseTimeout:   time.Second,
		DetectInterval: 10 * time.Millisecond,
	}
	launcher := &stubLauncher{}
	registry := session.NewRegistry(launcher, st, cfg)
	handler := NewHandler(registry, st, launcher)
	router := handler.SetupRoutes(ratelimit.NewLimiter(1, 2), 1)

	srv := httptest.NewServer(router)
	defer srv.Close()
	defer registry.StopAll()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/v1/providers/chatgpt/stop", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another provider has its own budget.
	resp, err := http.Post(srv.URL+"/v1/providers/grok/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/health", "/v1/health"} {
		resp, body := ts.get(t, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", body["status"])
	}
}

// pingableLauncher lets a test stand in for a launcher whose runtime can be
// probed, like the Docker one.
type pingableLauncher struct {
	stubLauncher
	pingErr error
}

func (l *pingableLauncher) Ping(context.Context) error { return l.pingErr }

func TestHealthReportsLauncherReadiness(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	launcher := &pingableLauncher{
		pingErr: errors.New("Cannot connect to the Docker daemon\nIs the daemon running?"),
	}
	cfg := &config.Config{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 720,
		FrameRate:      30,
		LaunchTimeout:  time.Second,
		CloseTimeout:   time.Second,
		DetectInterval: 10 * time.Millisecond,
	}
	registry := session.NewRegistry(launcher, st, cfg)
	handler := NewHandler(registry, st, launcher)
	router := handler.SetupRoutes(ratelimit.NewLimiter(3600, 100), 3600)

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/health")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "Cannot connect to the Docker daemon", body["error"])

	launcher.pingErr = nil
	resp, err = http.Get(srv.URL + "/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
