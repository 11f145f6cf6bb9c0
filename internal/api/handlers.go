// Package api is the HTTP and websocket surface of the bridge.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/specterlabs/handoff/internal/browser"
	"github.com/specterlabs/handoff/internal/provider"
	"github.com/specterlabs/handoff/internal/session"
	"github.com/specterlabs/handoff/internal/store"
	"github.com/specterlabs/handoff/internal/stream"
	"github.com/specterlabs/handoff/pkg/models"
)

// maxCookieUpload caps an imported cookie file at 1 MiB.
const maxCookieUpload = 1 << 20

// Handler holds dependencies for HTTP handlers
type Handler struct {
	registry *session.Registry
	store    *store.Store
	launcher browser.Launcher
	upgrader websocket.Upgrader
}

// NewHandler creates a new HTTP handler
func NewHandler(registry *session.Registry, st *store.Store, launcher browser.Launcher) *Handler {
	return &Handler{
		registry: registry,
		store:    st,
		launcher: launcher,
		upgrader: websocket.Upgrader{
			// The viewer may be served from another origin than the bridge.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// startSession runs the common start path for both session kinds.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, kind models.SessionKind) {
	key := mux.Vars(r)["provider"]

	sess, err := h.registry.Start(r.Context(), key, session.StartOptions{
		Kind: kind,
		// A start against an already-open session hands back its stream
		// instead of failing; the viewer just reconnects.
		Reuse: true,
	})
	if err != nil {
		var le *session.LaunchError
		switch {
		case errors.Is(err, session.ErrAlreadyActive):
			writeError(w, http.StatusConflict, "a session for this provider is already active")
		case errors.As(err, &le):
			writeError(w, http.StatusBadGateway, le.OperatorMessage())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, models.StartResponse{
		Status:  "started",
		Session: sess.ID,
	})
}

// StartLogin handles POST /v1/providers/{provider}/login/start
func (h *Handler) StartLogin(w http.ResponseWriter, r *http.Request) {
	h.startSession(w, r, models.KindLogin)
}

// StartSettings handles POST /v1/providers/{provider}/settings/start
func (h *Handler) StartSettings(w http.ResponseWriter, r *http.Request) {
	h.startSession(w, r, models.KindSettings)
}

// StopSession handles POST /v1/providers/{provider}/stop. Stopping a
// provider with no session is still success.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["provider"]

	if err := h.registry.Stop(key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.StartResponse{Status: "stopped"})
}

// GetStatus handles GET /v1/providers/{provider}/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["provider"]

	if _, err := provider.Lookup(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Status(key))
}

// GetSession handles GET /v1/providers/{provider}/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["provider"]

	sess, ok := h.registry.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for provider "+key)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// ListProviders handles GET /v1/providers
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"providers": provider.Keys()})
}

// AttachStream handles GET /v1/providers/{provider}/ws. It upgrades to a
// websocket and pumps frames out and input in until either side closes. A
// reconnecting viewer simply calls this again; the previous connection is
// replaced.
func (h *Handler) AttachStream(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["provider"]

	sess, ok := h.registry.Get(key)
	if !ok || !sess.Active() {
		writeError(w, http.StatusNotFound, "no active session for provider "+key)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "provider", key, "error", err)
		return
	}

	ch := stream.NewChannel(conn)
	if err := sess.Attach(ch); err != nil {
		ch.Close()
		return
	}

	if err := ch.Run(sess); err != nil {
		log.Warn("viewer stream ended with error", "provider", key, "error", err)
	}
	sess.Detach(ch)
}

// Navigate handles POST /v1/providers/{provider}/navigate
func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["provider"]

	var req models.NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	sess, ok := h.registry.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for provider "+key)
		return
	}
	if err := sess.Navigate(r.Context(), req.URL); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ImportCookies handles POST /v1/providers/{provider}/cookies. The body is
// a cookie file in either browser-extension JSON or Netscape format; the
// two are interchangeable.
func (h *Handler) ImportCookies(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["provider"]

	if _, err := provider.Lookup(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCookieUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	cookies, err := browser.ParseCookies(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Replace the cookies, keep any persisted origin storage.
	state := &models.StorageState{Cookies: cookies}
	if prev, err := h.store.Load(key); err == nil && prev != nil {
		state.Origins = prev.Origins
	}
	if err := h.store.Save(key, state); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info("cookies imported", "provider", key, "count", len(cookies))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cookies": len(cookies)})
}

// Logout handles POST /v1/providers/{provider}/logout. It closes any live
// session and drops the stored state, so the next start is a clean login.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["provider"]

	if _, err := provider.Lookup(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := h.registry.Stop(key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.store.Delete(key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info("logged out", "provider", key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health handles GET /health and GET /v1/health. When the launcher exposes
// a readiness probe the response reflects whether new browsers can be
// acquired right now.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.launcher.(browser.Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  session.FirstLine(err.Error()),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
