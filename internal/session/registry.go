package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/specterlabs/handoff/internal/browser"
	"github.com/specterlabs/handoff/internal/config"
	"github.com/specterlabs/handoff/internal/provider"
	"github.com/specterlabs/handoff/internal/store"
	"github.com/specterlabs/handoff/pkg/models"
)

// StartOptions shape one registry start request.
type StartOptions struct {
	Kind models.SessionKind

	// URL overrides the provider's default start URL for the kind.
	URL string

	// Reuse returns the existing active session instead of failing when the
	// provider's slot is taken.
	Reuse bool

	// OnClose is invoked after the session reaches a terminal state and the
	// registry has released the provider's slot.
	OnClose func()
}

// Registry tracks at most one active session per provider. A per-provider
// weighted slot serializes starts so two concurrent requests for the same
// provider can never both launch a browser.
type Registry struct {
	launcher browser.Launcher
	store    *store.Store
	cfg      *config.Config

	mu       sync.Mutex
	sessions map[string]*Session
	slots    map[string]*semaphore.Weighted
}

func NewRegistry(launcher browser.Launcher, st *store.Store, cfg *config.Config) *Registry {
	return &Registry{
		launcher: launcher,
		store:    st,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		slots:    make(map[string]*semaphore.Weighted),
	}
}

func (r *Registry) slot(key string) *semaphore.Weighted {
	sem, ok := r.slots[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		r.slots[key] = sem
	}
	return sem
}

// Start launches a session for the provider, or returns the existing active
// one when opts.Reuse is set. With Reuse unset a taken slot is
// ErrAlreadyActive. A failed launch releases the slot before returning, so
// the caller may retry immediately.
func (r *Registry) Start(ctx context.Context, key string, opts StartOptions) (*Session, error) {
	pcfg, err := provider.Lookup(key)
	if err != nil {
		return nil, err
	}

	kind := opts.Kind
	if kind == "" {
		kind = models.KindLogin
	}
	url := opts.URL
	if url == "" {
		switch kind {
		case models.KindSettings:
			url = pcfg.SettingsURL
		default:
			url = pcfg.LoginURL
		}
	}
	if url == "" {
		return nil, fmt.Errorf("provider %s has no %s URL", key, kind)
	}

	r.mu.Lock()
	if existing := r.sessions[key]; existing != nil && !existing.State().Terminal() {
		r.mu.Unlock()
		if opts.Reuse {
			log.Debug("reusing active session", "provider", key, "sid", existing.sid())
			return existing, nil
		}
		return nil, ErrAlreadyActive
	}
	sem := r.slot(key)
	if !sem.TryAcquire(1) {
		r.mu.Unlock()
		return nil, ErrAlreadyActive
	}

	var sess *Session
	sess = New(r.launcher, r.store, Options{
		Provider:       pcfg,
		Kind:           kind,
		StartURL:       url,
		Width:          r.cfg.ViewportWidth,
		Height:         r.cfg.ViewportHeight,
		FrameInterval:  r.cfg.FrameInterval(),
		DetectInterval: r.cfg.DetectInterval,
		LaunchTimeout:  r.cfg.LaunchTimeout,
		CloseTimeout:   r.cfg.CloseTimeout,
		DetectLogin:    kind == models.KindLogin,
		OnClose: func() {
			r.remove(key, sess)
			sem.Release(1)
			if opts.OnClose != nil {
				opts.OnClose()
			}
		},
	})
	r.sessions[key] = sess
	r.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		// Terminal entry already removed the session and freed the slot.
		return nil, err
	}

	if r.cfg.SessionTimeout > 0 {
		go r.expire(sess, r.cfg.SessionTimeout)
	}
	return sess, nil
}

// Stop closes the provider's session if one exists. Stopping a provider
// with no session is success, matching the stop operation's idempotency.
func (r *Registry) Stop(key string) error {
	r.mu.Lock()
	sess := r.sessions[key]
	r.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Stop()
}

// Get returns the provider's current session, live or not yet reaped.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[key]
	return sess, ok
}

// Status answers without blocking on any in-flight launch or teardown.
func (r *Registry) Status(key string) models.StatusResponse {
	r.mu.Lock()
	sess := r.sessions[key]
	r.mu.Unlock()

	return models.StatusResponse{
		Active:   sess != nil && sess.Active(),
		LoggedIn: r.store != nil && r.store.HasSession(key),
	}
}

// StopAll shuts every live session down, used on server shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		live = append(live, sess)
	}
	r.mu.Unlock()

	for _, sess := range live {
		if err := sess.Stop(); err != nil {
			log.Warn("failed to stop session", "sid", sess.sid(), "error", err)
		}
	}
}

func (r *Registry) remove(key string, sess *Session) {
	r.mu.Lock()
	if r.sessions[key] == sess {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
}

// expire enforces the optional lifetime cap on abandoned sessions.
func (r *Registry) expire(sess *Session, after time.Duration) {
	timer := time.NewTimer(after)
	defer timer.Stop()
	select {
	case <-timer.C:
		log.Warn("session exceeded lifetime cap, closing", "sid", sess.sid())
		if err := sess.Stop(); err != nil {
			log.Warn("failed to expire session", "sid", sess.sid(), "error", err)
		}
	case <-sess.Done():
	}
}
