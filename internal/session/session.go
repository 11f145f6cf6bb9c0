// Package session owns the lifecycle of interactive browser-control
// episodes and the per-provider registry of live ones.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/specterlabs/handoff/internal/browser"
	"github.com/specterlabs/handoff/internal/detector"
	"github.com/specterlabs/handoff/internal/frame"
	"github.com/specterlabs/handoff/internal/input"
	"github.com/specterlabs/handoff/internal/provider"
	"github.com/specterlabs/handoff/internal/store"
	"github.com/specterlabs/handoff/internal/stream"
	"github.com/specterlabs/handoff/pkg/models"
)

// Options configure one session.
type Options struct {
	Provider provider.Config
	Kind     models.SessionKind
	StartURL string

	Width  int
	Height int

	FrameInterval  time.Duration
	DetectInterval time.Duration
	LaunchTimeout  time.Duration
	CloseTimeout   time.Duration

	// DetectLogin runs the login-completion detector. Off for settings
	// sessions: the user is already authenticated there.
	DetectLogin bool

	// OnClose fires exactly once, on entry to a terminal state, before the
	// triggering Stop call returns.
	OnClose func()
}

// Session is one interactive browser-control episode. It exclusively owns
// its browser page and at most one attached viewer channel; a new viewer
// replaces the old one rather than joining it.
type Session struct {
	ID string

	opts     Options
	launcher browser.Launcher
	store    *store.Store

	mu        sync.Mutex
	page      browser.Page
	channel   *stream.Channel
	cancelRun context.CancelFunc

	// inputMu keeps decode+dispatch atomic so commands apply in arrival
	// order even across a viewer reattach.
	inputMu sync.Mutex
	codec   *input.Codec

	state     atomic.Value // models.SessionState
	lastErr   atomic.Value // string
	lastFrame atomic.Int64 // unix nanos

	createdAt time.Time
	closeOnce sync.Once
	done      chan struct{}
}

func New(launcher browser.Launcher, st *store.Store, opts Options) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		opts:      opts,
		launcher:  launcher,
		store:     st,
		codec:     input.NewCodec(),
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.state.Store(models.StateIdle)
	s.lastErr.Store("")
	return s
}

// State returns the current lifecycle state without touching any lock.
func (s *Session) State() models.SessionState {
	return s.state.Load().(models.SessionState)
}

// Active reports whether the session currently holds its provider's
// interactive slot.
func (s *Session) Active() bool {
	switch s.State() {
	case models.StateLaunching, models.StateStreaming, models.StateLoginDetected:
		return true
	}
	return false
}

// Done signals when the session has reached a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LastError returns the operator-facing failure message, if any.
func (s *Session) LastError() string {
	return s.lastErr.Load().(string)
}

// Info returns a point-in-time snapshot for status reporting.
func (s *Session) Info() models.SessionInfo {
	info := models.SessionInfo{
		ID:        s.ID,
		Provider:  s.opts.Provider.Name,
		Kind:      s.opts.Kind,
		State:     s.State(),
		StartedAt: s.createdAt,
		LastError: s.LastError(),
	}
	if ns := s.lastFrame.Load(); ns > 0 {
		info.LastFrame = time.Unix(0, ns)
	}
	return info
}

func (s *Session) sid() string {
	return s.ID[:8]
}

// Start acquires the browser context, navigates to the start URL, and
// begins streaming. It returns once the first frame has been captured or
// with a LaunchError; the server never retries a failed launch on its own.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.State() != models.StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started", s.sid())
	}
	s.state.Store(models.StateLaunching)
	s.mu.Unlock()

	log.Info("launching interactive session",
		"sid", s.sid(), "provider", s.opts.Provider.Name, "kind", s.opts.Kind)

	launchCtx, cancel := context.WithTimeout(ctx, s.opts.LaunchTimeout)
	defer cancel()

	page, err := s.launcher.Launch(launchCtx, browser.LaunchOptions{
		SessionID:   s.ID,
		Width:       s.opts.Width,
		Height:      s.opts.Height,
		InitScripts: s.opts.Provider.InitScripts,
	})
	if err != nil {
		return s.failLaunch(err)
	}

	// Resume whatever authenticated state the last session left behind.
	// Must happen before the first navigation so origin storage seeding
	// takes effect.
	if s.store != nil {
		if saved, err := s.store.Load(s.opts.Provider.Name); err == nil && saved != nil && (len(saved.Cookies) > 0 || len(saved.Origins) > 0) {
			if err := page.SetStorageState(launchCtx, saved); err != nil {
				log.Warn("failed to restore session state", "sid", s.sid(), "error", err)
			} else {
				log.Debug("restored session state", "sid", s.sid(),
					"cookies", len(saved.Cookies), "origins", len(saved.Origins))
			}
		}
	}

	if err := page.Navigate(launchCtx, s.opts.StartURL); err != nil {
		s.closePage(page)
		return s.failLaunch(err)
	}

	producer := frame.NewProducer(page.Screenshot, s.opts.Width, s.opts.Height, s.opts.FrameInterval, s.publishFrame)
	if _, err := producer.CaptureOne(launchCtx); err != nil {
		s.closePage(page)
		return s.failLaunch(fmt.Errorf("first frame capture failed: %w", err))
	}

	s.mu.Lock()
	if s.State() != models.StateLaunching {
		// Stopped while the browser was coming up.
		s.mu.Unlock()
		s.closePage(page)
		return fmt.Errorf("session %s closed during launch", s.sid())
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	s.page = page
	s.cancelRun = cancelRun
	s.state.Store(models.StateStreaming)
	s.mu.Unlock()

	go func() {
		if err := producer.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error("frame producer died", "sid", s.sid(), "error", err)
			s.fail(err)
		}
	}()

	if s.opts.DetectLogin {
		det := detector.New(s.opts.Provider.LoginProbe(page), s.opts.DetectInterval, s.onLoginDetected)
		go det.Run(runCtx)
	}

	log.Info("session streaming", "sid", s.sid(), "provider", s.opts.Provider.Name)
	return nil
}

// Attach hands the session a new viewer channel, replacing any previous
// one. The new viewer receives the next frame produced; there is no
// backlog to replay.
func (s *Session) Attach(ch *stream.Channel) error {
	s.mu.Lock()
	st := s.State()
	if st.Terminal() || st == models.StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("session %s is not interactive (state %s)", s.sid(), st)
	}
	old := s.channel
	s.channel = ch
	s.mu.Unlock()

	if old != nil {
		log.Debug("viewer replaced", "sid", s.sid())
		old.Close()
	}
	return nil
}

// Detach clears the viewer channel if it is still the current one. The
// session keeps streaming; the viewer may reconnect.
func (s *Session) Detach(ch *stream.Channel) {
	s.mu.Lock()
	if s.channel == ch {
		s.channel = nil
	}
	s.mu.Unlock()
}

// HandleInput decodes and applies one viewer command. Commands are applied
// in arrival order; a command that cannot be applied is an error, never a
// silent drop.
func (s *Session) HandleInput(data []byte) error {
	if s.State() != models.StateStreaming {
		return fmt.Errorf("session %s is not streaming", s.sid())
	}

	s.inputMu.Lock()
	defer s.inputMu.Unlock()

	cmd, err := s.codec.Decode(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page == nil {
		return fmt.Errorf("session %s has no browser page", s.sid())
	}
	if err := page.Dispatch(cmd); err != nil {
		return fmt.Errorf("failed to apply %s: %w", cmd.Kind, err)
	}
	return nil
}

// Navigate points the live page at a URL. Streaming continues throughout;
// the viewer simply sees the navigation happen.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.State() != models.StateStreaming {
		return fmt.Errorf("session %s is not streaming", s.sid())
	}
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page == nil {
		return fmt.Errorf("session %s has no browser page", s.sid())
	}
	return page.Navigate(ctx, url)
}

// Stop closes the session. Idempotent: every call after the first is a
// no-op returning success, and the close callback fires exactly once, for
// whichever call performed the transition, before that call returns.
func (s *Session) Stop() error {
	s.terminate(models.StateClosed)
	return nil
}

func (s *Session) fail(err error) {
	s.lastErr.Store(FirstLine(err.Error()))
	s.terminate(models.StateFailed)
}

// failLaunch enters Failed and returns the error the start call surfaces
// synchronously.
func (s *Session) failLaunch(err error) error {
	le := &LaunchError{Err: err}
	s.lastErr.Store(le.OperatorMessage())
	log.Error("session launch failed", "sid", s.sid(), "provider", s.opts.Provider.Name, "error", err)
	s.terminate(models.StateFailed)
	return le
}

// onLoginDetected is the detector's one-shot callback: tell the viewer,
// then close autonomously. A signal arriving after the session already
// transitioned is ignored.
func (s *Session) onLoginDetected() {
	s.mu.Lock()
	if s.State() != models.StateStreaming {
		s.mu.Unlock()
		return
	}
	s.state.Store(models.StateLoginDetected)
	ch := s.channel
	s.mu.Unlock()

	log.Info("login detected, closing session", "sid", s.sid(), "provider", s.opts.Provider.Name)
	if ch != nil {
		// Written synchronously so the viewer sees it before the close.
		if err := ch.SendStatus(stream.LoggedIn); err != nil {
			log.Warn("failed to notify viewer of login", "sid", s.sid(), "error", err)
		}
	}
	s.terminate(models.StateClosed)
}

// terminate performs the single transition into a terminal state and
// releases every owned resource exactly once.
func (s *Session) terminate(final models.SessionState) {
	s.mu.Lock()
	if s.State().Terminal() {
		s.mu.Unlock()
		return
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
	page := s.page
	ch := s.channel
	s.page = nil
	s.channel = nil
	s.state.Store(final)
	s.mu.Unlock()

	if page != nil {
		if final == models.StateClosed {
			s.saveState(page)
		}
		s.closePage(page)
	}
	if ch != nil {
		ch.Close()
	}

	close(s.done)
	s.closeOnce.Do(func() {
		if s.opts.OnClose != nil {
			s.opts.OnClose()
		}
	})
	log.Info("session ended", "sid", s.sid(), "provider", s.opts.Provider.Name, "state", final)
}

// saveState persists the browser's storage state so the automation layer
// can resume where the operator left off. Best effort: the user may have
// dismissed popups or logged in even if we are closing for another reason.
func (s *Session) saveState(page browser.Page) {
	if s.store == nil || s.opts.Kind != models.KindLogin {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()

	state, err := page.StorageState(ctx)
	if err != nil {
		log.Warn("failed to read session state on close", "sid", s.sid(), "error", err)
		return
	}
	if err := s.store.Save(s.opts.Provider.Name, state); err != nil {
		log.Warn("failed to save session state", "sid", s.sid(), "error", err)
		return
	}
	log.Info("session state saved", "sid", s.sid(), "provider", s.opts.Provider.Name,
		"cookies", len(state.Cookies), "origins", len(state.Origins))
}

func (s *Session) closePage(page browser.Page) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()
	if err := page.Close(ctx); err != nil {
		log.Warn("browser close reported error", "sid", s.sid(), "error", err)
	}
}

func (s *Session) publishFrame(f *frame.Frame) {
	s.lastFrame.Store(time.Now().UnixNano())
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch != nil {
		ch.OfferFrame(f)
	}
}
