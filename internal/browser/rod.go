package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/specterlabs/handoff/pkg/models"
)

// LocalConfig tunes locally launched Chromium instances.
type LocalConfig struct {
	Headless    bool
	NoSandbox   bool
	Stealth     bool
	JPEGQuality int
}

// LocalLauncher starts a managed Chromium on this host, one process per
// session.
type LocalLauncher struct {
	cfg LocalConfig
}

func NewLocalLauncher(cfg LocalConfig) *LocalLauncher {
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 95
	}
	return &LocalLauncher{cfg: cfg}
}

// Launch starts a browser and prepares a page sized to the session's frame
// space.
func (l *LocalLauncher) Launch(ctx context.Context, opts LaunchOptions) (Page, error) {
	ln := launcher.New().
		Headless(l.cfg.Headless).
		Set("disable-dev-shm-usage").
		Set("mute-audio")

	if l.cfg.Stealth {
		ln = ln.Set("disable-blink-features", "AutomationControlled")
	}
	if l.cfg.NoSandbox {
		ln = ln.Set("no-sandbox")
	}

	controlURL, err := launchWithin(ctx, ln)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	// The browser outlives the launch deadline; callers bound individual
	// operations with their own contexts.
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	b.DefaultDevice(devices.Clear)

	pg, err := newStealthPage(b, l.cfg.Stealth)
	if err != nil {
		b.Close()
		ln.Kill()
		return nil, err
	}

	p := &rodPage{
		browser: b,
		page:    pg,
		quality: l.cfg.JPEGQuality,
		kill:    ln.Kill,
	}
	if err := p.prepare(opts); err != nil {
		p.Close(ctx)
		return nil, err
	}
	return p, nil
}

// launchWithin starts the browser process, killing it if the context
// expires first.
func launchWithin(ctx context.Context, ln *launcher.Launcher) (string, error) {
	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		url, err := ln.Launch()
		done <- result{url, err}
	}()

	select {
	case res := <-done:
		return res.url, res.err
	case <-ctx.Done():
		ln.Kill()
		return "", fmt.Errorf("browser did not come up in time: %w", ctx.Err())
	}
}

func newStealthPage(b *rod.Browser, stealthy bool) (*rod.Page, error) {
	var pg *rod.Page
	var err error
	if stealthy {
		pg, err = stealth.Page(b)
	} else {
		pg, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return pg, nil
}

// rodPage drives one page over CDP. It backs both launch modes; only the
// kill fallback differs.
type rodPage struct {
	browser *rod.Browser
	page    *rod.Page
	quality int

	// kill force-terminates the underlying browser when a graceful close
	// does not finish in time.
	kill func()
	// release frees whatever hosts the browser (e.g. its container) once
	// the CDP connection is down.
	release func(ctx context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// prepare sizes the viewport and applies session setup shared by both
// launch modes.
func (p *rodPage) prepare(opts LaunchOptions) error {
	if err := p.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}

	// A virtual authenticator makes passkey prompts fall back to password
	// forms, which the operator can actually complete over the stream.
	// Best effort: not every Chromium build ships the domain.
	if err := (proto.WebAuthnEnable{}).Call(p.page); err == nil {
		_, _ = proto.WebAuthnAddVirtualAuthenticator{
			Options: &proto.WebAuthnVirtualAuthenticatorOptions{
				Protocol:  proto.WebAuthnAuthenticatorProtocolCtap2,
				Transport: proto.WebAuthnAuthenticatorTransportUsb,
			},
		}.Call(p.page)
	}

	for _, script := range opts.InitScripts {
		if _, err := p.page.EvalOnNewDocument(script); err != nil {
			return fmt.Errorf("failed to add init script: %w", err)
		}
	}
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	if err := p.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(p.quality),
	})
}

func (p *rodPage) ElementCount(selector string) (int, error) {
	els, err := p.page.Elements(selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// localStorageDump lists the current origin's localStorage entries.
const localStorageDump = `() => {
	const items = [];
	for (let i = 0; i < localStorage.length; i++) {
		const name = localStorage.key(i);
		items.push({name, value: localStorage.getItem(name)});
	}
	return {origin: location.origin, localStorage: items};
}`

// StorageState captures cookies for the whole context and localStorage
// for the origin the page currently sits on.
func (p *rodPage) StorageState(ctx context.Context) (*models.StorageState, error) {
	raw, err := p.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	state := &models.StorageState{Cookies: make([]models.Cookie, 0, len(raw))}
	for _, c := range raw {
		state.Cookies = append(state.Cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expires:  float64(c.Expires),
			SameSite: string(c.SameSite),
		})
	}

	// Best effort: an about:blank or crashed page simply has no storage
	// worth keeping.
	if res, err := p.page.Context(ctx).Eval(localStorageDump); err == nil {
		var origin models.Origin
		if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &origin); err == nil && len(origin.LocalStorage) > 0 {
			state.Origins = append(state.Origins, origin)
		}
	}
	return state, nil
}

func (p *rodPage) SetStorageState(ctx context.Context, state *models.StorageState) error {
	cookies := state.Cookies
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			param.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		switch c.SameSite {
		case "Strict":
			param.SameSite = proto.NetworkCookieSameSiteStrict
		case "None":
			param.SameSite = proto.NetworkCookieSameSiteNone
		case "Lax":
			param.SameSite = proto.NetworkCookieSameSiteLax
		}
		params = append(params, param)
	}
	if err := p.browser.Context(ctx).SetCookies(params); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}

	// localStorage is seeded through an init script keyed by origin, the
	// same mechanism provider init scripts use; it takes effect when the
	// page first navigates onto that origin.
	for _, o := range state.Origins {
		script, err := seedScript(o)
		if err != nil {
			return err
		}
		if _, err := p.page.EvalOnNewDocument(script); err != nil {
			return fmt.Errorf("failed to seed storage for %s: %w", o.Origin, err)
		}
	}
	return nil
}

func seedScript(o models.Origin) (string, error) {
	originJSON, err := json.Marshal(o.Origin)
	if err != nil {
		return "", err
	}
	itemsJSON, err := json.Marshal(o.LocalStorage)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		`if (location.origin === %s) { for (const item of %s) { localStorage.setItem(item.name, item.value); } }`,
		originJSON, itemsJSON), nil
}

// Close tears the browser down, killing it if the graceful path exceeds
// the context deadline.
func (p *rodPage) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			done <- p.browser.Close()
		}()

		select {
		case err := <-done:
			p.closeErr = err
		case <-ctx.Done():
			if p.kill != nil {
				p.kill()
			}
			p.closeErr = fmt.Errorf("graceful browser close timed out: %w", ctx.Err())
		}

		if p.release != nil {
			if err := p.release(ctx); err != nil && p.closeErr == nil {
				p.closeErr = err
			}
		}
	})
	return p.closeErr
}
