// Package browser acquires and drives the headless browser contexts that
// back interactive sessions.
package browser

import (
	"context"

	"github.com/specterlabs/handoff/internal/input"
	"github.com/specterlabs/handoff/pkg/models"
)

// Page is one driven browser surface. A Page is exclusively owned by the
// session that launched it; nothing else drives it while the session is
// interactive.
type Page interface {
	// Navigate points the page at a URL.
	Navigate(ctx context.Context, url string) error

	// URL returns the page's current location, or "" if unavailable.
	URL() string

	// Screenshot returns one JPEG capture of the visible surface.
	Screenshot(ctx context.Context) ([]byte, error)

	// Dispatch applies one canonical input command to the page.
	Dispatch(cmd input.Command) error

	// ElementCount reports how many elements match a CSS selector.
	ElementCount(selector string) (int, error)

	// StorageState snapshots the browser context's cookies and the current
	// origin's localStorage.
	StorageState(ctx context.Context) (*models.StorageState, error)

	// SetStorageState injects cookies and seeds localStorage for the
	// covered origins. Must be called before the first navigation for the
	// localStorage seeding to apply.
	SetStorageState(ctx context.Context, state *models.StorageState) error

	// Close releases the page and every resource behind it. A graceful
	// close is attempted first; when the context expires the browser is
	// killed hard. Safe to call more than once.
	Close(ctx context.Context) error
}

// LaunchOptions shape the browser context for one session.
type LaunchOptions struct {
	SessionID string
	Width     int
	Height    int
	// InitScripts run in every new document before page scripts.
	InitScripts []string
}

// Launcher acquires a fresh Page for a session.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Page, error)
}

// Pinger is implemented by launchers whose backing runtime can be probed
// without launching a browser.
type Pinger interface {
	Ping(ctx context.Context) error
}
