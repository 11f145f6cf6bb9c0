// Package provider is the directory of external sites the bridge can open
// interactive sessions against.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Config describes how to reach one provider and how to recognize its
// authenticated state.
type Config struct {
	// Name is the stable provider key.
	Name string

	// LoginURL is where a login-kind session starts.
	LoginURL string
	// SettingsURL is where a settings-kind session starts.
	SettingsURL string

	// SuccessURLContains must appear in the page URL for the user to count
	// as logged in; SuccessURLExcludes must not.
	SuccessURLContains string
	SuccessURLExcludes string

	// LoggedInSelector, when set, must match at least one element.
	LoggedInSelector string

	// WorkspaceSelector matches an account-chooser modal some providers
	// show right after auth. While it is open the user is not done; once
	// it has been seen and then dismissed, they are.
	WorkspaceSelector string

	// InitScripts run in every new document before page scripts.
	InitScripts []string
}

var directory = map[string]Config{
	"chatgpt": {
		Name:               "chatgpt",
		LoginURL:           "https://chatgpt.com/auth/login",
		SettingsURL:        "https://chatgpt.com/#settings",
		SuccessURLContains: "chatgpt.com",
		SuccessURLExcludes: "/auth/",
		WorkspaceSelector:  `[data-testid="modal-workspace-switcher"]`,
	},
	"grok": {
		Name:               "grok",
		LoginURL:           "https://accounts.x.ai/sign-in?redirect=grok-com",
		SettingsURL:        "https://grok.com/imagine?_s=home",
		SuccessURLContains: "grok.com",
		SuccessURLExcludes: "/sign-in",
		InitScripts: []string{
			`localStorage.setItem('age-verif', '{"state":{"stage":"pass"},"version":3}');`,
		},
	},
}

// Lookup returns the config for a provider key.
func Lookup(key string) (Config, error) {
	cfg, ok := directory[key]
	if !ok {
		return Config{}, fmt.Errorf("unknown provider %q", key)
	}
	return cfg, nil
}

// Keys lists the known provider keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(directory))
	for k := range directory {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ProbePage is the slice of a browser page the login probe needs.
type ProbePage interface {
	URL() string
	ElementCount(selector string) (int, error)
}

// LoginProbe returns the authenticated-state check the detector polls. The
// probe is stateful: the workspace-modal handshake needs it to remember
// having seen the modal.
func (c Config) LoginProbe(pg ProbePage) func(ctx context.Context) (bool, error) {
	modalSeen := false

	return func(ctx context.Context) (bool, error) {
		url := pg.URL()
		if url == "" || !strings.Contains(url, c.SuccessURLContains) {
			return false, nil
		}
		if c.SuccessURLExcludes != "" && strings.Contains(url, c.SuccessURLExcludes) {
			return false, nil
		}

		if c.LoggedInSelector != "" {
			n, err := pg.ElementCount(c.LoggedInSelector)
			if err != nil {
				return false, err
			}
			if n == 0 {
				return false, nil
			}
		}

		if c.WorkspaceSelector != "" {
			n, err := pg.ElementCount(c.WorkspaceSelector)
			if err != nil {
				return false, err
			}
			if n > 0 {
				modalSeen = true
				return false, nil
			}
			if modalSeen {
				// Modal was open and the user dismissed it.
				return true, nil
			}
		}

		return true, nil
	}
}
