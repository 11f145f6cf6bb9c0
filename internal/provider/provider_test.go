package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	url    string
	counts map[string]int
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) ElementCount(selector string) (int, error) {
	return p.counts[selector], nil
}

func TestLookup(t *testing.T) {
	cfg, err := Lookup("chatgpt")
	require.NoError(t, err)
	assert.Equal(t, "chatgpt", cfg.Name)
	assert.NotEmpty(t, cfg.LoginURL)

	_, err = Lookup("myspace")
	assert.Error(t, err)
}

func TestKeysSorted(t *testing.T) {
	keys := Keys()
	assert.Equal(t, []string{"chatgpt", "grok"}, keys)
}

func TestLoginProbeURLPatterns(t *testing.T) {
	cfg := Config{
		SuccessURLContains: "example.com",
		SuccessURLExcludes: "/auth/",
	}
	pg := &fakePage{url: "https://example.com/auth/login"}
	probe := cfg.LoginProbe(pg)

	ok, err := probe(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "still on the auth path")

	pg.url = "https://other.com/home"
	ok, err = probe(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "wrong host")

	pg.url = "https://example.com/home"
	ok, err = probe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoginProbeWorkspaceModal(t *testing.T) {
	cfg := Config{
		SuccessURLContains: "example.com",
		WorkspaceSelector:  ".workspace-modal",
	}
	pg := &fakePage{
		url:    "https://example.com/home",
		counts: map[string]int{".workspace-modal": 1},
	}
	probe := cfg.LoginProbe(pg)

	// Modal open: not done yet.
	ok, err := probe(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	// Modal dismissed after having been seen: done.
	pg.counts[".workspace-modal"] = 0
	ok, err = probe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoginProbeRequiredSelector(t *testing.T) {
	cfg := Config{
		SuccessURLContains: "example.com",
		LoggedInSelector:   "#account-menu",
	}
	pg := &fakePage{url: "https://example.com/home", counts: map[string]int{}}
	probe := cfg.LoginProbe(pg)

	ok, err := probe(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "required selector missing")

	pg.counts["#account-menu"] = 1
	ok, err = probe(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
