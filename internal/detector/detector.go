// Package detector watches a driven page for its authenticated state.
package detector

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Probe answers whether the page has reached the authenticated state. A
// probe error is not a detection failure; the page may simply be
// mid-navigation.
type Probe func(ctx context.Context) (bool, error)

// Detector polls a probe on its own interval, decoupled from the frame
// rate, and reports a positive detection exactly once.
type Detector struct {
	probe    Probe
	interval time.Duration
	onDetect func()
}

func New(probe Probe, interval time.Duration, onDetect func()) *Detector {
	return &Detector{
		probe:    probe,
		interval: interval,
		onDetect: onDetect,
	}
}

// Run polls until the context is cancelled or the probe reports true. The
// callback fires at most once; Run returns right after it so a session that
// already transitioned never hears from its detector again. Probe errors
// are logged and retried on the next tick.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		detected, err := d.probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("login probe failed, retrying", "error", err)
			continue
		}
		if detected {
			d.onDetect()
			return
		}
	}
}
