package frame

import (
	"context"
	"fmt"
	"time"
)

// maxCaptureFailures ends the producer once the browser stops answering
// screenshot requests for this many consecutive ticks.
const maxCaptureFailures = 30

// CaptureFunc returns one encoded screenshot of the browser surface.
type CaptureFunc func(ctx context.Context) ([]byte, error)

// Producer runs the capture loop for one session. It stamps each snapshot
// with a monotonic sequence number and hands it to the sink. The sink must
// not block; frame thinning is the mailbox's job, not the producer's.
type Producer struct {
	capture  CaptureFunc
	width    int
	height   int
	interval time.Duration
	seq      uint64
	sink     func(*Frame)
}

func NewProducer(capture CaptureFunc, width, height int, interval time.Duration, sink func(*Frame)) *Producer {
	return &Producer{
		capture:  capture,
		width:    width,
		height:   height,
		interval: interval,
		sink:     sink,
	}
}

// CaptureOne takes a single frame immediately, outside the loop. Used to
// confirm the surface is paintable before the session reports Streaming.
func (p *Producer) CaptureOne(ctx context.Context) (*Frame, error) {
	data, err := p.capture(ctx)
	if err != nil {
		return nil, err
	}
	p.seq++
	f := &Frame{Width: p.width, Height: p.height, Seq: p.seq, Data: data}
	p.sink(f)
	return f, nil
}

// Run captures frames until the context is cancelled or the browser stops
// responding. Transient capture errors skip the tick; the tab may be
// mid-navigation and will paint again shortly.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		data, err := p.capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= maxCaptureFailures {
				return fmt.Errorf("frame capture failed %d times in a row: %w", failures, err)
			}
			continue
		}
		failures = 0

		p.seq++
		p.sink(&Frame{Width: p.width, Height: p.height, Seq: p.seq, Data: data})
	}
}
