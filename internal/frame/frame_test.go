package frame

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxLatestWins(t *testing.T) {
	m := NewMailbox()

	assert.Nil(t, m.Take())

	m.Put(&Frame{Seq: 1})
	m.Put(&Frame{Seq: 2})
	m.Put(&Frame{Seq: 3})

	f := m.Take()
	require.NotNil(t, f)
	assert.Equal(t, uint64(3), f.Seq, "unconsumed frames are overwritten, not queued")
	assert.Nil(t, m.Take())
}

func TestMailboxReadySignal(t *testing.T) {
	m := NewMailbox()

	select {
	case <-m.Ready():
		t.Fatal("ready before any frame")
	default:
	}

	m.Put(&Frame{Seq: 1})
	m.Put(&Frame{Seq: 2})

	select {
	case <-m.Ready():
	default:
		t.Fatal("no ready signal after put")
	}
	assert.Equal(t, uint64(2), m.Take().Seq)
}

func TestProducerSequenceIncreases(t *testing.T) {
	var mu sync.Mutex
	var seqs []uint64

	capture := func(context.Context) ([]byte, error) { return []byte{0xff}, nil }
	p := NewProducer(capture, 600, 800, time.Millisecond, func(f *Frame) {
		mu.Lock()
		seqs = append(seqs, f.Seq)
		mu.Unlock()
	})

	first, err := p.CaptureOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, 600, first.Width)
	assert.Equal(t, 800, first.Height)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) >= 5
	}, 2*time.Second, time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1], "sequence numbers never reorder")
	}
}

func TestProducerToleratesTransientFailures(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	frames := 0

	capture := func(context.Context) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls%2 == 0 {
			return nil, errors.New("page mid-navigation")
		}
		return []byte{0xff}, nil
	}
	p := NewProducer(capture, 600, 800, time.Millisecond, func(*Frame) {
		mu.Lock()
		frames++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return frames >= 3
	}, 2*time.Second, time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProducerGivesUpAfterRepeatedFailures(t *testing.T) {
	capture := func(context.Context) ([]byte, error) {
		return nil, errors.New("browser gone")
	}
	p := NewProducer(capture, 600, 800, time.Microsecond, func(*Frame) {})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser gone")
	case <-time.After(5 * time.Second):
		t.Fatal("producer never gave up on a dead browser")
	}
}
