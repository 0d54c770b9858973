package registry

import (
	"context"
	"time"
)

// WakeSignal is a single-slot, level-triggered notification. Set never
// blocks: the one-slot buffer latches the edge until a waiter observes it,
// after which the signal auto-resets. One signal exists per active approval.
type WakeSignal struct {
	ch chan struct{}
}

func newWakeSignal() *WakeSignal {
	return &WakeSignal{ch: make(chan struct{}, 1)}
}

// Set latches the signal. Setting an already-set signal is a no-op, so
// concurrent setters collapse into a single wakeup.
func (s *WakeSignal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the signal fires, the slice elapses, or ctx is done.
// It returns true only when the signal fired; the caller must re-read
// authoritative state either way rather than trust the wake itself.
func (s *WakeSignal) Wait(ctx context.Context, slice time.Duration) bool {
	timer := time.NewTimer(slice)
	defer timer.Stop()

	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
