package queue

import "context"

// Gate serializes access to the transcription engine. The accelerator
// cannot be time-sliced, so at most one engine invocation may run at a
// time no matter how many workers poll the queue. All workers sharing an
// accelerator must share one Gate.
type Gate struct {
	sem chan struct{}
}

// NewGate creates a gate admitting one holder at a time.
func NewGate() *Gate {
	return &Gate{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the gate is free or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the gate for the next holder.
func (g *Gate) Release() {
	<-g.sem
}
