package approval

import (
	"context"
	"sync"
)

// ChannelDecider bridges approval requests to an out-of-band UI or operator
// console. Pending requests are read from Requests and resolved with Resolve.
type ChannelDecider struct {
	requests chan Request

	mu      sync.Mutex
	pending map[string]chan Decision
}

// NewChannelDecider returns a decider buffering up to capacity undelivered
// requests.
func NewChannelDecider(capacity int) *ChannelDecider {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChannelDecider{
		requests: make(chan Request, capacity),
		pending:  make(map[string]chan Decision),
	}
}

// Requests exposes pending approval requests in arrival order.
func (d *ChannelDecider) Requests() <-chan Request {
	return d.requests
}

// Resolve delivers the decision for the request with the given ID. Unknown
// IDs are ignored; resolving twice is a no-op.
func (d *ChannelDecider) Resolve(id string, decision Decision) {
	d.mu.Lock()
	ch, ok := d.pending[id]
	delete(d.pending, id)
	d.mu.Unlock()
	if ok {
		ch <- decision
	}
}

// Decide implements Decider.
func (d *ChannelDecider) Decide(ctx context.Context, req Request) (Decision, error) {
	ch := make(chan Decision, 1)
	d.mu.Lock()
	d.pending[req.ID] = ch
	d.mu.Unlock()

	select {
	case d.requests <- req:
	case <-ctx.Done():
		d.drop(req.ID)
		return Decision{}, ctx.Err()
	}

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		d.drop(req.ID)
		return Decision{}, ctx.Err()
	}
}

func (d *ChannelDecider) drop(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}
