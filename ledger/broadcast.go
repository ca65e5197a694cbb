package ledger

import (
	"context"
	"sync"
)

// Broadcaster fans snapshots out to subscribers. Stores embed it to
// implement Repository.Subscribe.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Snapshot]struct{}
}

// Subscribe registers a buffered channel that is closed when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan Snapshot]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers s to every subscriber. A subscriber that has not drained
// its previous snapshot gets the newer one instead.
func (b *Broadcaster) Publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- s.Clone():
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s.Clone():
			default:
			}
		}
	}
}
