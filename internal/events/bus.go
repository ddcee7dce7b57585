package events

import (
	"sync"

	"github.com/socialpulse/walletcore/internal/models"
	"github.com/socialpulse/walletcore/pkg/logger"
)

// Bus is an in-process publish/subscribe channel for balance events. Producers
// never block: when a subscriber's buffer is full the event is dropped for
// that subscriber and logged.
type Bus struct {
	logger *logger.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan models.BalanceEvent
	closed bool
}

func NewBus(logger *logger.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[int]chan models.BalanceEvent),
	}
}

func (b *Bus) Publish(event models.BalanceEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Dropping balance event for slow subscriber ", "subscriber ", id, " type ", event.Type)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel together with
// an unsubscribe function. Unsubscribing closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan models.BalanceEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan models.BalanceEvent, buffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Close tears down all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
