package broadcast

import (
	"context"
	"sync/atomic"

	"pricefeed/internal/exchange"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBuffer           = 4096
	DefaultSubscriberBuffer = 256
)

// Hub fans normalized updates out to subscribers. Emit never blocks: when
// the inbound queue or a subscriber's queue is full the update is dropped
// for that queue.
type Hub struct {
	in               chan exchange.PriceUpdate
	subscribers      cmap.ConcurrentMap[string, *Subscription]
	subscriberBuffer int

	dropped atomic.Uint64
}

// Subscription receives updates until Close is called. The channel is never
// closed; readers should stop on their own context.
type Subscription struct {
	ID      string
	updates chan exchange.PriceUpdate
	hub     *Hub
	dropped atomic.Uint64
}

func NewHub(buffer, subscriberBuffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	return &Hub{
		in:               make(chan exchange.PriceUpdate, buffer),
		subscribers:      cmap.New[*Subscription](),
		subscriberBuffer: subscriberBuffer,
	}
}

func (h *Hub) Emit(update exchange.PriceUpdate) {
	select {
	case h.in <- update:
	default:
		h.dropped.Add(1)
	}
}

// Dropped counts updates rejected by Emit because the hub was saturated.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:      xid.New().String(),
		updates: make(chan exchange.PriceUpdate, h.subscriberBuffer),
		hub:     h,
	}
	h.subscribers.Set(sub.ID, sub)
	log.WithField("subscriber", sub.ID).Debugf("subscribed, total %d", h.subscribers.Count())
	return sub
}

func (h *Hub) Subscribers() int {
	return h.subscribers.Count()
}

// Run dispatches emitted updates until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-h.in:
			for item := range h.subscribers.IterBuffered() {
				item.Val.deliver(update)
			}
		}
	}
}

func (s *Subscription) Updates() <-chan exchange.PriceUpdate {
	return s.updates
}

// Dropped counts updates skipped because this subscriber fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.hub.subscribers.Remove(s.ID)
}

func (s *Subscription) deliver(update exchange.PriceUpdate) {
	select {
	case s.updates <- update:
	default:
		s.dropped.Add(1)
	}
}
