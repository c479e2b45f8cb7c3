package prices

import (
	"sync"

	"pricefeed/internal/exchange"
)

type Key struct {
	Exchange exchange.ExchangeID
	Pair     string
}

// Snapshot is a point in time copy of the table grouped by exchange.
type Snapshot map[exchange.ExchangeID]map[string]float64

// Table holds the latest price per (exchange, pair). One lock guards the
// whole map and is never held across I/O.
type Table struct {
	mu     sync.RWMutex
	prices map[Key]float64
}

func NewTable() *Table {
	return &Table{prices: make(map[Key]float64)}
}

func (t *Table) Set(ex exchange.ExchangeID, pair string, price float64) {
	t.mu.Lock()
	t.prices[Key{Exchange: ex, Pair: pair}] = price
	t.mu.Unlock()
}

func (t *Table) Get(ex exchange.ExchangeID, pair string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	price, ok := t.prices[Key{Exchange: ex, Pair: pair}]
	return price, ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prices)
}

func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := make(Snapshot)
	for k, price := range t.prices {
		pairs, ok := snap[k.Exchange]
		if !ok {
			pairs = make(map[string]float64)
			snap[k.Exchange] = pairs
		}
		pairs[k.Pair] = price
	}
	return snap
}
