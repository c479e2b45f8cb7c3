package streamer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pricefeed/internal/exchange"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Exchange binds a connector to its catalog. ChunkSize caps the pairs one
// connection carries.
type Exchange struct {
	Connector exchange.Connector
	Catalog   exchange.Catalog
	ChunkSize int
}

type Options struct {
	Policy Policy
	// Stagger separates consecutive connection launches.
	Stagger time.Duration
}

// Engine discovers pairs, splits them into chunks and runs one Supervisor
// per chunk.
type Engine struct {
	exchanges []Exchange
	table     PriceWriter
	sink      Sink
	opts      Options
	wait      func(ctx context.Context, d time.Duration) error

	mu          sync.RWMutex
	supervisors []*Supervisor

	wg sync.WaitGroup
}

func NewEngine(table PriceWriter, sink Sink, opts Options, exchanges ...Exchange) *Engine {
	return &Engine{
		exchanges: exchanges,
		table:     table,
		sink:      sink,
		opts:      opts,
		wait:      sleepContext,
	}
}

// Start returns immediately. Catalog discovery and connection launches run
// in the background until ctx is done; Wait blocks until they have all
// returned.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.launch(ctx)
	}()
}

func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) Supervisors() []*Supervisor {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Supervisor, len(e.supervisors))
	copy(out, e.supervisors)
	return out
}

func (e *Engine) Status() []Status {
	sups := e.Supervisors()
	out := make([]Status, 0, len(sups))
	for _, s := range sups {
		out = append(out, s.Status())
	}
	return out
}

func (e *Engine) launch(ctx context.Context) {
	catalogs := make(map[exchange.ExchangeID]exchange.Catalog, len(e.exchanges))
	for _, ex := range e.exchanges {
		catalogs[ex.Connector.Name()] = ex.Catalog
	}
	raw := exchange.NewAggregator(catalogs).FetchAll(ctx)

	launched := 0
	for _, ex := range e.exchanges {
		id := ex.Connector.Name()
		logger := log.WithField("exchange", id)

		pairs, invalid := exchange.NormalizeAll(raw[id])
		if len(invalid) > 0 {
			logger.Warnf("skipping %d pairs with invalid format: %v", len(invalid), invalid)
		}
		if len(pairs) == 0 {
			logger.Error("no pairs to subscribe, exchange disabled")
			continue
		}
		sort.Strings(pairs)

		chunks := exchange.Chunk(pairs, ex.ChunkSize)
		logger.Infof("subscribing to %d pairs over %d connections", len(pairs), len(chunks))

		for i, chunk := range chunks {
			if launched > 0 && e.opts.Stagger > 0 {
				if err := e.wait(ctx, e.opts.Stagger); err != nil {
					return
				}
			}
			if ctx.Err() != nil {
				return
			}

			sup := NewSupervisor(fmt.Sprintf("%s#%d", id, i), ex.Connector, chunk, e.table, e.sink, e.opts.Policy)
			e.mu.Lock()
			e.supervisors = append(e.supervisors, sup)
			e.mu.Unlock()

			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.run(ctx, sup)
			}()
			launched++
		}
	}
}

func (e *Engine) run(ctx context.Context, sup *Supervisor) {
	err := sup.Run(ctx)
	switch {
	case errors.Is(err, ErrRetryExhausted):
		log.WithField("supervisor", sup.ID()).Errorf("stopped receiving updates: %v", err)
	case err != nil && ctx.Err() != nil:
		log.WithField("supervisor", sup.ID()).Debug("stopped")
	case err != nil:
		log.WithField("supervisor", sup.ID()).Errorf("stopped: %v", err)
	}
}
