package exchange

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Aggregator fetches the catalogs of several exchanges concurrently.
type Aggregator struct {
	Catalogs map[ExchangeID]Catalog
}

func NewAggregator(catalogs map[ExchangeID]Catalog) *Aggregator {
	return &Aggregator{Catalogs: catalogs}
}

// FetchAll returns the raw supported pairs per exchange. Exchanges whose
// catalog is unavailable map to an empty slice.
func (a *Aggregator) FetchAll(ctx context.Context) map[ExchangeID][]string {
	var (
		mu     sync.Mutex
		result = make(map[ExchangeID][]string, len(a.Catalogs))
	)

	g, ctx := errgroup.WithContext(ctx)
	for id, catalog := range a.Catalogs {
		id, catalog := id, catalog
		g.Go(func() error {
			pairs := catalog.FetchSupportedPairs(ctx)
			if len(pairs) == 0 {
				log.WithField("exchange", id).Error("no supported pairs available")
			}

			mu.Lock()
			result[id] = pairs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result
}
