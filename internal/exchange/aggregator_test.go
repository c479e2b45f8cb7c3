package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticCatalog []string

func (c staticCatalog) FetchSupportedPairs(ctx context.Context) []string {
	return c
}

func TestAggregator_FetchAll(t *testing.T) {
	agg := NewAggregator(map[ExchangeID]Catalog{
		Binance: staticCatalog{"BTC/USDT", "ETH/USDT"},
		Kraken:  staticCatalog(nil),
	})

	got := agg.FetchAll(context.Background())

	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, got[Binance])
	assert.Contains(t, got, Kraken)
	assert.Empty(t, got[Kraken])
}
