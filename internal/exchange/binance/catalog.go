package binance

import (
	"context"
	"net/http"
	"time"

	"pricefeed/internal/exchange"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultRESTURL = "https://api.binance.com/api/v3/exchangeInfo"

type exchangeInfo struct {
	Symbols []struct {
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// Catalog reads the supported pairs from the exchangeInfo endpoint.
type Catalog struct {
	url      string
	client   *http.Client
	attempts int
}

func NewCatalog(url string, timeout time.Duration, attempts int) *Catalog {
	if url == "" {
		url = DefaultRESTURL
	}
	return &Catalog{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
	}
}

// FetchSupportedPairs returns BASE/QUOTE spellings, or nil when the
// endpoint cannot be read.
func (c *Catalog) FetchSupportedPairs(ctx context.Context) []string {
	var info exchangeInfo
	err := exchange.Retry(ctx, c.attempts, func(ctx context.Context) error {
		info = exchangeInfo{}
		return exchange.GetJSON(ctx, c.client, c.url, &info)
	})
	if err != nil {
		log.WithField("exchange", exchange.Binance).
			Errorf("fetch pairs: %v", errors.Wrap(exchange.ErrCatalogUnavailable, err.Error()))
		return nil
	}

	pairs := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.BaseAsset == "" || s.QuoteAsset == "" {
			continue
		}
		pairs = append(pairs, s.BaseAsset+"/"+s.QuoteAsset)
	}

	log.WithField("exchange", exchange.Binance).Infof("fetched %d pairs", len(pairs))
	return pairs
}
