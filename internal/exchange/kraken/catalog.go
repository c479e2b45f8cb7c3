package kraken

import (
	"context"
	"net/http"
	"strings"
	"time"

	"pricefeed/internal/exchange"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultRESTURL = "https://api.kraken.com/0/public/AssetPairs"

type assetPairs struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		WSName string `json:"wsname"`
	} `json:"result"`
}

// Catalog reads the supported pairs from the AssetPairs endpoint.
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

// FetchSupportedPairs returns each pair's websocket name (XBT/USD), falling
// back to the result key when no wsname is listed.
func (c *Catalog) FetchSupportedPairs(ctx context.Context) []string {
	var data assetPairs
	err := exchange.Retry(ctx, c.attempts, func(ctx context.Context) error {
		data = assetPairs{}
		if err := exchange.GetJSON(ctx, c.client, c.url, &data); err != nil {
			return err
		}
		if len(data.Error) > 0 {
			return errors.Errorf("kraken: %s", strings.Join(data.Error, "; "))
		}
		return nil
	})
	if err != nil {
		log.WithField("exchange", exchange.Kraken).
			Errorf("fetch pairs: %v", errors.Wrap(exchange.ErrCatalogUnavailable, err.Error()))
		return nil
	}

	pairs := make([]string, 0, len(data.Result))
	for key, info := range data.Result {
		if info.WSName != "" {
			pairs = append(pairs, info.WSName)
			continue
		}
		pairs = append(pairs, key)
	}

	log.WithField("exchange", exchange.Kraken).Infof("fetched %d pairs", len(pairs))
	return pairs
}
