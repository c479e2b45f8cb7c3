package prices

import (
	"pricefeed/internal/exchange"

	"github.com/pkg/errors"
)

var (
	// ErrNoPriceData means the table holds nothing at all.
	ErrNoPriceData = errors.New("no price data available")
	// ErrNotFound means the requested exchange or pair has no stored price.
	ErrNotFound = errors.New("no data found")
)

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Pair     string
	Exchange string
}

// Query returns the slice of snap matching f. The pair filter is normalized
// and the exchange filter is case-insensitive.
func Query(snap Snapshot, f Filter) (Snapshot, error) {
	if isEmpty(snap) {
		return nil, ErrNoPriceData
	}

	ex := exchange.ParseExchangeID(f.Exchange)

	var pair string
	if f.Pair != "" {
		p, err := exchange.Normalize(f.Pair)
		if err != nil {
			return nil, err
		}
		pair = p
	}

	switch {
	case pair == "" && ex == "":
		return snap, nil

	case pair == "":
		pairs, ok := snap[ex]
		if !ok || len(pairs) == 0 {
			return nil, errors.Wrapf(ErrNotFound, "exchange %s", ex)
		}
		return Snapshot{ex: pairs}, nil

	case ex == "":
		out := make(Snapshot)
		for id, pairs := range snap {
			if price, ok := pairs[pair]; ok {
				out[id] = map[string]float64{pair: price}
			}
		}
		if len(out) == 0 {
			return nil, errors.Wrapf(ErrNotFound, "pair %s on any exchange", f.Pair)
		}
		return out, nil

	default:
		price, ok := snap[ex][pair]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "pair %s on exchange %s", f.Pair, ex)
		}
		return Snapshot{ex: {pair: price}}, nil
	}
}

func isEmpty(snap Snapshot) bool {
	for _, pairs := range snap {
		if len(pairs) > 0 {
			return false
		}
	}
	return true
}
