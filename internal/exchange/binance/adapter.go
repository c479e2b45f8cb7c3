package binance

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"pricefeed/internal/exchange"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultWSURL = "wss://stream.binance.com:9443/ws"
	streamSuffix = "@ticker"
)

type Options struct {
	WSURL string
}

// BinanceAdapter subscribes through the connection URL: every pair becomes a
// `<symbol>@ticker` stream name, so there is no subscribe handshake.
type BinanceAdapter struct {
	wsURL string

	// native symbol (BTCUSDT) -> normalized pair (BTC/USDT) for every pair
	// this adapter has connected for.
	mu      sync.RWMutex
	symbols map[string]string
}

// binanceTicker covers the 24hr ticker payload. B and A are declared so the
// case-insensitive decoder does not fold the quantities into b and a.
type binanceTicker struct {
	Symbol *string `json:"s"`
	Bid    *string `json:"b"`
	Ask    *string `json:"a"`
	BidQty *string `json:"B"`
	AskQty *string `json:"A"`
}

// combined stream endpoints wrap the payload as {"stream":..., "data":{...}}
type binanceFrame struct {
	binanceTicker
	Data *binanceTicker `json:"data"`
}

func NewAdapter(opts Options) *BinanceAdapter {
	if opts.WSURL == "" {
		opts.WSURL = DefaultWSURL
	}
	return &BinanceAdapter{
		wsURL:   strings.TrimRight(opts.WSURL, "/"),
		symbols: make(map[string]string),
	}
}

func (b *BinanceAdapter) Name() exchange.ExchangeID {
	return exchange.Binance
}

// SubscriptionBatches returns a single batch: the whole connection's
// subscription is carried by its URL.
func (b *BinanceAdapter) SubscriptionBatches(pairs []string) [][]string {
	if len(pairs) == 0 {
		return nil
	}
	return [][]string{pairs}
}

func (b *BinanceAdapter) Connect(ctx context.Context, pairs []string) (*exchange.Conn, error) {
	if len(pairs) == 0 {
		return nil, errors.New("binance: no pairs to subscribe")
	}
	b.remember(pairs)

	u := b.streamURL(pairs)
	log.WithField("exchange", b.Name()).Infof("connecting for %d pairs", len(pairs))

	c, err := exchange.Dial(ctx, u)
	if err != nil {
		return nil, errors.Wrap(err, "binance")
	}
	return c, nil
}

func (b *BinanceAdapter) Decode(message []byte) exchange.Event {
	var frame binanceFrame
	if err := sonic.Unmarshal(message, &frame); err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, err.Error()))
	}

	t := frame.binanceTicker
	if frame.Data != nil {
		t = *frame.Data
	}
	if t.Symbol == nil || t.Bid == nil || t.Ask == nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, "binance: missing s, b or a"))
	}

	bid, err := strconv.ParseFloat(*t.Bid, 64)
	if err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, "binance: bid "+err.Error()))
	}
	ask, err := strconv.ParseFloat(*t.Ask, 64)
	if err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, "binance: ask "+err.Error()))
	}

	pair, err := b.resolve(*t.Symbol)
	if err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, err.Error()))
	}

	return exchange.Price(exchange.PriceUpdate{
		Exchange: b.Name(),
		Pair:     pair,
		Price:    (bid + ask) / 2,
	})
}

func (b *BinanceAdapter) streamURL(pairs []string) string {
	streams := make([]string, len(pairs))
	for i, pair := range pairs {
		streams[i] = streamName(pair)
	}
	return b.wsURL + "/" + strings.Join(streams, "/")
}

func streamName(pair string) string {
	return strings.ToLower(nativeSymbol(pair)) + streamSuffix
}

func nativeSymbol(pair string) string {
	r := strings.NewReplacer("/", "", "_", "")
	return strings.ToUpper(r.Replace(pair))
}

func (b *BinanceAdapter) remember(pairs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pair := range pairs {
		b.symbols[nativeSymbol(pair)] = pair
	}
}

// resolve maps a native symbol back to the pair it was subscribed as and
// falls back to the suffix heuristic for symbols never subscribed here.
func (b *BinanceAdapter) resolve(symbol string) (string, error) {
	b.mu.RLock()
	pair, ok := b.symbols[strings.ToUpper(symbol)]
	b.mu.RUnlock()
	if ok {
		return pair, nil
	}
	return exchange.Normalize(symbol)
}
