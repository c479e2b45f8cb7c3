package kraken

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"pricefeed/internal/exchange"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultWSURL          = "wss://ws.kraken.com"
	DefaultSubscribeBatch = 100
	DefaultPingInterval   = 15 * time.Second
)

type Options struct {
	WSURL string
	// SubscribeBatch caps the pairs carried by one subscribe message.
	SubscribeBatch int
	PingInterval   time.Duration
}

// KrakenAdapter subscribes with explicit subscribe messages once the
// connection is open and needs an application level ping to stay alive.
type KrakenAdapter struct {
	opts Options
}

type subscription struct {
	Name string `json:"name"`
}

type subscribeMessage struct {
	Event        string       `json:"event"`
	Pair         []string     `json:"pair"`
	Subscription subscription `json:"subscription"`
}

type pingMessage struct {
	Event string `json:"event"`
}

type krakenEvent struct {
	Event        *string `json:"event"`
	Status       string  `json:"status"`
	ErrorMessage string  `json:"errorMessage"`
	Pair         any     `json:"pair"`
}

type krakenTicker struct {
	Bid []json.RawMessage `json:"b"`
	Ask []json.RawMessage `json:"a"`
}

func NewAdapter(opts Options) *KrakenAdapter {
	if opts.WSURL == "" {
		opts.WSURL = DefaultWSURL
	}
	if opts.SubscribeBatch <= 0 {
		opts.SubscribeBatch = DefaultSubscribeBatch
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	return &KrakenAdapter{opts: opts}
}

func (k *KrakenAdapter) Name() exchange.ExchangeID {
	return exchange.Kraken
}

func (k *KrakenAdapter) SubscriptionBatches(pairs []string) [][]string {
	return exchange.Chunk(pairs, k.opts.SubscribeBatch)
}

func (k *KrakenAdapter) Connect(ctx context.Context, pairs []string) (*exchange.Conn, error) {
	if len(pairs) == 0 {
		return nil, errors.New("kraken: no pairs to subscribe")
	}

	logger := log.WithField("exchange", k.Name())
	logger.Infof("connecting for %d pairs", len(pairs))

	c, err := exchange.Dial(ctx, k.opts.WSURL)
	if err != nil {
		return nil, errors.Wrap(err, "kraken")
	}

	for _, batch := range k.SubscriptionBatches(pairs) {
		msg := subscribeMessage{
			Event:        "subscribe",
			Pair:         batch,
			Subscription: subscription{Name: "ticker"},
		}
		if err := c.WriteJSON(msg); err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "kraken: subscribe %d pairs", len(batch))
		}
		logger.Debugf("subscribed %d pairs", len(batch))
	}

	return c, nil
}

// KeepAlive sends {"event":"ping"} every PingInterval until ctx is done.
func (k *KrakenAdapter) KeepAlive(ctx context.Context, c *exchange.Conn) error {
	ticker := time.NewTicker(k.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.WriteJSON(pingMessage{Event: "ping"}); err != nil {
				return errors.Wrap(err, "kraken: ping")
			}
		}
	}
}

func (k *KrakenAdapter) Decode(message []byte) exchange.Event {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, "kraken: empty frame"))
	}

	switch trimmed[0] {
	case '{':
		return k.decodeEvent(trimmed)
	case '[':
		return k.decodeTicker(trimmed)
	default:
		return exchange.Failure(errors.Wrapf(exchange.ErrDecodeFailure, "kraken: %.64s", trimmed))
	}
}

func (k *KrakenAdapter) decodeEvent(message []byte) exchange.Event {
	var ev krakenEvent
	if err := sonic.Unmarshal(message, &ev); err != nil || ev.Event == nil {
		return exchange.Failure(errors.Wrapf(exchange.ErrDecodeFailure, "kraken: %.64s", message))
	}

	switch *ev.Event {
	case "systemStatus", "heartbeat", "pong":
		return exchange.Info()
	case "subscriptionStatus":
		if ev.Status == "error" {
			return exchange.Event{
				Kind: exchange.EventInfo,
				Err:  errors.Wrapf(exchange.ErrSubscriptionRejected, "%s for pair %v", ev.ErrorMessage, ev.Pair),
			}
		}
		return exchange.Info()
	default:
		return exchange.Failure(errors.Wrapf(exchange.ErrDecodeFailure, "kraken: event %q", *ev.Event))
	}
}

// decodeTicker handles [channelID, {"b":[price,...],"a":[price,...]}, "ticker", pair].
func (k *KrakenAdapter) decodeTicker(message []byte) exchange.Event {
	var frame []json.RawMessage
	if err := sonic.Unmarshal(message, &frame); err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, err.Error()))
	}
	if len(frame) < 4 {
		return exchange.Failure(errors.Wrapf(exchange.ErrDecodeFailure, "kraken: array of %d elements", len(frame)))
	}

	body := bytes.TrimSpace(frame[1])
	if len(body) == 0 || body[0] != '{' {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, "kraken: second element is not an object"))
	}

	var t krakenTicker
	if err := sonic.Unmarshal(body, &t); err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, err.Error()))
	}
	if len(t.Bid) == 0 || len(t.Ask) == 0 {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, "kraken: missing b or a"))
	}

	bid, err := parseNumber(t.Bid[0])
	if err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, "kraken: bid "+err.Error()))
	}
	ask, err := parseNumber(t.Ask[0])
	if err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, "kraken: ask "+err.Error()))
	}

	var native string
	if err := sonic.Unmarshal(frame[3], &native); err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, "kraken: pair is not a string"))
	}
	pair, err := exchange.Normalize(native)
	if err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, err.Error()))
	}

	return exchange.Price(exchange.PriceUpdate{
		Exchange: k.Name(),
		Pair:     pair,
		Price:    (bid + ask) / 2,
	})
}

// parseNumber accepts both "50.1" and 50.1.
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := sonic.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := sonic.Unmarshal(raw, &f); err != nil {
		return 0, errors.Errorf("%s is not a number", raw)
	}
	return f, nil
}
