package exchange

import (
	"context"
	"strings"
)

type ExchangeID string

const (
	Binance ExchangeID = "binance"
	Kraken  ExchangeID = "kraken"
)

// ParseExchangeID lower-cases s so that user supplied filters match stored ids.
func ParseExchangeID(s string) ExchangeID {
	return ExchangeID(strings.ToLower(strings.TrimSpace(s)))
}

// PriceUpdate is one normalized tick. Price is the bid/ask midpoint.
type PriceUpdate struct {
	Exchange ExchangeID `json:"exchange"`
	Pair     string     `json:"pair"`
	Price    float64    `json:"price"`
}

type EventKind int

const (
	// EventFailure marks a frame whose shape is not recognised.
	EventFailure EventKind = iota
	// EventInfo marks heartbeats, status and subscription acknowledgements.
	EventInfo
	// EventPrice carries a PriceUpdate.
	EventPrice
)

func (k EventKind) String() string {
	switch k {
	case EventPrice:
		return "price"
	case EventInfo:
		return "info"
	default:
		return "failure"
	}
}

// Event is the result of decoding one inbound frame. Update is only set for
// EventPrice. Err is set for EventFailure and for rejected subscriptions.
type Event struct {
	Kind   EventKind
	Update PriceUpdate
	Err    error
}

func Price(update PriceUpdate) Event {
	return Event{Kind: EventPrice, Update: update}
}

func Info() Event {
	return Event{Kind: EventInfo}
}

func Failure(err error) Event {
	return Event{Kind: EventFailure, Err: err}
}

// Connector owns one exchange's wire protocol.
type Connector interface {
	Name() ExchangeID
	// SubscriptionBatches splits the pairs of one connection into the
	// groups the exchange accepts in a single subscribe request.
	SubscriptionBatches(pairs []string) [][]string
	// Connect opens a connection and subscribes to pairs.
	Connect(ctx context.Context, pairs []string) (*Conn, error)
	// Decode never panics; unknown shapes yield EventFailure.
	Decode(message []byte) Event
}

// KeepAliver is implemented by connectors that must send application level
// pings while a connection is open. KeepAlive blocks until ctx is done or a
// write fails.
type KeepAliver interface {
	KeepAlive(ctx context.Context, c *Conn) error
}

// Catalog lists the native pair spellings an exchange supports. An empty
// result means no data was available, not that the exchange lists nothing.
type Catalog interface {
	FetchSupportedPairs(ctx context.Context) []string
}
