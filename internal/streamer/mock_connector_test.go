package streamer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"pricefeed/internal/exchange"

	"github.com/pkg/errors"
)

// MockConnector dials a mock websocket server and decodes
// {"pair":"BTC/USDT","price":1} frames.
type MockConnector struct {
	wsURL string

	// failFirst makes the first n Connect calls fail without dialing.
	failFirst int64
	connects  atomic.Int64
}

func NewMockConnector(wsURL string) *MockConnector {
	return &MockConnector{wsURL: wsURL}
}

func (m *MockConnector) Name() exchange.ExchangeID {
	return exchange.Binance
}

func (m *MockConnector) SubscriptionBatches(pairs []string) [][]string {
	return [][]string{pairs}
}

func (m *MockConnector) Connect(ctx context.Context, pairs []string) (*exchange.Conn, error) {
	n := m.connects.Add(1)
	if n <= m.failFirst || m.wsURL == "" {
		return nil, errors.New("mock: connection refused")
	}
	return exchange.Dial(ctx, m.wsURL)
}

func (m *MockConnector) Connects() int {
	return int(m.connects.Load())
}

type mockTick struct {
	Pair  string  `json:"pair"`
	Price float64 `json:"price"`
	Event string  `json:"event"`
}

func (m *MockConnector) Decode(message []byte) exchange.Event {
	var tick mockTick
	if err := json.Unmarshal(message, &tick); err != nil {
		return exchange.Failure(errors.Wrap(exchange.ErrDecodeFailure, err.Error()))
	}
	if tick.Event != "" {
		return exchange.Info()
	}
	if tick.Pair == "" {
		return exchange.Failure(exchange.ErrDecodeFailure)
	}
	return exchange.Price(exchange.PriceUpdate{Exchange: m.Name(), Pair: tick.Pair, Price: tick.Price})
}

// MockKeepAliveConnector also tracks how many keepalive loops are running.
type MockKeepAliveConnector struct {
	*MockConnector

	active    atomic.Int64
	maxActive atomic.Int64
	started   atomic.Int64
}

func (m *MockKeepAliveConnector) KeepAlive(ctx context.Context, c *exchange.Conn) error {
	n := m.active.Add(1)
	m.started.Add(1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	defer m.active.Add(-1)

	<-ctx.Done()
	return nil
}

// recordingWait replaces the backoff sleep and keeps every requested delay.
type recordingWait struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingWait) wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingWait) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

type chanSink chan exchange.PriceUpdate

func (s chanSink) Emit(u exchange.PriceUpdate) {
	select {
	case s <- u:
	default:
	}
}
