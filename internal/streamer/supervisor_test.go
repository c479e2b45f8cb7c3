package streamer

import (
	"context"
	"testing"
	"time"

	"pricefeed/internal/exchange"
	"pricefeed/internal/prices"
	tests "pricefeed/tests/mock_servers"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{BaseDelay: 10 * time.Millisecond, MaxAttempts: 10}
}

func runSupervisor(ctx context.Context, sup *Supervisor) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- sup.Run(ctx)
	}()
	return errCh
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 5 * time.Second, MaxAttempts: 10}

	assert.Equal(t, 5*time.Second, p.Delay(1))
	assert.Equal(t, 15*time.Second, p.Delay(3))
	assert.Equal(t, 50*time.Second, p.Delay(10))
}

func TestSupervisor_StoresAndEmitsPrices(t *testing.T) {
	mockServer := tests.NewMockWebSocketServer()
	defer mockServer.Stop()

	table := prices.NewTable()
	sink := make(chanSink, 10)
	sup := NewSupervisor("binance#0", NewMockConnector(mockServer.URL()), []string{"BTC/USDT", "ETH/USDT"}, table, sink, testPolicy())
	assert.Equal(t, StateIdle, sup.State())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := runSupervisor(ctx, sup)

	require.True(t, mockServer.WaitForClients(1, 2*time.Second))

	mockServer.SendMessage([]byte(`{"pair":"BTC/USDT","price":50000}`))
	mockServer.SendMessage([]byte(`garbage`))
	mockServer.SendMessage([]byte(`{"event":"heartbeat"}`))
	mockServer.SendMessage([]byte(`{"pair":"ETH/USDT","price":3000}`))

	var received []exchange.PriceUpdate
	timeout := time.After(2 * time.Second)
collect:
	for len(received) < 2 {
		select {
		case u := <-sink:
			received = append(received, u)
		case <-timeout:
			break collect
		}
	}

	require.Len(t, received, 2)
	assert.Equal(t, "BTC/USDT", received[0].Pair)
	assert.Equal(t, "ETH/USDT", received[1].Pair)

	price, ok := table.Get(exchange.Binance, "BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, 50000.0, price)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, StateOpen, sup.State())

	status := sup.Status()
	assert.Equal(t, "binance#0", status.ID)
	assert.Equal(t, exchange.Binance, status.Exchange)
	assert.Equal(t, 2, status.Pairs)
	assert.Equal(t, "open", status.State)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
	assert.Equal(t, StateClosed, sup.State())
	assert.Eventually(t, func() bool { return mockServer.GetConnectedClients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSupervisor_RetryExhaustion(t *testing.T) {
	connector := NewMockConnector("")
	sup := NewSupervisor("binance#0", connector, []string{"BTC/USDT"}, prices.NewTable(), nil, testPolicy())
	rec := &recordingWait{}
	sup.wait = rec.wait

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sup.Run(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetryExhausted), "err: %v", err)
	assert.Equal(t, StateTerminal, sup.State())
	assert.Equal(t, 11, connector.Connects())
	assert.Equal(t, 11, sup.Attempt())
	assert.NotEmpty(t, sup.Status().LastError)

	delays := rec.Delays()
	require.Len(t, delays, 10)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
	assert.Equal(t, 10*time.Millisecond, delays[0])
	assert.Equal(t, 100*time.Millisecond, delays[9])
}

func TestSupervisor_TerminalNeverRetries(t *testing.T) {
	connector := NewMockConnector("")
	sup := NewSupervisor("binance#0", connector, []string{"BTC/USDT"}, prices.NewTable(), nil, Policy{BaseDelay: time.Millisecond, MaxAttempts: 2})
	rec := &recordingWait{}
	sup.wait = rec.wait

	err := sup.Run(context.Background())
	assert.ErrorIs(t, err, ErrRetryExhausted)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, connector.Connects())
	assert.Len(t, rec.Delays(), 2)
}

func TestSupervisor_BackoffIsInterruptible(t *testing.T) {
	sup := NewSupervisor("binance#0", NewMockConnector(""), []string{"BTC/USDT"}, prices.NewTable(), nil,
		Policy{BaseDelay: time.Hour, MaxAttempts: 10})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runSupervisor(ctx, sup)

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("backoff sleep ignored cancellation")
	}
	assert.Equal(t, 1, sup.Attempt())
}

func TestSupervisor_AttemptResetsAfterFirstFrame(t *testing.T) {
	mockServer := tests.NewMockWebSocketServer()
	defer mockServer.Stop()

	connector := &MockConnector{wsURL: mockServer.URL(), failFirst: 3}
	sup := NewSupervisor("binance#0", connector, []string{"BTC/USDT"}, prices.NewTable(), nil, testPolicy())
	rec := &recordingWait{}
	sup.wait = rec.wait

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := runSupervisor(ctx, sup)

	require.True(t, mockServer.WaitForClients(1, 2*time.Second))
	assert.Equal(t, 3, sup.Attempt())

	mockServer.SendMessage([]byte(`{"event":"heartbeat"}`))
	require.Eventually(t, func() bool { return sup.Attempt() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateOpen, sup.State())

	mockServer.DropClients()
	require.Eventually(t, func() bool { return len(rec.Delays()) == 4 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, mockServer.WaitForClients(1, 2*time.Second))

	delays := rec.Delays()
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		10 * time.Millisecond,
	}, delays)

	cancel()
	<-errCh
}

func TestSupervisor_SilentConnectionIsDropped(t *testing.T) {
	mockServer := tests.NewMockWebSocketServer()
	defer mockServer.Stop()

	policy := testPolicy()
	policy.ReadTimeout = 50 * time.Millisecond
	sup := NewSupervisor("binance#0", NewMockConnector(mockServer.URL()), []string{"BTC/USDT"}, prices.NewTable(), nil, policy)
	rec := &recordingWait{}
	sup.wait = rec.wait

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := runSupervisor(ctx, sup)

	require.Eventually(t, func() bool { return len(rec.Delays()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, sup.Status().LastError, exchange.ErrConnectionLost.Error())

	cancel()
	<-errCh
}

func TestSupervisor_KeepAliveFollowsConnection(t *testing.T) {
	mockServer := tests.NewMockWebSocketServer()
	defer mockServer.Stop()

	connector := &MockKeepAliveConnector{MockConnector: NewMockConnector(mockServer.URL())}
	sup := NewSupervisor("kraken#0", connector, []string{"XBT/USD"}, prices.NewTable(), nil, testPolicy())
	sup.wait = (&recordingWait{}).wait

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := runSupervisor(ctx, sup)

	require.True(t, mockServer.WaitForClients(1, 2*time.Second))
	require.Eventually(t, func() bool { return connector.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	mockServer.DropClients()
	require.Eventually(t, func() bool { return connector.started.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-errCh

	assert.Equal(t, int64(0), connector.active.Load())
	assert.Equal(t, int64(1), connector.maxActive.Load())
}
