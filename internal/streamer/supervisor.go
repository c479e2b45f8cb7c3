package streamer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pricefeed/internal/exchange"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrRetryExhausted = errors.New("reconnect attempts exhausted")

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// PriceWriter receives every decoded price.
type PriceWriter interface {
	Set(ex exchange.ExchangeID, pair string, price float64)
}

// Sink receives every decoded price after it is stored. Emit must not block.
type Sink interface {
	Emit(update exchange.PriceUpdate)
}

type Policy struct {
	// BaseDelay is multiplied by the attempt number before each reconnect.
	BaseDelay time.Duration
	// MaxAttempts is the last reconnect attempt allowed; the next failure is terminal.
	MaxAttempts int
	// ReadTimeout closes a connection that has been silent this long. Zero disables it.
	ReadTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   5 * time.Second,
		MaxAttempts: 10,
		ReadTimeout: 90 * time.Second,
	}
}

// Delay grows linearly with the attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// Supervisor keeps one chunk of pairs connected: it opens the connection,
// stores and emits every decoded price, and reconnects with linear backoff
// until the attempt ceiling is passed.
type Supervisor struct {
	id        string
	connector exchange.Connector
	pairs     []string
	table     PriceWriter
	sink      Sink
	policy    Policy
	logger    *log.Entry

	// wait sleeps between attempts; tests replace it.
	wait func(ctx context.Context, d time.Duration) error

	state   atomic.Int32
	attempt atomic.Int64

	mu      sync.Mutex
	lastErr error
}

type Status struct {
	ID        string              `json:"id"`
	Exchange  exchange.ExchangeID `json:"exchange"`
	Pairs     int                 `json:"pairs"`
	State     string              `json:"state"`
	Attempt   int                 `json:"attempt"`
	LastError string              `json:"last_error,omitempty"`
}

func NewSupervisor(id string, connector exchange.Connector, pairs []string, table PriceWriter, sink Sink, policy Policy) *Supervisor {
	return &Supervisor{
		id:        id,
		connector: connector,
		pairs:     pairs,
		table:     table,
		sink:      sink,
		policy:    policy,
		logger: log.WithFields(log.Fields{
			"exchange":   connector.Name(),
			"supervisor": id,
		}),
		wait: sleepContext,
	}
}

func (s *Supervisor) ID() string {
	return s.id
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) Attempt() int {
	return int(s.attempt.Load())
}

func (s *Supervisor) Status() Status {
	st := Status{
		ID:       s.id,
		Exchange: s.connector.Name(),
		Pairs:    len(s.pairs),
		State:    s.State().String(),
		Attempt:  s.Attempt(),
	}
	s.mu.Lock()
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()
	return st
}

// Run blocks until ctx is done or the chunk becomes terminal, in which case
// the returned error wraps ErrRetryExhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.setState(StateConnecting)
		err := s.session(ctx)

		if ctx.Err() != nil {
			s.setState(StateClosed)
			return ctx.Err()
		}

		s.setState(StateClosed)
		s.setLastErr(err)

		attempt := int(s.attempt.Add(1))
		if attempt > s.policy.MaxAttempts {
			s.setState(StateTerminal)
			s.logger.Errorf("giving up after %d reconnect attempts, last error: %v", s.policy.MaxAttempts, err)
			return errors.Wrapf(ErrRetryExhausted, "%s: %v", s.id, err)
		}

		delay := s.policy.Delay(attempt)
		s.logger.WithFields(log.Fields{"attempt": attempt, "delay": delay}).
			Warnf("connection closed: %v. Reconnecting in %v (attempt %d/%d)", err, delay, attempt, s.policy.MaxAttempts)

		if err := s.wait(ctx, delay); err != nil {
			return err
		}
	}
}

// session runs one connection from dial to close and returns why it ended.
func (s *Supervisor) session(ctx context.Context) error {
	conn, err := s.connector.Connect(ctx, s.pairs)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	conn.SetReadTimeout(s.policy.ReadTimeout)

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		conn.Close()
		wg.Wait()
	}()

	if k, ok := s.connector.(exchange.KeepAliver); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := k.KeepAlive(connCtx, conn); err != nil {
				s.logger.Warnf("keepalive stopped: %v", err)
				conn.Close()
			}
		}()
	}

	return s.handleConnection(connCtx, conn)
}

func (s *Supervisor) handleConnection(ctx context.Context, conn *exchange.Conn) error {
	done := make(chan error, 1)

	go func() {
		defer close(done)
		first := true
		for {
			message, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}

			if first {
				first = false
				s.attempt.Store(0)
				s.setState(StateOpen)
				s.logger.Info("connection open")
			}

			s.handleMessage(message)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("closing connection due to context cancellation")
		conn.Shutdown()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Supervisor) handleMessage(message []byte) {
	ev := s.connector.Decode(message)

	switch ev.Kind {
	case exchange.EventPrice:
		u := ev.Update
		s.table.Set(u.Exchange, u.Pair, u.Price)
		if s.sink != nil {
			s.sink.Emit(u)
		}
		s.logger.Debugf("price %s %v", u.Pair, u.Price)
	case exchange.EventInfo:
		if ev.Err != nil {
			s.logger.Warnf("%v", ev.Err)
			return
		}
		s.logger.Debugf("info: %.128s", message)
	default:
		s.logger.Warnf("failed to handle message: %v", ev.Err)
	}
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Supervisor) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
