package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"pingme/internal/chain"
	"pingme/internal/metrics"
	"pingme/internal/model"
)

var (
	// ErrRetriesExhausted is reported when the retry budget runs out.
	ErrRetriesExhausted = errors.New("stream: retries exhausted")
	// ErrStopped is returned when Stop interrupts a connection attempt.
	ErrStopped = errors.New("stream: stopped")
)

// Session is one live connection to a node.
type Session interface {
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Session, error)

func (f DialFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}

// LogHandler receives every log from subscriptions and replays. It must not block.
type LogHandler func(raw model.RawLog)

// Config holds connection settings.
type Config struct {
	MaxRetries     int
	RetryDelay     time.Duration
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
	ReplayBlocks   uint64
	BufferSize     int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = c.HealthInterval
		if c.ProbeTimeout > 10*time.Second {
			c.ProbeTimeout = 10 * time.Second
		}
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 128
	}
	return c
}

// Connection keeps one subscription per (contract, event) pair alive over a
// streaming node connection.
type Connection struct {
	cfg     Config
	dialer  Dialer
	filters []chain.Filter
	handler LogHandler
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	state      State
	retries    int
	session    Session
	subs       []ethereum.Subscription
	subErr     chan error
	sessCancel context.CancelFunc
	cancel     context.CancelFunc
	done       chan struct{}
	readers    sync.WaitGroup

	dispatchMu sync.RWMutex
	closed     bool

	errCh chan error
}

// NewConnection builds a Connection for the watches.
func NewConnection(cfg Config, dialer Dialer, watches []model.ContractWatch, handler LogHandler, logger *zap.Logger, m *metrics.Metrics) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		cfg:     cfg.withDefaults(),
		dialer:  dialer,
		filters: chain.FiltersFor(watches),
		handler: handler,
		logger:  logger,
		metrics: m,
		state:   StateDisconnected,
		done:    make(chan struct{}),
		errCh:   make(chan error, 1),
	}
}

// Start connects, subscribes and replays recent history, then supervises the
// connection in the background. It returns once the first connection succeeded or
// the retry budget ran out.
func (c *Connection) Start(ctx context.Context) error {
	if len(c.filters) == 0 {
		return fmt.Errorf("no events to subscribe")
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("start in state %s", state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if err := c.connectWithRetry(runCtx); err != nil {
		close(c.done)
		return err
	}

	go c.supervise(runCtx)
	return nil
}

// Stop tears down the connection. No handler call starts after Stop returns.
func (c *Connection) Stop() {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	started := cancel != nil
	c.mu.Unlock()

	c.dispatchMu.Lock()
	c.closed = true
	c.dispatchMu.Unlock()

	if started {
		cancel()
		<-c.done
	}
	c.teardown()

	c.mu.Lock()
	if !c.state.Terminal() {
		c.setStateLocked(StateStopped)
	}
	c.mu.Unlock()
	c.logger.Info("stream stopped")
}

// Status returns the current connection view.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		State:               c.state,
		Connected:           c.state == StateConnected,
		SubscribedContracts: []string{},
		Subscriptions:       len(c.subs),
		RetryCount:          c.retries,
	}
	if len(c.subs) > 0 {
		seen := make(map[string]struct{})
		for _, f := range c.filters {
			key := model.AddressKey(f.Address.Hex())
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			status.SubscribedContracts = append(status.SubscribedContracts, f.Address.Hex())
		}
	}
	return status
}

// Errors delivers the fatal error once the retry budget is exhausted.
func (c *Connection) Errors() <-chan error {
	return c.errCh
}

func (c *Connection) supervise(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		subErr := c.subErr
		session := c.session
		c.mu.Unlock()

		var cause error
		select {
		case <-ctx.Done():
			return
		case err := <-subErr:
			cause = fmt.Errorf("subscription: %w", err)
		case <-ticker.C:
			err := c.probe(ctx, session)
			if err == nil {
				continue
			}
			cause = fmt.Errorf("health probe: %w", err)
		}
		if ctx.Err() != nil {
			return
		}

		c.logger.Warn("connection lost", zap.Error(cause))
		c.teardown()
		c.setState(StateReconnecting)

		if err := c.connectWithRetry(ctx); err != nil {
			return
		}
		ticker.Reset(c.cfg.HealthInterval)
	}
}

func (c *Connection) probe(ctx context.Context, session Session) error {
	if session == nil {
		return fmt.Errorf("no session")
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	_, err := session.BlockNumber(probeCtx)
	return err
}

// connectWithRetry makes one attempt plus up to MaxRetries retries spaced by
// RetryDelay.
func (c *Connection) connectWithRetry(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.mu.Lock()
			c.retries = attempt
			c.mu.Unlock()
			c.metrics.ReconnectAttempt()

			timer := time.NewTimer(c.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ErrStopped
			case <-timer.C:
			}
		}

		err := c.connect(ctx)
		if err == nil {
			c.mu.Lock()
			c.retries = 0
			session := c.session
			c.setStateLocked(StateConnected)
			c.mu.Unlock()

			c.logger.Info("stream connected", zap.Int("subscriptions", len(c.filters)), zap.Int("attempt", attempt))
			c.replay(ctx, session)
			return nil
		}
		if ctx.Err() != nil {
			return ErrStopped
		}

		c.logger.Warn("connect failed", zap.Error(err), zap.Int("attempt", attempt), zap.Int("max_retries", c.cfg.MaxRetries))
		if attempt >= c.cfg.MaxRetries {
			fatal := fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt+1, err)
			c.mu.Lock()
			c.setStateLocked(StateFailed)
			c.mu.Unlock()
			c.logger.Error("stream failed", zap.Error(fatal))
			select {
			case c.errCh <- fatal:
			default:
			}
			return fatal
		}
	}
}

func (c *Connection) connect(ctx context.Context) error {
	session, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(ctx)
	subErr := make(chan error, 1)
	subs := make([]ethereum.Subscription, 0, len(c.filters))
	for _, f := range c.filters {
		ch := make(chan types.Log, c.cfg.BufferSize)
		sub, err := session.SubscribeFilterLogs(sessCtx, f.Query(nil, nil), ch)
		if err != nil {
			sessCancel()
			for _, s := range subs {
				s.Unsubscribe()
			}
			c.readers.Wait()
			session.Close()
			return fmt.Errorf("subscribe %s: %w", f.Key(), err)
		}
		subs = append(subs, sub)
		c.readers.Add(1)
		go c.read(sessCtx, f, sub, ch, subErr)
	}

	c.mu.Lock()
	c.session = session
	c.subs = subs
	c.subErr = subErr
	c.sessCancel = sessCancel
	c.mu.Unlock()
	return nil
}

func (c *Connection) read(ctx context.Context, f chain.Filter, sub ethereum.Subscription, ch <-chan types.Log, subErr chan<- error) {
	defer c.readers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Err():
			if !ok {
				return
			}
			if err == nil {
				err = fmt.Errorf("subscription %s closed", f.Key())
			}
			select {
			case subErr <- err:
			default:
			}
			return
		case log := <-ch:
			c.dispatch(chain.ToRawLog(log, f.EventName))
		}
	}
}

// replay pushes the last ReplayBlocks blocks of each filter through the handler.
// Failures are logged and do not affect the connection.
func (c *Connection) replay(ctx context.Context, session Session) {
	if c.cfg.ReplayBlocks == 0 || session == nil {
		return
	}

	head, err := session.BlockNumber(ctx)
	if err != nil {
		c.logger.Warn("replay head lookup failed", zap.Error(err))
		return
	}
	from := uint64(0)
	if head > c.cfg.ReplayBlocks {
		from = head - c.cfg.ReplayBlocks
	}

	total := 0
	for _, f := range c.filters {
		logs, err := session.FilterLogs(ctx, f.RangeQuery(from, head))
		if err != nil {
			c.logger.Warn("replay failed", zap.Error(err), zap.String("filter", f.Key()), zap.Uint64("from", from), zap.Uint64("to", head))
			continue
		}
		for _, log := range logs {
			c.dispatch(chain.ToRawLog(log, f.EventName))
		}
		total += len(logs)
	}
	c.logger.Info("replay complete", zap.Int("logs", total), zap.Uint64("from", from), zap.Uint64("to", head))
}

func (c *Connection) dispatch(raw model.RawLog) {
	c.dispatchMu.RLock()
	defer c.dispatchMu.RUnlock()
	if c.closed || c.handler == nil {
		return
	}
	c.handler(raw)
}

func (c *Connection) teardown() {
	c.mu.Lock()
	session := c.session
	subs := c.subs
	sessCancel := c.sessCancel
	c.session = nil
	c.subs = nil
	c.subErr = nil
	c.sessCancel = nil
	c.mu.Unlock()

	if sessCancel != nil {
		sessCancel()
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	c.readers.Wait()
	if session != nil {
		session.Close()
	}
}

func (c *Connection) setState(state State) {
	c.mu.Lock()
	c.setStateLocked(state)
	c.mu.Unlock()
}

func (c *Connection) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.logger.Debug("stream state", zap.Stringer("from", c.state), zap.Stringer("to", state))
	c.state = state
	c.metrics.State(int(state))
}
