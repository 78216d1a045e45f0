package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-test-explorer/metrics"
	"github.com/ethereum-optimism/infra/op-test-explorer/protocol"
	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

const (
	DefaultAddr              = "localhost:12345"
	DefaultReconnectInterval = 2 * time.Second
)

var (
	ErrNotConnected   = errors.New("not connected to runner")
	ErrConnectionLost = errors.New("connection to runner lost")
	ErrClosed         = errors.New("runner client closed")
)

// ConnState is the state of the client's single connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// ResultFunc receives every test result pushed by the runner.
type ResultFunc func(types.TestResult)

// DialFunc opens the stream to the runner.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Config contains runner client configuration
type Config struct {
	Addr              string
	ReconnectInterval time.Duration
	Dial              DialFunc
	// WaitForFinalOutcome keeps a test in its run after a Running result
	// until a later result finishes it. By default every result settles it.
	WaitForFinalOutcome bool
	Log                 log.Logger
}

type enumerateReply struct {
	tests []types.TestDescriptor
	err   error
}

type resultObserver struct {
	id uint64
	fn ResultFunc
}

// Client talks to the runner process over one persistent connection. It
// correlates enumerate and run requests with their responses and pushes
// per-test results to registered observers.
type Client struct {
	cfg     Config
	log     log.Logger
	backoff *StaticBackoff

	lifetime context.Context
	shutdown context.CancelFunc

	connecting chan struct{} // one dial loop at a time
	writeMu    sync.Mutex    // held while queueing and writing, so wire order equals queue order

	mu             sync.Mutex
	state          ConnState
	conn           net.Conn
	enc            *protocol.Encoder
	enumerations   []chan enumerateReply
	runs           []*inFlightRun
	observers      []resultObserver
	nextObserverID uint64

	wg sync.WaitGroup
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.Dial == nil {
		dialer := &net.Dialer{}
		cfg.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		}
	}
	lifetime, shutdown := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		log:      cfg.Log,
		backoff:    NewStaticBackoff(cfg.ReconnectInterval),
		lifetime:   lifetime,
		shutdown:   shutdown,
		connecting: make(chan struct{}, 1),
		state:      StateDisconnected,
	}
}

// Connect blocks until the client is connected, retrying every
// ReconnectInterval for as long as the runner is unavailable. It only
// fails when ctx is done or the client is closed, including while another
// connection attempt is in progress.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, false)
}

func (c *Client) connect(ctx context.Context, afterDisconnect bool) error {
	select {
	case c.connecting <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.lifetime.Done():
		return ErrClosed
	}
	defer func() { <-c.connecting }()

	if afterDisconnect {
		c.backoff.Backoff()
	}
	for {
		c.mu.Lock()
		switch c.state {
		case StateConnected:
			c.mu.Unlock()
			return nil
		case StateClosed:
			c.mu.Unlock()
			return ErrClosed
		}
		c.state = StateConnecting
		c.mu.Unlock()

		if err := c.backoff.Wait(ctx, c.lifetime); err != nil {
			c.abandonConnecting()
			return err
		}

		err := c.dial(ctx)
		metrics.RecordConnectAttempt(err)
		if err == nil {
			c.backoff.Reset()
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		c.log.Warn("Failed to connect to runner", "addr", c.cfg.Addr, "err", err, "retry_in", c.cfg.ReconnectInterval)
		c.backoff.Backoff()
	}
}

func (c *Client) abandonConnecting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		c.state = StateDisconnected
	}
}

func (c *Client) dial(ctx context.Context) error {
	conn, err := c.cfg.Dial(ctx, c.cfg.Addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.enc = protocol.NewEncoder(conn)
	c.state = StateConnected
	c.wg.Add(1)
	c.mu.Unlock()

	metrics.RecordConnected(true)
	c.log.Info("Connected to runner", "addr", c.cfg.Addr)
	go c.readLoop(conn)
	return nil
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// State returns the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EnumerateTests asks the runner for every test it knows about.
// Concurrent calls are answered in the order they were sent.
func (c *Client) EnumerateTests(ctx context.Context) ([]types.TestDescriptor, error) {
	reply := make(chan enumerateReply, 1)
	err := c.send(protocol.TypeEnumTests, "",
		func() { c.enumerations = append(c.enumerations, reply) },
		func() { c.enumerations = slices.DeleteFunc(c.enumerations, func(ch chan enumerateReply) bool { return ch == reply }) },
	)
	if err != nil {
		return nil, fmt.Errorf("requesting test enumeration: %w", err)
	}

	// On cancellation the queue slot is kept so that the late response is
	// not handed to the next caller.
	select {
	case r := <-reply:
		return r.tests, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunTests asks the runner to execute tests and returns once every one of
// them has reported a result. When ctx is done first the run is dropped, and
// its late results are only forwarded to observers.
func (c *Client) RunTests(ctx context.Context, tests []types.TestDescriptor) error {
	if len(tests) == 0 {
		return nil
	}
	run := newInFlightRun(tests)
	err := c.send(protocol.TypeRunTests, tests,
		func() { c.runs = append(c.runs, run) },
		func() { c.runs = slices.DeleteFunc(c.runs, func(r *inFlightRun) bool { return r == run }) },
	)
	if err != nil {
		return fmt.Errorf("requesting test run: %w", err)
	}

	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		c.mu.Lock()
		c.runs = slices.DeleteFunc(c.runs, func(r *inFlightRun) bool { return r == run })
		c.mu.Unlock()
		return ctx.Err()
	}
}

// send queues the pending entry and writes the request. dequeue undoes
// enqueue if the write fails. Both run with c.mu held.
func (c *Client) send(msgType string, payload any, enqueue, dequeue func()) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	switch {
	case c.state == StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case c.state != StateConnected || c.enc == nil:
		c.mu.Unlock()
		return ErrNotConnected
	}
	enc := c.enc
	enqueue()
	c.mu.Unlock()

	if err := enc.Encode(msgType, payload); err != nil {
		c.mu.Lock()
		dequeue()
		c.mu.Unlock()
		return err
	}
	metrics.RecordMessage(metrics.DirectionSent, msgType)
	c.log.Debug("Sent request to runner", "type", msgType)
	return nil
}

// OnResult registers fn for every result pushed by the runner. Observers
// are called in registration order from the connection's reader goroutine.
func (c *Client) OnResult(fn ResultFunc) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextObserverID
	c.nextObserverID++
	c.observers = append(c.observers, resultObserver{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.observers = slices.DeleteFunc(c.observers, func(o resultObserver) bool { return o.id == id })
		})
	}
}

// Close shuts the connection down and fails every outstanding request
// with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	conn := c.conn
	c.mu.Unlock()

	c.shutdown()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	c.log.Info("Runner client closed")
	return err
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	dec := protocol.NewDecoder(conn)
	var err error
	for {
		var msg *protocol.Message
		msg, err = dec.Decode()
		if err != nil {
			if protocol.IsProtocolError(err) {
				metrics.RecordProtocolError()
				c.log.Warn("Discarding malformed frame from runner", "err", err)
				continue
			}
			break
		}
		metrics.RecordMessage(metrics.DirectionReceived, msg.Type)
		c.handleMessage(msg)
	}
	c.handleDisconnect(conn, err)
}

func (c *Client) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeEnumTests:
		var tests []types.TestDescriptor
		err := msg.DecodePayload(&tests)
		if err != nil {
			metrics.RecordProtocolError()
			c.log.Error("Failed to decode test enumeration", "err", err)
		}
		reply, ok := c.popEnumeration()
		if !ok {
			c.log.Warn("Received test enumeration without a pending request", "tests", len(tests))
			return
		}
		reply <- enumerateReply{tests: tests, err: err}

	case protocol.TypeRunTests:
		var results []types.TestResult
		if err := msg.DecodePayload(&results); err != nil {
			metrics.RecordProtocolError()
			c.log.Error("Failed to decode test results", "err", err)
			c.failOldestRun(err)
			return
		}
		for _, result := range results {
			c.handleResult(result)
		}

	default:
		c.log.Warn("Ignoring message of unknown type", "type", msg.Type)
	}
}

func (c *Client) handleResult(result types.TestResult) {
	result.Outcome = result.Outcome.Normalize()

	c.mu.Lock()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()
	for _, o := range observers {
		o.fn(result)
	}

	if c.cfg.WaitForFinalOutcome && !result.Outcome.Terminal() {
		return
	}

	// Attribute the result to the oldest run still waiting for this id.
	var finished *inFlightRun
	settled := false
	c.mu.Lock()
	for i, run := range c.runs {
		drained, ok := run.settle(result.ID)
		if !ok {
			continue
		}
		settled = true
		if drained {
			finished = run
			c.runs = slices.Delete(c.runs, i, i+1)
		}
		break
	}
	c.mu.Unlock()

	if !settled {
		c.log.Debug("Result for a test outside any pending run", "id", result.ID, "outcome", result.Outcome)
	}
	if finished != nil {
		finished.finish(nil)
	}
}

func (c *Client) popEnumeration() (chan enumerateReply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.enumerations) == 0 {
		return nil, false
	}
	reply := c.enumerations[0]
	c.enumerations = c.enumerations[1:]
	return reply, true
}

func (c *Client) failOldestRun(err error) {
	c.mu.Lock()
	if len(c.runs) == 0 {
		c.mu.Unlock()
		return
	}
	run := c.runs[0]
	c.runs = c.runs[1:]
	c.mu.Unlock()
	run.finish(err)
}

func (c *Client) handleDisconnect(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.enc = nil
	}
	closed := c.state == StateClosed
	if !closed {
		c.state = StateDisconnected
		c.wg.Add(1) // reconnect goroutine
	}
	enumerations := c.enumerations
	c.enumerations = nil
	runs := c.runs
	c.runs = nil
	c.mu.Unlock()

	_ = conn.Close()

	failErr := ErrClosed
	if !closed {
		failErr = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
		metrics.RecordConnected(false)
		c.log.Warn("Connection to runner lost", "err", cause,
			"pending_enumerations", len(enumerations), "pending_runs", len(runs))
	}
	for _, reply := range enumerations {
		reply <- enumerateReply{err: failErr}
	}
	for _, run := range runs {
		run.finish(failErr)
	}

	if closed {
		return
	}
	go func() {
		defer c.wg.Done()
		if err := c.connect(c.lifetime, true); err != nil && !errors.Is(err, ErrClosed) {
			c.log.Debug("Reconnect loop stopped", "err", err)
		}
	}()
}
