// Package remote is the sync client: it keeps one websocket connection to the
// update server, broadcasts local admin mutations, and applies broadcasts and
// snapshots from the server to the local cache.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dbt-portal/dbtsync/internal/event"
	"github.com/dbt-portal/dbtsync/internal/logging"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

var (
	ErrGivenUp        = errors.New("reconnect attempts exhausted")
	ErrStopped        = errors.New("sync client stopped")
	ErrConnectTimeout = errors.New("connect timed out")
)

// State is the connection state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateGivenUp      State = "GIVEN_UP"
)

// Repository receives collections pushed by the server.
type Repository interface {
	Replace(ctx context.Context, c types.Collection, records []types.ContentRecord) ([]types.ContentRecord, error)
}

// Publisher receives update and connection events.
type Publisher interface {
	Publish(e event.Event)
}

// Options configures a Client.
type Options struct {
	// URL of the update server, http(s) or ws(s).
	URL string
	// ConnectTimeout bounds one connection attempt (default: 10s).
	ConnectTimeout time.Duration
	// ReconnectDelay is multiplied by the attempt number (default: 1s).
	ReconnectDelay time.Duration
	// MaxReconnectAttempts limits automatic reconnects (default: 5).
	MaxReconnectAttempts int
	// AutoReconnect schedules reconnects after a lost connection.
	AutoReconnect bool
	// Dialer defaults to WebsocketDialer.
	Dialer Dialer
}

// Client is the sync client. The zero value is not usable; use New.
type Client struct {
	opts  Options
	repo  Repository
	bus   Publisher
	log   zerolog.Logger
	group singleflight.Group

	mu           sync.Mutex
	state        State
	conn         Conn
	attempt      int
	policy       backoff.BackOff
	retry        *time.Timer
	cancelDial   context.CancelFunc
	identity     *types.Identity
	connectionID string
	stopped      bool
}

// New creates a disconnected client.
func New(opts Options, repo Repository, bus Publisher) *Client {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}

	return &Client{
		opts:   opts,
		repo:   repo,
		bus:    bus,
		log:    logging.Component("sync"),
		state:  StateDisconnected,
		policy: NewReconnectPolicy(opts.ReconnectDelay, opts.MaxReconnectAttempts),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a live connection exists.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// ConnectionID returns the id the server assigned in registration_confirmed.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Start connects in the background. A failed first attempt enters the
// reconnect schedule when AutoReconnect is set. Start after Stop revives the
// client with a fresh retry budget.
func (c *Client) Start() {
	c.mu.Lock()
	c.stopped = false
	if c.state == StateGivenUp {
		c.state = StateDisconnected
	}
	c.attempt = 0
	c.policy.Reset()
	c.mu.Unlock()

	go func() {
		if err := c.Connect(context.Background()); err != nil {
			c.afterFailure(err)
		}
	}()
}

// Stop closes the connection and cancels any pending dial or reconnect.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.cancelDial != nil {
		c.cancelDial()
	}
	conn := c.conn
	c.conn = nil
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if changed {
		c.log.Info().Msg("sync client stopped")
		c.publishState(StateDisconnected, 0, nil)
	}
}

// Connect opens the connection. It returns at once when already connected,
// and concurrent callers share a single attempt. The attempt fails with
// ErrConnectTimeout after ConnectTimeout. ctx only bounds how long the caller
// waits; the shared attempt carries on.
func (c *Client) Connect(ctx context.Context) error {
	ch, err := c.join()
	if ch == nil {
		return err
	}
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join returns the result channel of the shared connect attempt, starting one
// if none is in flight. A nil channel means there is nothing to wait for and
// the error says why.
func (c *Client) join() (<-chan singleflight.Result, error) {
	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return nil, ErrStopped
	case c.state == StateConnected:
		c.mu.Unlock()
		return nil, nil
	case c.state == StateGivenUp:
		c.mu.Unlock()
		return nil, ErrGivenUp
	}
	c.mu.Unlock()

	return c.group.DoChan("connect", func() (any, error) {
		return nil, c.dial()
	}), nil
}

// Reconnect resets the retry budget and connects again. It is the manual
// affordance offered once the client has given up. When ctx ends first the
// attempt carries on, and only its own failure enters the reconnect schedule.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.attempt = 0
	c.policy.Reset()
	if c.state == StateGivenUp {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	ch, err := c.join()
	if ch == nil {
		return err
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			c.afterFailure(res.Err)
		}
		return res.Err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.Err != nil {
				c.afterFailure(res.Err)
			}
		}()
		return ctx.Err()
	}
}

type dialResult struct {
	conn Conn
	err  error
}

func (c *Client) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	defer cancel()

	c.mu.Lock()
	switch {
	case c.stopped:
		c.mu.Unlock()
		return ErrStopped
	case c.state == StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.cancelDial = cancel
	attempt := c.attempt
	c.mu.Unlock()
	c.publishState(StateConnecting, attempt, nil)

	c.log.Debug().Str("url", c.opts.URL).Int("attempt", attempt).Msg("connecting")

	results := make(chan dialResult, 1)
	go func() {
		conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
		results <- dialResult{conn: conn, err: err}
	}()

	var res dialResult
	select {
	case res = <-results:
	case <-ctx.Done():
		// A dial that completes late is closed unused.
		go func() {
			if late := <-results; late.conn != nil {
				_ = late.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}

	if res.err != nil {
		err := res.err
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrConnectTimeout, c.opts.ConnectTimeout)
		} else {
			err = fmt.Errorf("failed to connect to %s: %w", c.opts.URL, err)
		}
		return c.dialFailed(attempt, err)
	}

	c.mu.Lock()
	c.cancelDial = nil
	if c.stopped {
		c.mu.Unlock()
		_ = res.conn.Close()
		return ErrStopped
	}
	c.conn = res.conn
	c.state = StateConnected
	c.attempt = 0
	c.policy.Reset()
	identity := c.identity
	c.mu.Unlock()

	c.log.Info().Str("url", c.opts.URL).Msg("connected")
	c.publishState(StateConnected, 0, nil)

	go c.readLoop(res.conn)

	if identity != nil {
		if err := c.announce(res.conn, *identity); err != nil {
			c.log.Warn().Err(err).Msg("failed to register identity")
		}
	}
	return nil
}

func (c *Client) dialFailed(attempt int, err error) error {
	c.mu.Lock()
	c.cancelDial = nil
	stopped := c.stopped
	if c.state == StateConnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	c.log.Info().Err(err).Int("attempt", attempt).Msg("connect failed")
	c.publishState(StateDisconnected, attempt, err)
	return err
}

// afterFailure enters the reconnect schedule for errors worth retrying.
func (c *Client) afterFailure(err error) {
	if errors.Is(err, ErrStopped) || errors.Is(err, ErrGivenUp) {
		return
	}
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.stopped || !c.opts.AutoReconnect || c.retry != nil {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateConnected, StateConnecting, StateGivenUp:
		c.mu.Unlock()
		return
	}

	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		c.state = StateGivenUp
		attempt := c.attempt
		c.mu.Unlock()

		c.log.Warn().Int("attempts", attempt).Msg("giving up on reconnecting")
		c.publishState(StateGivenUp, attempt, ErrGivenUp)
		return
	}

	c.attempt++
	attempt := c.attempt
	c.retry = time.AfterFunc(delay, c.retryConnect)
	c.mu.Unlock()

	c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

func (c *Client) retryConnect() {
	c.mu.Lock()
	c.retry = nil
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}

	if err := c.Connect(context.Background()); err != nil {
		c.afterFailure(err)
	}
}

// RegisterIdentity remembers identity and, when connected, announces it and
// asks for a full snapshot. The same happens after every later connect.
func (c *Client) RegisterIdentity(identity types.Identity) error {
	c.mu.Lock()
	c.identity = &identity
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.announce(conn, identity)
}

func (c *Client) announce(conn Conn, identity types.Identity) error {
	if err := c.send(conn, &types.Register{Identity: identity}); err != nil {
		return err
	}
	return c.send(conn, &types.RequestData{})
}

// RequestSnapshot asks the server for a data_sync. It reports whether the
// request was sent.
func (c *Client) RequestSnapshot() bool {
	conn := c.current()
	if conn == nil {
		return false
	}
	if err := c.send(conn, &types.RequestData{}); err != nil {
		c.log.Warn().Err(err).Msg("failed to request snapshot")
		return false
	}
	return true
}

// BroadcastMutation sends m on its collection's admin channel. While
// disconnected nothing is sent or queued and it returns false.
func (c *Client) BroadcastMutation(m types.Mutation) bool {
	if !m.Collection.Valid() {
		c.log.Warn().Str("collection", string(m.Collection)).Msg("broadcast for unknown collection dropped")
		return false
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}

	conn := c.current()
	if conn == nil {
		c.log.Debug().
			Str("kind", m.Collection.WireKind()).
			Str("type", string(m.Type)).
			Msg("not connected, broadcast dropped")
		return false
	}

	if err := c.send(conn, &types.Update{Channel: m.Collection.AdminEvent(), Mutation: m}); err != nil {
		c.log.Warn().Err(err).Str("kind", m.Collection.WireKind()).Msg("broadcast failed")
		return false
	}
	return true
}

func (c *Client) current() Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.conn
}

func (c *Client) send(conn Conn, msg types.Message) error {
	frame, err := types.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", frame.Event, err)
	}
	return nil
}

func (c *Client) readLoop(conn Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			c.connectionLost(conn, err)
			return
		}

		msg, err := types.Decode(frame)
		if err != nil {
			c.log.Warn().Err(err).Str("event", string(frame.Event)).Msg("invalid frame dropped")
			continue
		}
		c.apply(msg)
	}
}

func (c *Client) connectionLost(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Stop or a newer connection already took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Info().Err(cause).Msg("connection lost")
	c.publishState(StateDisconnected, 0, cause)
	c.scheduleReconnect()
}

func (c *Client) publishState(state State, attempt int, err error) {
	data := event.ConnectionData{State: string(state), Attempt: attempt}
	if err != nil {
		data.Error = err.Error()
	}
	c.bus.Publish(event.Event{Type: event.ConnectionChanged, Data: data})
}
