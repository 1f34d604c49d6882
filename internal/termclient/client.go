package termclient

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/enderfga/sasha-relay/internal/terminal"
)

// State tracks the client connection lifecycle.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReconnectState is a snapshot of the retry schedule.
type ReconnectState struct {
	Attempt     int
	MaxAttempts int
}

const (
	defaultMaxAttempts  = 10
	defaultBaseDelay    = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultPingInterval = 30 * time.Second
)

// ErrGaveUp is reported when the retry budget is exhausted.
var ErrGaveUp = errors.New("terminal client gave up reconnecting")

// Config configures a terminal Client. Zero values pick defaults.
type Config struct {
	Token string

	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PingInterval time.Duration

	OnOutput      func(data string)
	OnReady       func(sessionID string, pid int)
	OnExit        func(code int)
	OnError       func(message string)
	OnStateChange func(State)
	OnReconnect   func(attempt int, delay time.Duration)

	Clock Clock
	Dial  Dialer
}

// Client maintains a terminal session over a framed websocket,
// reconnecting with exponential backoff when the link drops.
type Client struct {
	cfg   Config
	clock Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	conn       Conn
	rc         ReconnectState
	userClosed bool
	finished   bool
	cols, rows uint16
	sessionID  string
	pid        int
	retryTimer Timer
	pingTimer  Timer

	tapMu sync.Mutex
	tap   *tap
}

func New(cfg Config) *Client {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		clock:  cfg.Clock,
		ctx:    ctx,
		cancel: cancel,
		rc:     ReconnectState{MaxAttempts: cfg.MaxAttempts},
	}
}

// Connect starts the first connection attempt. Further attempts are
// scheduled automatically until the retry budget runs out.
func (c *Client) Connect() {
	c.connect()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Reconnect() ReconnectState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rc
}

// SessionID reports the server-assigned session id, empty before ready.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SendInput forwards keyboard data to the remote terminal.
func (c *Client) SendInput(data string) error {
	c.mu.Lock()
	conn := c.conn
	st := c.state
	c.mu.Unlock()
	if conn == nil || st < StateReady {
		return errors.New("terminal not connected")
	}
	return conn.Write(c.ctx, terminal.Frame{Type: terminal.FrameInput, Data: data})
}

// Resize records the viewport so it can be replayed after reconnects,
// and forwards it immediately when a session is up.
func (c *Client) Resize(cols, rows uint16) error {
	c.mu.Lock()
	c.cols, c.rows = cols, rows
	conn := c.conn
	st := c.state
	c.mu.Unlock()
	if conn == nil || st < StateReady {
		return nil
	}
	return conn.Write(c.ctx, terminal.Frame{Type: terminal.FrameResize, Cols: cols, Rows: rows})
}

// Close shuts the client down. No reconnect is attempted afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.userClosed {
		c.mu.Unlock()
		return nil
	}
	c.userClosed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.userClosed || c.finished {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.cfg.Dial(c.ctx)
	if err != nil {
		log.Printf("[termclient] dial failed: %v", err)
		c.mu.Lock()
		c.scheduleRetryLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.userClosed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.setStateLocked(StateAuthenticating)
	c.mu.Unlock()

	if err := conn.Write(c.ctx, terminal.Frame{Type: terminal.FrameAuth, Token: c.cfg.Token}); err != nil {
		log.Printf("[termclient] auth send failed: %v", err)
		conn.Close()
		c.handleClosed(conn)
		return
	}

	c.schedulePing(conn)
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn Conn) {
	for {
		f, err := conn.Read(c.ctx)
		if err != nil {
			c.handleClosed(conn)
			return
		}
		switch f.Type {
		case terminal.FrameReady:
			c.mu.Lock()
			c.rc.Attempt = 0
			c.sessionID = f.SessionID
			c.pid = f.PID
			cols, rows := c.cols, c.rows
			c.setStateLocked(StateReady)
			c.mu.Unlock()
			if cols > 0 && rows > 0 {
				conn.Write(c.ctx, terminal.Frame{Type: terminal.FrameResize, Cols: cols, Rows: rows})
			}
			if c.cfg.OnReady != nil {
				c.cfg.OnReady(f.SessionID, f.PID)
			}
		case terminal.FrameOutput:
			c.mu.Lock()
			if c.state == StateReady {
				c.setStateLocked(StateActive)
			}
			live := c.state == StateActive
			c.mu.Unlock()
			if live {
				c.dispatchOutput(f.Data)
			}
		case terminal.FrameExit:
			c.mu.Lock()
			if c.state < StateReady {
				// only error frames matter before the session is up
				c.mu.Unlock()
				continue
			}
			c.finished = true
			c.mu.Unlock()
			if c.cfg.OnExit != nil {
				c.cfg.OnExit(f.Code)
			}
		case terminal.FrameError:
			c.mu.Lock()
			c.finished = true
			c.mu.Unlock()
			if c.cfg.OnError != nil {
				c.cfg.OnError(f.Message)
			}
		case terminal.FramePong:
			// keepalive echo, nothing to do
		}
	}
}

// handleClosed runs when a connection's read loop ends. Stale calls
// from superseded connections are ignored.
func (c *Client) handleClosed(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	if c.userClosed || c.finished {
		c.setStateLocked(StateClosed)
		return
	}
	c.scheduleRetryLocked()
}

func (c *Client) scheduleRetryLocked() {
	if c.userClosed {
		return
	}
	c.rc.Attempt++
	if c.rc.Attempt > c.rc.MaxAttempts {
		log.Printf("[termclient] giving up after %d attempts", c.rc.MaxAttempts)
		c.setStateLocked(StateFailed)
		if c.cfg.OnError != nil {
			go c.cfg.OnError(ErrGaveUp.Error())
		}
		return
	}
	delay := backoffDelay(c.cfg.BaseDelay, c.cfg.MaxDelay, c.rc.Attempt)
	if c.cfg.OnReconnect != nil {
		attempt := c.rc.Attempt
		go c.cfg.OnReconnect(attempt, delay)
	}
	c.retryTimer = c.clock.AfterFunc(delay, c.connect)
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (c *Client) schedulePing(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userClosed || c.conn != conn {
		return
	}
	c.pingTimer = c.clock.AfterFunc(c.cfg.PingInterval, func() {
		c.mu.Lock()
		live := c.conn == conn
		c.mu.Unlock()
		if !live {
			return
		}
		if err := conn.Write(c.ctx, terminal.Frame{Type: terminal.FramePing}); err != nil {
			return
		}
		c.schedulePing(conn)
	})
}

func (c *Client) dispatchOutput(data string) {
	c.tapMu.Lock()
	t := c.tap
	c.tapMu.Unlock()
	if t != nil {
		pass, done := t.consume(data)
		if done {
			c.clearTap(t)
		}
		if pass != "" && c.cfg.OnOutput != nil {
			c.cfg.OnOutput(pass)
		}
		return
	}
	if c.cfg.OnOutput != nil {
		c.cfg.OnOutput(data)
	}
}

// setStateLocked requires c.mu held. Callbacks run on a fresh goroutine
// so listeners may call back into the client.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.OnStateChange != nil {
		go c.cfg.OnStateChange(s)
	}
}
