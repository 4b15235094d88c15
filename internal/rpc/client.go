package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/shepd/internal/errdefs"
)

const (
	DefaultRequestTimeout       = 30 * time.Second
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectAttempts = 5
	dialTimeout                 = 5 * time.Second
)

// ErrConnectionClosed rejects calls that were in flight when the
// connection went away.
var ErrConnectionClosed = errors.New("rpc: connection closed")

// DaemonNotRunningError means the socket file does not exist at all.
type DaemonNotRunningError struct {
	SocketPath string
}

func (e *DaemonNotRunningError) Error() string {
	return fmt.Sprintf("daemon not running: no socket at %s", e.SocketPath)
}

func IsDaemonNotRunning(err error) bool {
	var e *DaemonNotRunningError
	return errors.As(err, &e)
}

// ConnectionRefusedError means the socket file exists but nothing is
// listening, usually a stale socket after a crash.
type ConnectionRefusedError struct {
	SocketPath string
	Err        error
}

func (e *ConnectionRefusedError) Error() string {
	return fmt.Sprintf("connection refused on %s (stale socket?): %v", e.SocketPath, e.Err)
}

func (e *ConnectionRefusedError) Unwrap() error { return e.Err }

// NotificationHandler receives server pushes. It runs on the read loop,
// so it must not block.
type NotificationHandler func(method string, params json.RawMessage)

type ClientConfig struct {
	SocketPath string
	// Timeout bounds each request unless the call context is tighter.
	Timeout time.Duration
	// AutoReconnect redials after a lost connection with a linearly
	// growing delay (ReconnectDelay times the attempt number).
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	OnNotification       NotificationHandler
}

type callResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	ch    chan callResult
	timer *time.Timer
}

// Client is the transport half of the daemon's control channel: it
// frames requests, correlates responses by id, and surfaces pushed
// notifications.
type Client struct {
	cfg     ClientConfig
	closeCh chan struct{}

	wmu sync.Mutex

	mu      sync.Mutex
	nc      net.Conn
	pending map[string]*pendingCall
	closed  bool

	wg sync.WaitGroup
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return &Client{
		cfg:     cfg,
		closeCh: make(chan struct{}),
		pending: make(map[string]*pendingCall),
	}
}

func (c *Client) SocketPath() string { return c.cfg.SocketPath }

// Connect dials the daemon socket. A missing socket file and a refused
// connection are reported as distinct errors so callers can tell "not
// running" from "stale socket".
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.nc != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if _, err := os.Stat(c.cfg.SocketPath); err != nil {
		if os.IsNotExist(err) {
			return &DaemonNotRunningError{SocketPath: c.cfg.SocketPath}
		}
		return err
	}
	d := net.Dialer{Timeout: dialTimeout}
	nc, err := d.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return &ConnectionRefusedError{SocketPath: c.cfg.SocketPath, Err: err}
		}
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = nc.Close()
		return ErrConnectionClosed
	}
	c.nc = nc
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(nc)
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil
}

// Call sends a request and blocks for its response. The request is
// rejected locally, exactly once, when the timeout elapses, the context
// ends, or the connection drops before a reply arrives.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	msg, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	frame, err := EncodeFrame(msg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	nc := c.nc
	if nc == nil {
		c.mu.Unlock()
		return nil, &DaemonNotRunningError{SocketPath: c.cfg.SocketPath}
	}
	pc := &pendingCall{ch: make(chan callResult, 1)}
	pc.timer = time.AfterFunc(c.cfg.Timeout, func() {
		c.reject(id, errdefs.Timeout("request "+method, c.cfg.Timeout))
	})
	c.pending[id] = pc
	c.mu.Unlock()

	if err := c.write(nc, frame); err != nil {
		c.reject(id, err)
		<-pc.ch
		return nil, err
	}

	select {
	case r := <-pc.ch:
		return r.result, r.err
	case <-ctx.Done():
		c.reject(id, ctx.Err())
		// The response may have won the race against the context.
		r := <-pc.ch
		return r.result, r.err
	}
}

// CallResult is Call plus result decoding.
func (c *Client) CallResult(ctx context.Context, method string, params, out any) error {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Notify sends a fire-and-forget notification.
func (c *Client) Notify(method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	nc := c.nc
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}
	if nc == nil {
		return &DaemonNotRunningError{SocketPath: c.cfg.SocketPath}
	}
	return c.write(nc, frame)
}

func (c *Client) write(nc net.Conn, frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := nc.Write(frame)
	return err
}

func (c *Client) readLoop(nc net.Conn) {
	defer c.wg.Done()
	var fb FrameBuffer
	buf := make([]byte, 4096)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			frames, dropped := fb.Feed(buf[:n])
			if dropped {
				slog.Warn("rpc client: dropped oversized frame remainder")
			}
			for _, raw := range frames {
				c.handleFrame(raw)
			}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				slog.Debug("rpc client: read failed", "error", err)
			}
			c.handleDisconnect(nc)
			return
		}
	}
}

func (c *Client) handleFrame(raw []byte) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.Warn("rpc client: skipping malformed frame", "error", err)
		return
	}
	switch {
	case m.IsNotification():
		if c.cfg.OnNotification != nil {
			c.cfg.OnNotification(m.Method, m.Params)
		}
	case m.IsResponse():
		c.resolve(&m)
	default:
		slog.Debug("rpc client: ignoring unexpected frame", "method", m.Method)
	}
}

func (c *Client) resolve(m *Message) {
	id := m.IDString()
	c.mu.Lock()
	pc := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if pc == nil {
		// Response landed after the call was already rejected.
		slog.Debug("rpc client: discarding late response", "id", id)
		return
	}
	pc.timer.Stop()
	if m.Error != nil {
		pc.ch <- callResult{err: m.Error}
		return
	}
	pc.ch <- callResult{result: m.Result}
}

func (c *Client) reject(id string, err error) {
	c.mu.Lock()
	pc := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if pc == nil {
		return
	}
	pc.timer.Stop()
	pc.ch <- callResult{err: err}
}

func (c *Client) handleDisconnect(nc net.Conn) {
	c.mu.Lock()
	if c.nc != nc {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.nc = nil
	closed := c.closed
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	_ = nc.Close()
	for _, pc := range pending {
		pc.timer.Stop()
		pc.ch <- callResult{err: ErrConnectionClosed}
	}
	if closed || !c.cfg.AutoReconnect {
		return
	}
	c.wg.Add(1)
	go c.reconnect()
}

func (c *Client) reconnect() {
	defer c.wg.Done()
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-time.After(c.cfg.ReconnectDelay * time.Duration(attempt)):
		case <-c.closeCh:
			return
		}
		err := c.Connect(context.Background())
		if err == nil {
			slog.Info("rpc client: reconnected", "attempt", attempt)
			return
		}
		if errors.Is(err, ErrConnectionClosed) {
			return
		}
		slog.Debug("rpc client: reconnect failed", "attempt", attempt, "error", err)
	}
	slog.Warn("rpc client: giving up on reconnect", "attempts", c.cfg.MaxReconnectAttempts)
}

// Close tears the connection down and rejects anything still pending.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	nc := c.nc
	c.nc = nil
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	close(c.closeCh)
	if nc != nil {
		_ = nc.Close()
	}
	for _, pc := range pending {
		pc.timer.Stop()
		pc.ch <- callResult{err: ErrConnectionClosed}
	}
	c.wg.Wait()
	return nil
}
