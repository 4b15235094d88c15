package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// HandlerFunc serves one method. The returned value is marshaled into
// the response result; the returned error is mapped via FromDomain.
type HandlerFunc func(ctx context.Context, c *Conn, params json.RawMessage) (any, error)

// Server listens on a Unix domain socket and dispatches NDJSON-framed
// JSON-RPC messages. Requests on one connection are served in arrival
// order; connections are independent.
type Server struct {
	path string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	conns    map[string]*Conn
	ln       net.Listener
	closed   bool

	wg sync.WaitGroup
}

func NewServer(path string) *Server {
	if path == "" {
		path = DefaultSocketPath()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		path:     path,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[string]*Conn),
	}
	s.Handle("ping", s.handlePing)
	s.Handle("subscribe", s.handleSubscribe)
	s.Handle("unsubscribe", s.handleUnsubscribe)
	return s
}

func (s *Server) Path() string { return s.path }

// Handle registers a method. Register everything before Start.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Start removes any stale socket file, binds a fresh one with owner-only
// permissions, and begins accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		_ = ln.Close()
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.wg.Add(1)
	go s.acceptLoop(ln)
	slog.Info("rpc server listening", "socket", s.path)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("rpc: accept failed", "error", err)
			continue
		}
		c := &Conn{id: uuid.NewString(), nc: nc}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = nc.Close()
			return
		}
		s.conns[c.id] = c
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serveConn(c)
	}
}

func (s *Server) serveConn(c *Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		_ = c.nc.Close()
		slog.Debug("rpc: connection closed", "conn", c.id)
	}()
	slog.Debug("rpc: connection accepted", "conn", c.id)

	var fb FrameBuffer
	buf := make([]byte, 4096)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			frames, dropped := fb.Feed(buf[:n])
			if dropped {
				slog.Warn("rpc: dropped oversized frame remainder", "conn", c.id)
			}
			for _, raw := range frames {
				s.dispatch(c, raw)
			}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				slog.Debug("rpc: read failed", "conn", c.id, "error", err)
			}
			return
		}
	}
}

func (s *Server) dispatch(c *Conn, raw []byte) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.Warn("rpc: skipping malformed frame", "conn", c.id, "error", err)
		return
	}
	if err := m.Validate(); err != nil {
		if len(m.ID) > 0 {
			c.reply(NewErrorResponse(m.ID, Errorf(CodeInvalidRequest, "%v", err)))
		} else {
			slog.Warn("rpc: skipping invalid message", "conn", c.id, "error", err)
		}
		return
	}
	switch {
	case m.IsRequest():
		s.handleRequest(c, &m)
	case m.IsNotification():
		s.handleNotification(c, &m)
	default:
		slog.Debug("rpc: ignoring response frame from client", "conn", c.id)
	}
}

func (s *Server) handleRequest(c *Conn, m *Message) {
	h := s.handler(m.Method)
	if h == nil {
		c.reply(NewErrorResponse(m.ID, Errorf(CodeMethodNotFound, "method %q not found", m.Method)))
		return
	}
	result, err := s.invoke(h, c, m)
	if err != nil {
		c.reply(NewErrorResponse(m.ID, FromDomain(err)))
		return
	}
	resp, err := NewResponse(m.ID, result)
	if err != nil {
		c.reply(NewErrorResponse(m.ID, Errorf(CodeInternalError, "encode result: %v", err)))
		return
	}
	c.reply(resp)
}

func (s *Server) handleNotification(c *Conn, m *Message) {
	h := s.handler(m.Method)
	if h == nil {
		slog.Debug("rpc: no handler for notification", "method", m.Method)
		return
	}
	if _, err := s.invoke(h, c, m); err != nil {
		slog.Warn("rpc: notification handler failed", "method", m.Method, "error", err)
	}
}

func (s *Server) invoke(h HandlerFunc, c *Conn, m *Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rpc: handler panic", "method", m.Method, "panic", r)
			err = Errorf(CodeInternalError, "internal error in %s", m.Method)
		}
	}()
	return h(s.ctx, c, m.Params)
}

func (s *Server) handler(method string) HandlerFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[method]
}

// Notify pushes a notification to every subscribed connection that
// passes the optional filter. Write failures are per-connection and do
// not stop the fan-out.
func (s *Server) Notify(event string, params any, filter func(*Conn) bool) {
	msg, err := NewNotification(event, params)
	if err != nil {
		slog.Warn("rpc: encode notification failed", "event", event, "error", err)
		return
	}
	for _, c := range s.snapshot() {
		if !c.wantsEvent(event) {
			continue
		}
		if filter != nil && !filter(c) {
			continue
		}
		if err := c.send(msg); err != nil {
			slog.Debug("rpc: push failed", "conn", c.id, "event", event, "error", err)
		}
	}
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close stops accepting, drops every connection, and removes the socket
// file. Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.cancel()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		_ = c.nc.Close()
	}
	s.wg.Wait()
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// PingResult answers the transport-level ping.
type PingResult struct {
	Pong bool `json:"pong"`
}

// SubscribeParams selects which events a connection receives. Empty
// lists subscribe to everything.
type SubscribeParams struct {
	Events   []string `json:"events,omitempty"`
	Services []string `json:"services,omitempty"`
}

type SubscribeResult struct {
	Subscribed bool     `json:"subscribed"`
	Events     []string `json:"events,omitempty"`
	Services   []string `json:"services,omitempty"`
}

func (s *Server) handlePing(context.Context, *Conn, json.RawMessage) (any, error) {
	return PingResult{Pong: true}, nil
}

func (s *Server) handleSubscribe(_ context.Context, c *Conn, params json.RawMessage) (any, error) {
	var p SubscribeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, Errorf(CodeInvalidParams, "decode subscribe params: %v", err)
		}
	}
	c.Subscribe(p.Events, p.Services)
	return SubscribeResult{Subscribed: true, Events: p.Events, Services: p.Services}, nil
}

func (s *Server) handleUnsubscribe(_ context.Context, c *Conn, _ json.RawMessage) (any, error) {
	c.Unsubscribe()
	return SubscribeResult{Subscribed: false}, nil
}
