package rpc

import (
	"log/slog"
	"net"
	"sync"
)

// Conn is one accepted client connection. Writes are serialized so
// responses and pushed notifications never interleave mid-frame.
type Conn struct {
	id string
	nc net.Conn

	wmu sync.Mutex

	mu         sync.Mutex
	subscribed bool
	events     map[string]struct{}
	services   map[string]struct{}
}

func (c *Conn) ID() string { return c.id }

// Subscribe replaces the connection's event and service filters. An
// empty events list means every event; an empty services list means
// every service.
func (c *Conn) Subscribe(events, services []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = true
	c.events = toSet(events)
	c.services = toSet(services)
}

func (c *Conn) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = false
	c.events = nil
	c.services = nil
}

func (c *Conn) wantsEvent(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.subscribed {
		return false
	}
	if len(c.events) == 0 {
		return true
	}
	_, ok := c.events[event]
	return ok
}

// AllowsService reports whether the connection's service filter admits
// name. No filter admits everything.
func (c *Conn) AllowsService(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.services) == 0 {
		return true
	}
	_, ok := c.services[name]
	return ok
}

func (c *Conn) send(m *Message) error {
	frame, err := EncodeFrame(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.nc.Write(frame)
	return err
}

func (c *Conn) reply(m *Message) {
	if err := c.send(m); err != nil {
		slog.Debug("rpc: write reply failed", "conn", c.id, "error", err)
	}
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}
