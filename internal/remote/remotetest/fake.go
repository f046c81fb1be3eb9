// Package remotetest provides an in-memory remote.Connector for tests.
package remotetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sendcode_nexus/internal/remote"
	"sendcode_nexus/proxypool/model"
)

// Behavior scripts how the fake remote service reacts through one endpoint.
// A Hang flag blocks the stage until its context is done; a Delay blocks for that
// long or until the context is done, whichever comes first.
type Behavior struct {
	ConnectErr   error
	ConnectDelay time.Duration
	ConnectHang  bool

	Authorized bool
	AuthErr    error
	AuthHang   bool

	SendErr   error
	SendDelay time.Duration
	SendHang  bool

	CloseErr error
}

// Connector is a scripted remote.Connector. It records what was sent and how many
// sessions were open at the same time.
type Connector struct {
	Default     Behavior
	PerEndpoint map[model.EndpointKey]Behavior

	mu      sync.Mutex
	sent    map[model.EndpointKey][]string
	connect map[model.EndpointKey]int

	open    atomic.Int64
	maxOpen atomic.Int64
	closed  atomic.Int64
}

var _ remote.Connector = (*Connector)(nil)

func NewConnector(def Behavior) *Connector {
	return &Connector{
		Default:     def,
		PerEndpoint: make(map[model.EndpointKey]Behavior),
	}
}

// Set scripts the behavior for one endpoint.
func (c *Connector) Set(ep model.Endpoint, b Behavior) *Connector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PerEndpoint[ep.Key()] = b
	return c
}

func (c *Connector) behavior(key model.EndpointKey) Behavior {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.PerEndpoint[key]; ok {
		return b
	}
	return c.Default
}

func (c *Connector) Connect(ctx context.Context, ep model.Endpoint) (remote.Session, error) {
	key := ep.Key()
	b := c.behavior(key)

	c.mu.Lock()
	if c.connect == nil {
		c.connect = make(map[model.EndpointKey]int)
	}
	c.connect[key]++
	c.mu.Unlock()

	n := c.open.Add(1)
	for {
		cur := c.maxOpen.Load()
		if n <= cur || c.maxOpen.CompareAndSwap(cur, n) {
			break
		}
	}

	if err := wait(ctx, b.ConnectDelay, b.ConnectHang); err != nil {
		c.open.Add(-1)
		return nil, err
	}
	if b.ConnectErr != nil {
		c.open.Add(-1)
		return nil, b.ConnectErr
	}
	return &session{owner: c, key: key, behavior: b}, nil
}

// Sent returns the targets a code was successfully requested for through ep.
func (c *Connector) Sent(ep model.Endpoint) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent[ep.Key()]...)
}

// Connects returns how many times Connect was called for ep.
func (c *Connector) Connects(ep model.Endpoint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect[ep.Key()]
}

// MaxOpen is the highest number of sessions (including connects in progress)
// observed at the same time.
func (c *Connector) MaxOpen() int { return int(c.maxOpen.Load()) }

// Open is the number of sessions currently open.
func (c *Connector) Open() int { return int(c.open.Load()) }

// Closed is the number of sessions that were torn down.
func (c *Connector) Closed() int { return int(c.closed.Load()) }

type session struct {
	owner    *Connector
	key      model.EndpointKey
	behavior Behavior
	once     sync.Once
}

func (s *session) IsAuthorized(ctx context.Context) (bool, error) {
	if err := wait(ctx, 0, s.behavior.AuthHang); err != nil {
		return false, err
	}
	if s.behavior.AuthErr != nil {
		return false, s.behavior.AuthErr
	}
	return s.behavior.Authorized, nil
}

func (s *session) SendCode(ctx context.Context, phone string) error {
	if err := wait(ctx, s.behavior.SendDelay, s.behavior.SendHang); err != nil {
		return err
	}
	if s.behavior.SendErr != nil {
		return s.behavior.SendErr
	}
	s.owner.mu.Lock()
	if s.owner.sent == nil {
		s.owner.sent = make(map[model.EndpointKey][]string)
	}
	s.owner.sent[s.key] = append(s.owner.sent[s.key], phone)
	s.owner.mu.Unlock()
	return nil
}

func (s *session) Close() error {
	s.once.Do(func() {
		s.owner.open.Add(-1)
		s.owner.closed.Add(1)
	})
	return s.behavior.CloseErr
}

func wait(ctx context.Context, delay time.Duration, hang bool) error {
	switch {
	case hang:
		<-ctx.Done()
		return ctx.Err()
	case delay > 0:
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
