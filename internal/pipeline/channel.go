package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// Channel is a named, ordered sequence of items with exactly one producer and
// zero or more consumers. Each consumer reads through its own Port, created at
// build time; publishing an item delivers it to every port, so multi-consumer
// fan-out is an explicit per-edge copy, never implicit sharing.
//
// A channel terminates exactly once, after which publishing is a programmer
// error. A channel for a deactivated producer is created already terminated,
// so downstream consumers observe zero items instead of blocking forever.
type Channel struct {
	name string

	mu        sync.Mutex
	ports     []*Port
	closed    bool
	preloaded []Item
}

// NewChannel creates an open channel with no subscribers.
func NewChannel(name string) *Channel {
	return &Channel{name: name}
}

// NewClosedChannel creates a channel that is already terminated, optionally
// pre-loaded with items. It models a deactivated producer (zero items) or a
// parameter-supplied artifact (one item) without a producing stage.
func NewClosedChannel(name string, items ...Item) *Channel {
	c := &Channel{name: name, closed: true}
	c.preloaded = items
	return c
}

// Name returns the channel's name.
func (c *Channel) Name() string { return c.name }

// Subscribe registers a new consumer edge and returns its port. For a
// terminated channel the port replays any pre-loaded items and is itself
// terminated. Subscribe is a build-time operation; subscribing after the
// producer has started publishing loses earlier items.
func (c *Channel) Subscribe(consumer string) *Port {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := &Port{
		channel:  c.name,
		consumer: consumer,
		wake:     make(chan struct{}),
	}
	if c.closed {
		p.items = append(p.items, c.preloaded...)
		p.closed = true
	}
	c.ports = append(c.ports, p)
	return p
}

// Publish delivers an item to every subscribed port, preserving order.
// Publishing on a terminated channel panics: the single-producer invariant
// means this can only happen through a wiring bug.
func (c *Channel) Publish(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		panic(fmt.Sprintf("pipeline: publish on terminated channel %q", c.name))
	}
	for _, p := range c.ports {
		p.push(item)
	}
}

// Close terminates the channel. Safe to call once per channel; the producer
// owns the call.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		panic(fmt.Sprintf("pipeline: double termination of channel %q", c.name))
	}
	c.closed = true
	for _, p := range c.ports {
		p.close()
	}
}

// Port is one consumer edge of a channel. A port buffers every item published
// on its channel and hands them to exactly one consumer in publish order.
type Port struct {
	channel  string
	consumer string

	mu     sync.Mutex
	items  []Item
	pos    int
	closed bool
	// wake is closed and replaced on every state change, waking blocked readers.
	wake chan struct{}
}

// Channel returns the name of the channel this port reads from.
func (p *Port) Channel() string { return p.channel }

// Consumer returns the name of the consuming stage.
func (p *Port) Consumer() string { return p.consumer }

func (p *Port) push(item Item) {
	p.mu.Lock()
	p.items = append(p.items, item)
	close(p.wake)
	p.wake = make(chan struct{})
	p.mu.Unlock()
}

func (p *Port) close() {
	p.mu.Lock()
	p.closed = true
	close(p.wake)
	p.wake = make(chan struct{})
	p.mu.Unlock()
}

// Next blocks until the next item is available or the channel has terminated
// with no items left. The second return is false once the port is drained.
func (p *Port) Next(ctx context.Context) (Item, bool, error) {
	for {
		p.mu.Lock()
		if p.pos < len(p.items) {
			item := p.items[p.pos]
			p.pos++
			p.mu.Unlock()
			return item, true, nil
		}
		if p.closed {
			p.mu.Unlock()
			return Item{}, false, nil
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, false, ctx.Err()
		case <-wake:
		}
	}
}

// All blocks until the channel terminates, then returns every item it carried.
// This is the collect/barrier read: it never yields before upstream completion.
func (p *Port) All(ctx context.Context) ([]Item, error) {
	for {
		p.mu.Lock()
		if p.closed {
			items := make([]Item, len(p.items))
			copy(items, p.items)
			p.mu.Unlock()
			return items, nil
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// One is the broadcast read: it waits for the channel to terminate and returns
// its single item, replayable to any number of callers. The second return is
// false for an empty channel. More than one item is a wiring bug.
func (p *Port) One(ctx context.Context) (Item, bool, error) {
	items, err := p.All(ctx)
	if err != nil {
		return Item{}, false, err
	}
	if len(items) == 0 {
		return Item{}, false, nil
	}
	if len(items) > 1 {
		return Item{}, false, fmt.Errorf("pipeline: broadcast channel %q carried %d items, want at most 1", p.channel, len(items))
	}
	return items[0], true, nil
}
