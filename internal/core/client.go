package core

import (
	"sync"

	"github.com/vovakirdan/spacerelay/internal/metrics"
)

// Client is a watcher connection as seen by the core layer.
// Commands flow in through the Commands channel; events are queued with
// Emit and drained by the transport's writer.
type Client struct {
	UUID     string
	Name     string
	Commands chan *Command

	filters FilterSet

	mu       sync.Mutex
	outbox   []Event
	limit    int
	spaces   map[string]struct{}
	ready    chan struct{}
	overflow chan struct{}
	done     chan struct{}
	once     sync.Once
	overOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(uuid, name string) *Client {
	if name == "" {
		name = uuid
	}
	return &Client{
		UUID:     uuid,
		Name:     name,
		Commands: make(chan *Command, 32),
		spaces:   make(map[string]struct{}),
		ready:    make(chan struct{}, 1),
		overflow: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID implements Watcher.
func (c *Client) ID() string { return c.UUID }

// SpaceFilters implements Watcher.
func (c *Client) SpaceFilters() *FilterSet { return &c.filters }

// Emit implements Watcher.
func (c *Client) Emit(msg *SubMessage) {
	c.push(Event{Kind: EventSpaceMessage, Space: msg.Message.SpaceName(), Message: msg})
}

// Fail queues an error for the client.
func (c *Client) Fail(err *CoreError) {
	c.push(Event{Kind: EventError, Error: err})
}

// SetOutboxLimit caps how many undrained events the client may hold.
// Zero means no cap.
func (c *Client) SetOutboxLimit(n int) {
	c.mu.Lock()
	c.limit = n
	c.mu.Unlock()
}

func (c *Client) push(ev Event) {
	c.mu.Lock()
	if c.limit > 0 && len(c.outbox) >= c.limit {
		c.mu.Unlock()
		// Drop if slow consumer.
		metrics.DroppedEvents.Inc()
		c.overOnce.Do(func() { close(c.overflow) })
		return
	}
	c.outbox = append(c.outbox, ev)
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Ready fires after new events were queued.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Overflowed is closed the first time an event was dropped because the
// outbox was full. The client's view is stale from then on.
func (c *Client) Overflowed() <-chan struct{} { return c.overflow }

// Drain returns and clears every queued event, oldest first.
func (c *Client) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.outbox
	c.outbox = nil
	return out
}

// Watching reports whether the client is attached to space.
func (c *Client) Watching(space string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.spaces[space]
	return ok
}

// WatchedSpaces returns the names of every attached space.
func (c *Client) WatchedSpaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.spaces))
	for name := range c.spaces {
		out = append(out, name)
	}
	return out
}

func (c *Client) watch(space string) {
	c.mu.Lock()
	c.spaces[space] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unwatch(space string) {
	c.mu.Lock()
	delete(c.spaces, space)
	c.mu.Unlock()
}

// Done is closed once the client has been unregistered.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

var _ Watcher = (*Client)(nil)
