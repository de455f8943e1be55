package feed

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/oerlikon/prep/internal/metrics"
)

// DefaultQueueSize is the per-consumer delivery queue capacity.
const DefaultQueueSize = 16

// Disconnect reasons.
const (
	ReasonClosed   = "closed"
	ReasonSlow     = "slow"
	ReasonShutdown = "shutdown"
)

// Close codes and texts sent with a forced disconnect.
const (
	CloseTooSlow   = 1011
	CloseGoingAway = 1001

	tooSlowText  = "client too slow"
	shutdownText = "server shutting down"
)

// ErrTooSlow is returned by Activate when the snapshot and the stashed
// messages do not fit the consumer's queue.
var ErrTooSlow = errors.New("client too slow")

// ErrStopped is returned by Activate when the consumer was already stopped.
var ErrStopped = errors.New("consumer stopped")

// KickFunc terminates a consumer's transport with a close code and text.
// It is called at most once per consumer, on its own goroutine.
type KickFunc func(code int, text string)

type stashed struct {
	seq uint64
	msg []byte
}

// Consumer is one registered downstream subscriber.
type Consumer struct {
	ID uuid.UUID

	queue chan []byte
	done  chan struct{}
	kick  KickFunc

	mu       sync.Mutex
	stashing bool
	stash    []stashed
	after    uint64 // batches with Seq <= after are already covered by the snapshot

	stopOnce sync.Once
	reason   string
}

// Messages returns the consumer's delivery queue.
func (c *Consumer) Messages() <-chan []byte {
	return c.queue
}

// Done is closed once the consumer is stopped for any reason.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Reason returns why the consumer stopped, or "" while it is active.
func (c *Consumer) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Activate enqueues the snapshot as the first message, replays stashed
// batches newer than seq in order, and switches to direct delivery.
// A nil snapshot is not enqueued.
func (c *Consumer) Activate(snapshot []byte, seq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrStopped
	default:
	}

	stash := c.stash
	c.stash = nil
	c.stashing = false
	c.after = seq

	if snapshot != nil && !c.enqueue(snapshot) {
		return ErrTooSlow
	}
	for _, s := range stash {
		if s.seq <= seq {
			continue
		}
		if !c.enqueue(s.msg) {
			return ErrTooSlow
		}
	}
	return nil
}

// deliver hands one encoded batch to the consumer. It reports false if the
// consumer was found too slow. Must not be called concurrently with itself.
func (c *Consumer) deliver(seq uint64, msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return true
	default:
	}

	if c.stashing {
		c.stash = append(c.stash, stashed{seq: seq, msg: msg})
		return true
	}
	if seq <= c.after {
		return true
	}
	return c.enqueue(msg)
}

// enqueue never blocks. A full queue stops the consumer. Must be called with mu held.
func (c *Consumer) enqueue(msg []byte) bool {
	select {
	case c.queue <- msg:
		return true
	default:
		c.stopLocked(ReasonSlow, CloseTooSlow, tooSlowText)
		return false
	}
}

// Kick stops the consumer and asynchronously closes its transport.
func (c *Consumer) Kick(reason string, code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(reason, code, text)
}

func (c *Consumer) stopLocked(reason string, code int, text string) {
	c.stopOnce.Do(func() {
		c.reason = reason
		close(c.done)
		if c.kick != nil {
			go c.kick(code, text)
		}
	})
}

// Hub is the consumer registry and broadcaster.
type Hub struct {
	queueSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	consumers map[uuid.UUID]*Consumer
	closed    bool
}

// NewHub creates a hub whose consumers have queues of queueSize messages.
func NewHub(queueSize int, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		queueSize: queueSize,
		logger:    logger,
		metrics:   m,
		consumers: make(map[uuid.UUID]*Consumer),
	}
}

// Register adds a consumer in stashing mode. kick closes its transport on a
// forced disconnect and may be nil.
func (h *Hub) Register(kick KickFunc) *Consumer {
	c := &Consumer{
		ID:       uuid.New(),
		queue:    make(chan []byte, h.queueSize),
		done:     make(chan struct{}),
		kick:     kick,
		stashing: true,
	}

	h.mu.Lock()
	closed := h.closed
	if !closed {
		h.consumers[c.ID] = c
	}
	h.mu.Unlock()

	// A consumer arriving after Close is stopped straight away and never
	// tracked, so Activate fails and its handler returns.
	if closed {
		c.Kick(ReasonShutdown, CloseGoingAway, shutdownText)
		return c
	}

	h.metrics.ConsumerConnected()
	h.logger.Debug("consumer registered", "consumer", c.ID)
	return c
}

// Unregister removes a consumer and stops it if it is still active.
func (h *Hub) Unregister(c *Consumer) {
	h.mu.Lock()
	_, ok := h.consumers[c.ID]
	delete(h.consumers, c.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.stopOnce.Do(func() {
		c.reason = ReasonClosed
		close(c.done)
	})
	reason := c.reason
	c.mu.Unlock()

	h.metrics.ConsumerDisconnected(reason)
	h.logger.Debug("consumer unregistered", "consumer", c.ID, "reason", reason)
}

// Len returns the number of registered consumers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consumers)
}

// Broadcast encodes the batch once and hands it to every consumer without
// blocking. Consumers whose queue is full are disconnected. Broadcast must be
// called from a single goroutine, in Seq order.
func (h *Hub) Broadcast(b Batch) {
	msg := Encode(b.Blocks)
	if msg == nil {
		return
	}
	h.metrics.Broadcast(len(msg))

	for _, c := range h.snapshot() {
		if !c.deliver(b.Seq, msg) {
			h.logger.Warn("disconnecting slow consumer", "consumer", c.ID, "seq", b.Seq)
		}
	}
}

// Close stops every registered consumer. Consumers registered afterwards are
// stopped immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, c := range h.snapshot() {
		c.Kick(ReasonShutdown, CloseGoingAway, shutdownText)
	}
}

func (h *Hub) snapshot() []*Consumer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Consumer, 0, len(h.consumers))
	for _, c := range h.consumers {
		out = append(out, c)
	}
	return out
}
