package hub

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"zbxrtx/internal/logging"
	"zbxrtx/internal/notify"
)

// defaultDropThreshold is SSE_DROP_THRESHOLD's default (spec §6).
const defaultDropThreshold = 65536

// client holds one connected live client's pending outbound frame queue.
// Backpressure is measured in bytes of pending, unsent frames, per spec
// §4.4: once pending reaches the hub's drop threshold, further frames are
// dropped for this client alone until the queue drains.
type client struct {
	id     string
	family Family // empty means "all families"

	mu      sync.Mutex
	queue   [][]byte
	pending int
	closed  bool

	signal *notify.Signal
}

func (c *client) push(frame []byte, threshold int) (dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if c.pending >= threshold {
		return true
	}
	c.queue = append(c.queue, frame)
	c.pending += len(frame)
	c.signal.Notify()
	return false
}

// next blocks until a frame is available, the client is closed, or ctx is
// done. Returns ok=false once the client is closed and fully drained.
func (c *client) next(ctx context.Context) (frame []byte, ok bool) {
	for {
		wake := c.signal.C()

		c.mu.Lock()
		if len(c.queue) > 0 {
			frame = c.queue[0]
			c.queue = c.queue[1:]
			c.pending -= len(frame)
			c.mu.Unlock()
			return frame, true
		}
		if c.closed {
			c.mu.Unlock()
			return nil, false
		}
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal.Notify()
}

// Subscription is a registered live client's handle, returned by Register.
// The HTTP adapter calls Next in a loop to pull framed bytes to write to the
// connection, and must call the hub's Unregister when the connection ends.
type Subscription struct {
	ID string

	c *client
}

// Next blocks for the next frame. Returns ok=false when the subscription has
// been closed (by Unregister or hub Close) or ctx is done.
func (s *Subscription) Next(ctx context.Context) ([]byte, bool) {
	return s.c.next(ctx)
}

// SseHubOptions configures an SseHub.
type SseHubOptions struct {
	// HeartbeatInterval is how often a `: hb <millis>\n\n` comment frame is
	// sent to every connected client. Defaults to 20s.
	HeartbeatInterval time.Duration

	// DropThreshold is SSE_DROP_THRESHOLD: the pending-bytes ceiling past
	// which frames are dropped for a single slow client (spec §4.4, §6).
	// Defaults to 65536.
	DropThreshold int

	Logger *slog.Logger
}

// SseHub fans broadcast envelopes out to registered SSE clients, applying
// per-client backpressure: once a client's pending-byte queue reaches the
// drop threshold, frames are dropped for it alone, never blocking or
// slowing other clients (spec §4.4, §5).
type SseHub struct {
	opts   SseHubOptions
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	closed  bool

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
	hbOnce        sync.Once
}

// NewSseHub creates a ready-to-use SseHub. Call HeartbeatStart to begin
// periodic heartbeats.
func NewSseHub(opts SseHubOptions) *SseHub {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.DropThreshold <= 0 {
		opts.DropThreshold = defaultDropThreshold
	}
	return &SseHub{
		opts:    opts,
		logger:  logging.Default(opts.Logger).With("component", "hub", "type", "sse"),
		clients: make(map[string]*client),
	}
}

// Register adds a new client restricted to family (empty means all
// families) and returns its Subscription. Unregister must be called when
// the client disconnects.
func (h *SseHub) Register(family Family) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{
		id:     uuid.NewString(),
		family: family,
		signal: notify.NewSignal(),
	}
	if h.closed {
		c.close()
		return &Subscription{ID: c.id, c: c}
	}
	h.clients[c.id] = c
	h.logger.Info("client registered", "id", c.id, "family", string(family))
	return &Subscription{ID: c.id, c: c}
}

// Unregister removes a client. Safe to call more than once.
func (h *SseHub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		c.close()
		h.logger.Info("client unregistered", "id", id)
	}
}

// Broadcast frames env as an SSE event and enqueues it for every registered
// client whose family filter matches. A client whose pending byte count has
// reached the drop threshold has this frame dropped for it alone (spec
// §4.4).
func (h *SseHub) Broadcast(env Envelope) {
	frame := encodeFrame(env.ID, env.Source.Family.EventName(), env.Record)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if c.family != "" && c.family != env.Source.Family {
			continue
		}
		if dropped := c.push(frame, h.opts.DropThreshold); dropped {
			h.logger.Warn("dropping frame for slow client", "id", c.id)
		}
	}
}

// HeartbeatStart launches the single heartbeat ticker that periodically
// sends a `: hb <millis>\n\n` comment frame to every client (spec §9 Open
// Question 1: one heartbeat mechanism, not two). nowMS is called once per
// tick to stamp the frame.
func (h *SseHub) HeartbeatStart(nowMS func() int64) {
	h.hbOnce.Do(func() {
		h.heartbeatStop = make(chan struct{})
		h.heartbeatDone = make(chan struct{})
		go h.heartbeatLoop(nowMS)
	})
}

func (h *SseHub) heartbeatLoop(nowMS func() int64) {
	defer close(h.heartbeatDone)
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.heartbeatStop:
			return
		case <-ticker.C:
			h.sendHeartbeat(nowMS())
		}
	}
}

func (h *SseHub) sendHeartbeat(millis int64) {
	frame := []byte(fmt.Sprintf(": hb %d\n\n", millis))
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if dropped := c.push(frame, h.opts.DropThreshold); dropped {
			h.logger.Warn("dropping heartbeat for slow client", "id", c.id)
		}
	}
}

// HeartbeatStop stops the heartbeat ticker, if running, and waits for its
// goroutine to exit.
func (h *SseHub) HeartbeatStop() {
	if h.heartbeatStop == nil {
		return
	}
	select {
	case <-h.heartbeatStop:
	default:
		close(h.heartbeatStop)
	}
	<-h.heartbeatDone
}

// Close stops accepting new clients and closes every currently connected
// one, so in-flight Next calls return ok=false and the HTTP adapter's
// ServeHTTP calls return (graceful shutdown, spec §4.5).
func (h *SseHub) Close() {
	h.HeartbeatStop()

	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// encodeFrame renders one SSE frame: optional id line, optional event line,
// then the data line and a blank terminator (spec §4.4).
func encodeFrame(id uint64, event string, payload string) []byte {
	var buf []byte
	if id > 0 {
		buf = append(buf, "id: "...)
		buf = strconv.AppendUint(buf, id, 10)
		buf = append(buf, '\n')
	}
	if event != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, event...)
		buf = append(buf, '\n')
	}
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	return buf
}

// ConnectedComment is the initial `: connected\n\n` frame written when an
// SSE connection is established (spec §6).
func ConnectedComment() []byte {
	return []byte(": connected\n\n")
}
