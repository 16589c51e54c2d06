package relay

import (
	"context"
	"net"
	"time"

	"github.com/edwin-n-johnson/relay/serial"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// InboundHandler processes a decoded inbound envelope that is not a
// Response — i.e. a Request or one-way packet — dispatched in the order
// frames were read off the connection (spec.md §5). The read loop itself
// stays unblocked by a bounded dispatch queue, but a slow handler does
// delay the frames queued behind it; handlers that need to do real work
// should hand off to their own goroutine instead of blocking here.
type InboundHandler func(conn *Connection, env *Envelope, body Body)

// ConnectionOption configures a Connection at construction time.
type ConnectionOption func(*connOptions)

type connOptions struct {
	logger         Logger
	serializer     serial.Serializer
	onInbound      InboundHandler
	onClosed       func(err error)
	requestTimeout time.Duration
	maxPayload     int64
}

// WithLogger overrides the connection's Logger (default: the process
// default logger).
func WithLogger(l Logger) ConnectionOption { return func(o *connOptions) { o.logger = l } }

// WithSerializer overrides the connection's body serializer (default:
// serial.Text).
func WithSerializer(s serial.Serializer) ConnectionOption {
	return func(o *connOptions) { o.serializer = s }
}

// WithInboundHandler sets the callback invoked for inbound Request and
// one-way packets.
func WithInboundHandler(h InboundHandler) ConnectionOption {
	return func(o *connOptions) { o.onInbound = h }
}

// WithClosedHandler sets the callback invoked once, from the Closed entry
// action, with the error that caused the close (ErrDisconnected if none was
// recorded).
func WithClosedHandler(h func(err error)) ConnectionOption {
	return func(o *connOptions) { o.onClosed = h }
}

// WithRequestTimeout overrides the correlator's default per-request timeout
// (default: 60s, per spec.md §4.4/§5).
func WithRequestTimeout(d time.Duration) ConnectionOption {
	return func(o *connOptions) { o.requestTimeout = d }
}

// WithMaxFramePayload overrides the per-frame payload bound (default:
// wire.MaxFramePayload) enforced on both the read and write side of the
// connection, sourced from internal/config's SessionConfig/ServerConfig.
func WithMaxFramePayload(n int64) ConnectionOption {
	return func(o *connOptions) { o.maxPayload = n }
}

// Connection is a single peer link: the lifecycle state machine, the frame
// transport, and the request correlator bound to one net.Conn.
//
// At most one outbound send is in flight at a time (sendSem), and at most
// one inbound read loop runs, started exactly once from the Handshaking
// entry action.
type Connection struct {
	id           uuid.UUID
	dialerOrigin bool // true: this side dialed out; false: accepted (listener-origin)
	addr         string

	opts connOptions

	netConn    net.Conn
	remoteAddr string

	state *stateMachine

	closedCtx    context.Context
	closedCancel context.CancelFunc

	sendSem  *semaphore.Weighted
	frameIDs atomic.Uint64

	lastFrameID atomic.Uint64
	readErr     atomic.Error

	// dispatchQueue preserves arrival order for inbound dispatch (spec.md
	// §5): runReadLoop is its sole writer, dispatchWorker its sole reader,
	// so frames reach onInbound/the correlator in the order they were
	// read instead of racing across per-frame goroutines.
	dispatchQueue chan []byte

	correlator *correlator
}

func newConnection(dialerOrigin bool, opts ...ConnectionOption) *Connection {
	o := connOptions{
		logger:         defaultLogger(),
		serializer:     serial.Text{},
		requestTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:            uuid.New(),
		dialerOrigin:  dialerOrigin,
		opts:          o,
		state:         newStateMachine(),
		closedCtx:     ctx,
		closedCancel:  cancel,
		sendSem:       semaphore.NewWeighted(1),
		dispatchQueue: make(chan []byte, 64),
		correlator:    newCorrelator(),
	}
	c.state.onChange(c.onTransition)
	return c
}

// newDialerConnection constructs a dialer-origin connection that will
// resolve and dial addr ("host:port") when driven through Open.
func newDialerConnection(addr string, opts ...ConnectionOption) *Connection {
	c := newConnection(true, opts...)
	c.addr = addr
	return c
}

// newListenerConnection constructs a listener-origin connection wrapping an
// already-accepted socket.
func newListenerConnection(nc net.Conn, opts ...ConnectionOption) *Connection {
	c := newConnection(false, opts...)
	c.netConn = nc
	c.remoteAddr = nc.RemoteAddr().String()
	return c
}

// onTransition implements the per-state entry actions from spec.md §4.3.
// Dialing itself happens synchronously inside Open (it needs to return its
// error to the caller); this observer only covers actions that have no
// caller waiting on their outcome.
func (c *Connection) onTransition(old, next ConnState) {
	switch next {
	case StateHandshaking:
		go c.dispatchWorker()
		go c.runReadLoop()
	case StateClosed:
		c.closedCancel()
		if c.netConn != nil {
			c.netConn.Close()
		}
		err := c.readErr.Load()
		if err == nil {
			err = ErrDisconnected
		}
		c.correlator.closeAll(ErrDisconnected)
		if c.opts.onClosed != nil {
			c.opts.onClosed(err)
		}
	}
}

// Open drives the connection through Connecting (dialer-origin: DNS
// resolve + socket connect; listener-origin: the socket is already open, so
// this is a no-op) and then Handshaking, which starts the read loop. The
// read loop must be running before the caller issues the first handshake
// send, or the handshake response would deadlock (spec.md §9) — starting it
// as the Handshaking entry action guarantees that ordering.
func (c *Connection) Open(ctx context.Context) error {
	if !c.state.transition(StateConnecting) {
		return newErr(KindInvalidOperation, nil)
	}

	if c.dialerOrigin {
		nc, err := dialAddress(ctx, c.addr)
		if err != nil {
			c.fail(err)
			return err
		}
		c.netConn = nc
		c.remoteAddr = nc.RemoteAddr().String()
	}

	if !c.state.transition(StateHandshaking) {
		return ErrDisconnected
	}
	return nil
}

// MarkConnected transitions to Connected once the handshake exchange has
// completed successfully.
func (c *Connection) MarkConnected() bool {
	return c.state.transition(StateConnected)
}

// OnStateChange registers an additional state observer (e.g. the owning
// Session's closed-event handler).
func (c *Connection) OnStateChange(obs StateObserver) { c.state.onChange(obs) }

func (c *Connection) State() ConnState      { return c.state.current() }
func (c *Connection) RemoteAddr() string    { return c.remoteAddr }
func (c *Connection) ID() uuid.UUID         { return c.id }
func (c *Connection) IsDialerOrigin() bool  { return c.dialerOrigin }
func (c *Connection) Done() <-chan struct{} { return c.closedCtx.Done() }

// Stats reports the correlator's cumulative discarded-duplicate and
// timed-out response counts.
func (c *Connection) Stats() (discarded, timedOut uint64) { return c.correlator.Stats() }

// Err returns the error that caused the connection to close, if any.
func (c *Connection) Err() error { return c.readErr.Load() }

// fail records err as the close cause and transitions to Closed. A call
// after the connection has reached Closed is a no-op and leaves the recorded
// cause (what Err returns) unchanged.
func (c *Connection) fail(err error) {
	if c.state.current() == StateClosed {
		return
	}
	c.readErr.Store(err)
	c.state.transition(StateClosed)
}

// Close transitions the connection to Closed, as if the peer disconnected.
func (c *Connection) Close() error {
	c.fail(ErrDisconnected)
	return nil
}

// runReadLoop is the single long-running per-connection receive loop
// described in spec.md §4.2: read a frame, queue it for dispatch, repeat
// until a terminal error closes the connection. It is the dispatchQueue's
// sole writer and closes it on exit so dispatchWorker can drain and stop.
func (c *Connection) runReadLoop() {
	defer close(c.dispatchQueue)

	for {
		select {
		case <-c.closedCtx.Done():
			return
		default:
		}

		id, payload, err := readFrame(c.netConn, c.opts.maxPayload)
		if err != nil {
			c.fail(err)
			return
		}

		if prev := c.lastFrameID.Swap(id); prev != 0 && id != prev+1 {
			c.opts.logger.Debug("frame id gap detected", "conn", c.id, "previous", prev, "current", id)
		}

		select {
		case c.dispatchQueue <- payload:
		case <-c.closedCtx.Done():
			return
		}
	}
}

// dispatchWorker drains dispatchQueue in arrival order, per spec.md §5's
// requirement that inbound dispatch on a connection preserve read order —
// a single worker rather than a goroutine per frame is what makes that
// guarantee hold regardless of how long one frame's handler takes.
func (c *Connection) dispatchWorker() {
	for payload := range c.dispatchQueue {
		c.dispatchFrame(payload)
	}
}

func (c *Connection) dispatchFrame(payload []byte) {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		c.opts.logger.Warn("envelope decode failed, closing connection", "conn", c.id, "error", err)
		c.fail(err)
		return
	}

	body, err := env.Body(c.opts.serializer)
	if err != nil {
		c.opts.logger.Warn("body decode failed, closing connection", "conn", c.id, "error", err)
		c.fail(err)
		return
	}

	if resp, ok := body.(*ResponseBody); ok {
		if !c.correlator.resolve(resp) {
			c.opts.logger.Debug("discarding unmatched or duplicate response", "conn", c.id, "request_id", resp.RequestID)
		}
		return
	}

	if c.opts.onInbound != nil {
		c.opts.onInbound(c, env, body)
	}
}

// sendEnvelope encodes and writes one envelope under the per-connection
// send lock. Cancellation of ctx (or connection close) prior to acquiring
// the lock aborts the send without writing any bytes; once writeFrame
// begins, the send runs to completion or fails with Disconnected.
func (c *Connection) sendEnvelope(ctx context.Context, env *Envelope, body Body) error {
	if c.state.current() == StateClosed {
		return ErrDisconnected
	}

	payload, err := EncodeEnvelope(env, body, c.opts.serializer)
	if err != nil {
		return err
	}

	combined, cancel := combineContexts(ctx, c.closedCtx)
	defer cancel()

	if err := c.sendSem.Acquire(combined, 1); err != nil {
		if c.closedCtx.Err() != nil {
			return ErrDisconnected
		}
		return ctx.Err()
	}
	defer c.sendSem.Release(1)

	id := c.frameIDs.Add(1)
	if err := writeFrame(c.netConn, id, payload, c.opts.maxPayload); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// Request sends a new Request packet and blocks until a matching Response
// arrives, the request times out, or the connection closes, per spec.md
// §4.4.
func (c *Connection) Request(ctx context.Context, name string, args map[string]string) (*ResponseBody, error) {
	id := c.correlator.nextRequestID()
	w := c.correlator.register(id)

	body := &RequestBody{RequestID: id, Name: name, Args: args}
	env := &Envelope{PacketType: PacketTypeRequest, Flags: FlagRequest, Sent: time.Now().UTC()}
	if err := c.sendEnvelope(ctx, env, body); err != nil {
		c.correlator.forget(id)
		return nil, err
	}

	timer := time.NewTimer(c.opts.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.response, res.err
	case <-timer.C:
		c.correlator.timeout(id)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		c.correlator.forget(id)
		return nil, ctx.Err()
	case <-c.closedCtx.Done():
		c.correlator.forget(id)
		return nil, ErrDisconnected
	}
}

// Respond sends resp back to the peer as the response to requestID, on this
// same connection, per spec.md §4.5's "serializes that response and sends
// it back on the same connection with the originating request_id."
func (c *Connection) Respond(ctx context.Context, requestID uint64, resp *ResponseBody) error {
	resp.RequestID = requestID
	env := &Envelope{PacketType: PacketTypeResponse, Flags: FlagResponse, Sent: time.Now().UTC()}
	return c.sendEnvelope(ctx, env, resp)
}

// combineContexts returns a context canceled when either a or b is done.
func combineContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
