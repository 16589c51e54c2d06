package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edwin-n-johnson/relay/serial"
	"go.uber.org/atomic"
)

// SessionEvent is a connected/disconnected event callback. A panic raised
// from one is recovered and surfaced through the session's error sink
// rather than propagating to the caller that triggered the event.
type SessionEvent func(s *Session)

// RequestHandler is the session-level fallback invoked when no registered
// Module sets args.IsHandled, per spec.md §4.5's "RequestReceived event."
type RequestHandler func(s *Session, args *ModuleArgs) error

type sessionOptions struct {
	logger            Logger
	serializer        serial.Serializer
	requestTimeout    time.Duration
	reconnectAttempts int
	reconnectDelay    time.Duration
	maxPayload        int64
	errorSink         ErrorSink
}

// SessionOption configures a Session at construction time.
type SessionOption func(*sessionOptions)

func WithSessionLogger(l Logger) SessionOption { return func(o *sessionOptions) { o.logger = l } }

func WithSessionSerializer(s serial.Serializer) SessionOption {
	return func(o *sessionOptions) { o.serializer = s }
}

func WithSessionRequestTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) { o.requestTimeout = d }
}

// WithReconnectPolicy overrides the default 10-attempts/5-second-delay
// reconnect loop (spec.md §4.5).
func WithReconnectPolicy(attempts int, delay time.Duration) SessionOption {
	return func(o *sessionOptions) { o.reconnectAttempts = attempts; o.reconnectDelay = delay }
}

func WithSessionErrorSink(sink ErrorSink) SessionOption {
	return func(o *sessionOptions) { o.errorSink = sink }
}

// WithSessionMaxFramePayload overrides the per-frame payload bound applied
// to the session's connection (default: wire.MaxFramePayload), sourced
// from internal/config.SessionConfig.MaxFramePayload.
func WithSessionMaxFramePayload(n int64) SessionOption {
	return func(o *sessionOptions) { o.maxPayload = n }
}

// Session is the client-facing half of spec.md §4.5: a single-use Connect,
// a bounded Reconnect loop, and dispatch of inbound requests through a
// Module chain followed by a RequestReceived fallback.
type Session struct {
	addr string
	auth Authenticator
	opts sessionOptions

	mu   sync.Mutex
	conn *Connection
	user string

	connectCalled atomic.Bool
	isConnected   atomic.Bool
	reconnecting  atomic.Bool
	disposed      atomic.Bool

	modules *ModuleRegistry

	onConnected    []SessionEvent
	onDisconnected []SessionEvent
	onRequest      RequestHandler

	disposeCtx    context.Context
	disposeCancel context.CancelFunc
}

// NewSession constructs a dialer-origin session targeting addr
// ("host:port"). The connection itself is not created until Connect.
func NewSession(addr string, authenticator Authenticator, opts ...SessionOption) *Session {
	o := sessionOptions{
		logger:            defaultLogger(),
		serializer:        serial.Text{},
		requestTimeout:    60 * time.Second,
		reconnectAttempts: 10,
		reconnectDelay:    5 * time.Second,
		errorSink:         DefaultErrorSink(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		addr:          addr,
		auth:          authenticator,
		opts:          o,
		modules:       NewModuleRegistry(),
		disposeCtx:    ctx,
		disposeCancel: cancel,
	}
}

// RegisterModule appends m to the inbound dispatch chain.
func (s *Session) RegisterModule(m Module) { s.modules.Register(m) }

// OnConnected registers a callback fired after a successful Connect or
// Reconnect.
func (s *Session) OnConnected(fn SessionEvent) {
	s.mu.Lock()
	s.onConnected = append(s.onConnected, fn)
	s.mu.Unlock()
}

// OnDisconnected registers a callback fired when the underlying connection
// closes, successful or not.
func (s *Session) OnDisconnected(fn SessionEvent) {
	s.mu.Lock()
	s.onDisconnected = append(s.onDisconnected, fn)
	s.mu.Unlock()
}

// OnRequestReceived sets the fallback handler invoked when no Module claims
// an inbound request.
func (s *Session) OnRequestReceived(fn RequestHandler) {
	s.mu.Lock()
	s.onRequest = fn
	s.mu.Unlock()
}

func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) IsConnected() bool { return s.isConnected.Load() }

// Connect is callable at most once per Session; later calls fail with
// InvalidOperation regardless of whether the first call succeeded (spec.md
// §4.5). Reconnect reuses the same connect+authenticate sequence without
// this restriction.
func (s *Session) Connect(ctx context.Context) error {
	if !s.connectCalled.CompareAndSwap(false, true) {
		return ErrInvalidOperation
	}
	return s.doConnect(ctx)
}

// doConnect runs one connect+handshake+authenticate attempt. On
// cancellation or failure at any point the partially-built connection is
// closed and s.conn is left untouched, which is this reimplementation's
// form of spec.md §4.5's "rolls back: unsubscribe handlers, null the
// connection field."
func (s *Session) doConnect(ctx context.Context) error {
	conn := newDialerConnection(s.addr,
		WithLogger(s.opts.logger),
		WithSerializer(s.opts.serializer),
		WithRequestTimeout(s.opts.requestTimeout),
		WithMaxFramePayload(s.opts.maxPayload),
		WithInboundHandler(s.handleInbound),
		WithClosedHandler(s.handleClosed),
	)

	if err := conn.Open(ctx); err != nil {
		return err
	}

	result, err := s.auth.Authenticate(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}
	if !result.Successful {
		conn.Close()
		return AuthenticationError(result.ErrorCode)
	}

	conn.MarkConnected()

	s.mu.Lock()
	s.conn = conn
	s.user = result.User
	s.mu.Unlock()
	s.isConnected.Store(true)

	s.fireConnected()
	return nil
}

// Request delegates to the active connection's correlator, per spec.md
// §4.5's "Request (outbound)."
func (s *Session) Request(ctx context.Context, name string, args map[string]string) (*ResponseBody, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || !s.isConnected.Load() {
		return nil, ErrNotConnected
	}
	return conn.Request(ctx, name, args)
}

// handleInbound is wired as the connection's InboundHandler: it runs the
// module chain, falls back to RequestReceived, and replies with
// UnhandledServerError if nothing set a response or a handler errored,
// per spec.md §4.5.
func (s *Session) handleInbound(conn *Connection, env *Envelope, body Body) {
	req, ok := body.(*RequestBody)
	if !ok {
		return
	}

	args := &ModuleArgs{Envelope: env, Request: req}
	if err := s.dispatchInbound(args); err != nil {
		s.reportError(err)
		args.Response = &ResponseBody{Status: UnhandledServerErrorResponse}
	} else if !args.IsHandled || args.Response == nil {
		args.Response = &ResponseBody{Status: UnhandledServerErrorResponse}
	}

	if req.RequestID == 0 {
		return // one-way request: no correlated reply expected
	}

	sendCtx, cancel := context.WithTimeout(context.Background(), s.opts.requestTimeout)
	defer cancel()
	if err := conn.Respond(sendCtx, req.RequestID, args.Response); err != nil {
		s.reportError(err)
	}
}

func (s *Session) dispatchInbound(args *ModuleArgs) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in request handler: %v", r)
		}
	}()

	if err = s.modules.Dispatch(s, args); err != nil {
		return err
	}
	if !args.IsHandled {
		s.mu.Lock()
		handler := s.onRequest
		s.mu.Unlock()
		if handler != nil {
			if err = handler(s, args); err != nil {
				return err
			}
			args.IsHandled = true
		}
	}
	return nil
}

// handleClosed is wired as the connection's closed-event handler. It fires
// Disconnected and, unless the session is disposed, starts the bounded
// reconnect loop.
func (s *Session) handleClosed(err error) {
	s.isConnected.Store(false)
	s.fireDisconnected()
	if s.disposed.Load() {
		return
	}
	go s.reconnectLoop()
}

// reconnectLoop implements spec.md §4.5's bounded retry: default 10
// attempts, 5s delay, terminating on first success, disposal, or exhausted
// attempts. It never returns an error; failures are logged and the loop
// continues.
func (s *Session) reconnectLoop() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer s.reconnecting.Store(false)

	for attempt := 1; attempt <= s.opts.reconnectAttempts; attempt++ {
		select {
		case <-s.disposeCtx.Done():
			return
		default:
		}

		ctx, cancel := context.WithTimeout(s.disposeCtx, s.opts.requestTimeout)
		err := s.doConnect(ctx)
		cancel()
		if err == nil {
			return
		}
		s.opts.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)

		select {
		case <-time.After(s.opts.reconnectDelay):
		case <-s.disposeCtx.Done():
			return
		}
	}
	s.opts.logger.Error("reconnect attempts exhausted", "attempts", s.opts.reconnectAttempts)
}

func (s *Session) fireConnected() {
	s.mu.Lock()
	handlers := append([]SessionEvent(nil), s.onConnected...)
	s.mu.Unlock()
	for _, h := range handlers {
		s.safeCall(h)
	}
}

func (s *Session) fireDisconnected() {
	s.mu.Lock()
	handlers := append([]SessionEvent(nil), s.onDisconnected...)
	s.mu.Unlock()
	for _, h := range handlers {
		s.safeCall(h)
	}
}

// safeCall recovers a panicking event handler and surfaces it through the
// error sink, per spec.md scenario 3: "Connect still returns Ok and the
// connection remains open."
func (s *Session) safeCall(h SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.reportError(fmt.Errorf("panic in session event handler: %v", r))
		}
	}()
	h(s)
}

func (s *Session) reportError(err error) {
	s.opts.errorSink.HandleError("session", err)
}

// Dispose cancels any in-flight reconnect loop, closes the active
// connection, and disposes every registered module. Safe to call more than
// once.
func (s *Session) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	s.disposeCancel()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return s.modules.Dispose()
}
