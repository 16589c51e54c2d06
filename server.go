package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/edwin-n-johnson/relay/serial"
)

// Handler processes one accepted, handshaking Connection: authenticating it
// (a server-side mirror of Session's Authenticator), calling MarkConnected
// on success, and closing the connection on failure. Handle owns the
// connection for the rest of its lifetime.
type Handler interface {
	Handle(conn *Connection)
}

type serverOptions struct {
	logger          Logger
	serializer      serial.Serializer
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	maxPayload      int64
	inbound         InboundHandler
	onClosed        func(conn *Connection, err error)
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

func WithServerLogger(l Logger) ServerOption { return func(o *serverOptions) { o.logger = l } }

func WithServerSerializer(s serial.Serializer) ServerOption {
	return func(o *serverOptions) { o.serializer = s }
}

func WithServerRequestTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.requestTimeout = d }
}

// WithServerShutdownTimeout sets how long Serve keeps accepting, after ctx
// is canceled, before it stops accepting and returns. Serve does not wait
// for running handlers. Default 0 (immediate). Close() bypasses any
// remaining wait.
func WithServerShutdownTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.shutdownTimeout = d }
}

// WithServerMaxFramePayload overrides the per-frame payload bound applied
// to every accepted Connection (default: wire.MaxFramePayload), sourced
// from internal/config.ServerConfig.MaxFramePayload.
func WithServerMaxFramePayload(n int64) ServerOption {
	return func(o *serverOptions) { o.maxPayload = n }
}

// WithServerInboundHandler sets the InboundHandler wired into every
// accepted Connection, applied uniformly so it can be fixed at connection
// construction time rather than raced in after the read loop has started.
func WithServerInboundHandler(h InboundHandler) ServerOption {
	return func(o *serverOptions) { o.inbound = h }
}

// WithServerClosedHandler sets the callback invoked when any accepted
// connection closes — the natural place to remove it from a UserDirectory.
func WithServerClosedHandler(h func(conn *Connection, err error)) ServerOption {
	return func(o *serverOptions) { o.onClosed = h }
}

// Server accepts TCP connections and drives each through the
// listener-origin half of the connection lifecycle: spec.md §4.3's
// "for listener-origin connections, skip directly [to Handshaking] as the
// socket is already open."
type Server struct {
	listener *net.TCPListener
	opts     serverOptions

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{}
}

// NewServer binds a TCP listener at addr.
func NewServer(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	o := serverOptions{
		logger:         defaultLogger(),
		serializer:     serial.Text{},
		requestTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Server{
		listener:    listener,
		opts:        o,
		shutdownNow: make(chan struct{}),
	}, nil
}

// Serve accepts connections and dispatches each, once handshaking, to
// handler. It blocks until ctx is canceled or an unrecoverable accept error
// occurs.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.opts.logger.Info("server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()

		if s.opts.shutdownTimeout > 0 {
			s.opts.logger.Info("graceful shutdown initiated", "timeout", s.opts.shutdownTimeout)
			select {
			case <-time.After(s.opts.shutdownTimeout):
			case <-s.shutdownNow:
				s.opts.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		nc, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.opts.logger.Info("server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.opts.logger.Error("accept error", "error", err)
			return err
		}

		s.opts.logger.Debug("accepted connection", "remote_addr", nc.RemoteAddr())
		_ = nc.SetNoDelay(true)

		connOpts := []ConnectionOption{
			WithLogger(s.opts.logger),
			WithSerializer(s.opts.serializer),
			WithRequestTimeout(s.opts.requestTimeout),
			WithMaxFramePayload(s.opts.maxPayload),
		}
		if s.opts.inbound != nil {
			connOpts = append(connOpts, WithInboundHandler(s.opts.inbound))
		}

		conn := newListenerConnection(nc, connOpts...)
		if s.opts.onClosed != nil {
			onClosed := s.opts.onClosed
			conn.OnStateChange(func(old, next ConnState) {
				if next == StateClosed {
					err := conn.Err()
					if err == nil {
						err = ErrDisconnected
					}
					onClosed(conn, err)
				}
			})
		}

		if err := conn.Open(ctx); err != nil {
			s.opts.logger.Warn("failed to open accepted connection", "remote_addr", nc.RemoteAddr(), "error", err)
			continue
		}

		go handler.Handle(conn)
	}
}

// Close stops the server by closing the underlying listener, bypassing any
// remaining shutdown-timeout wait. Any blocked Accept call returns an
// error.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }
