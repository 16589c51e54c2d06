// Command relayd is a reference relay.Server binary: it loads a
// ServerConfig, authenticates connecting sessions against a static
// credential table, tracks them in an in-memory UserDirectory, and exposes
// both over an internal/diag HTTP endpoint, grounded on edgectl's
// seedctl/main.go (config load → construct → serve) and
// ghostctl/main.go's service-object wrapping.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/edwin-n-johnson/relay"
	"github.com/edwin-n-johnson/relay/auth"
	"github.com/edwin-n-johnson/relay/internal/config"
	"github.com/edwin-n-johnson/relay/internal/diag"
)

func main() {
	configPath := flag.String("config", "", "path to a server TOML config (defaults built in if omitted)")
	diagAddr := flag.String("diag-addr", "127.0.0.1:8090", "address for the diagnostics HTTP server")
	flag.Parse()

	logger := relay.NewZerologLogger()

	cfg := config.DefaultServerConfig()
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "relayd: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	credentials := auth.NewStaticProvider(map[string]string{
		"relayctl": "",
	})
	directory := relay.NewUserDirectory()
	registry := diag.NewRegistry()

	addr, err := net.ResolveTCPAddr("tcp", cfg.ListenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: resolve listen addr: %v\n", err)
		os.Exit(1)
	}

	server, err := relay.NewServer(addr,
		relay.WithServerLogger(logger),
		relay.WithServerRequestTimeout(cfg.RequestTimeout),
		relay.WithServerShutdownTimeout(cfg.ShutdownTimeout),
		relay.WithServerMaxFramePayload(cfg.MaxFramePayload),
		relay.WithServerInboundHandler(auth.LoginHandler(credentials)),
		relay.WithServerClosedHandler(func(conn *relay.Connection, err error) {
			directory.Remove(conn.RemoteAddr())
			logger.Info("connection closed", "remote_addr", conn.RemoteAddr(), "error", err)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: listen: %v\n", err)
		os.Exit(1)
	}

	diagServer := diag.NewServer(*diagAddr, registry)
	go func() {
		if err := diagServer.ListenAndServe(ctx); err != nil {
			logger.Error("diag server stopped", "error", err)
		}
	}()

	handler := &directoryHandler{directory: directory, registry: registry, logger: logger}

	logger.Info("relayd starting", "listen_addr", addr.String(), "diag_addr", *diagAddr)
	if err := server.Serve(ctx, handler); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "relayd: serve: %v\n", err)
		os.Exit(1)
	}
}

// directoryHandler registers each handshaking connection in both the diag
// registry (for introspection) and the UserDirectory, keyed by remote
// address for the connection's whole lifetime; the server's closed handler
// removes that entry when the connection closes.
type directoryHandler struct {
	directory relay.UserDirectory
	registry  *diag.Registry
	logger    relay.Logger
}

func (h *directoryHandler) Handle(conn *relay.Connection) {
	h.registry.Track(conn)
	h.directory.Register(conn.RemoteAddr(), conn)
	conn.MarkConnected()
	h.logger.Info("connection handshaked", "remote_addr", conn.RemoteAddr(), "id", conn.ID())
	<-conn.Done()
}
