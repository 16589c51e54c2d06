// Command relayctl is a reference relay.Session client: it connects to a
// relayd instance, authenticates with a static credential, and drops into
// an interactive loop that issues named requests and renders responses,
// grounded on HoNfigurator-Portal-energizer's tablewriter-based status
// table and 1ureka-roj1's pterm progress reporting.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pterm/pterm"

	"github.com/edwin-n-johnson/relay"
	"github.com/edwin-n-johnson/relay/auth"
	"github.com/edwin-n-johnson/relay/internal/config"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7890", "relayd address")
	user := flag.String("user", "relayctl", "login user")
	password := flag.String("password", "", "login password")
	configPath := flag.String("config", "", "path to a session TOML config (defaults built in if omitted)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.DefaultSessionConfig()
	if *configPath != "" {
		loaded, err := config.LoadSessionConfig(*configPath)
		if err != nil {
			pterm.Error.Printfln("load config: %v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	credentials := auth.NewStaticProvider(map[string]string{*user: *password})
	session := relay.NewSession(*addr, credentials,
		relay.WithSessionRequestTimeout(cfg.RequestTimeout),
		relay.WithReconnectPolicy(cfg.ReconnectAttempts, cfg.ReconnectDelay),
		relay.WithSessionMaxFramePayload(cfg.MaxFramePayload),
	)

	session.OnConnected(func(s *relay.Session) {
		pterm.DefaultLogger.Info(fmt.Sprintf("connected as %q", s.User()))
	})
	session.OnDisconnected(func(s *relay.Session) {
		pterm.DefaultLogger.Warn("disconnected, reconnecting in background")
	})

	connectCtx := auth.WithCredentials(ctx, auth.Credentials{User: *user, Password: *password})
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("connecting to %s", *addr))
	if err := session.Connect(connectCtx); err != nil {
		spinner.Fail(fmt.Sprintf("connect failed: %v", err))
		os.Exit(1)
	}
	spinner.Success("connected")

	defer session.Dispose()

	runInteractive(ctx, session)
}

// runInteractive reads "name key=value key=value" lines from stdin, issues
// each as a Request, and renders the response in a two-row table.
func runInteractive(ctx context.Context, session *relay.Session) {
	pterm.Println("Enter requests as: <name> [key=value ...] (blank line or Ctrl+C to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return
		}
		if ctx.Err() != nil {
			return
		}

		name, args := parseCommand(line)
		resp, err := session.Request(ctx, name, args)
		if err != nil {
			pterm.Error.Printfln("request failed: %v", err)
			continue
		}

		renderResponse(name, resp)
	}
}

func parseCommand(line string) (string, map[string]string) {
	fields := strings.Fields(line)
	name := fields[0]
	args := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			args[k] = v
		}
	}
	return name, args
}

func renderResponse(name string, resp *relay.ResponseBody) {
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Request", "Status", "Body"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.Append([]string{name, resp.Status, string(resp.Payload)})
	tw.Render()
}
