// Package auth provides reference implementations of relay.Authenticator.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/edwin-n-johnson/relay"
)

// StaticProvider authenticates against a fixed, in-memory user→password
// table. A user entry with an empty password accepts any (or absent)
// password, matching a password-less handshake.
type StaticProvider struct {
	mu        sync.RWMutex
	passwords map[string]string
}

// NewStaticProvider builds a StaticProvider from a user→password table. A
// nil or empty map has no users, so Verify rejects every login.
func NewStaticProvider(passwords map[string]string) *StaticProvider {
	p := &StaticProvider{passwords: make(map[string]string, len(passwords))}
	for user, pass := range passwords {
		p.passwords[user] = pass
	}
	return p
}

// Authenticate exchanges one Request/Response pair over conn: it sends a
// "login" request carrying user/password and expects the peer (a
// relay.Server-side handler wired to the same credential table) to answer
// with a Response whose Status is "Ok" or "Denied".
func (p *StaticProvider) Authenticate(ctx context.Context, conn *relay.Connection) (relay.AuthenticationResult, error) {
	user, ok := ctx.Value(credentialsKey{}).(Credentials)
	if !ok {
		return relay.AuthenticationResult{}, relay.ErrInvalidOperation
	}

	resp, err := conn.Request(ctx, "login", map[string]string{
		"user":     user.User,
		"password": user.Password,
	})
	if err != nil {
		return relay.AuthenticationResult{}, err
	}

	if resp.Status != "Ok" {
		return relay.AuthenticationResult{Successful: false, ErrorCode: resp.Status}, nil
	}
	return relay.AuthenticationResult{Successful: true, User: user.User}, nil
}

// Verify checks user/password against the table, used by the server-side
// handler that answers the "login" request StaticProvider.Authenticate
// sends. An empty stored password accepts any presented password.
func (p *StaticProvider) Verify(user, password string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	want, ok := p.passwords[user]
	if !ok {
		return false
	}
	return want == "" || want == password
}

// Credentials carries the user/password a dialer-side StaticProvider
// presents during the handshake.
type Credentials struct {
	User     string
	Password string
}

type credentialsKey struct{}

// WithCredentials attaches Credentials to ctx for StaticProvider.Authenticate
// to read, since relay.Authenticator's signature takes no credentials
// parameter directly (spec.md §4.5 models the authenticator as already
// knowing how to obtain them).
func WithCredentials(ctx context.Context, c Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, c)
}

// LoginHandler answers "login" requests against p's credential table,
// suitable for relay.WithServerInboundHandler on the listener side of the
// handshake StaticProvider.Authenticate drives from the dialer side.
func LoginHandler(p *StaticProvider) relay.InboundHandler {
	return func(conn *relay.Connection, env *relay.Envelope, body relay.Body) {
		req, ok := body.(*relay.RequestBody)
		if !ok || req.Name != "login" {
			return
		}

		status := "Denied"
		if p.Verify(req.Args["user"], req.Args["password"]) {
			status = "Ok"
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = conn.Respond(ctx, req.RequestID, &relay.ResponseBody{Status: status})
	}
}
