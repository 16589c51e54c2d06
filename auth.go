package relay

import "context"

// AuthenticationResult is returned by an Authenticator once it has finished
// exchanging credentials over a newly-handshaking connection.
type AuthenticationResult struct {
	Successful bool
	ErrorCode  string
	User       string
}

// Authenticator performs the handshake/auth exchange for a connection
// during Session.Connect, per spec.md §4.5. It is defined in this package
// rather than relay/auth so that concrete providers (relay/auth.StaticProvider
// and friends) can depend on relay.Connection without creating an import
// cycle back into this package.
type Authenticator interface {
	Authenticate(ctx context.Context, conn *Connection) (AuthenticationResult, error)
}
