package relay

import "sync"

// UserDirectory maps an authenticated user name to its live server-side
// Connection, the "in-memory user-connection directory" spec.md §1 names as
// a collaborator out of the core's design scope.
type UserDirectory interface {
	Register(user string, conn *Connection)
	Lookup(user string) (*Connection, bool)
	Remove(user string)
}

// memoryUserDirectory is a sync.Map-backed UserDirectory. Registering a
// user already present replaces its connection.
type memoryUserDirectory struct {
	conns sync.Map // string -> *Connection
}

// NewUserDirectory returns an in-memory UserDirectory.
func NewUserDirectory() UserDirectory { return &memoryUserDirectory{} }

func (d *memoryUserDirectory) Register(user string, conn *Connection) {
	d.conns.Store(user, conn)
}

func (d *memoryUserDirectory) Lookup(user string) (*Connection, bool) {
	v, ok := d.conns.Load(user)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

func (d *memoryUserDirectory) Remove(user string) {
	d.conns.Delete(user)
}
