package realtime

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrAlreadyBound is returned when a connection announces an identity twice.
	ErrAlreadyBound = errors.New("connection already bound to a user")
	// ErrUnknownConnection is returned for a connection id that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
)

// ConnID identifies one transport session.
type ConnID string

// Sink delivers encoded frames to one connection. Send must not block; it
// reports false when the frame could not be queued.
type Sink interface {
	Send(frame []byte) bool
}

// Conn is the router's view of a live connection.
type Conn struct {
	ID          ConnID
	UserID      string
	ConnectedAt time.Time

	sink  Sink
	rooms map[string]struct{}
}

// Bound reports whether the connection has announced an identity.
func (c *Conn) Bound() bool {
	return c.UserID != ""
}

// Rooms returns the rooms the connection is joined to, sorted.
func (c *Conn) Rooms() []string {
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Registry tracks live connections and the identities bound to them. The
// per-user connection set doubles as the user's private room: addressing a
// user means addressing every connection in that set.
//
// Registry is not safe for concurrent use; the hub loop owns it.
type Registry struct {
	conns  map[ConnID]*Conn
	byUser map[string]map[ConnID]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[ConnID]*Conn),
		byUser: make(map[string]map[ConnID]struct{}),
	}
}

// Add registers a new connection. Adding an id twice returns the existing entry.
func (r *Registry) Add(id ConnID, sink Sink) *Conn {
	if c, ok := r.conns[id]; ok {
		return c
	}
	c := &Conn{
		ID:          id,
		ConnectedAt: time.Now(),
		sink:        sink,
		rooms:       make(map[string]struct{}),
	}
	r.conns[id] = c
	return c
}

// Get looks up a connection.
func (r *Registry) Get(id ConnID) (*Conn, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Bind associates a connection with a user. The first bind wins. It reports
// whether the user went from offline to online.
func (r *Registry) Bind(id ConnID, userID string) (bool, error) {
	c, ok := r.conns[id]
	if !ok {
		return false, ErrUnknownConnection
	}
	if c.Bound() {
		return false, ErrAlreadyBound
	}

	c.UserID = userID
	set, online := r.byUser[userID]
	if !online {
		set = make(map[ConnID]struct{})
		r.byUser[userID] = set
	}
	set[id] = struct{}{}
	return !online, nil
}

// Remove unregisters a connection and returns it. lastForUser is true when
// the connection was the user's only live connection. Removing an unknown id
// is a no-op.
func (r *Registry) Remove(id ConnID) (conn *Conn, lastForUser bool) {
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)

	if !c.Bound() {
		return c, false
	}
	set := r.byUser[c.UserID]
	delete(set, id)
	if len(set) == 0 {
		delete(r.byUser, c.UserID)
		return c, true
	}
	return c, false
}

// UserConns returns the live connections bound to a user.
func (r *Registry) UserConns(userID string) []*Conn {
	set := r.byUser[userID]
	out := make([]*Conn, 0, len(set))
	for id := range set {
		out = append(out, r.conns[id])
	}
	return out
}

// Online reports whether at least one live connection is bound to the user.
func (r *Registry) Online(userID string) bool {
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the ids of all online users, sorted.
func (r *Registry) OnlineUsers() []string {
	out := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// All returns every live connection.
func (r *Registry) All() []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.conns)
}
