package realtime

// Rooms maps room ids to the connections currently joined to them. A room
// exists only while it has members; the last leave prunes it.
type Rooms struct {
	members map[string]map[ConnID]*Conn
}

// NewRooms returns an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{members: make(map[string]map[ConnID]*Conn)}
}

// Join adds the connection to a room. Rejoining is a no-op.
func (t *Rooms) Join(c *Conn, room string) {
	set, ok := t.members[room]
	if !ok {
		set = make(map[ConnID]*Conn)
		t.members[room] = set
	}
	set[c.ID] = c
	c.rooms[room] = struct{}{}
}

// Leave removes the connection from a room. It reports whether the room is
// now empty.
func (t *Rooms) Leave(c *Conn, room string) bool {
	delete(c.rooms, room)
	set, ok := t.members[room]
	if !ok {
		return true
	}
	delete(set, c.ID)
	if len(set) == 0 {
		delete(t.members, room)
		return true
	}
	return false
}

// LeaveAll removes the connection from every room it joined and returns the
// rooms that became empty.
func (t *Rooms) LeaveAll(c *Conn) []string {
	var emptied []string
	for _, room := range c.Rooms() {
		if t.Leave(c, room) {
			emptied = append(emptied, room)
		}
	}
	return emptied
}

// Members returns the connections joined to a room. Unknown rooms yield an
// empty slice.
func (t *Rooms) Members(room string) []*Conn {
	set := t.members[room]
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Has reports whether the connection is joined to the room.
func (t *Rooms) Has(c *Conn, room string) bool {
	_, ok := t.members[room][c.ID]
	return ok
}

// Size returns the member count of a room.
func (t *Rooms) Size(room string) int {
	return len(t.members[room])
}

// Len returns the number of non-empty rooms.
func (t *Rooms) Len() int {
	return len(t.members)
}
