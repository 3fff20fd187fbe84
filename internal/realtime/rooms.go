package realtime

import "sync"

const userRoomPrefix = "user:"

// UserRoom is the room every authenticated connection of ownerID joins.
func UserRoom(ownerID string) string {
	return userRoomPrefix + ownerID
}

// Rooms maps room keys to their live connections. Empty rooms are removed as
// soon as their last member leaves.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[*Connection]struct{})}
}

// Join adds conn to room. It reports false if conn was already a member.
func (r *Rooms) Join(room string, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Connection]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[conn]; exists {
		return false
	}
	members[conn] = struct{}{}
	return true
}

// Leave removes conn from room. It reports false if conn was not a member.
func (r *Rooms) Leave(room string, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[conn]; !exists {
		return false
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	return true
}

// Members returns a snapshot of the room.
func (r *Rooms) Members(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(members))
	for conn := range members {
		out = append(out, conn)
	}
	return out
}

func (r *Rooms) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Count returns the number of non-empty rooms.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
