package collab

import "sync"

// Room is the set of sessions currently editing one page. Delivery is
// at-most-once per member per broadcast, with no acknowledgment or retry:
// a dropped delivery only delays convergence until the next update or a
// fresh join re-runs the fingerprint exchange.
type Room struct {
	mu      sync.RWMutex
	members map[string]Session
}

func newRoom() *Room {
	return &Room{members: make(map[string]Session)}
}

func (r *Room) Join(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[s.ID()] = s
}

func (r *Room) Leave(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, sessionID)
}

func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast delivers msg to every member except the one identified by
// excludeID. The sender of an update never receives its own delta back.
func (r *Room) Broadcast(msg Message, excludeID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, s := range r.members {
		if id == excludeID {
			continue
		}
		s.Send(msg)
	}
}
