package relay

import (
	"sync"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

// room holds the membership of one meeting. The first joiner becomes host;
// the designation never moves for the lifetime of the room.
type room struct {
	id domain.RoomID

	mu      sync.RWMutex
	members map[domain.ParticipantID]*Client
	host    domain.ParticipantID
	ended   bool
}

func newRoom(id domain.RoomID) *room {
	return &room{id: id, members: make(map[domain.ParticipantID]*Client)}
}

// add inserts c and reports whether it is the first member (host) and
// whether it was already present.
func (r *room) add(c *Client) (isHost, already bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[c.id]; ok {
		return r.host == c.id, true
	}
	r.members[c.id] = c
	if len(r.members) == 1 {
		r.host = c.id
	}
	return r.host == c.id, false
}

func (r *room) remove(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

func (r *room) get(id domain.ParticipantID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.members[id]
	return c, ok
}

func (r *room) hostID() domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host
}

func (r *room) isEnded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ended
}

func (r *room) markEnded() {
	r.mu.Lock()
	r.ended = true
	r.mu.Unlock()
}

func (r *room) memberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// snapshot lists the current members for the join ack roster.
func (r *room) snapshot() []core.ParticipantJoinedPayload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ParticipantJoinedPayload, 0, len(r.members))
	for id, c := range r.members {
		out = append(out, core.ParticipantJoinedPayload{ParticipantID: id, DisplayName: c.name()})
	}
	return out
}

// broadcast sends to every member except the excluded id (empty excludes
// nobody).
func (r *room) broadcast(except domain.ParticipantID, event string, from domain.ParticipantID, v any) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.members))
	for id, c := range r.members {
		if id == except {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.sendEvent(event, from, v)
	}
}
