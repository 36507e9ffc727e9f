package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

// Hub owns every room and dispatches client events. Signal payloads are
// routed point-to-point and never inspected; membership and chat are fanned
// out per room.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*room
	limiter *JoinRateLimiter
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[domain.RoomID]*room),
		limiter: NewJoinRateLimiter(10, time.Minute),
	}
}

func (h *Hub) getOrCreateRoom(id domain.RoomID) *room {
	h.mu.RLock()
	r, ok := h.rooms[id]
	h.mu.RUnlock()
	if ok {
		return r
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok = h.rooms[id]; !ok {
		r = newRoom(id)
		h.rooms[id] = r
		log.Info().Str("module", "relay").Str("room", string(id)).Msg("room created")
	}
	return r
}

func (h *Hub) getRoom(id domain.RoomID) (*room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[id]
	return r, ok
}

func (h *Hub) dropRoomIfEmpty(r *room) {
	if r.memberCount() > 0 || r.isEnded() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.memberCount() == 0 {
		delete(h.rooms, r.id)
		log.Info().Str("module", "relay").Str("room", string(r.id)).Msg("room dropped")
	}
}

func (h *Hub) handle(c *Client, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad envelope")
		c.sendError("bad_payload", "malformed envelope")
		return
	}
	switch env.Event {
	case core.EventJoinRoom:
		h.handleJoin(c, env.Payload)
	case core.EventLeaveRoom:
		h.handleLeave(c)
	case core.EventSignal:
		h.handleSignal(c, env)
	case core.EventChatMessage:
		h.handleChat(c, env.Payload)
	case core.EventEndMeeting:
		h.handleEndMeeting(c)
	default:
		log.Warn().Str("module", "relay").Str("event", env.Event).Msg("unknown event")
	}
}

func (h *Hub) handleJoin(c *Client, payload []byte) {
	var p core.JoinRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Room == "" {
		c.sendError("bad_payload", "malformed join-room")
		return
	}
	if len(p.Room) > domain.MaxRoomIDLen {
		c.sendError("bad_payload", "room id too long")
		return
	}
	if !h.limiter.Allow(c.id) {
		c.sendError("rate_limited", "too many join attempts")
		return
	}

	r := h.getOrCreateRoom(p.Room)
	if r.isEnded() {
		c.sendError("meeting_ended", "this meeting was ended by the host")
		return
	}

	if prev := c.currentRoom(); prev != "" && prev != p.Room {
		h.handleLeave(c)
	}

	c.setName(p.DisplayName)
	isHost, already := r.add(c)
	c.setRoom(p.Room)

	if already {
		// Idempotent join: ack again, no duplicate membership, no re-announce.
		c.sendEvent(core.EventJoined, "", core.JoinedPayload{
			Room: r.id, ParticipantID: c.id, Participants: r.snapshot(),
		})
		return
	}

	log.Info().Str("module", "relay").Str("room", string(r.id)).Str("participant", string(c.id)).Bool("host", isHost).Msg("join")

	c.sendEvent(core.EventJoined, "", core.JoinedPayload{
		Room: r.id, ParticipantID: c.id, Participants: r.snapshot(),
	})
	if isHost {
		c.sendEvent(core.EventHostAssigned, "", nil)
	}
	r.broadcast(c.id, core.EventParticipantJoined, c.id, core.ParticipantJoinedPayload{
		ParticipantID: c.id, DisplayName: c.name(),
	})
}

func (h *Hub) handleLeave(c *Client) {
	roomID := c.currentRoom()
	if roomID == "" {
		return
	}
	r, ok := h.getRoom(roomID)
	if !ok {
		c.setRoom("")
		return
	}
	if r.remove(c.id) {
		r.broadcast(c.id, core.EventParticipantLeft, c.id, core.ParticipantLeftPayload{ParticipantID: c.id})
		log.Info().Str("module", "relay").Str("room", string(roomID)).Str("participant", string(c.id)).Msg("leave")
	}
	c.setRoom("")
	h.dropRoomIfEmpty(r)
}

// handleSignal forwards one negotiation payload to its addressee, stamping
// the sender. Order is preserved per sender-receiver pair by the single
// websocket write path.
func (h *Hub) handleSignal(c *Client, env core.Envelope) {
	roomID := c.currentRoom()
	if roomID == "" || env.To == "" {
		return
	}
	r, ok := h.getRoom(roomID)
	if !ok {
		return
	}
	target, ok := r.get(env.To)
	if !ok {
		log.Debug().Str("module", "relay").Str("to", string(env.To)).Msg("signal target gone")
		return
	}
	out := core.Envelope{Event: core.EventSignal, From: c.id, Payload: env.Payload}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := target.trySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("to", string(env.To)).Msg("signal dropped")
	}
}

// handleChat stamps the message and fans it out to everyone including the
// sender; clients render only this copy, so ordering is relay-defined.
func (h *Hub) handleChat(c *Client, payload []byte) {
	var p core.ChatSendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("bad_payload", "malformed chat-message")
		return
	}
	if p.Text == "" || len(p.Text) > domain.MaxChatTextLen {
		c.sendError("bad_payload", "invalid chat text")
		return
	}
	roomID := c.currentRoom()
	if roomID == "" {
		return
	}
	r, ok := h.getRoom(roomID)
	if !ok {
		return
	}
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   c.id,
		SenderName: c.name(),
		Text:       p.Text,
		SentAt:     time.Now().UTC(),
	}
	r.broadcast("", core.EventChatMessage, c.id, msg)
}

// handleEndMeeting ends the room for everyone. Only the host may do it; the
// room stays marked ended so nobody can rejoin the same instance.
func (h *Hub) handleEndMeeting(c *Client) {
	roomID := c.currentRoom()
	if roomID == "" {
		return
	}
	r, ok := h.getRoom(roomID)
	if !ok {
		return
	}
	if r.hostID() != c.id {
		c.sendError("not_host", "only the host can end the meeting")
		return
	}
	r.markEnded()
	r.broadcast("", core.EventMeetingEnded, c.id, nil)
	log.Info().Str("module", "relay").Str("room", string(roomID)).Msg("meeting ended by host")

	r.mu.Lock()
	members := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	r.members = make(map[domain.ParticipantID]*Client)
	r.mu.Unlock()
	for _, m := range members {
		m.setRoom("")
	}
}

// dropClient handles an abrupt disconnect: same cascade as an explicit leave.
func (h *Hub) dropClient(c *Client) {
	h.handleLeave(c)
}
