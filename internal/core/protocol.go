package core

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/telemeet/telemeet/internal/domain"
)

// Relay wire contract. Both the client channel and the dev relay speak this;
// payloads are JSON key-value messages, no binary formats.

// Client -> relay.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSignal      = "signal"
	EventChatMessage = "chat-message"
	EventEndMeeting  = "end-meeting"
)

// Relay -> client.
const (
	EventJoined            = "joined"
	EventHostAssigned      = "host-assigned"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventMeetingEnded      = "meeting-ended"
	EventError             = "error"
)

// Envelope frames every message on the channel. From is relay-stamped on
// delivery; To is honored only on client -> relay signal routing.
type Envelope struct {
	Event   string               `json:"event"`
	From    domain.ParticipantID `json:"from,omitempty"`
	To      domain.ParticipantID `json:"to,omitempty"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "ice-candidate"
)

// SignalPayload is the opaque negotiation payload carried by EventSignal.
type SignalPayload struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type JoinRoomPayload struct {
	Room        domain.RoomID `json:"room"`
	DisplayName string        `json:"displayName"`
}

type LeaveRoomPayload struct {
	Room domain.RoomID `json:"room"`
}

// JoinedPayload acknowledges a join with the relay-assigned identity and the
// current roster. Roster members initiate toward the newcomer, so the
// newcomer records them without creating links.
type JoinedPayload struct {
	Room          domain.RoomID              `json:"room"`
	ParticipantID domain.ParticipantID       `json:"participantId"`
	Participants  []ParticipantJoinedPayload `json:"participants,omitempty"`
}

type ParticipantJoinedPayload struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	DisplayName   string               `json:"displayName"`
}

type ParticipantLeftPayload struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type ChatSendPayload struct {
	Room domain.RoomID `json:"room"`
	Text string        `json:"text"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

const ErrorCodeAuthExpired = "auth_expired"
