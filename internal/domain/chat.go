package domain

import "time"

const MaxChatTextLen = 2000

// ChatMessage is append-only once stamped by the relay; never mutated.
type ChatMessage struct {
	ID         string        `json:"id"`
	SenderID   ParticipantID `json:"senderId"`
	SenderName string        `json:"senderName"`
	Text       string        `json:"text"`
	SentAt     time.Time     `json:"sentAt"`
}
