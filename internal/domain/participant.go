// Package domain contains entity without logic, just meta-data
package domain

const MaxDisplayNameLen = 36

// ParticipantID is assigned by the signaling relay for the duration of one
// room session. Opaque to the client.
type ParticipantID string

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName"`
	IsHost      bool          `json:"isHost"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, displayName string) (*Participant, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{ID: id, DisplayName: displayName}, nil
}
