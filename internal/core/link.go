package core

// LinkState is the negotiation state of one peer link. Connected means
// "negotiation complete"; transport-level connectivity is observed
// asynchronously and does not drive this machine except through failure.
type LinkState int32

const (
	LinkNew LinkState = iota
	LinkOffering
	LinkAwaitingAnswer
	LinkAnswering
	LinkConnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkOffering:
		return "offering"
	case LinkAwaitingAnswer:
		return "awaiting_answer"
	case LinkAnswering:
		return "answering"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether no further negotiation can happen on the link.
func (s LinkState) Terminal() bool { return s == LinkFailed || s == LinkClosed }

// LinkRole records which side of the pairing this client is. The participant
// already in the room when the other joins is the initiator; the newcomer only
// ever answers. One global rule, so two peers can never both offer.
type LinkRole int32

const (
	RoleInitiator LinkRole = iota
	RoleResponder
)

func (r LinkRole) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}
