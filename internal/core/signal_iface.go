// Package core holds the interfaces the session controller is written
// against. Adapters own the concrete transports and must Close() them.
package core

import (
	"context"

	"github.com/telemeet/telemeet/internal/domain"
)

type ChannelStatus int32

const (
	ChannelConnecting ChannelStatus = iota
	ChannelConnected
	ChannelDisconnected
	ChannelErrored
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelConnected:
		return "connected"
	case ChannelDisconnected:
		return "disconnected"
	case ChannelErrored:
		return "error"
	}
	return "unknown"
}

// SelfInfo is what a client announces about itself on join.
type SelfInfo struct {
	DisplayName string `json:"displayName"`
}

// Handler receives the sender id (empty for relay-originated events) and the
// raw payload of one event.
type Handler func(from domain.ParticipantID, payload []byte)

// SignalChannel is a persistent bidirectional connection to the relay.
// Delivery is best-effort; Emit never waits for an acknowledgement.
type SignalChannel interface {
	// Connect dials the relay and keeps the connection alive with bounded
	// backoff until Close or the retry cap is exhausted.
	Connect(ctx context.Context) error
	Status() ChannelStatus
	// OnStatus registers an observer for status transitions.
	OnStatus(func(ChannelStatus))

	// JoinRoom is idempotent per room: repeated calls before LeaveRoom do not
	// create duplicate membership.
	JoinRoom(room domain.RoomID, self SelfInfo) error
	LeaveRoom(room domain.RoomID)

	Emit(event string, v any) error
	// EmitTo addresses a payload to a single participant.
	EmitTo(event string, to domain.ParticipantID, v any) error
	// Subscribe registers a handler and returns its unsubscribe func.
	Subscribe(event string, h Handler) func()

	Close()
}
