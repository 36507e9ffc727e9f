package domain

import "errors"

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrChatTextEmpty      = errors.New("chat text empty")
	ErrChatTextTooLong    = errors.New("chat text too long")

	// Local media failures. Recoverable by retry or permission grant; never
	// tear down an active session on their own.
	ErrMediaAccessDenied = errors.New("media access denied")
	ErrMediaUnavailable  = errors.New("media unavailable")
	ErrScreenShareDenied = errors.New("screen share denied")

	// Channel and negotiation failures.
	ErrSignalingUnavailable = errors.New("signaling unavailable")
	ErrNegotiationFailed    = errors.New("negotiation failed")
	ErrAuthExpired          = errors.New("auth token expired")

	// Session lifecycle.
	ErrMeetingEnded = errors.New("meeting ended")
	ErrNotHost      = errors.New("not the host")
	ErrNotActive    = errors.New("session not active")
)
