package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is the seam over one peer-to-peer transport connection.
// All negotiation ordering rules live above it; it only guarantees that
// candidates arriving before a remote description are buffered, not dropped.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	Close()
	IsClosed() bool

	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// AddICECandidate applies a remote candidate, buffering it until a remote
	// description exists.
	AddICECandidate(webrtc.ICECandidateInit) error

	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	// ReplaceVideoTrack swaps the outbound video source without renegotiation.
	ReplaceVideoTrack(webrtc.TrackLocal) error

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(*webrtc.TrackRemote))
	// OnStateChange observes transport-level state. Observability only; the
	// negotiation state machine does not key off it except for failure.
	OnStateChange(func(webrtc.PeerConnectionState))
	// OnClosed sets a callback for cleanup after the transport dies.
	OnClosed(func())
}

// TrackKind mirrors the two capture kinds the source owns.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// MediaConstraints selects which kinds Acquire opens.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaSource owns the local capture state: one camera+mic acquisition and an
// optional screen-capture substitute for the video track.
type MediaSource interface {
	// Acquire is idempotent: a second call while acquired returns nil without
	// re-opening devices.
	Acquire(ctx context.Context, c MediaConstraints) error
	// SetEnabled toggles emission for one kind. A muting signal only; no
	// downstream peer observes a renegotiation.
	SetEnabled(kind TrackKind, enabled bool)
	Enabled(kind TrackKind) bool

	StartScreenShare(ctx context.Context) error
	StopScreenShare()
	ScreenShareActive() bool

	AudioTrack() webrtc.TrackLocal
	// VideoTrack returns the current outbound video source: camera, or screen
	// while sharing.
	VideoTrack() webrtc.TrackLocal
	// OnVideoTrackChanged fires when the outbound video source is swapped
	// (camera <-> screen) so owners can replace it on every connection.
	OnVideoTrackChanged(func(webrtc.TrackLocal))

	// Release stops every track. Idempotent.
	Release()
}
