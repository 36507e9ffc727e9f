// Package media owns the local capture state: one camera+microphone
// acquisition shared by every peer connection, and an optional screen-capture
// substitute for the video track.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Device is one capture handle feeding a local track. SetEnabled gates sample
// emission only; the track object itself never changes, so muting is invisible
// to negotiation.
type Device interface {
	Track() webrtc.TrackLocal
	SetEnabled(bool)
	Stop()
}

// DeviceOpener abstracts the platform capture stack. Opening may fail with
// domain.ErrMediaAccessDenied, domain.ErrMediaUnavailable or
// domain.ErrScreenShareDenied.
type DeviceOpener interface {
	OpenMicrophone(ctx context.Context) (Device, error)
	OpenCamera(ctx context.Context) (Device, error)
	OpenScreen(ctx context.Context) (Device, error)
}
