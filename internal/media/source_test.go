package media

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

type stubTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t *stubTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *stubTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *stubTrack) ID() string                            { return t.id }
func (t *stubTrack) RID() string                           { return "" }
func (t *stubTrack) StreamID() string                      { return "stub" }
func (t *stubTrack) Kind() webrtc.RTPCodecType             { return t.kind }

type stubDevice struct {
	mu      sync.Mutex
	track   *stubTrack
	enabled bool
	stopped bool
}

func (d *stubDevice) Track() webrtc.TrackLocal { return d.track }

func (d *stubDevice) SetEnabled(v bool) {
	d.mu.Lock()
	d.enabled = v
	d.mu.Unlock()
}

func (d *stubDevice) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

func (d *stubDevice) isEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *stubDevice) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

type stubOpener struct {
	mu        sync.Mutex
	micOpens  int
	camOpens  int
	mic       *stubDevice
	camera    *stubDevice
	screen    *stubDevice
	micErr    error
	camErr    error
	screenErr error
}

func newStubOpener() *stubOpener {
	return &stubOpener{
		mic:    &stubDevice{track: &stubTrack{id: "mic", kind: webrtc.RTPCodecTypeAudio}},
		camera: &stubDevice{track: &stubTrack{id: "cam", kind: webrtc.RTPCodecTypeVideo}},
		screen: &stubDevice{track: &stubTrack{id: "screen", kind: webrtc.RTPCodecTypeVideo}},
	}
}

func (o *stubOpener) OpenMicrophone(context.Context) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.micOpens++
	if o.micErr != nil {
		return nil, o.micErr
	}
	return o.mic, nil
}

func (o *stubOpener) OpenCamera(context.Context) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.camOpens++
	if o.camErr != nil {
		return nil, o.camErr
	}
	return o.camera, nil
}

func (o *stubOpener) OpenScreen(context.Context) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.screenErr != nil {
		return nil, o.screenErr
	}
	return o.screen, nil
}

func TestAcquireIsIdempotent(t *testing.T) {
	o := newStubOpener()
	s := NewSource(o)

	require.NoError(t, s.Acquire(context.Background(), core.MediaConstraints{Audio: true, Video: true}))
	require.NoError(t, s.Acquire(context.Background(), core.MediaConstraints{Audio: true, Video: true}))

	// One permission prompt, one device set.
	require.Equal(t, 1, o.micOpens)
	require.Equal(t, 1, o.camOpens)
	require.Equal(t, "mic", s.AudioTrack().ID())
	require.Equal(t, "cam", s.VideoTrack().ID())
}

func TestAcquireDeniedCleansUpPartialOpen(t *testing.T) {
	o := newStubOpener()
	o.camErr = domain.ErrMediaAccessDenied
	s := NewSource(o)

	err := s.Acquire(context.Background(), core.MediaConstraints{Audio: true, Video: true})
	require.ErrorIs(t, err, domain.ErrMediaAccessDenied)

	// The already-open microphone must not keep capturing.
	require.True(t, o.mic.isStopped())
	require.Nil(t, s.AudioTrack())
}

func TestSetEnabledGatesEmissionOnly(t *testing.T) {
	o := newStubOpener()
	s := NewSource(o)
	require.NoError(t, s.Acquire(context.Background(), core.MediaConstraints{Audio: true, Video: true}))

	s.SetEnabled(core.TrackKindAudio, false)
	require.False(t, s.Enabled(core.TrackKindAudio))
	require.False(t, o.mic.isEnabled())

	// The track object stays the same; only emission is gated.
	require.Equal(t, "mic", s.AudioTrack().ID())

	s.SetEnabled(core.TrackKindAudio, true)
	require.True(t, o.mic.isEnabled())
}

func TestScreenShareSubstitutesVideoSource(t *testing.T) {
	o := newStubOpener()
	s := NewSource(o)
	require.NoError(t, s.Acquire(context.Background(), core.MediaConstraints{Audio: true, Video: true}))

	var swapped []string
	s.OnVideoTrackChanged(func(track webrtc.TrackLocal) {
		swapped = append(swapped, track.ID())
	})

	require.NoError(t, s.StartScreenShare(context.Background()))
	require.NoError(t, s.StartScreenShare(context.Background()))
	require.True(t, s.ScreenShareActive())
	require.Equal(t, "screen", s.VideoTrack().ID())
	require.False(t, o.camera.isEnabled())
	require.Equal(t, []string{"screen"}, swapped)

	// A video toggle while sharing gates the screen, not the parked camera.
	s.SetEnabled(core.TrackKindVideo, false)
	require.False(t, o.screen.isEnabled())

	s.SetEnabled(core.TrackKindVideo, true)
	s.StopScreenShare()
	require.False(t, s.ScreenShareActive())
	require.Equal(t, "cam", s.VideoTrack().ID())
	require.True(t, o.camera.isEnabled())
	require.True(t, o.screen.isStopped())
	require.Equal(t, []string{"screen", "cam"}, swapped)
}

func TestScreenShareDenied(t *testing.T) {
	o := newStubOpener()
	o.screenErr = domain.ErrScreenShareDenied
	s := NewSource(o)
	require.NoError(t, s.Acquire(context.Background(), core.MediaConstraints{Audio: true, Video: true}))

	err := s.StartScreenShare(context.Background())
	require.ErrorIs(t, err, domain.ErrScreenShareDenied)
	require.False(t, s.ScreenShareActive())
	require.Equal(t, "cam", s.VideoTrack().ID())
}

func TestScreenShareRequiresAcquiredMedia(t *testing.T) {
	s := NewSource(newStubOpener())
	require.ErrorIs(t, s.StartScreenShare(context.Background()), domain.ErrMediaUnavailable)
}

func TestReleaseStopsEverythingOnce(t *testing.T) {
	o := newStubOpener()
	s := NewSource(o)
	require.NoError(t, s.Acquire(context.Background(), core.MediaConstraints{Audio: true, Video: true}))
	require.NoError(t, s.StartScreenShare(context.Background()))

	s.Release()
	s.Release()

	require.True(t, o.mic.isStopped())
	require.True(t, o.camera.isStopped())
	require.True(t, o.screen.isStopped())
	require.Nil(t, s.AudioTrack())
	require.Nil(t, s.VideoTrack())

	// Releasing resets acquisition, so a later acquire opens fresh devices.
	require.NoError(t, s.Acquire(context.Background(), core.MediaConstraints{Audio: true, Video: true}))
	require.Equal(t, 2, o.micOpens)
}
