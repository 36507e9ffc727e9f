package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

// Source implements core.MediaSource over a DeviceOpener. One instance per
// session; every peer link attaches the same tracks, never copies.
type Source struct {
	opener DeviceOpener

	mu           sync.Mutex
	mic          Device
	camera       Device
	screen       Device
	acquired     bool
	audioEnabled bool
	videoEnabled bool
	onVideo      func(webrtc.TrackLocal)
}

func NewSource(opener DeviceOpener) *Source {
	return &Source{opener: opener, audioEnabled: true, videoEnabled: true}
}

// Acquire opens the requested devices. Idempotent: while acquired it returns
// nil without re-opening (no second permission prompt).
func (s *Source) Acquire(ctx context.Context, c core.MediaConstraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return nil
	}

	var mic, cam Device
	var err error
	if c.Audio {
		if mic, err = s.opener.OpenMicrophone(ctx); err != nil {
			return fmt.Errorf("open microphone: %w", err)
		}
	}
	if c.Video {
		if cam, err = s.opener.OpenCamera(ctx); err != nil {
			if mic != nil {
				mic.Stop()
			}
			return fmt.Errorf("open camera: %w", err)
		}
	}

	s.mic = mic
	s.camera = cam
	s.acquired = true
	if s.mic != nil {
		s.mic.SetEnabled(s.audioEnabled)
	}
	if s.camera != nil {
		s.camera.SetEnabled(s.videoEnabled)
	}
	log.Info().Str("module", "media").Bool("audio", c.Audio).Bool("video", c.Video).Msg("local media acquired")
	return nil
}

// SetEnabled toggles emission for one kind on whichever device currently
// backs it. Pure muting signal; no peer link is touched.
func (s *Source) SetEnabled(kind core.TrackKind, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case core.TrackKindAudio:
		s.audioEnabled = enabled
		if s.mic != nil {
			s.mic.SetEnabled(enabled)
		}
	case core.TrackKindVideo:
		s.videoEnabled = enabled
		if s.screen != nil {
			s.screen.SetEnabled(enabled)
		} else if s.camera != nil {
			s.camera.SetEnabled(enabled)
		}
	}
	log.Info().Str("module", "media").Str("kind", string(kind)).Bool("enabled", enabled).Msg("track toggled")
}

func (s *Source) Enabled(kind core.TrackKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == core.TrackKindAudio {
		return s.audioEnabled
	}
	return s.videoEnabled
}

// StartScreenShare substitutes the outbound video source with a screen
// capture. Existing links keep their connection; the owner replaces the track
// through OnVideoTrackChanged.
func (s *Source) StartScreenShare(ctx context.Context) error {
	s.mu.Lock()
	if !s.acquired {
		s.mu.Unlock()
		return domain.ErrMediaUnavailable
	}
	if s.screen != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	screen, err := s.opener.OpenScreen(ctx)
	if err != nil {
		return fmt.Errorf("open screen: %w", err)
	}

	s.mu.Lock()
	s.screen = screen
	s.screen.SetEnabled(s.videoEnabled)
	if s.camera != nil {
		s.camera.SetEnabled(false)
	}
	onVideo := s.onVideo
	track := screen.Track()
	s.mu.Unlock()

	log.Info().Str("module", "media").Msg("screen share started")
	if onVideo != nil {
		onVideo(track)
	}
	return nil
}

// StopScreenShare reverts the outbound video source to the camera.
func (s *Source) StopScreenShare() {
	s.mu.Lock()
	if s.screen == nil {
		s.mu.Unlock()
		return
	}
	s.screen.Stop()
	s.screen = nil
	var track webrtc.TrackLocal
	if s.camera != nil {
		s.camera.SetEnabled(s.videoEnabled)
		track = s.camera.Track()
	}
	onVideo := s.onVideo
	s.mu.Unlock()

	log.Info().Str("module", "media").Msg("screen share stopped")
	if onVideo != nil && track != nil {
		onVideo(track)
	}
}

func (s *Source) ScreenShareActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen != nil
}

func (s *Source) AudioTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mic == nil {
		return nil
	}
	return s.mic.Track()
}

func (s *Source) VideoTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screen != nil {
		return s.screen.Track()
	}
	if s.camera == nil {
		return nil
	}
	return s.camera.Track()
}

func (s *Source) OnVideoTrackChanged(fn func(webrtc.TrackLocal)) {
	s.mu.Lock()
	s.onVideo = fn
	s.mu.Unlock()
}

// Release stops every device. Idempotent.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired {
		return
	}
	for _, d := range []Device{s.mic, s.camera, s.screen} {
		if d != nil {
			d.Stop()
		}
	}
	s.mic, s.camera, s.screen = nil, nil, nil
	s.acquired = false
	log.Info().Str("module", "media").Msg("local media released")
}

var _ core.MediaSource = (*Source)(nil)
