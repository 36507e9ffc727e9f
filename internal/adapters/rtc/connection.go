package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

// WebRTCConnection wraps one *webrtc.PeerConnection toward a single remote
// participant. Candidates are trickled: locally gathered ones are forwarded as
// they appear, remote ones are buffered until a remote description exists.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	peer   domain.ParticipantID
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  []webrtc.ICECandidateInit
	haveDesc bool
	closed   bool

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(*webrtc.TrackRemote)
	onState  func(webrtc.PeerConnectionState)
	onClosed func()
}

func DefaultWebRTCConfig(iceURLs []string) webrtc.Configuration {
	if len(iceURLs) == 0 {
		iceURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceURLs},
		},
	}
}

func NewWebRTCConnection(cfg webrtc.Configuration, peer domain.ParticipantID) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, peer: peer}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	_ = ctx

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("peer state")
		c.mu.Lock()
		onState := c.onState
		onClosed := c.onClosed
		c.mu.Unlock()
		if onState != nil {
			onState(s)
		}
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			cancel()
			if onClosed != nil {
				onClosed()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		onICE := c.onICE
		c.mu.Unlock()
		if onICE != nil {
			onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track received")
		c.mu.Lock()
		onTrack := c.onTrack
		c.mu.Unlock()
		if onTrack != nil {
			onTrack(track)
		}
	})

	return nil
}

func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.flushPending()
	return nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	c.flushPending()
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

// AddICECandidate applies a remote candidate. Candidates arriving before the
// remote description are held and flushed exactly once when it is set.
func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.haveDesc {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		log.Debug().Str("module", "rtc").Str("peer", string(c.peer)).Msg("buffered early candidate")
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) flushPending() {
	c.mu.Lock()
	c.haveDesc = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("flush buffered candidate")
		}
	}
}

func (c *WebRTCConnection) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return c.pc.AddTrack(track)
}

// ReplaceVideoTrack swaps the outbound video source on the existing sender.
// The connection stays up; the remote side observes no renegotiation.
func (c *WebRTCConnection) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	for _, sender := range c.pc.GetSenders() {
		cur := sender.Track()
		if cur == nil || cur.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		return sender.ReplaceTrack(track)
	}
	return domain.ErrMediaUnavailable
}

func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Msg("closed")
	}
}

func (c *WebRTCConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnTrack(fn func(*webrtc.TrackRemote)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

var _ core.MediaConnection = (*WebRTCConnection)(nil)
