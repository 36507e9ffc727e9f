package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

func unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(data, v)
}

// buildLink wires one fresh media connection toward peer. Every async
// callback re-checks the registry entry's epoch before mutating, so work
// belonging to a removed or replaced link lands nowhere.
func (s *Session) buildLink(peer domain.ParticipantID, role core.LinkRole, retries int) (*PeerLink, error) {
	conn, err := s.newConn(peer)
	if err != nil {
		return nil, fmt.Errorf("new connection: %w", err)
	}
	link := newPeerLink(peer, role, conn)
	link.setRetryCount(retries)
	epoch := link.Epoch

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if !s.linkCurrent(peer, epoch) {
			return
		}
		cand := ci
		err := s.channel.EmitTo(core.EventSignal, peer, core.SignalPayload{Type: core.SignalCandidate, Candidate: &cand})
		if err != nil {
			log.Warn().Err(err).Str("module", "app.negotiate").Str("peer", string(peer)).Msg("send candidate")
		}
	})

	conn.OnTrack(func(track *webrtc.TrackRemote) {
		s.post(func() {
			if !s.linkCurrent(peer, epoch) {
				return
			}
			link.setRemoteTrack(track)
			if s.onRemoteTrack != nil {
				s.onRemoteTrack(peer, track)
			}
		})
	})

	conn.OnStateChange(func(st webrtc.PeerConnectionState) {
		if st != webrtc.PeerConnectionStateFailed {
			return
		}
		s.post(func() {
			if cur, ok := s.links.Get(peer); ok && cur.Epoch == epoch {
				s.failLink(cur, fmt.Errorf("%w: transport failed", domain.ErrNegotiationFailed))
			}
		})
	})

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if err := conn.Start(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start connection: %w", err)
	}

	// Shared tracks: attached, never duplicated.
	if at := s.media.AudioTrack(); at != nil {
		if _, err := conn.AddTrack(at); err != nil {
			conn.Close()
			return nil, fmt.Errorf("add audio track: %w", err)
		}
	}
	if vt := s.media.VideoTrack(); vt != nil {
		if _, err := conn.AddTrack(vt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("add video track: %w", err)
		}
	}
	return link, nil
}

func (s *Session) linkCurrent(peer domain.ParticipantID, epoch string) bool {
	cur, ok := s.links.Get(peer)
	return ok && cur.Epoch == epoch
}

// initiateLink creates the initiator-side link toward a newcomer and sends
// the first offer. A no-op when a link already exists, whatever path tried to
// create it.
func (s *Session) initiateLink(peer domain.ParticipantID) {
	link, created, err := s.links.Ensure(peer, func() (*PeerLink, error) {
		return s.buildLink(peer, core.RoleInitiator, 0)
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiate").Str("peer", string(peer)).Msg("create initiator link")
		s.dropPeer(peer, err)
		return
	}
	if !created {
		log.Debug().Str("module", "app.negotiate").Str("peer", string(peer)).Msg("link already present, not re-initiating")
		return
	}
	s.sendOffer(link)
}

func (s *Session) sendOffer(link *PeerLink) {
	link.setState(core.LinkOffering)
	offer, err := link.Conn().CreateAndSetOffer()
	if err != nil {
		s.failLink(link, fmt.Errorf("%w: create offer: %v", domain.ErrNegotiationFailed, err))
		return
	}
	link.setState(core.LinkAwaitingAnswer)
	if err := s.channel.EmitTo(core.EventSignal, link.ID, core.SignalPayload{Type: core.SignalOffer, SDP: offer.SDP}); err != nil {
		s.failLink(link, fmt.Errorf("%w: send offer: %v", domain.ErrNegotiationFailed, err))
		return
	}
	s.armNegotiationTimer(link)
	log.Info().Str("module", "app.negotiate").Str("peer", string(link.ID)).Msg("offer sent")
}

// handleSignal dispatches one negotiation payload from a peer.
func (s *Session) handleSignal(from domain.ParticipantID, payload []byte) {
	if s.State() != SessionActive || from == s.Self().ID {
		return
	}
	var p core.SignalPayload
	if err := unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.negotiate").Msg("bad signal payload")
		return
	}
	switch p.Type {
	case core.SignalOffer:
		s.handleOffer(from, p)
	case core.SignalAnswer:
		s.handleAnswer(from, p)
	case core.SignalCandidate:
		s.handleCandidate(from, p)
	default:
		log.Warn().Str("module", "app.negotiate").Str("type", p.Type).Msg("unknown signal type")
	}
}

func (s *Session) handleOffer(from domain.ParticipantID, p core.SignalPayload) {
	link, _, err := s.links.Ensure(from, func() (*PeerLink, error) {
		return s.buildLink(from, core.RoleResponder, 0)
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiate").Str("peer", string(from)).Msg("create responder link")
		s.dropPeer(from, err)
		return
	}

	// The membership tie-break means an initiator awaiting its answer should
	// never see a counter-offer; if one arrives anyway, dropping it keeps a
	// single negotiation in flight.
	if link.Role == core.RoleInitiator {
		if st := link.State(); st == core.LinkOffering || st == core.LinkAwaitingAnswer {
			log.Warn().Str("module", "app.negotiate").Str("peer", string(from)).Msg("glare offer dropped")
			return
		}
	}

	link.setState(core.LinkAnswering)
	answer, err := link.Conn().ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	})
	if err != nil {
		s.failLink(link, fmt.Errorf("%w: apply offer: %v", domain.ErrNegotiationFailed, err))
		return
	}
	if err := s.channel.EmitTo(core.EventSignal, from, core.SignalPayload{Type: core.SignalAnswer, SDP: answer.SDP}); err != nil {
		s.failLink(link, fmt.Errorf("%w: send answer: %v", domain.ErrNegotiationFailed, err))
		return
	}
	// Negotiation complete for this side; transport connectivity catches up
	// asynchronously.
	link.setState(core.LinkConnected)
	link.stopTimer()
	log.Info().Str("module", "app.negotiate").Str("peer", string(from)).Msg("answer sent")
}

func (s *Session) handleAnswer(from domain.ParticipantID, p core.SignalPayload) {
	link, ok := s.links.Get(from)
	if !ok {
		log.Warn().Str("module", "app.negotiate").Str("peer", string(from)).Msg("answer for unknown link")
		return
	}
	st := link.State()
	if st != core.LinkOffering && st != core.LinkAwaitingAnswer {
		log.Warn().Str("module", "app.negotiate").Str("peer", string(from)).Str("state", st.String()).Msg("unexpected answer")
		return
	}
	if err := link.Conn().ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  p.SDP,
	}); err != nil {
		s.failLink(link, fmt.Errorf("%w: apply answer: %v", domain.ErrNegotiationFailed, err))
		return
	}
	link.setState(core.LinkConnected)
	link.stopTimer()
	log.Info().Str("module", "app.negotiate").Str("peer", string(from)).Msg("negotiation connected")
}

// handleCandidate applies a remote candidate in any state. A candidate for an
// unknown peer creates the responder link: its offer is still in flight and
// the candidates must not be dropped.
func (s *Session) handleCandidate(from domain.ParticipantID, p core.SignalPayload) {
	if p.Candidate == nil {
		return
	}
	link, _, err := s.links.Ensure(from, func() (*PeerLink, error) {
		return s.buildLink(from, core.RoleResponder, 0)
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiate").Str("peer", string(from)).Msg("create link for candidate")
		return
	}
	if link.State().Terminal() {
		return
	}
	if err := link.Conn().AddICECandidate(*p.Candidate); err != nil {
		log.Error().Err(err).Str("module", "app.negotiate").Str("peer", string(from)).Msg("add candidate")
	}
}

// armNegotiationTimer fails the link if it has not reached Connected within
// the window. Guarded by epoch, so a replaced link never sees a stale fire.
func (s *Session) armNegotiationTimer(link *PeerLink) {
	if s.cfg.NegotiationTimeout <= 0 {
		return
	}
	peer := link.ID
	epoch := link.Epoch
	t := time.AfterFunc(s.cfg.NegotiationTimeout, func() {
		s.post(func() {
			cur, ok := s.links.Get(peer)
			if !ok || cur.Epoch != epoch || cur.State() == core.LinkConnected {
				return
			}
			s.failLink(cur, fmt.Errorf("%w: timeout", domain.ErrNegotiationFailed))
		})
	})
	link.setTimer(t)
}

// failLink marks the link failed and retries once with a fresh link; after
// that the peer's media is dropped without touching any other link.
func (s *Session) failLink(link *PeerLink, cause error) {
	link.setState(core.LinkFailed)
	link.stopTimer()
	peer := link.ID

	if s.State() != SessionActive || !s.participantPresent(peer) {
		s.links.Remove(peer)
		return
	}

	if link.retryCount() < s.cfg.LinkRetries {
		retries := link.retryCount() + 1
		role := link.Role
		fresh, err := s.links.Replace(peer, func() (*PeerLink, error) {
			return s.buildLink(peer, role, retries)
		})
		if err != nil {
			log.Error().Err(err).Str("module", "app.negotiate").Str("peer", string(peer)).Msg("link retry failed")
			s.dropPeer(peer, cause)
			return
		}
		log.Warn().Err(cause).Str("module", "app.negotiate").Str("peer", string(peer)).Int("retry", retries).Msg("retrying link")
		if role == core.RoleInitiator {
			s.sendOffer(fresh)
		} else {
			// Responder waits for the peer's own retry offer.
			s.armNegotiationTimer(fresh)
		}
		return
	}

	log.Error().Err(cause).Str("module", "app.negotiate").Str("peer", string(peer)).Msg("link failed, dropping peer media")
	s.dropPeer(peer, cause)
}

// dropPeer removes the link and reports the loss; the participant stays in
// the room, only their media tile is gone.
func (s *Session) dropPeer(peer domain.ParticipantID, cause error) {
	s.links.Remove(peer)
	if s.onPeerDropped != nil {
		s.onPeerDropped(peer, cause)
	}
}

// replaceVideoOnLinks swaps the outbound video source on every link. From the
// session's view this is one atomic operation; a link that cannot replace in
// place gets the track added and a renegotiation round instead.
func (s *Session) replaceVideoOnLinks(track webrtc.TrackLocal) {
	s.links.ForEach(func(link *PeerLink) {
		if link.State().Terminal() {
			return
		}
		if err := link.Conn().ReplaceVideoTrack(track); err == nil {
			return
		}
		if _, err := link.Conn().AddTrack(track); err != nil {
			log.Error().Err(err).Str("module", "app.negotiate").Str("peer", string(link.ID)).Msg("add replacement track")
			return
		}
		s.renegotiateLink(link)
	})
	log.Info().Str("module", "app.negotiate").Msg("outbound video track replaced")
}

// renegotiateLink re-enters the offer round from Connected after a mid-call
// media change that could not be satisfied by track replacement.
func (s *Session) renegotiateLink(link *PeerLink) {
	if link.State() != core.LinkConnected {
		return
	}
	log.Info().Str("module", "app.negotiate").Str("peer", string(link.ID)).Msg("renegotiating")
	s.sendOffer(link)
}
