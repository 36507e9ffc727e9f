// Package app is the meeting-room core: the peer link registry, the
// negotiation protocol and the room session controller that ties the
// signaling channel and the local media source together.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

type SessionState int32

const (
	SessionNew SessionState = iota
	SessionJoining
	SessionActive
	SessionLeaving
	SessionEnded
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionJoining:
		return "joining"
	case SessionActive:
		return "active"
	case SessionLeaving:
		return "leaving"
	case SessionEnded:
		return "ended"
	}
	return "unknown"
}

// ConnFactory builds one media connection toward a remote participant.
type ConnFactory func(peer domain.ParticipantID) (core.MediaConnection, error)

type Config struct {
	Room               domain.RoomID
	DisplayName        string
	JoinTimeout        time.Duration
	NegotiationTimeout time.Duration
	// LinkRetries is how many fresh links are tried after a negotiation
	// failure before the participant's media is dropped.
	LinkRetries int
}

func (c *Config) applyDefaults() {
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 15 * time.Second
	}
	if c.LinkRetries < 0 {
		c.LinkRetries = 0
	}
}

// Session is the aggregate root of one meeting: joined room, self identity,
// participant map, peer links, local media and chat log. All relay events,
// timer fires and media callbacks are serialized onto a single event loop, so
// state transitions never interleave mid-handler.
type Session struct {
	cfg     Config
	channel core.SignalChannel
	media   core.MediaSource
	newConn ConnFactory
	links   *Registry

	mu           sync.RWMutex
	state        SessionState
	self         domain.Participant
	participants map[domain.ParticipantID]*domain.Participant
	chatLog      []domain.ChatMessage

	events   chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	unsubs   []func()
	joinedCh chan struct{}
	joinOnce sync.Once

	onRemoteTrack func(domain.ParticipantID, *webrtc.TrackRemote)
	onPeerDropped func(domain.ParticipantID, error)
	onChat        func(domain.ChatMessage)
	onEnded       func(error)
}

func NewSession(cfg Config, channel core.SignalChannel, media core.MediaSource, newConn ConnFactory) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:          cfg,
		channel:      channel,
		media:        media,
		newConn:      newConn,
		links:        NewRegistry(),
		participants: make(map[domain.ParticipantID]*domain.Participant),
		events:       make(chan func(), 64),
		joinedCh:     make(chan struct{}),
	}
}

// Observers. Set before Join; invoked from the session loop.
func (s *Session) OnRemoteTrack(fn func(domain.ParticipantID, *webrtc.TrackRemote)) {
	s.onRemoteTrack = fn
}
func (s *Session) OnPeerDropped(fn func(domain.ParticipantID, error)) { s.onPeerDropped = fn }
func (s *Session) OnChat(fn func(domain.ChatMessage))                 { s.onChat = fn }
func (s *Session) OnEnded(fn func(error))                             { s.onEnded = fn }

// Join runs the joining sequence: acquire media, connect the channel,
// announce to the room, then wait for the relay's ack. Any failure leaves the
// session out of Active and retryable; an ended session cannot rejoin.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case SessionLeaving, SessionEnded:
		s.mu.Unlock()
		return domain.ErrMeetingEnded
	case SessionJoining, SessionActive:
		s.mu.Unlock()
		return nil
	}
	s.state = SessionJoining
	s.self.DisplayName = s.cfg.DisplayName
	s.mu.Unlock()

	if err := s.media.Acquire(ctx, core.MediaConstraints{Audio: true, Video: true}); err != nil {
		s.setState(SessionNew)
		return fmt.Errorf("acquire media: %w", err)
	}

	if err := s.channel.Connect(ctx); err != nil {
		s.media.Release()
		s.setState(SessionNew)
		return fmt.Errorf("connect channel: %w", err)
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
	go s.loop()

	s.subscribeAll()
	s.media.OnVideoTrackChanged(func(track webrtc.TrackLocal) {
		s.post(func() { s.replaceVideoOnLinks(track) })
	})

	if err := s.channel.JoinRoom(s.cfg.Room, core.SelfInfo{DisplayName: s.cfg.DisplayName}); err != nil {
		s.abortJoin()
		return fmt.Errorf("join room: %w", err)
	}

	select {
	case <-s.joinedCh:
		log.Info().Str("module", "app.session").Str("room", string(s.cfg.Room)).Str("self", string(s.Self().ID)).Msg("joined room")
		return nil
	case <-time.After(s.cfg.JoinTimeout):
		s.abortJoin()
		return fmt.Errorf("join ack: %w", domain.ErrSignalingUnavailable)
	case <-ctx.Done():
		s.abortJoin()
		return ctx.Err()
	}
}

// abortJoin unwinds a partial join, leaving the session retryable.
func (s *Session) abortJoin() {
	s.channel.LeaveRoom(s.cfg.Room)
	s.unsubscribeAll()
	s.mu.Lock()
	cancel := s.cancel
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.setState(SessionNew)
}

func (s *Session) loop() {
	for {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()
		if ctx == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// post schedules fn on the session loop. Returns false once the loop is gone.
func (s *Session) post(fn func()) bool {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil {
		return false
	}
	select {
	case s.events <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) subscribeAll() {
	sub := func(event string, fn func(domain.ParticipantID, []byte)) {
		unsub := s.channel.Subscribe(event, func(from domain.ParticipantID, payload []byte) {
			s.post(func() { fn(from, payload) })
		})
		s.mu.Lock()
		s.unsubs = append(s.unsubs, unsub)
		s.mu.Unlock()
	}
	sub(core.EventJoined, s.handleJoined)
	sub(core.EventHostAssigned, s.handleHostAssigned)
	sub(core.EventParticipantJoined, s.handleParticipantJoined)
	sub(core.EventParticipantLeft, s.handleParticipantLeft)
	sub(core.EventSignal, s.handleSignal)
	sub(core.EventChatMessage, s.handleChat)
	sub(core.EventMeetingEnded, s.handleMeetingEnded)
	sub(core.EventError, s.handleRelayError)

	s.channel.OnStatus(func(st core.ChannelStatus) {
		log.Warn().Str("module", "app.session").Str("status", st.String()).Msg("channel status change")
	})
}

func (s *Session) unsubscribeAll() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Intents. The UI layer only calls these and reads snapshots; it never
// touches a connection object.

// SetAudioEnabled toggles the outbound audio mute. Negotiation-transparent:
// no link changes state.
func (s *Session) SetAudioEnabled(enabled bool) {
	s.media.SetEnabled(core.TrackKindAudio, enabled)
}

func (s *Session) SetVideoEnabled(enabled bool) {
	s.media.SetEnabled(core.TrackKindVideo, enabled)
}

func (s *Session) StartScreenShare(ctx context.Context) error {
	if s.State() != SessionActive {
		return domain.ErrNotActive
	}
	return s.media.StartScreenShare(ctx)
}

func (s *Session) StopScreenShare() {
	s.media.StopScreenShare()
}

// SendChat submits a message; the log is appended only when the relay's copy
// arrives, so the sender never sees a duplicate.
func (s *Session) SendChat(text string) error {
	if len(text) == 0 {
		return domain.ErrChatTextEmpty
	}
	if len(text) > domain.MaxChatTextLen {
		return domain.ErrChatTextTooLong
	}
	if s.State() != SessionActive {
		return domain.ErrNotActive
	}
	if s.channel.Status() != core.ChannelConnected {
		return domain.ErrSignalingUnavailable
	}
	return s.channel.Emit(core.EventChatMessage, core.ChatSendPayload{Room: s.cfg.Room, Text: text})
}

// Leave is the self-initiated exit: notify the relay, destroy every link,
// release local media. Terminal.
func (s *Session) Leave() {
	done := make(chan struct{})
	if !s.post(func() {
		s.teardown(nil, true)
		close(done)
	}) {
		s.teardown(nil, true)
		return
	}
	<-done
}

// EndMeeting asks the relay to end the meeting for everyone. Host only; the
// relay enforces it too, this is just the client-side gate.
func (s *Session) EndMeeting() error {
	if !s.Self().IsHost {
		return domain.ErrNotHost
	}
	if s.State() != SessionActive {
		return domain.ErrNotActive
	}
	return s.channel.Emit(core.EventEndMeeting, core.LeaveRoomPayload{Room: s.cfg.Room})
}

// teardown cascades the exit. Safe to call from any state, idempotent.
func (s *Session) teardown(reason error, announce bool) {
	s.mu.Lock()
	if s.state == SessionEnded {
		s.mu.Unlock()
		return
	}
	s.state = SessionLeaving
	cancel := s.cancel
	onEnded := s.onEnded
	s.mu.Unlock()

	if announce {
		s.channel.LeaveRoom(s.cfg.Room)
	}
	s.links.Clear()
	s.media.Release()
	s.unsubscribeAll()

	s.mu.Lock()
	s.state = SessionEnded
	s.participants = make(map[domain.ParticipantID]*domain.Participant)
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	log.Info().Str("module", "app.session").Str("room", string(s.cfg.Room)).Err(reason).Msg("session ended")
	if onEnded != nil {
		onEnded(reason)
	}
}

// Relay event handlers. All run on the session loop.

func (s *Session) handleJoined(_ domain.ParticipantID, payload []byte) {
	var p core.JoinedPayload
	if err := unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("bad joined payload")
		return
	}
	s.mu.Lock()
	if s.state != SessionJoining {
		s.mu.Unlock()
		return
	}
	s.self.ID = p.ParticipantID
	s.state = SessionActive
	for _, rp := range p.Participants {
		if rp.ParticipantID == p.ParticipantID {
			continue
		}
		s.participants[rp.ParticipantID] = &domain.Participant{ID: rp.ParticipantID, DisplayName: rp.DisplayName}
	}
	s.mu.Unlock()

	// Present members will offer toward us; we answer. Creating links here
	// would make both sides initiators for the same pairing.
	s.joinOnce.Do(func() { close(s.joinedCh) })
}

// handleHostAssigned marks self as host. Relay-assigned once, immutable for
// the session; never inferred locally.
func (s *Session) handleHostAssigned(_ domain.ParticipantID, _ []byte) {
	s.mu.Lock()
	s.self.IsHost = true
	s.mu.Unlock()
	log.Info().Str("module", "app.session").Msg("assigned as host")
}

func (s *Session) handleParticipantJoined(_ domain.ParticipantID, payload []byte) {
	var p core.ParticipantJoinedPayload
	if err := unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("bad participant-joined payload")
		return
	}
	s.mu.Lock()
	if s.state != SessionActive || p.ParticipantID == s.self.ID {
		s.mu.Unlock()
		return
	}
	s.participants[p.ParticipantID] = &domain.Participant{ID: p.ParticipantID, DisplayName: p.DisplayName}
	s.mu.Unlock()

	log.Info().Str("module", "app.session").Str("participant", string(p.ParticipantID)).Msg("participant joined")
	// We observed the newcomer, so we are the initiator toward them.
	s.initiateLink(p.ParticipantID)
}

func (s *Session) handleParticipantLeft(_ domain.ParticipantID, payload []byte) {
	var p core.ParticipantLeftPayload
	if err := unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("bad participant-left payload")
		return
	}
	s.mu.Lock()
	delete(s.participants, p.ParticipantID)
	s.mu.Unlock()

	// Cancels any in-flight negotiation: the link closes now and its epoch
	// dies with it, so stale continuations find no current entry.
	s.links.Remove(p.ParticipantID)
	log.Info().Str("module", "app.session").Str("participant", string(p.ParticipantID)).Msg("participant left")
}

func (s *Session) handleChat(_ domain.ParticipantID, payload []byte) {
	var msg domain.ChatMessage
	if err := unmarshal(payload, &msg); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("bad chat payload")
		return
	}
	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		return
	}
	// Arrival order is log order; the relay's forwarding order is the one
	// source of truth, including for our own messages.
	s.chatLog = append(s.chatLog, msg)
	onChat := s.onChat
	s.mu.Unlock()
	if onChat != nil {
		onChat(msg)
	}
}

func (s *Session) handleMeetingEnded(_ domain.ParticipantID, _ []byte) {
	log.Info().Str("module", "app.session").Str("room", string(s.cfg.Room)).Msg("meeting ended by host")
	s.teardown(domain.ErrMeetingEnded, false)
}

func (s *Session) handleRelayError(_ domain.ParticipantID, payload []byte) {
	var p core.ErrorPayload
	if err := unmarshal(payload, &p); err != nil {
		return
	}
	if p.Code == core.ErrorCodeAuthExpired {
		log.Error().Str("module", "app.session").Msg("auth expired, re-authentication required")
		s.teardown(domain.ErrAuthExpired, false)
		return
	}
	log.Warn().Str("module", "app.session").Str("code", p.Code).Str("msg", p.Message).Msg("relay error")
}

// Snapshots.

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) Self() domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

func (s *Session) Participants() []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out
}

func (s *Session) participantPresent(id domain.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.participants[id]
	return ok
}

func (s *Session) ChatLog() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatMessage, len(s.chatLog))
	copy(out, s.chatLog)
	return out
}

// Links exposes the registry for read-side consumers (rendering, tests).
func (s *Session) Links() *Registry { return s.links }
