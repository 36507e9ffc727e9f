package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

// In-memory doubles for the three seams the session is written against: the
// relay channel, the media connection and the local media source. The fake
// relay routes events between fake channels exactly like the real one, which
// lets multi-party scenarios run without a socket.

// fakeTrack is a minimal local track double.
type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) ID() string                            { return t.id }
func (t *fakeTrack) RID() string                           { return "" }
func (t *fakeTrack) StreamID() string                      { return "fake-stream" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType             { return t.kind }

var _ webrtc.TrackLocal = (*fakeTrack)(nil)

// fakeConn mimics the one contract the session relies on: remote candidates
// arriving before a remote description are buffered and flushed exactly once.
type fakeConn struct {
	peer domain.ParticipantID

	mu         sync.Mutex
	started    bool
	closed     bool
	haveRemote bool
	pending    []webrtc.ICECandidateInit
	applied    []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	replaced   []webrtc.TrackLocal
	replaceErr error
	offerErr   error

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(*webrtc.TrackRemote)
	onState  func(webrtc.PeerConnectionState)
	onClosed func()
}

func newFakeConn(peer domain.ParticipantID) *fakeConn {
	return &fakeConn{peer: peer}
}

func (c *fakeConn) Start(context.Context) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClosed := c.onClosed
	c.mu.Unlock()
	if onClosed != nil {
		onClosed()
	}
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offerErr != nil {
		return nil, c.offerErr
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-for-" + string(c.peer)}, nil
}

func (c *fakeConn) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.absorbRemoteLocked()
	return nil
}

func (c *fakeConn) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.absorbRemoteLocked()
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-for-" + string(c.peer)}, nil
}

func (c *fakeConn) absorbRemoteLocked() {
	c.haveRemote = true
	c.applied = append(c.applied, c.pending...)
	c.pending = nil
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveRemote {
		c.pending = append(c.pending, ci)
		return nil
	}
	c.applied = append(c.applied, ci)
	return nil
}

func (c *fakeConn) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil, nil
}

func (c *fakeConn) ReplaceVideoTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaceErr != nil {
		return c.replaceErr
	}
	c.replaced = append(c.replaced, t)
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(fn func(*webrtc.TrackRemote)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *fakeConn) fireState(st webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (c *fakeConn) appliedCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.applied)
}

func (c *fakeConn) pendingCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *fakeConn) trackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

func (c *fakeConn) replacedTracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.TrackLocal, len(c.replaced))
	copy(out, c.replaced)
	return out
}

var _ core.MediaConnection = (*fakeConn)(nil)

// connBank hands out fake connections and remembers them per peer so tests
// can reach the transport behind a link.
type connBank struct {
	mu    sync.Mutex
	conns map[domain.ParticipantID][]*fakeConn
}

func newConnBank() *connBank {
	return &connBank{conns: make(map[domain.ParticipantID][]*fakeConn)}
}

func (b *connBank) factory(peer domain.ParticipantID) (core.MediaConnection, error) {
	c := newFakeConn(peer)
	b.mu.Lock()
	b.conns[peer] = append(b.conns[peer], c)
	b.mu.Unlock()
	return c, nil
}

func (b *connBank) all(peer domain.ParticipantID) []*fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*fakeConn, len(b.conns[peer]))
	copy(out, b.conns[peer])
	return out
}

func (b *connBank) latest(peer domain.ParticipantID) *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := b.conns[peer]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// fakeMedia implements the local source without devices.
type fakeMedia struct {
	mu         sync.Mutex
	acquired   bool
	released   bool
	acquireErr error
	enabled    map[core.TrackKind]bool
	sharing    bool
	audio      webrtc.TrackLocal
	camera     webrtc.TrackLocal
	screen     webrtc.TrackLocal
	onVideo    func(webrtc.TrackLocal)
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		enabled: map[core.TrackKind]bool{core.TrackKindAudio: true, core.TrackKindVideo: true},
		audio:   &fakeTrack{id: "mic", kind: webrtc.RTPCodecTypeAudio},
		camera:  &fakeTrack{id: "cam", kind: webrtc.RTPCodecTypeVideo},
		screen:  &fakeTrack{id: "screen", kind: webrtc.RTPCodecTypeVideo},
	}
}

func (m *fakeMedia) Acquire(_ context.Context, _ core.MediaConstraints) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return m.acquireErr
	}
	m.acquired = true
	m.released = false
	return nil
}

func (m *fakeMedia) SetEnabled(kind core.TrackKind, enabled bool) {
	m.mu.Lock()
	m.enabled[kind] = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) Enabled(kind core.TrackKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[kind]
}

func (m *fakeMedia) StartScreenShare(context.Context) error {
	m.mu.Lock()
	if m.sharing {
		m.mu.Unlock()
		return nil
	}
	m.sharing = true
	fn := m.onVideo
	track := m.screen
	m.mu.Unlock()
	if fn != nil {
		fn(track)
	}
	return nil
}

func (m *fakeMedia) StopScreenShare() {
	m.mu.Lock()
	if !m.sharing {
		m.mu.Unlock()
		return
	}
	m.sharing = false
	fn := m.onVideo
	track := m.camera
	m.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

func (m *fakeMedia) ScreenShareActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

func (m *fakeMedia) AudioTrack() webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio
}

func (m *fakeMedia) VideoTrack() webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sharing {
		return m.screen
	}
	return m.camera
}

func (m *fakeMedia) OnVideoTrackChanged(fn func(webrtc.TrackLocal)) {
	m.mu.Lock()
	m.onVideo = fn
	m.mu.Unlock()
}

func (m *fakeMedia) Release() {
	m.mu.Lock()
	m.acquired = false
	m.released = true
	m.mu.Unlock()
}

func (m *fakeMedia) wasReleased() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

var _ core.MediaSource = (*fakeMedia)(nil)

type signalRecord struct {
	from, to domain.ParticipantID
	typ      string
}

// fakeRelay is an in-process stand-in for the dev relay: one room, the same
// membership, host and forwarding rules, synchronous delivery.
type fakeRelay struct {
	mu          sync.Mutex
	members     map[domain.ParticipantID]*fakeChannel
	order       []domain.ParticipantID
	names       map[domain.ParticipantID]string
	host        domain.ParticipantID
	ended       bool
	chatSeq     int
	signals     []signalRecord
	dropAnswers bool
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		members: make(map[domain.ParticipantID]*fakeChannel),
		names:   make(map[domain.ParticipantID]string),
	}
}

func (r *fakeRelay) channel(id domain.ParticipantID) *fakeChannel {
	return &fakeChannel{
		relay: r,
		id:    id,
		subs:  make(map[string]map[int]core.Handler),
	}
}

func (r *fakeRelay) setDropAnswers(v bool) {
	r.mu.Lock()
	r.dropAnswers = v
	r.mu.Unlock()
}

func (r *fakeRelay) join(c *fakeChannel, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		b, _ := json.Marshal(core.ErrorPayload{Code: "meeting_ended", Message: "meeting has ended"})
		c.deliver(core.EventError, "", b)
		return
	}
	r.members[c.id] = c
	r.order = append(r.order, c.id)
	r.names[c.id] = name

	roster := make([]core.ParticipantJoinedPayload, 0, len(r.order))
	for _, id := range r.order {
		roster = append(roster, core.ParticipantJoinedPayload{ParticipantID: id, DisplayName: r.names[id]})
	}
	ack, _ := json.Marshal(core.JoinedPayload{Room: "test-room", ParticipantID: c.id, Participants: roster})
	c.deliver(core.EventJoined, "", ack)

	if r.host == "" {
		r.host = c.id
		c.deliver(core.EventHostAssigned, "", nil)
	}

	note, _ := json.Marshal(core.ParticipantJoinedPayload{ParticipantID: c.id, DisplayName: name})
	r.broadcastLocked(c.id, core.EventParticipantJoined, "", note)
}

func (r *fakeRelay) leave(c *fakeChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[c.id]; !ok {
		return
	}
	delete(r.members, c.id)
	for i, id := range r.order {
		if id == c.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	note, _ := json.Marshal(core.ParticipantLeftPayload{ParticipantID: c.id})
	r.broadcastLocked("", core.EventParticipantLeft, "", note)
}

func (r *fakeRelay) fromClient(c *fakeChannel, event string, to domain.ParticipantID, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch event {
	case core.EventSignal:
		var p core.SignalPayload
		_ = json.Unmarshal(payload, &p)
		r.signals = append(r.signals, signalRecord{from: c.id, to: to, typ: p.Type})
		if r.dropAnswers && p.Type == core.SignalAnswer {
			return
		}
		if target, ok := r.members[to]; ok {
			target.deliver(core.EventSignal, c.id, payload)
		}
	case core.EventChatMessage:
		var p core.ChatSendPayload
		_ = json.Unmarshal(payload, &p)
		r.chatSeq++
		msg, _ := json.Marshal(domain.ChatMessage{
			ID:         fmt.Sprintf("m%d", r.chatSeq),
			SenderID:   c.id,
			SenderName: r.names[c.id],
			Text:       p.Text,
			SentAt:     time.Now(),
		})
		r.broadcastLocked("", core.EventChatMessage, c.id, msg)
	case core.EventEndMeeting:
		if c.id != r.host {
			b, _ := json.Marshal(core.ErrorPayload{Code: "not_host"})
			c.deliver(core.EventError, "", b)
			return
		}
		r.ended = true
		r.broadcastLocked("", core.EventMeetingEnded, "", nil)
		r.members = make(map[domain.ParticipantID]*fakeChannel)
		r.order = nil
	}
}

// inject delivers an event to one member as if the relay produced it.
func (r *fakeRelay) inject(to, from domain.ParticipantID, event string, v any) {
	b, _ := json.Marshal(v)
	r.mu.Lock()
	target, ok := r.members[to]
	r.mu.Unlock()
	if ok {
		target.deliver(event, from, b)
	}
}

func (r *fakeRelay) broadcastLocked(except domain.ParticipantID, event string, from domain.ParticipantID, payload []byte) {
	for _, id := range r.order {
		if id == except {
			continue
		}
		r.members[id].deliver(event, from, payload)
	}
}

func (r *fakeRelay) countSignals(from, to domain.ParticipantID, typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.signals {
		if s.from == from && s.to == to && s.typ == typ {
			n++
		}
	}
	return n
}

func (r *fakeRelay) signalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func (r *fakeRelay) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// fakeChannel implements the signal channel against the fake relay.
type fakeChannel struct {
	relay *fakeRelay
	id    domain.ParticipantID

	mu         sync.Mutex
	status     core.ChannelStatus
	connectErr error
	joined     bool
	nextSub    int
	subs       map[string]map[int]core.Handler
	statusFns  []func(core.ChannelStatus)
}

func (c *fakeChannel) Connect(context.Context) error {
	c.mu.Lock()
	if c.connectErr != nil {
		err := c.connectErr
		c.status = core.ChannelErrored
		c.mu.Unlock()
		return err
	}
	c.status = core.ChannelConnected
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Status() core.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeChannel) OnStatus(fn func(core.ChannelStatus)) {
	c.mu.Lock()
	c.statusFns = append(c.statusFns, fn)
	c.mu.Unlock()
}

func (c *fakeChannel) JoinRoom(_ domain.RoomID, self core.SelfInfo) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return nil
	}
	c.joined = true
	c.mu.Unlock()
	c.relay.join(c, self.DisplayName)
	return nil
}

func (c *fakeChannel) LeaveRoom(domain.RoomID) {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}
	c.joined = false
	c.mu.Unlock()
	c.relay.leave(c)
}

func (c *fakeChannel) Emit(event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.relay.fromClient(c, event, "", b)
	return nil
}

func (c *fakeChannel) EmitTo(event string, to domain.ParticipantID, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.relay.fromClient(c, event, to, b)
	return nil
}

func (c *fakeChannel) Subscribe(event string, h core.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[event] == nil {
		c.subs[event] = make(map[int]core.Handler)
	}
	c.nextSub++
	id := c.nextSub
	c.subs[event][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[event], id)
	}
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	c.status = core.ChannelDisconnected
	c.mu.Unlock()
}

func (c *fakeChannel) deliver(event string, from domain.ParticipantID, payload []byte) {
	c.mu.Lock()
	handlers := make([]core.Handler, 0, len(c.subs[event]))
	for _, h := range c.subs[event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(from, payload)
	}
}

var _ core.SignalChannel = (*fakeChannel)(nil)
