package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/telemeet/telemeet/internal/core"
	"github.com/telemeet/telemeet/internal/domain"
)

// PeerLink is one negotiated media connection to a single remote participant.
// The epoch identifies this incarnation: async continuations compare it
// against the registry's current entry so a stale callback can never mutate a
// link that was replaced or removed.
type PeerLink struct {
	ID    domain.ParticipantID
	Role  core.LinkRole
	Epoch string

	mu      sync.RWMutex
	state   core.LinkState
	conn    core.MediaConnection
	remote  map[webrtc.RTPCodecType]*webrtc.TrackRemote
	retries int
	timer   *time.Timer
}

func newPeerLink(id domain.ParticipantID, role core.LinkRole, conn core.MediaConnection) *PeerLink {
	return &PeerLink{
		ID:     id,
		Role:   role,
		Epoch:  uuid.NewString(),
		conn:   conn,
		remote: make(map[webrtc.RTPCodecType]*webrtc.TrackRemote),
	}
}

func (l *PeerLink) State() core.LinkState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *PeerLink) setState(s core.LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *PeerLink) Conn() core.MediaConnection { return l.conn }

// RemoteTrack returns the received track of one kind, nil until it arrives.
func (l *PeerLink) RemoteTrack(kind webrtc.RTPCodecType) *webrtc.TrackRemote {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remote[kind]
}

func (l *PeerLink) setRemoteTrack(t *webrtc.TrackRemote) {
	l.mu.Lock()
	l.remote[t.Kind()] = t
	l.mu.Unlock()
}

func (l *PeerLink) retryCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.retries
}

func (l *PeerLink) setRetryCount(n int) {
	l.mu.Lock()
	l.retries = n
	l.mu.Unlock()
}

func (l *PeerLink) setTimer(t *time.Timer) {
	l.mu.Lock()
	old := l.timer
	l.timer = t
	l.mu.Unlock()
	if old != nil {
		old.Stop()
	}
}

func (l *PeerLink) stopTimer() { l.setTimer(nil) }

// close releases the transport and clears the remote stream references so no
// dangling render target remains.
func (l *PeerLink) close() {
	l.stopTimer()
	l.mu.Lock()
	if l.state != core.LinkFailed {
		l.state = core.LinkClosed
	}
	l.remote = make(map[webrtc.RTPCodecType]*webrtc.TrackRemote)
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
