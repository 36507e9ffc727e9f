package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/telemeet/telemeet/internal/domain"
)

// Registry owns the set of peer links, exactly one per remote participant.
// Uniqueness of the key is enforced here: Ensure never creates a second link
// for an id that already has one, no matter how many join paths fire.
type Registry struct {
	mu    sync.RWMutex
	links map[domain.ParticipantID]*PeerLink
}

func NewRegistry() *Registry {
	return &Registry{links: make(map[domain.ParticipantID]*PeerLink)}
}

// Ensure returns the existing link for id, or invokes create and stores the
// result. The bool reports whether a new link was created.
func (r *Registry) Ensure(id domain.ParticipantID, create func() (*PeerLink, error)) (*PeerLink, bool, error) {
	r.mu.RLock()
	link, ok := r.links[id]
	r.mu.RUnlock()
	if ok {
		return link, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if link, ok = r.links[id]; ok {
		return link, false, nil
	}
	link, err := create()
	if err != nil {
		return nil, false, err
	}
	r.links[id] = link
	log.Info().Str("module", "app.registry").Str("participant", string(id)).Str("role", link.Role.String()).Msg("link added")
	return link, true, nil
}

func (r *Registry) Get(id domain.ParticipantID) (*PeerLink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[id]
	return link, ok
}

// Replace atomically swaps the entry for id with a fresh link. The old link,
// if any, is closed after eviction.
func (r *Registry) Replace(id domain.ParticipantID, create func() (*PeerLink, error)) (*PeerLink, error) {
	r.mu.Lock()
	old := r.links[id]
	link, err := create()
	if err != nil {
		delete(r.links, id)
		r.mu.Unlock()
		if old != nil {
			old.close()
		}
		return nil, err
	}
	r.links[id] = link
	r.mu.Unlock()

	if old != nil {
		old.close()
	}
	log.Info().Str("module", "app.registry").Str("participant", string(id)).Msg("link replaced")
	return link, nil
}

// Remove destroys and evicts the link for id, releasing its transport.
func (r *Registry) Remove(id domain.ParticipantID) {
	r.mu.Lock()
	link, ok := r.links[id]
	delete(r.links, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	link.close()
	log.Info().Str("module", "app.registry").Str("participant", string(id)).Msg("link removed")
}

// ForEach visits a snapshot of the current links.
func (r *Registry) ForEach(visit func(*PeerLink)) {
	r.mu.RLock()
	snapshot := make([]*PeerLink, 0, len(r.links))
	for _, l := range r.links {
		snapshot = append(snapshot, l)
	}
	r.mu.RUnlock()
	for _, l := range snapshot {
		visit(l)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

// Clear removes every link, closing each one.
func (r *Registry) Clear() {
	r.mu.Lock()
	links := r.links
	r.links = make(map[domain.ParticipantID]*PeerLink)
	r.mu.Unlock()
	for _, l := range links {
		l.close()
	}
}
