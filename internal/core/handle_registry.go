package core

import (
	"sort"
	"sync"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// HandleRegistry is a threadsafe pair of indices over the session's handles.
// A handle reachable by feed is always reachable by handle id, and removal
// through either index clears both.
type HandleRegistry struct {
	mu       sync.RWMutex
	byHandle map[domain.HandleID]*Handle
	byFeed   map[domain.FeedID]*Handle
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{
		byHandle: make(map[domain.HandleID]*Handle),
		byFeed:   make(map[domain.FeedID]*Handle),
	}
}

func (r *HandleRegistry) PutByHandle(id domain.HandleID, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.ID = id
	r.byHandle[id] = h
	log.Debug().Str("module", "core.handles").Stringer("handle_id", id).Str("kind", h.Kind.String()).Msg("handle indexed")
}

// PutByFeed indexes h by feed, and by its id too so the two views cannot diverge.
func (r *HandleRegistry) PutByFeed(feed domain.FeedID, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.Feed = feed
	r.byFeed[feed] = h
	r.byHandle[h.ID] = h
	log.Debug().Str("module", "core.handles").Stringer("feed_id", feed).Stringer("handle_id", h.ID).Msg("feed indexed")
}

// Put indexes a freshly attached handle under every key it carries in one step.
func (r *HandleRegistry) Put(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHandle[h.ID] = h
	if !h.Feed.IsZero() {
		r.byFeed[h.Feed] = h
	}
	log.Info().Str("module", "core.handles").Stringer("handle_id", h.ID).Stringer("feed_id", h.Feed).Str("kind", h.Kind.String()).Msg("handle added")
}

func (r *HandleRegistry) GetByHandle(id domain.HandleID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byHandle[id]
	return h, ok
}

func (r *HandleRegistry) GetByFeed(feed domain.FeedID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byFeed[feed]
	return h, ok
}

// RemoveByHandle drops the handle from both indices and returns it.
func (r *HandleRegistry) RemoveByHandle(id domain.HandleID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byHandle[id]
	if !ok {
		return nil, false
	}
	r.removeLocked(h)
	return h, true
}

// RemoveByFeed drops the handle from both indices and returns it.
func (r *HandleRegistry) RemoveByFeed(feed domain.FeedID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byFeed[feed]
	if !ok {
		return nil, false
	}
	r.removeLocked(h)
	return h, true
}

func (r *HandleRegistry) removeLocked(h *Handle) {
	if cur, ok := r.byHandle[h.ID]; ok && cur == h {
		delete(r.byHandle, h.ID)
	}
	if !h.Feed.IsZero() {
		if cur, ok := r.byFeed[h.Feed]; ok && cur == h {
			delete(r.byFeed, h.Feed)
		}
	}
	log.Info().Str("module", "core.handles").Stringer("handle_id", h.ID).Stringer("feed_id", h.Feed).Msg("handle removed")
}

func (r *HandleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// Snapshot lists the handles ordered by id.
func (r *HandleRegistry) Snapshot() []HandleDTO {
	r.mu.RLock()
	out := make([]HandleDTO, 0, len(r.byHandle))
	for _, h := range r.byHandle {
		out = append(out, h.DTO())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close discards both indices at once.
func (r *HandleRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.byHandle)
	r.byHandle = make(map[domain.HandleID]*Handle)
	r.byFeed = make(map[domain.FeedID]*Handle)
	log.Info().Str("module", "core.handles").Int("dropped", n).Msg("registry cleared")
}
