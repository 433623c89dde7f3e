package core

import (
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Handle is one plugin attachment: the local publisher or a subscription to a remote feed.
// Hooks are bound when the attach succeeds and run on the dispatch goroutine.
type Handle struct {
	ID      domain.HandleID
	Kind    domain.HandleKind
	Feed    domain.FeedID // zero for the publisher
	Display string

	OnJoined     func(h *Handle)
	OnRemoteJSEP func(h *Handle, desc webrtc.SessionDescription)
	OnLeaving    func(h *Handle, confirmed bool)

	leaving bool
}

// HandleDTO is a read-only view for APIs (no hooks).
type HandleDTO struct {
	ID      domain.HandleID `json:"id"`
	Kind    string          `json:"kind"`
	Feed    domain.FeedID   `json:"feed,omitempty"`
	Display string          `json:"display,omitempty"`
}

func (h *Handle) DTO() HandleDTO {
	return HandleDTO{ID: h.ID, Kind: h.Kind.String(), Feed: h.Feed, Display: h.Display}
}

// MarkLeaving reports whether this is the first leave for the handle.
// Only the dispatch goroutine touches it.
func (h *Handle) MarkLeaving() bool {
	if h.leaving {
		return false
	}
	h.leaving = true
	return true
}
