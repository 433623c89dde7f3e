// Package room is the surface the call UI talks to. It holds no protocol
// logic: every call goes straight to the signaling channel.
package room

import (
	"context"
	"sync"

	"github.com/dkeye/videoroom/internal/app/channel"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Session owns at most one live channel. After the channel closes a new Join
// builds a fresh one; nothing is reconnected automatically.
type Session struct {
	cfg    channel.Config
	dialer core.Dialer
	events core.Events

	mu sync.RWMutex
	ch *channel.Channel
}

func NewSession(cfg channel.Config, dialer core.Dialer, events core.Events) *Session {
	return &Session{cfg: cfg, dialer: dialer, events: events}
}

// Join connects to address and joins room as publisher. PublisherReady fires
// once the server confirms.
func (s *Session) Join(ctx context.Context, address string, room domain.RoomID) error {
	s.mu.Lock()
	if s.ch != nil && s.ch.State() != channel.StateClosed {
		s.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	cfg := s.cfg
	cfg.Room = room
	ch := channel.New(cfg, s.events)
	s.ch = ch
	s.mu.Unlock()

	log.Info().Str("module", "room").Str("address", address).Stringer("room", room).Msg("join")
	return ch.Connect(ctx, s.dialer, address)
}

func (s *Session) PublishLocalDescription(handle domain.HandleID, desc webrtc.SessionDescription) error {
	ch, err := s.current()
	if err != nil {
		return err
	}
	return ch.Publish(handle, desc)
}

func (s *Session) AnswerSubscription(handle domain.HandleID, desc webrtc.SessionDescription) error {
	ch, err := s.current()
	if err != nil {
		return err
	}
	return ch.Answer(handle, desc)
}

func (s *Session) SendIceCandidate(handle domain.HandleID, candidate webrtc.ICECandidateInit) error {
	ch, err := s.current()
	if err != nil {
		return err
	}
	return ch.Trickle(handle, candidate)
}

func (s *Session) CompleteIceCandidates(handle domain.HandleID) error {
	ch, err := s.current()
	if err != nil {
		return err
	}
	return ch.TrickleComplete(handle)
}

// Leave closes the channel. Done reports when teardown has finished.
func (s *Session) Leave() error {
	ch, err := s.current()
	if err != nil {
		return err
	}
	log.Info().Str("module", "room").Stringer("session_id", ch.SessionID()).Msg("leave")
	return ch.Close()
}

func (s *Session) current() (*channel.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ch == nil {
		return nil, core.ErrNotConnected
	}
	return s.ch, nil
}

// Status is a point-in-time view of the session for diagnostics.
type Status struct {
	State       string           `json:"state"`
	SessionID   domain.SessionID `json:"session_id,omitempty"`
	Room        domain.RoomID    `json:"room,omitempty"`
	Publisher   domain.HandleID  `json:"publisher,omitempty"`
	Pending     int              `json:"pending_transactions"`
	HandleCount int              `json:"handles"`
}

func (s *Session) Status() Status {
	ch, err := s.current()
	if err != nil {
		return Status{State: channel.StateDisconnected.String()}
	}
	return Status{
		State:       ch.State().String(),
		SessionID:   ch.SessionID(),
		Room:        ch.Room(),
		Publisher:   ch.PublisherHandle(),
		Pending:     ch.PendingTransactions(),
		HandleCount: len(ch.Handles()),
	}
}

func (s *Session) Handles() []core.HandleDTO {
	ch, err := s.current()
	if err != nil {
		return []core.HandleDTO{}
	}
	return ch.Handles()
}

// Done is closed when the current channel has finished closing. It is nil
// before the first Join.
func (s *Session) Done() <-chan struct{} {
	ch, err := s.current()
	if err != nil {
		return nil
	}
	return ch.Done()
}
