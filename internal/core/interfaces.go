package core

import (
	"context"
	"time"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Frame is one raw text message on the signaling socket.
type Frame []byte

// Conn is an indirection over *websocket.Conn to ease testing.
// The channel is its only writer; Close and WriteControl may be called concurrently
// with the other methods.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens the signaling socket to address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// Events is what the room session surfaces to the call UI.
// Calls are made from the channel's dispatch goroutine, one at a time, and must not block.
type Events interface {
	// PublisherReady fires once the local publisher has joined the room; the UI
	// should create its offer and hand it to PublishLocalDescription.
	PublisherReady(handle domain.HandleID)
	// RemoteOfferAvailable carries the server's offer for a subscriber handle.
	RemoteOfferAvailable(handle domain.HandleID, desc webrtc.SessionDescription)
	// RemoteAnswerRequest carries the server's answer to the published offer.
	RemoteAnswerRequest(handle domain.HandleID, desc webrtc.SessionDescription)
	ParticipantLeft(handle domain.HandleID)
	ProtocolError(err *ProtocolError)
}

// NopEvents drops everything.
type NopEvents struct{}

func (NopEvents) PublisherReady(domain.HandleID) {}
func (NopEvents) RemoteOfferAvailable(domain.HandleID, webrtc.SessionDescription) {}
func (NopEvents) RemoteAnswerRequest(domain.HandleID, webrtc.SessionDescription) {}
func (NopEvents) ParticipantLeft(domain.HandleID) {}
func (NopEvents) ProtocolError(*ProtocolError) {}
