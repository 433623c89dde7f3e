// Package janus holds the wire format spoken with the gateway: request envelopes
// built by the channel and the decoded form of everything the server pushes back.
package janus

import (
	"fmt"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Subprotocol is the websocket subprotocol the gateway expects.
const Subprotocol = "janus-protocol"

const PluginVideoRoom = "janus.plugin.videoroom"

const (
	RequestCreate    = "create"
	RequestAttach    = "attach"
	RequestMessage   = "message"
	RequestTrickle   = "trickle"
	RequestDetach    = "detach"
	RequestKeepAlive = "keepalive"
)

// Request is the outgoing control envelope.
type Request struct {
	Janus       string    `json:"janus"`
	Transaction string    `json:"transaction"`
	SessionID   domain.ID `json:"session_id,omitempty"`
	HandleID    domain.ID `json:"handle_id,omitempty"`
	Plugin      string    `json:"plugin,omitempty"`
	OpaqueID    string    `json:"opaque_id,omitempty"`
	Body        any       `json:"body,omitempty"`
	JSEP        *JSEP     `json:"jsep,omitempty"`
	Candidate   any       `json:"candidate,omitempty"`
}

// JSEP is the {type, sdp} pair exchanged for offers and answers. The sdp body is
// never inspected here.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func JSEPFromPion(desc webrtc.SessionDescription) *JSEP {
	return &JSEP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (j JSEP) ToPion() (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(j.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, &UnsupportedJSEPError{Type: j.Type}
	}
	return webrtc.SessionDescription{Type: t, SDP: j.SDP}, nil
}

type UnsupportedJSEPError struct {
	Type string
}

func (e *UnsupportedJSEPError) Error() string { return fmt.Sprintf("unsupported jsep type %q", e.Type) }

type joinPublisherBody struct {
	Request string    `json:"request"`
	Room    domain.ID `json:"room"`
	PType   string    `json:"ptype"`
	Display string    `json:"display,omitempty"`
}

type joinSubscriberBody struct {
	Request string    `json:"request"`
	Room    domain.ID `json:"room"`
	PType   string    `json:"ptype"`
	Feed    domain.ID `json:"feed"`
}

type configureBody struct {
	Request string `json:"request"`
	Audio   bool   `json:"audio"`
	Video   bool   `json:"video"`
}

type startBody struct {
	Request string    `json:"request"`
	Room    domain.ID `json:"room"`
}

type candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type completed struct {
	Completed bool `json:"completed"`
}

func Create(tx string) Request {
	return Request{Janus: RequestCreate, Transaction: tx}
}

func Attach(tx string, session domain.SessionID, opaqueID string) Request {
	return Request{
		Janus:       RequestAttach,
		Transaction: tx,
		SessionID:   session,
		Plugin:      PluginVideoRoom,
		OpaqueID:    opaqueID,
	}
}

func JoinAsPublisher(tx string, session domain.SessionID, handle domain.HandleID, room domain.RoomID, display string) Request {
	return Request{
		Janus:       RequestMessage,
		Transaction: tx,
		SessionID:   session,
		HandleID:    handle,
		Body: joinPublisherBody{
			Request: "join",
			Room:    room,
			PType:   "publisher",
			Display: display,
		},
	}
}

func JoinAsSubscriber(tx string, session domain.SessionID, handle domain.HandleID, room domain.RoomID, feed domain.FeedID) Request {
	return Request{
		Janus:       RequestMessage,
		Transaction: tx,
		SessionID:   session,
		HandleID:    handle,
		Body: joinSubscriberBody{
			Request: "join",
			Room:    room,
			PType:   "subscriber",
			Feed:    feed,
		},
	}
}

// Configure publishes the local offer on the publisher handle.
func Configure(tx string, session domain.SessionID, handle domain.HandleID, desc webrtc.SessionDescription) Request {
	return Request{
		Janus:       RequestMessage,
		Transaction: tx,
		SessionID:   session,
		HandleID:    handle,
		Body:        configureBody{Request: "configure", Audio: true, Video: true},
		JSEP:        JSEPFromPion(desc),
	}
}

// Start answers the offer received on a subscriber handle.
func Start(tx string, session domain.SessionID, handle domain.HandleID, room domain.RoomID, desc webrtc.SessionDescription) Request {
	return Request{
		Janus:       RequestMessage,
		Transaction: tx,
		SessionID:   session,
		HandleID:    handle,
		Body:        startBody{Request: "start", Room: room},
		JSEP:        JSEPFromPion(desc),
	}
}

func Trickle(tx string, session domain.SessionID, handle domain.HandleID, ci webrtc.ICECandidateInit) Request {
	return Request{
		Janus:       RequestTrickle,
		Transaction: tx,
		SessionID:   session,
		HandleID:    handle,
		Candidate: candidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		},
	}
}

func TrickleCompleted(tx string, session domain.SessionID, handle domain.HandleID) Request {
	return Request{
		Janus:       RequestTrickle,
		Transaction: tx,
		SessionID:   session,
		HandleID:    handle,
		Candidate:   completed{Completed: true},
	}
}

func Detach(tx string, session domain.SessionID, handle domain.HandleID) Request {
	return Request{
		Janus:       RequestDetach,
		Transaction: tx,
		SessionID:   session,
		HandleID:    handle,
	}
}

func KeepAlive(tx string, session domain.SessionID) Request {
	return Request{
		Janus:       RequestKeepAlive,
		Transaction: tx,
		SessionID:   session,
	}
}
