package janus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/videoroom/internal/domain"
)

var ErrMalformed = errors.New("malformed message")

// Message is one decoded server message. It is exactly one of
// Success, Error, Ack, Event, Detached or Other.
type Message interface {
	Discriminator() string
}

// Success answers a correlated request.
type Success struct {
	Transaction string
	Sender      domain.HandleID
	Data        json.RawMessage
}

func (Success) Discriminator() string { return "success" }

// DataID returns data.id, the identifier assigned by create and attach.
func (s Success) DataID() (domain.ID, error) {
	return DataID(s.Data)
}

// DataID extracts the id field of a success payload.
func DataID(data json.RawMessage) (domain.ID, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: success without data", ErrMalformed)
	}
	var d struct {
		ID domain.ID `json:"id"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d.ID.IsZero() {
		return 0, fmt.Errorf("%w: data.id missing", ErrMalformed)
	}
	return d.ID, nil
}

// Error answers a correlated request with a failure.
type Error struct {
	Transaction string
	Err         ServerError
}

func (Error) Discriminator() string { return "error" }

// ServerError is the gateway's {code, reason} error object. Raw keeps the
// whole error message as received.
type ServerError struct {
	Code   int             `json:"code"`
	Reason string          `json:"reason"`
	Raw    json.RawMessage `json:"-"`
}

func (e ServerError) Error() string {
	return fmt.Sprintf("janus error %d: %s", e.Code, e.Reason)
}

type Ack struct {
	Transaction string
}

func (Ack) Discriminator() string { return "ack" }

// Event is an asynchronous plugin notification addressed to one handle.
type Event struct {
	Sender domain.HandleID
	Plugin PluginEvent
	JSEP   *JSEP
}

func (Event) Discriminator() string { return "event" }

// Detached is pushed when the server tears a handle down on its own.
type Detached struct {
	Sender domain.HandleID
}

func (Detached) Discriminator() string { return "detached" }

// Other covers notifications nothing here acts on (webrtcup, media, hangup, slowlink, timeout).
type Other struct {
	Janus  string
	Sender domain.HandleID
	Reason string
}

func (o Other) Discriminator() string { return o.Janus }

// PluginEvent is plugindata.data of a videoroom event.
type PluginEvent struct {
	VideoRoom   string             `json:"videoroom"`
	Error       string             `json:"error"`
	ErrorCode   int                `json:"error_code"`
	Publishers  []domain.Publisher `json:"publishers"`
	Leaving     json.RawMessage    `json:"leaving"`
	Unpublished json.RawMessage    `json:"unpublished"`
}

// LeavingFeed reports the remote feed that left the room. The server also sends
// leaving/unpublished "ok" to the participant itself, which is not a feed.
func (p PluginEvent) LeavingFeed() (domain.FeedID, bool) {
	return feedOf(p.Leaving)
}

func (p PluginEvent) UnpublishedFeed() (domain.FeedID, bool) {
	return feedOf(p.Unpublished)
}

func feedOf(raw json.RawMessage) (domain.FeedID, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var id domain.ID
	if err := json.Unmarshal(raw, &id); err != nil || id.IsZero() {
		return 0, false
	}
	return id, true
}

type envelope struct {
	Janus       string          `json:"janus"`
	Transaction string          `json:"transaction"`
	Sender      domain.ID       `json:"sender"`
	Data        json.RawMessage `json:"data"`
	Error       *ServerError    `json:"error"`
	Reason      string          `json:"reason"`
	PluginData  *struct {
		Plugin string          `json:"plugin"`
		Data   json.RawMessage `json:"data"`
	} `json:"plugindata"`
	JSEP *JSEP `json:"jsep"`
}

// Decode classifies a raw server message by its janus discriminator.
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Janus {
	case "success":
		return Success{Transaction: env.Transaction, Sender: env.Sender, Data: env.Data}, nil
	case "error":
		m := Error{Transaction: env.Transaction}
		if env.Error != nil {
			m.Err = *env.Error
		}
		m.Err.Raw = append(json.RawMessage(nil), b...)
		return m, nil
	case "ack":
		return Ack{Transaction: env.Transaction}, nil
	case "event":
		ev := Event{Sender: env.Sender, JSEP: env.JSEP}
		if env.PluginData != nil && len(env.PluginData.Data) > 0 {
			if err := json.Unmarshal(env.PluginData.Data, &ev.Plugin); err != nil {
				return nil, fmt.Errorf("%w: plugindata: %v", ErrMalformed, err)
			}
		}
		return ev, nil
	case "detached":
		return Detached{Sender: env.Sender}, nil
	case "":
		return nil, fmt.Errorf("%w: missing janus field", ErrMalformed)
	default:
		return Other{Janus: env.Janus, Sender: env.Sender, Reason: env.Reason}, nil
	}
}
