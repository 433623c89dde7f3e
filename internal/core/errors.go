package core

import (
	"errors"
	"fmt"
)

var (
	ErrClosed             = errors.New("channel closed")
	ErrNotConnected       = errors.New("session not established")
	ErrBackpressure       = errors.New("backpressure")
	ErrTransactionTimeout = errors.New("transaction timed out")
	ErrUnknownHandle      = errors.New("unknown handle")
	ErrDuplicateToken     = errors.New("duplicate transaction token")
	ErrAlreadyStarted     = errors.New("channel already started")
)

// Kind classifies failures reported to the UI.
type Kind int

const (
	// KindTransportFailure: the socket is gone; the caller must build a new session.
	KindTransportFailure Kind = iota
	// KindMalformedMessage: an inbound message was dropped, the channel keeps going.
	KindMalformedMessage
	// KindTransactionFailure: the server answered a request with an error.
	KindTransactionFailure
	// KindRoomNotFound: the room plugin reported an error, usually the call should end.
	KindRoomNotFound
	// KindTransactionTimeout: a request was never answered.
	KindTransactionTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransportFailure:
		return "transport_failure"
	case KindMalformedMessage:
		return "malformed_message"
	case KindTransactionFailure:
		return "transaction_failure"
	case KindRoomNotFound:
		return "room_not_found"
	case KindTransactionTimeout:
		return "transaction_timeout"
	default:
		return "unknown"
	}
}

type ProtocolError struct {
	Kind   Kind
	Detail string
	Err    error
}

func NewProtocolError(kind Kind, detail string, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Detail: detail, Err: err}
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
