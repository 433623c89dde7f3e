package domain

type (
	SessionID = ID
	HandleID  = ID
	FeedID    = ID
	RoomID    = ID
)

// HandleKind tells the local publisher attachment apart from remote subscriptions.
type HandleKind int

const (
	KindPublisher HandleKind = iota
	KindSubscriber
)

func (k HandleKind) String() string {
	switch k {
	case KindPublisher:
		return "publisher"
	case KindSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}

// Publisher is a remote participant as listed by the room plugin.
type Publisher struct {
	Feed    FeedID `json:"id"`
	Display string `json:"display,omitempty"`
}
