// Package channel drives one signaling session with the gateway: it owns the
// socket, correlates requests with their answers and routes pushed events to
// the handle they belong to.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/janus"
	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lucsky/cuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Room               domain.RoomID
	Display            string
	KeepAliveInterval  time.Duration
	TransactionTimeout time.Duration
	WriteWait          time.Duration
	SendQueue          int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = 30 * time.Second
	}
	if out.WriteWait <= 0 {
		out.WriteWait = 5 * time.Second
	}
	if out.SendQueue <= 0 {
		out.SendQueue = 64
	}
	return out
}

// Channel is the single owner of the signaling socket. All inbound handling and
// every continuation runs on one dispatch goroutine; public methods may be
// called from any goroutine.
type Channel struct {
	cfg      Config
	events   core.Events
	opaqueID string
	log      zerolog.Logger

	state     atomic.Int32
	session   atomic.Uint64
	publisher atomic.Uint64

	tx      *core.TransactionRegistry
	handles *core.HandleRegistry
	// feeds with a subscriber attach in flight, true once the feed has left;
	// dispatch goroutine only
	pendingFeeds map[domain.FeedID]bool

	conn core.Conn

	sendMu     sync.RWMutex
	send       chan core.Frame
	sendClosed bool

	mbMu      sync.Mutex
	mailbox   deque.Deque[func()]
	mbStopped bool
	wake      chan struct{}

	keepAliveMu      sync.Mutex
	keepAliveStop    chan struct{}
	keepAliveStopped bool
	keepAliveWG      sync.WaitGroup

	failMu  sync.Mutex
	failErr error

	closeOnce sync.Once
	done      chan struct{}
}

func New(cfg Config, events core.Events) *Channel {
	if events == nil {
		events = core.NopEvents{}
	}
	c := &Channel{
		cfg:           cfg.withDefaults(),
		events:        events,
		opaqueID:      "videoroom-" + uuid.NewString(),
		pendingFeeds:  make(map[domain.FeedID]bool),
		wake:          make(chan struct{}, 1),
		keepAliveStop: make(chan struct{}),
		done:          make(chan struct{}),
	}
	c.log = log.With().Str("module", "channel").Str("opaque_id", c.opaqueID).Logger()
	c.tx = core.NewTransactionRegistry(c.cfg.TransactionTimeout, c.enqueue)
	c.handles = core.NewHandleRegistry()
	return c
}

// Connect dials address and starts the session bootstrap for the configured room.
// It returns once the socket is open; progress is reported through Events.
func (c *Channel) Connect(ctx context.Context, dialer core.Dialer, address string) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return core.ErrAlreadyStarted
	}
	c.log.Info().Str("address", address).Stringer("room", c.cfg.Room).Msg("connecting")

	conn, err := dialer.Dial(ctx, address)
	if err != nil {
		c.log.Error().Err(err).Str("address", address).Msg("dial failed")
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.events.ProtocolError(core.NewProtocolError(core.KindTransportFailure, "dial "+address, err))
		return err
	}
	c.start(conn)
	return nil
}

func (c *Channel) start(conn core.Conn) {
	c.sendMu.Lock()
	c.conn = conn
	c.send = make(chan core.Frame, c.cfg.SendQueue)
	c.sendMu.Unlock()

	go c.dispatchLoop()
	go c.writePump()
	go c.readPump()

	// Close raced the dial: let the read side tear down.
	if c.State() >= StateClosing {
		_ = conn.Close()
		return
	}
	c.enqueue(c.createSession)
}

// SessionID is zero until the server has created the session.
func (c *Channel) SessionID() domain.SessionID {
	return domain.SessionID(c.session.Load())
}

// PublisherHandle is zero until the publisher handle is attached.
func (c *Channel) PublisherHandle() domain.HandleID {
	return domain.HandleID(c.publisher.Load())
}

func (c *Channel) Room() domain.RoomID {
	return c.cfg.Room
}

func (c *Channel) Handles() []core.HandleDTO {
	return c.handles.Snapshot()
}

func (c *Channel) PendingTransactions() int {
	return c.tx.Len()
}

// Done is closed once the socket is gone and both registries are cleared.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close stops the keep-alive loop and asks the server to close the socket.
// Teardown completes when the socket reports closed, see Done. Safe to call
// more than once and from event callbacks.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		if c.state.CompareAndSwap(int32(StateDisconnected), int32(StateClosed)) {
			close(c.done)
			return
		}
		if !c.advance(StateClosing) {
			return
		}
		c.log.Info().Stringer("session_id", c.SessionID()).Msg("closing")
		c.stopKeepAlive()

		c.sendMu.RLock()
		conn := c.conn
		c.sendMu.RUnlock()
		if conn == nil {
			return
		}
		err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.cfg.WriteWait))
		if err != nil {
			c.log.Warn().Err(err).Msg("close frame not sent")
			_ = conn.Close()
			return
		}
		// The server echoes the close frame; give up waiting after WriteWait.
		time.AfterFunc(c.cfg.WriteWait, func() { _ = conn.Close() })
	})
	return nil
}

// Publish sends the local offer on the publisher handle.
func (c *Channel) Publish(handle domain.HandleID, desc webrtc.SessionDescription) error {
	h, err := c.lookup(handle, domain.KindPublisher)
	if err != nil {
		return err
	}
	return c.sendUntracked(janus.Configure(cuid.New(), c.SessionID(), h.ID, desc))
}

// Answer sends the answer to the offer received on a subscriber handle.
func (c *Channel) Answer(handle domain.HandleID, desc webrtc.SessionDescription) error {
	h, err := c.lookup(handle, domain.KindSubscriber)
	if err != nil {
		return err
	}
	return c.sendUntracked(janus.Start(cuid.New(), c.SessionID(), h.ID, c.cfg.Room, desc))
}

func (c *Channel) Trickle(handle domain.HandleID, candidate webrtc.ICECandidateInit) error {
	h, err := c.lookup(handle)
	if err != nil {
		return err
	}
	return c.sendUntracked(janus.Trickle(cuid.New(), c.SessionID(), h.ID, candidate))
}

// TrickleComplete tells the server no more candidates follow for handle.
func (c *Channel) TrickleComplete(handle domain.HandleID) error {
	h, err := c.lookup(handle)
	if err != nil {
		return err
	}
	return c.sendUntracked(janus.TrickleCompleted(cuid.New(), c.SessionID(), h.ID))
}

// lookup finds a live handle of one of kinds, or of any kind when none is given.
func (c *Channel) lookup(id domain.HandleID, kinds ...domain.HandleKind) (*core.Handle, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	h, ok := c.handles.GetByHandle(id)
	if !ok {
		return nil, core.ErrUnknownHandle
	}
	if len(kinds) > 0 && !slices.Contains(kinds, h.Kind) {
		return nil, core.ErrUnknownHandle
	}
	return h, nil
}

// request registers the continuations under a fresh token, then sends the
// envelope built for it. A send that fails resolves the token at once.
func (c *Channel) request(build func(tx string) janus.Request, onSuccess core.SuccessFunc, onError core.ErrorFunc) {
	tx := cuid.New()
	if !c.tx.Register(tx, onSuccess, onError) {
		if onError != nil {
			onError(core.ErrDuplicateToken)
		}
		return
	}
	if err := c.sendRequest(build(tx)); err != nil {
		c.tx.Resolve(tx, nil, err)
	}
}

// sendUntracked sends a request whose answer arrives as an event, not as a
// success for its token.
func (c *Channel) sendUntracked(req janus.Request) error {
	if err := c.sendRequest(req); err != nil {
		c.log.Warn().Err(err).Str("janus", req.Janus).Stringer("handle_id", req.HandleID).Msg("request not sent")
		return err
	}
	return nil
}

func (c *Channel) sendRequest(req janus.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed || c.send == nil {
		return core.ErrClosed
	}
	select {
	case c.send <- b:
	default:
		return core.ErrBackpressure
	}
	c.log.Debug().Str("janus", req.Janus).Str("transaction", req.Transaction).Stringer("handle_id", req.HandleID).Msg("request queued")
	return nil
}

// report hands a failure to the UI. Dispatch goroutine only.
func (c *Channel) report(err *core.ProtocolError) {
	c.log.Warn().Err(err).Str("kind", err.Kind.String()).Msg("protocol error")
	c.events.ProtocolError(err)
}

// transactionFailed is the error continuation shared by every tracked request.
func (c *Channel) transactionFailed(what string) core.ErrorFunc {
	return func(err error) {
		kind := core.KindTransactionFailure
		detail := what
		var se janus.ServerError
		if errors.As(err, &se) && len(se.Raw) > 0 {
			detail += " " + string(se.Raw)
		}
		switch {
		case errors.Is(err, core.ErrTransactionTimeout):
			kind = core.KindTransactionTimeout
		case errors.Is(err, core.ErrClosed), errors.Is(err, core.ErrBackpressure):
			kind = core.KindTransportFailure
		}
		c.report(core.NewProtocolError(kind, detail, err))
	}
}

// fail remembers the first transport error and drops the socket so the read
// side tears the channel down.
func (c *Channel) fail(err error) {
	c.failMu.Lock()
	if c.failErr == nil {
		c.failErr = err
	}
	c.failMu.Unlock()
	_ = c.conn.Close()
}

func (c *Channel) failure() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failErr
}
