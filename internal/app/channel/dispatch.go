package channel

import (
	"encoding/json"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/janus"
	"github.com/lucsky/cuid"
	"github.com/pion/webrtc/v4"
)

// handleFrame classifies one inbound message by discriminator. Only events and
// detached pushes are routed further by sender.
func (c *Channel) handleFrame(data []byte) {
	msg, err := janus.Decode(data)
	if err != nil {
		c.report(core.NewProtocolError(core.KindMalformedMessage, "decode", err))
		return
	}

	switch m := msg.(type) {
	case janus.Success:
		c.tx.Resolve(m.Transaction, m.Data, nil)
	case janus.Error:
		if !c.tx.Resolve(m.Transaction, nil, m.Err) {
			c.log.Warn().Str("transaction", m.Transaction).Int("code", m.Err.Code).Str("reason", m.Err.Reason).Msg("error for untracked request")
		}
	case janus.Ack:
		c.log.Debug().Str("transaction", m.Transaction).Msg("ack")
	case janus.Event:
		c.onEvent(m)
	case janus.Detached:
		c.onDetached(m)
	case janus.Other:
		c.onOther(m)
	}
}

func (c *Channel) createSession() {
	c.advance(StateSessionPending)
	c.request(janus.Create, c.onSessionCreated, c.transactionFailed("create session"))
}

func (c *Channel) onSessionCreated(data json.RawMessage) {
	id, err := janus.DataID(data)
	if err != nil {
		c.report(core.NewProtocolError(core.KindMalformedMessage, "create session", err))
		_ = c.Close()
		return
	}
	c.session.Store(uint64(id))
	c.log.Info().Stringer("session_id", id).Msg("session created")

	c.startKeepAlive()
	c.advance(StatePublisherAttaching)
	c.request(func(tx string) janus.Request {
		return janus.Attach(tx, id, c.opaqueID)
	}, c.onPublisherAttached, c.transactionFailed("attach publisher"))
}

func (c *Channel) onPublisherAttached(data json.RawMessage) {
	id, err := janus.DataID(data)
	if err != nil {
		c.report(core.NewProtocolError(core.KindMalformedMessage, "attach publisher", err))
		_ = c.Close()
		return
	}
	h := &core.Handle{
		Kind:         domain.KindPublisher,
		Display:      c.cfg.Display,
		OnJoined:     c.publisherJoined,
		OnRemoteJSEP: c.publisherJSEP,
	}
	c.handles.PutByHandle(id, h)
	c.publisher.Store(uint64(id))
	c.log.Info().Stringer("handle_id", id).Msg("publisher attached")

	c.advance(StateJoining)
	err = c.sendUntracked(janus.JoinAsPublisher(cuid.New(), c.SessionID(), id, c.cfg.Room, c.cfg.Display))
	if err != nil {
		c.report(core.NewProtocolError(core.KindTransportFailure, "join as publisher", err))
	}
}

func (c *Channel) onEvent(ev janus.Event) {
	h, ok := c.handles.GetByHandle(ev.Sender)
	if !ok {
		c.log.Warn().Stringer("sender", ev.Sender).Msg("event for unknown handle dropped")
		return
	}
	p := ev.Plugin

	if p.Error != "" {
		c.report(core.NewProtocolError(core.KindRoomNotFound, p.Error, nil))
	}
	if p.VideoRoom == "joined" && h.OnJoined != nil {
		h.OnJoined(h)
	}
	for _, pub := range p.Publishers {
		c.subscribe(pub)
	}
	if feed, ok := p.LeavingFeed(); ok {
		c.feedGone(feed, "leaving")
	}
	if feed, ok := p.UnpublishedFeed(); ok {
		c.feedGone(feed, "unpublished")
	}
	if ev.JSEP != nil && h.OnRemoteJSEP != nil {
		desc, err := ev.JSEP.ToPion()
		if err != nil {
			c.report(core.NewProtocolError(core.KindMalformedMessage, "jsep", err))
			return
		}
		h.OnRemoteJSEP(h, desc)
	}
}

// onDetached handles a handle torn down by the server. The push is itself the
// confirmation, so no detach request follows.
func (c *Channel) onDetached(m janus.Detached) {
	h, ok := c.handles.GetByHandle(m.Sender)
	if !ok {
		c.log.Warn().Stringer("sender", m.Sender).Msg("detached for unknown handle dropped")
		return
	}
	if h.OnLeaving != nil {
		h.OnLeaving(h, true)
		return
	}
	c.handles.RemoveByHandle(h.ID)
}

func (c *Channel) onOther(m janus.Other) {
	switch m.Janus {
	case "timeout":
		c.report(core.NewProtocolError(core.KindTransportFailure, "session timed out on server", nil))
		_ = c.Close()
	default:
		c.log.Debug().Str("janus", m.Janus).Stringer("sender", m.Sender).Str("reason", m.Reason).Msg("notification ignored")
	}
}

func (c *Channel) publisherJoined(h *core.Handle) {
	if !c.advance(StateActive) {
		c.log.Debug().Stringer("handle_id", h.ID).Msg("repeated joined ignored")
		return
	}
	c.log.Info().Stringer("handle_id", h.ID).Stringer("room", c.cfg.Room).Msg("publisher joined")
	c.events.PublisherReady(h.ID)
}

func (c *Channel) publisherJSEP(h *core.Handle, desc webrtc.SessionDescription) {
	c.events.RemoteAnswerRequest(h.ID, desc)
}

func (c *Channel) subscriberJSEP(h *core.Handle, desc webrtc.SessionDescription) {
	c.events.RemoteOfferAvailable(h.ID, desc)
}

// subscribe attaches a subscriber handle for a remote publisher unless the
// feed is already known or an attach for it is in flight.
func (c *Channel) subscribe(pub domain.Publisher) {
	if pub.Feed.IsZero() {
		return
	}
	if _, ok := c.handles.GetByFeed(pub.Feed); ok {
		return
	}
	if _, ok := c.pendingFeeds[pub.Feed]; ok {
		return
	}
	c.pendingFeeds[pub.Feed] = false
	c.log.Info().Stringer("feed_id", pub.Feed).Str("display", pub.Display).Msg("new publisher")

	failed := c.transactionFailed("attach subscriber " + pub.Feed.String())
	c.request(func(tx string) janus.Request {
		return janus.Attach(tx, c.SessionID(), c.opaqueID)
	}, func(data json.RawMessage) {
		departed := c.pendingFeeds[pub.Feed]
		delete(c.pendingFeeds, pub.Feed)
		if departed {
			c.discardSubscriber(pub, data)
			return
		}
		c.onSubscriberAttached(pub, data)
	}, func(err error) {
		delete(c.pendingFeeds, pub.Feed)
		failed(err)
	})
}

func (c *Channel) onSubscriberAttached(pub domain.Publisher, data json.RawMessage) {
	id, err := janus.DataID(data)
	if err != nil {
		c.report(core.NewProtocolError(core.KindMalformedMessage, "attach subscriber", err))
		return
	}
	h := &core.Handle{
		ID:           id,
		Kind:         domain.KindSubscriber,
		Feed:         pub.Feed,
		Display:      pub.Display,
		OnRemoteJSEP: c.subscriberJSEP,
		OnLeaving:    c.leave,
	}
	c.handles.Put(h)

	err = c.sendUntracked(janus.JoinAsSubscriber(cuid.New(), c.SessionID(), id, c.cfg.Room, pub.Feed))
	if err != nil {
		c.report(core.NewProtocolError(core.KindTransportFailure, "join as subscriber", err))
	}
}

// discardSubscriber detaches a handle attached for a feed that left while the
// attach was in flight. It was never announced, so nothing is reported.
func (c *Channel) discardSubscriber(pub domain.Publisher, data json.RawMessage) {
	id, err := janus.DataID(data)
	if err != nil {
		c.report(core.NewProtocolError(core.KindMalformedMessage, "attach subscriber", err))
		return
	}
	c.log.Info().Stringer("handle_id", id).Stringer("feed_id", pub.Feed).Msg("feed gone before attach, detaching")
	c.request(func(tx string) janus.Request {
		return janus.Detach(tx, c.SessionID(), id)
	}, nil, c.transactionFailed("detach "+id.String()))
}

func (c *Channel) feedGone(feed domain.FeedID, why string) {
	if _, ok := c.pendingFeeds[feed]; ok {
		c.pendingFeeds[feed] = true
		c.log.Info().Stringer("feed_id", feed).Str("why", why).Msg("feed gone while attaching")
		return
	}
	h, ok := c.handles.GetByFeed(feed)
	if !ok {
		c.log.Warn().Stringer("feed_id", feed).Str("why", why).Msg("unknown feed dropped")
		return
	}
	if h.OnLeaving != nil {
		h.OnLeaving(h, false)
	}
}

// leave is the on-leaving hook of subscriber handles. Unless the server has
// already confirmed it, the handle is detached first; either way it is
// dropped once and the UI hears about it once.
func (c *Channel) leave(h *core.Handle, confirmed bool) {
	if confirmed {
		h.MarkLeaving()
		c.drop(h)
		return
	}
	if !h.MarkLeaving() {
		return
	}
	failed := c.transactionFailed("detach " + h.ID.String())
	c.request(func(tx string) janus.Request {
		return janus.Detach(tx, c.SessionID(), h.ID)
	}, func(json.RawMessage) {
		c.drop(h)
	}, func(err error) {
		failed(err)
		c.drop(h)
	})
}

func (c *Channel) drop(h *core.Handle) {
	if _, ok := c.handles.RemoveByHandle(h.ID); !ok {
		return
	}
	c.log.Info().Stringer("handle_id", h.ID).Stringer("feed_id", h.Feed).Msg("participant left")
	c.events.ParticipantLeft(h.ID)
}
