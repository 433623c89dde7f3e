// Package rtc is the media side of the call: one pion peer connection per
// handle, driven by the room session's events.
package rtc

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/gammazero/deque"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Signaling is what the engine needs from the room session.
type Signaling interface {
	PublishLocalDescription(handle domain.HandleID, desc webrtc.SessionDescription) error
	AnswerSubscription(handle domain.HandleID, desc webrtc.SessionDescription) error
	SendIceCandidate(handle domain.HandleID, candidate webrtc.ICECandidateInit) error
	CompleteIceCandidates(handle domain.HandleID) error
}

// Engine implements core.Events. Event callbacks must not block, so each one
// is queued and a single worker runs them in the order they arrived.
type Engine struct {
	cfg webrtc.Configuration
	ctx context.Context

	mu     sync.Mutex
	sig    Signaling
	conns  map[domain.HandleID]*Connection
	tracks map[trackKey]*TrackStats

	qmu     sync.Mutex
	queue   deque.Deque[func()]
	running bool
	wg      sync.WaitGroup
}

// Track ids repeat across subscriber handles, so stats are keyed by both.
type trackKey struct {
	handle domain.HandleID
	id     string
}

var _ core.Events = (*Engine)(nil)

var errNoSignaling = errors.New("rtc: signaling not bound")

func NewEngine(ctx context.Context, cfg webrtc.Configuration) *Engine {
	return &Engine{
		cfg:    cfg,
		ctx:    ctx,
		conns:  make(map[domain.HandleID]*Connection),
		tracks: make(map[trackKey]*TrackStats),
	}
}

// Bind sets the session the engine answers through. The session is built
// with the engine as its events sink, hence the late binding.
func (e *Engine) Bind(sig Signaling) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sig = sig
}

func (e *Engine) signaling() (Signaling, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sig == nil {
		return nil, errNoSignaling
	}
	return e.sig, nil
}

func (e *Engine) PublisherReady(handle domain.HandleID) {
	e.post(func() {
		if err := e.publish(handle); err != nil {
			log.Error().Err(err).Str("module", "rtc").Stringer("handle_id", handle).Msg("publish failed")
			e.drop(handle)
		}
	})
}

func (e *Engine) RemoteAnswerRequest(handle domain.HandleID, desc webrtc.SessionDescription) {
	e.post(func() {
		conn, ok := e.conn(handle)
		if !ok {
			log.Warn().Str("module", "rtc").Stringer("handle_id", handle).Msg("answer for unknown connection")
			return
		}
		if err := conn.ApplyAnswer(desc); err != nil {
			log.Error().Err(err).Str("module", "rtc").Stringer("handle_id", handle).Msg("apply answer")
		}
	})
}

func (e *Engine) RemoteOfferAvailable(handle domain.HandleID, desc webrtc.SessionDescription) {
	e.post(func() {
		if err := e.subscribe(handle, desc); err != nil {
			log.Error().Err(err).Str("module", "rtc").Stringer("handle_id", handle).Msg("subscribe failed")
			e.drop(handle)
		}
	})
}

func (e *Engine) ParticipantLeft(handle domain.HandleID) {
	e.post(func() { e.drop(handle) })
}

// ProtocolError ends all media once the session cannot go on.
func (e *Engine) ProtocolError(err *core.ProtocolError) {
	switch err.Kind {
	case core.KindTransportFailure, core.KindRoomNotFound:
		log.Error().Err(err).Str("module", "rtc").Msg("session lost, closing media")
		e.post(e.CloseAll)
	default:
		log.Warn().Err(err).Str("module", "rtc").Msg("protocol error")
	}
}

func (e *Engine) publish(handle domain.HandleID) error {
	sig, err := e.signaling()
	if err != nil {
		return err
	}
	conn, err := e.open(handle, domain.KindPublisher, sig)
	if err != nil {
		return err
	}

	// Nothing captures media here: the track only gives the offer an audio
	// section so the room accepts the publisher.
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "roomctl")
	if err != nil {
		return err
	}
	if _, err := conn.AddLocalTrack(audio); err != nil {
		return err
	}

	offer, err := conn.CreateOffer()
	if err != nil {
		return err
	}
	return sig.PublishLocalDescription(handle, offer)
}

func (e *Engine) subscribe(handle domain.HandleID, offer webrtc.SessionDescription) error {
	sig, err := e.signaling()
	if err != nil {
		return err
	}
	conn, ok := e.conn(handle)
	if !ok {
		if conn, err = e.open(handle, domain.KindSubscriber, sig); err != nil {
			return err
		}
	}
	answer, err := conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		return err
	}
	return sig.AnswerSubscription(handle, answer)
}

func (e *Engine) open(handle domain.HandleID, kind domain.HandleKind, sig Signaling) (*Connection, error) {
	conn, err := NewConnection(e.cfg, handle, kind)
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("module", "rtc").Stringer("handle_id", handle).Logger()

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if err := sig.SendIceCandidate(handle, ci); err != nil {
			logger.Warn().Err(err).Msg("trickle failed")
		}
	})
	conn.OnICEGatheringDone(func() {
		if err := sig.CompleteIceCandidates(handle); err != nil {
			logger.Warn().Err(err).Msg("trickle completed failed")
		}
	})
	conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		st := e.addTrack(handle, track.ID(), track.Kind().String())
		trackLogger := logger.With().Str("track_id", track.ID()).Logger()
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			if err := conn.RequestKeyframe(track); err != nil {
				trackLogger.Warn().Err(err).Msg("keyframe request failed")
			}
		}
		go drain(ctx, track, st, &trackLogger)
	})
	conn.OnClosed(func() {
		logger.Info().Msg("peer connection ended")
	})
	conn.Start(e.ctx)

	e.mu.Lock()
	old := e.conns[handle]
	e.conns[handle] = conn
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return conn, nil
}

func (e *Engine) addTrack(handle domain.HandleID, id, kind string) *TrackStats {
	st := &TrackStats{Handle: handle, TrackID: id, Kind: kind}
	e.mu.Lock()
	defer e.mu.Unlock()
	key := trackKey{handle, id}
	if old, ok := e.tracks[key]; ok {
		old.MarkEnded()
	}
	e.tracks[key] = st
	return st
}

func (e *Engine) conn(handle domain.HandleID) (*Connection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conns[handle]
	return c, ok
}

func (e *Engine) drop(handle domain.HandleID) {
	e.mu.Lock()
	conn, ok := e.conns[handle]
	delete(e.conns, handle)
	for key, st := range e.tracks {
		if key.handle == handle {
			st.MarkEnded()
			delete(e.tracks, key)
		}
	}
	e.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// post queues fn behind every event posted before it. The worker goroutine
// lives only while the queue is non-empty.
func (e *Engine) post(fn func()) {
	e.wg.Add(1)
	e.qmu.Lock()
	e.queue.PushBack(fn)
	start := !e.running
	e.running = true
	e.qmu.Unlock()
	if start {
		go e.work()
	}
}

func (e *Engine) work() {
	for {
		e.qmu.Lock()
		if e.queue.Len() == 0 {
			e.running = false
			e.qmu.Unlock()
			return
		}
		fn := e.queue.PopFront()
		e.qmu.Unlock()
		fn()
		e.wg.Done()
	}
}

// Wait blocks until every event posted so far has been handled.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) Connections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// Tracks lists the remote tracks being drained, ordered by handle then track id.
func (e *Engine) Tracks() []TrackStatsDTO {
	e.mu.Lock()
	out := make([]TrackStatsDTO, 0, len(e.tracks))
	for _, st := range e.tracks {
		out = append(out, st.DTO())
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Handle != out[j].Handle {
			return out[i].Handle < out[j].Handle
		}
		return out[i].TrackID < out[j].TrackID
	})
	return out
}

func (e *Engine) CloseAll() {
	e.mu.Lock()
	conns := e.conns
	e.conns = make(map[domain.HandleID]*Connection)
	for _, st := range e.tracks {
		st.MarkEnded()
	}
	e.tracks = make(map[trackKey]*TrackStats)
	e.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
