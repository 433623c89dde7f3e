package rtc

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateEnded
)

func (s TrackState) String() string {
	if s == TrackStateEnded {
		return "ended"
	}
	return "live"
}

// TrackStats counts what arrived on one remote track.
type TrackStats struct {
	Handle  domain.HandleID
	TrackID string
	Kind    string

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
	state   atomic.Int32 // Zero by default (TrackStateLive)
}

type TrackStatsDTO struct {
	Handle  domain.HandleID `json:"handle_id"`
	TrackID string          `json:"track_id"`
	Kind    string          `json:"kind"`
	State   string          `json:"state"`
	Packets uint64          `json:"packets"`
	Bytes   uint64          `json:"bytes"`
	LastSeq uint16          `json:"last_seq"`
}

func (s *TrackStats) record(pkt *rtp.Packet) {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	s.lastSeq.Store(uint32(pkt.SequenceNumber))
}

func (s *TrackStats) GetState() TrackState {
	return TrackState(s.state.Load())
}

func (s *TrackStats) MarkEnded() {
	s.state.Store(int32(TrackStateEnded))
}

func (s *TrackStats) DTO() TrackStatsDTO {
	return TrackStatsDTO{
		Handle:  s.Handle,
		TrackID: s.TrackID,
		Kind:    s.Kind,
		State:   s.GetState().String(),
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		LastSeq: uint16(s.lastSeq.Load()),
	}
}

// drain reads RTP packets from a remote track until it ends. Nothing renders
// the media; the packets are only counted.
func drain(ctx context.Context, track *webrtc.TrackRemote, st *TrackStats, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("track ctx done")
			st.MarkEnded()
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("track read RTP stopped")
			st.MarkEnded()
			return
		}
		st.record(pkt)
	}
}
