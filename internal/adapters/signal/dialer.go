// Package signal opens the gateway websocket the signaling channel runs on.
package signal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/janus"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Dialer struct {
	HandshakeTimeout time.Duration
	// ReadLimit caps a single inbound message; zero keeps gorilla's default.
	ReadLimit int64
	Header    http.Header
}

func NewDialer(handshakeTimeout time.Duration, readLimit int64) *Dialer {
	return &Dialer{HandshakeTimeout: handshakeTimeout, ReadLimit: readLimit}
}

// Dial connects to address with the janus-protocol subprotocol.
func (d *Dialer) Dial(ctx context.Context, address string) (core.Conn, error) {
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		Subprotocols:     []string{janus.Subprotocol},
	}

	ws, resp, err := wd.DialContext(ctx, address, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws dial %s: %w (status %d)", address, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws dial %s: %w", address, err)
	}
	if ws.Subprotocol() != janus.Subprotocol {
		log.Warn().Str("module", "signal").Str("address", address).Str("subprotocol", ws.Subprotocol()).Msg("server did not accept subprotocol")
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}

	log.Info().Str("module", "signal").Str("address", address).Msg("ws connected")
	return ws, nil
}
