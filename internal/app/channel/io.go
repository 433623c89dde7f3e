package channel

import (
	"time"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/janus"
	"github.com/gorilla/websocket"
	"github.com/lucsky/cuid"
)

func (c *Channel) writePump() {
	for {
		data, ok := <-c.send
		if !ok {
			c.log.Debug().Msg("writePump channel closed")
			return
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
			c.log.Error().Err(err).Msg("writePump set deadline")
			c.fail(err)
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.log.Error().Err(err).Msg("writePump write error")
			c.fail(err)
			return
		}
	}
}

// readPump only moves frames into the mailbox; decoding happens on the
// dispatch goroutine.
func (c *Channel) readPump() {
	var readErr error
	defer func() {
		c.log.Info().Stringer("session_id", c.SessionID()).Msg("readPump closing")
		c.teardown(readErr)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		c.enqueue(func() { c.handleFrame(data) })
	}
}

// teardown runs once the socket is gone. The keep-alive loop is stopped before
// anything is cleared; the registries are cleared by the last mailbox entry so
// frames read before the close are still dispatched.
func (c *Channel) teardown(readErr error) {
	requested := c.State() >= StateClosing
	c.stopKeepAlive()
	c.keepAliveWG.Wait()
	_ = c.conn.Close()

	c.sendMu.Lock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
	c.sendMu.Unlock()

	cause := c.failure()
	if cause == nil {
		cause = readErr
	}
	if requested {
		c.log.Info().Err(cause).Msg("socket closed")
	} else {
		c.log.Error().Err(cause).Msg("socket lost")
	}

	c.mbMu.Lock()
	c.mbStopped = true
	c.mailbox.PushBack(func() {
		if !requested {
			c.report(core.NewProtocolError(core.KindTransportFailure, "socket closed", cause))
		}
		c.tx.Close()
		c.handles.Close()
		clear(c.pendingFeeds)
		c.state.Store(int32(StateClosed))
		c.log.Info().Stringer("session_id", c.SessionID()).Msg("channel closed")
	})
	c.mbMu.Unlock()
	c.signal()
}

// enqueue schedules fn on the dispatch goroutine. Work arriving after teardown
// is dropped.
func (c *Channel) enqueue(fn func()) {
	c.mbMu.Lock()
	if c.mbStopped {
		c.mbMu.Unlock()
		return
	}
	c.mailbox.PushBack(fn)
	c.mbMu.Unlock()
	c.signal()
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) dispatchLoop() {
	defer close(c.done)
	for {
		fn, ok := c.next()
		if !ok {
			return
		}
		fn()
	}
}

func (c *Channel) next() (func(), bool) {
	for {
		c.mbMu.Lock()
		if c.mailbox.Len() > 0 {
			fn := c.mailbox.PopFront()
			c.mbMu.Unlock()
			return fn, true
		}
		stopped := c.mbStopped
		c.mbMu.Unlock()
		if stopped {
			return nil, false
		}
		<-c.wake
	}
}

func (c *Channel) startKeepAlive() {
	c.keepAliveMu.Lock()
	defer c.keepAliveMu.Unlock()
	if c.keepAliveStopped {
		return
	}
	c.keepAliveWG.Add(1)
	go c.keepAliveLoop()
}

func (c *Channel) stopKeepAlive() {
	c.keepAliveMu.Lock()
	defer c.keepAliveMu.Unlock()
	if c.keepAliveStopped {
		return
	}
	c.keepAliveStopped = true
	close(c.keepAliveStop)
}

// keepAliveLoop pings the session on a fixed interval. Keep-alives are never
// registered as transactions.
func (c *Channel) keepAliveLoop() {
	defer c.keepAliveWG.Done()
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.keepAliveStop:
			c.log.Debug().Msg("keepalive stopped")
			return
		case <-ticker.C:
			if err := c.sendRequest(janus.KeepAlive(cuid.New(), c.SessionID())); err != nil {
				c.log.Warn().Err(err).Msg("keepalive not sent")
			}
		}
	}
}
