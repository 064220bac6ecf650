package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// readPump pumps frames from the connection to the handler. It runs the
// handler inline, so frames from one client are processed in order.
func (c *Client) readPump() {
	defer func() {
		c.registry.disconnect(c)
		c.conn.Close()
		c.registry.pumps.Done()
	}()

	opts := c.registry.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.logger.Debug("Rate limit exceeded, dropping frame")
			c.registry.metrics.Dropped("rate_limited")
			continue
		}

		c.registry.Touch(c.id)
		if h := c.registry.currentHandler(); h != nil {
			h.HandleMessage(c.id, data)
		}
	}
}

// writePump pumps queued frames to the connection, one JSON object per
// frame, and keeps the peer alive with pings.
func (c *Client) writePump() {
	opts := c.registry.opts
	ticker := time.NewTicker(opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.registry.pumps.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				// The registry closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
