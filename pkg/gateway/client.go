package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xiaozhch5/openclaw/internal/tracing"
	"github.com/xiaozhch5/openclaw/pkg/runner"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// client is one connected gateway consumer.
type client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger zerolog.Logger

	send      chan responseFrame
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newClient(id string, conn *websocket.Conn, server *Server, logger zerolog.Logger) *client {
	return &client{
		id:     id,
		conn:   conn,
		server: server,
		logger: logger.With().Str("client_id", id).Logger(),
		send:   make(chan responseFrame, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
	c.close()
	c.wg.Wait()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue delivers a frame to the write pump, blocking until accepted or
// the connection is gone.
func (c *client) enqueue(frame responseFrame) {
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

// tryEnqueue drops the frame when the write pump is backed up. Partials are
// best-effort; the final payload never goes through here.
func (c *client) tryEnqueue(frame responseFrame) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.logger.Debug().Str("type", frame.Type).Msg("Dropping frame for slow client")
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed, closing client")
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("Client read error")
			}
			return
		}

		if err := validateRequest(c.server.schema, raw); err != nil {
			c.enqueue(responseFrame{Type: frameError, Error: err.Error()})
			continue
		}

		var frame requestFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.enqueue(responseFrame{Type: frameError, Error: "malformed request"})
			continue
		}

		c.dispatch(frame)
	}
}

func (c *client) dispatch(frame requestFrame) {
	switch frame.Type {
	case framePing:
		c.enqueue(responseFrame{Type: frameOK, ID: frame.ID})
	case frameRun:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleRun(frame)
		}()
	case frameMessage:
		c.handleMessage(frame)
	case frameAbort:
		c.handleAbort(frame)
	}
}

func (c *client) handleRun(frame requestFrame) {
	ctx := tracing.NewRequestContext(context.Background())

	params := runner.RunParams{
		SessionID:  frame.SessionID,
		SessionKey: frame.SessionKey,
		Prompt:     frame.Prompt,
		Provider:   frame.Provider,
		Model:      frame.Model,
		TimeoutMs:  frame.TimeoutMs,
		Verbose:    frame.Verbose,
		Observers: runner.Observers{
			OnPartialReply: func(text string) {
				c.tryEnqueue(responseFrame{Type: framePartial, ID: frame.ID, Text: text})
			},
			OnBlockReply: func(text string) {
				c.enqueue(responseFrame{Type: frameBlock, ID: frame.ID, Text: text})
			},
			OnToolResult: func(res runner.ToolResultReply) error {
				c.enqueue(responseFrame{
					Type:      frameTool,
					ID:        frame.ID,
					Tool:      res.ToolName,
					Meta:      res.Meta,
					Text:      res.Text,
					MediaURLs: res.MediaURLs,
				})
				return nil
			},
			OnToolNotice: func(tool string, metas []string) {
				c.tryEnqueue(responseFrame{
					Type:      frameTool,
					ID:        frame.ID,
					Tool:      tool,
					MediaURLs: nil,
					Meta:      lastMeta(metas),
				})
			},
		},
	}

	payload, err := c.server.runner.Run(ctx, params)
	if err != nil {
		c.enqueue(responseFrame{Type: frameError, ID: frame.ID, Error: err.Error()})
		return
	}
	c.enqueue(responseFrame{Type: frameReply, ID: frame.ID, Payload: payload})
}

func (c *client) handleMessage(frame requestFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	if err := c.server.runner.QueueMessage(ctx, frame.SessionID, frame.Text); err != nil {
		c.enqueue(responseFrame{Type: frameError, ID: frame.ID, Error: err.Error()})
		return
	}
	c.enqueue(responseFrame{Type: frameOK, ID: frame.ID})
}

func (c *client) handleAbort(frame requestFrame) {
	if !c.server.runner.Abort(frame.SessionID) {
		c.enqueue(responseFrame{Type: frameError, ID: frame.ID, Error: runner.ErrNoActiveRun.Error()})
		return
	}
	c.enqueue(responseFrame{Type: frameOK, ID: frame.ID})
}

func lastMeta(metas []string) string {
	for i := len(metas) - 1; i >= 0; i-- {
		if metas[i] != "" {
			return metas[i]
		}
	}
	return ""
}
