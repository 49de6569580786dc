package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scout/internal/agent"
	scouterrors "scout/internal/errors"
	"scout/internal/logging"
	"scout/internal/session"
	"scout/internal/tools"
)

const outboundQueueSize = 256

// conn is one WebSocket client. A connection can drive several sessions over
// its lifetime; outbound frames from all of them are serialised through one
// writer goroutine.
type conn struct {
	server *Server
	ws     *websocket.Conn
	logger logging.Logger

	outbound  chan Outbound
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	sessionID string
}

func newConn(server *Server, ws *websocket.Conn) *conn {
	return &conn{
		server:   server,
		ws:       ws,
		logger:   logging.NewComponentLogger("ChannelConn"),
		outbound: make(chan Outbound, outboundQueueSize),
		closed:   make(chan struct{}),
	}
}

// run pumps the connection until the client disconnects.
func (c *conn) run(ctx context.Context) {
	c.server.metrics.Connections.Inc()
	defer c.server.metrics.Connections.Dec()
	go c.writePump()
	c.readPump(ctx)
	c.close()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
		if sessionID := c.boundSession(); sessionID != "" {
			c.server.unbind(sessionID, c)
			// A client that vanished mid-turn should not keep the model busy.
			c.server.runner.Stop(sessionID)
		}
	})
}

func (c *conn) boundSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *conn) bindSession(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	c.server.bind(sessionID, c)
}

// send queues one frame, blocking for backpressure. Frames after close are
// dropped.
func (c *conn) send(frame Outbound) {
	select {
	case c.outbound <- frame:
	case <-c.closed:
		c.server.metrics.FramesDropped.Inc()
	}
}

func (c *conn) writePump() {
	for {
		select {
		case frame := <-c.outbound:
			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.Debug("Write failed, closing connection: %v", err)
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *conn) readPump(ctx context.Context) {
	for {
		var frame Inbound
		if err := c.ws.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Read ended: %v", err)
			}
			return
		}
		switch frame.Type {
		case MsgAgentChat:
			c.handleChat(ctx, frame)
		case MsgToolResult:
			c.handleToolResult(frame)
		case MsgStop:
			c.handleStop()
		case MsgPing:
			c.send(Outbound{Type: MsgPong, Timestamp: time.Now().UnixMilli()})
		default:
			c.send(Outbound{Type: MsgError, ErrorCode: "UNKNOWN_MESSAGE",
				ErrorMessage: "unsupported message type: " + frame.Type})
		}
	}
}

func (c *conn) handleChat(ctx context.Context, frame Inbound) {
	if frame.ProjectKey == "" {
		c.send(Outbound{Type: MsgError, ErrorCode: "INVALID_REQUEST",
			ErrorMessage: "projectKey is required"})
		return
	}
	sess, err := c.server.sessions.GetOrCreate(frame.SessionID, frame.ProjectKey)
	if err != nil {
		c.send(Outbound{Type: MsgError, ErrorCode: "INVALID_REQUEST", ErrorMessage: err.Error()})
		return
	}
	c.bindSession(sess.ID)
	c.send(Outbound{Type: MsgAgentResponse, SessionID: sess.ID, Status: StatusProcessing})

	go c.runTurn(ctx, sess.ID, frame)
}

// runTurn drives one interactive turn. Incremental part updates go out as
// PROCESSING frames; exactly one terminal frame follows.
func (c *conn) runTurn(ctx context.Context, sessionID string, frame Inbound) {
	started := time.Now()
	message, err := c.server.runner.Process(ctx, agent.Request{
		SessionID:   sessionID,
		ProjectKey:  frame.ProjectKey,
		ProjectRoot: frame.ProjectPath,
		UserInput:   frame.Message,
	}, func(part *session.Part) {
		c.emitPart(sessionID, part)
	})
	c.server.metrics.TurnDuration.Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		content := ""
		if terminal := message.TerminalPart(); terminal != nil {
			content = terminal.Text
		}
		c.server.metrics.Turns.WithLabelValues("completed").Inc()
		c.send(Outbound{Type: MsgAgentResponse, SessionID: sessionID,
			Status: StatusCompleted, Content: content})
	case scouterrors.IsKind(err, scouterrors.KindCancelled):
		c.server.metrics.Turns.WithLabelValues("cancelled").Inc()
		c.send(Outbound{Type: MsgAgentResponse, SessionID: sessionID,
			Status: StatusCancelled, Content: "turn cancelled"})
	case scouterrors.IsKind(err, scouterrors.KindSessionBusy):
		c.server.metrics.Turns.WithLabelValues("rejected").Inc()
		c.send(Outbound{Type: MsgError, ErrorCode: "SESSION_BUSY", ErrorMessage: err.Error()})
	default:
		c.server.metrics.Turns.WithLabelValues("failed").Inc()
		c.send(Outbound{Type: MsgAgentResponse, SessionID: sessionID,
			Status: StatusFailed, Content: err.Error()})
	}
}

// emitPart maps part emissions onto PROCESSING frames. Reasoning stays
// internal and the user's own text is not echoed back.
func (c *conn) emitPart(sessionID string, part *session.Part) {
	switch part.Type {
	case session.PartText:
		c.send(Outbound{Type: MsgAgentResponse, SessionID: sessionID,
			Status: StatusProcessing, Content: part.Text})
	case session.PartTool:
		c.send(Outbound{Type: MsgAgentResponse, SessionID: sessionID,
			Status: StatusProcessing, Process: part.ToolName, Stage: string(part.State)})
	}
}

func (c *conn) handleToolResult(frame Inbound) {
	honoured := c.server.dispatcher.Pending().Resolve(tools.RemoteReply{
		CallID:        frame.CallID,
		Success:       frame.Success,
		Result:        frame.Result,
		ExecutionTime: frame.ExecutionTime,
		Error:         frame.Error,
	})
	if honoured {
		c.server.metrics.ToolCalls.WithLabelValues("resolved").Inc()
	} else {
		c.server.metrics.ToolCalls.WithLabelValues("rejected").Inc()
	}
}

func (c *conn) handleStop() {
	sessionID := c.boundSession()
	if sessionID == "" {
		c.send(Outbound{Type: MsgError, ErrorCode: "NO_SESSION",
			ErrorMessage: "no active session on this connection"})
		return
	}
	c.server.runner.Stop(sessionID)
	c.send(Outbound{Type: MsgStopped, SessionID: sessionID, Message: "turn cancelled"})
}
