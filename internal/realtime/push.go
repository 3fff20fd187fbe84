package realtime

import (
	"context"
	"time"

	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// PushConfig tunes the websocket transport.
type PushConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

func (c PushConfig) withDefaults() PushConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32 << 10
	}
	return c
}

// PushTransport moves events between a websocket and a gateway connection.
// Close only records the reason; Serve flushes the queued events and then
// closes the socket.
type PushTransport struct {
	ws  *websocket.Conn
	cfg PushConfig
	log *zap.SugaredLogger
}

var _ Handle = (*PushTransport)(nil)

func NewPushTransport(ws *websocket.Conn, cfg PushConfig) *PushTransport {
	cfg = cfg.withDefaults()
	ws.SetReadLimit(cfg.ReadLimit)
	return &PushTransport{
		ws:  ws,
		cfg: cfg,
		log: logger.GetLogger().Named("push_transport"),
	}
}

// Close is a no-op: the gateway closes the outbound channel and Serve picks
// the close status from the connection's close reason.
func (t *PushTransport) Close(string) error { return nil }

// Reject closes a socket that never made it into the gateway.
func (t *PushTransport) Reject(code websocket.StatusCode, reason string) {
	if err := t.ws.Close(code, reason); err != nil {
		t.log.Debugw("Error closing rejected websocket", "error", err)
	}
}

// Serve blocks until the connection ends, whichever side ends it.
func (t *PushTransport) Serve(ctx context.Context, g *Gateway, conn *Connection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	pingErr := make(chan error, 1)
	writeDone := make(chan error, 1)
	go func() { readErr <- t.readLoop(ctx, g, conn) }()
	go func() { pingErr <- t.pingLoop(ctx, g, conn) }()
	go func() { writeDone <- t.writeLoop(ctx, conn) }()

	var err error
	writerFinished := false
	select {
	case err = <-readErr:
	case err = <-pingErr:
	case err = <-writeDone:
		writerFinished = true
	}

	if !conn.IsClosed() {
		reason := ReasonTransport
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			reason = ReasonClientClose
		default:
			t.log.Debugw("Websocket loop ended", "connectionID", conn.ID(), "error", err)
		}
		g.HandleDisconnect(conn.ID(), reason)
	}

	// Let the writer flush what was queued before the outbound channel closed,
	// such as a final auth_error.
	if !writerFinished {
		select {
		case <-writeDone:
		case <-time.After(t.cfg.WriteTimeout):
		}
	}
	cancel()

	reason := conn.CloseReason()
	if err := t.ws.Close(closeStatus(reason), reason); err != nil {
		t.log.Debugw("Websocket close", "connectionID", conn.ID(), "error", err)
	}
}

func (t *PushTransport) readLoop(ctx context.Context, g *Gateway, conn *Connection) error {
	for {
		var ev types.Event
		if err := wsjson.Read(ctx, t.ws, &ev); err != nil {
			return err
		}
		if err := g.HandleEvent(ctx, conn.ID(), ev); err != nil && conn.IsClosed() {
			return err
		}
	}
}

func (t *PushTransport) writeLoop(ctx context.Context, conn *Connection) error {
	for {
		select {
		case ev, ok := <-conn.Outbound():
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, t.cfg.WriteTimeout)
			err := wsjson.Write(writeCtx, t.ws, ev)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop keeps the socket alive. An answered ping is client activity, so a
// listen-only client is not evicted as idle.
func (t *PushTransport) pingLoop(ctx context.Context, g *Gateway, conn *Connection) error {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, t.cfg.WriteTimeout)
			err := t.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
			g.Touch(conn.ID())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func closeStatus(reason string) websocket.StatusCode {
	switch reason {
	case ReasonProtocolError, ReasonAuthTimeout:
		return websocket.StatusPolicyViolation
	case ReasonShutdown:
		return websocket.StatusGoingAway
	case ReasonTransport:
		return websocket.StatusInternalError
	default:
		return websocket.StatusNormalClosure
	}
}
