package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestPushTransport_AnsweredPingsKeepListenerAlive(t *testing.T) {
	g, clk := newTestGateway(t, Options{IdleTimeout: 30 * time.Minute})

	accepted := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		transport := NewPushTransport(ws, PushConfig{PingInterval: 10 * time.Millisecond, WriteTimeout: time.Second})
		conn, err := g.Accept(r.Context(), transport, AcceptOptions{OwnerID: "u1", Transport: types.TransportPush})
		if err != nil {
			transport.Reject(websocket.StatusTryAgainLater, err.Error())
			return
		}
		accepted <- conn
		transport.Serve(r.Context(), g, conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close(websocket.StatusNormalClosure, "")

	// The client only listens; reading is what answers the server's pings.
	go func() {
		for {
			var ev types.Event
			if err := wsjson.Read(ctx, client, &ev); err != nil {
				return
			}
		}
	}()

	var conn *Connection
	select {
	case conn = <-accepted:
	case <-ctx.Done():
		t.Fatal("connection was not accepted")
	}

	clk.Advance(31 * time.Minute)
	require.Eventually(t, func() bool {
		return conn.LastActivity().Equal(clk.Now())
	}, 2*time.Second, 10*time.Millisecond, "an answered ping should count as activity")

	assert.Equal(t, 0, g.Sweep(clk.Now()))
	assert.False(t, conn.IsClosed())
	assert.Equal(t, 1, g.Count())
}
