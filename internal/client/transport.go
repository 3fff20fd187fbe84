package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/types"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrSessionClosed is returned by a Session used after Close.
var ErrSessionClosed = errors.New("client: session closed")

// Dialer opens realtime sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one open realtime connection. Receive is called from a single
// goroutine; Send and Close may be called concurrently with it.
type Session interface {
	Send(ctx context.Context, ev types.Event) error
	Receive(ctx context.Context) (types.Event, error)
	Close() error
}

// realtimeURL builds the /realtime endpoint for a server base URL, switching
// the scheme to ws(s) when push is true.
func realtimeURL(baseURL string, push bool) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if push {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		}
	}
	u.Path += "/realtime"
	return u.String(), nil
}

// WebSocketDialer opens push sessions.
type WebSocketDialer struct {
	ServerURL  string
	HTTPClient *http.Client
	ReadLimit  int64
}

func (d WebSocketDialer) Dial(ctx context.Context) (Session, error) {
	target, err := realtimeURL(d.ServerURL, true)
	if err != nil {
		return nil, err
	}
	ws, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, decodeError(resp)
		}
		return nil, apperrors.TransportError(err, "websocket dial failed")
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	return &wsSession{ws: ws}, nil
}

type wsSession struct {
	ws *websocket.Conn
}

func (s *wsSession) Send(ctx context.Context, ev types.Event) error {
	return wsjson.Write(ctx, s.ws, ev)
}

func (s *wsSession) Receive(ctx context.Context) (types.Event, error) {
	var ev types.Event
	err := wsjson.Read(ctx, s.ws, &ev)
	return ev, err
}

func (s *wsSession) Close() error {
	return s.ws.Close(websocket.StatusNormalClosure, "client disconnect")
}

// PollingDialer opens long-polling sessions.
type PollingDialer struct {
	ServerURL  string
	HTTPClient *http.Client
}

func (d PollingDialer) Dial(ctx context.Context) (Session, error) {
	target, err := realtimeURL(d.ServerURL, false)
	if err != nil {
		return nil, err
	}
	httpClient := d.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target+"?transport=polling", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, apperrors.TransportError(err, "polling handshake failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var hs types.PollingHandshake
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return nil, fmt.Errorf("failed to decode handshake: %w", err)
	}

	s := &pollingSession{
		httpClient: httpClient,
		endpoint:   target,
		sid:        hs.SessionID,
		done:       make(chan struct{}),
	}
	return s, nil
}

// pollingSession turns repeated long-polls into a stream of events.
type pollingSession struct {
	httpClient *http.Client
	endpoint   string
	sid        string

	pending []types.Event

	closeOnce sync.Once
	done      chan struct{}
}

func (s *pollingSession) query() string {
	return "?transport=polling&sid=" + url.QueryEscape(s.sid)
}

func (s *pollingSession) Send(ctx context.Context, ev types.Event) error {
	body, err := json.Marshal([]types.Event{ev})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+s.query(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.TransportError(err, "polling send failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	return nil
}

func (s *pollingSession) Receive(ctx context.Context) (types.Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for len(s.pending) == 0 {
		if err := s.poll(ctx); err != nil {
			select {
			case <-s.done:
				return types.Event{}, ErrSessionClosed
			default:
			}
			return types.Event{}, err
		}
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func (s *pollingSession) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+s.query(), nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.TransportError(err, "long-poll failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	var out types.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode poll response: %w", err)
	}
	s.pending = append(s.pending, out.Events...)
	return nil
}

func (s *pollingSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, s.endpoint+"?sid="+url.QueryEscape(s.sid), nil)
		if reqErr != nil {
			err = reqErr
			return
		}
		resp, doErr := s.httpClient.Do(req)
		if doErr != nil {
			err = doErr
			return
		}
		resp.Body.Close()
	})
	return err
}
