package types

import (
	"encoding/json"
	"time"
)

// Transport identifies how a realtime connection exchanges events.
type Transport string

const (
	TransportPolling Transport = "polling"
	TransportPush    Transport = "push"
)

// Realtime event names.
const (
	EventNotification   = "notification"
	EventConnectSuccess = "connect_success"
	EventPong           = "pong"
	EventAuthSuccess    = "auth_success"
	EventAuthError      = "auth_error"

	// Client to server.
	EventPing         = "ping"
	EventAuthenticate = "authenticate"
)

// Event is the envelope exchanged on every realtime transport.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals payload into an Event. A nil payload yields no data.
func NewEvent(name string, payload interface{}) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: data}, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

type ConnectSuccessPayload struct {
	ConnectionID string    `json:"connectionId"`
	OwnerID      string    `json:"ownerId"`
	Transport    Transport `json:"transport"`
}

type PongPayload struct {
	ServerTime time.Time `json:"serverTime"`
}

type AuthSuccessPayload struct {
	OwnerID string `json:"ownerId"`
}

type AuthErrorPayload struct {
	Message string `json:"message"`
}

// AuthenticatePayload is sent by clients that did not authenticate at connect time.
type AuthenticatePayload struct {
	OwnerID string `json:"ownerId,omitempty"`
	Token   string `json:"token,omitempty"`
}

// PollingHandshake is returned when a polling session opens.
type PollingHandshake struct {
	SessionID    string `json:"sid"`
	PollWaitMs   int64  `json:"pollWaitMs"`
	PingInterval int64  `json:"pingIntervalMs"`
}

// PollResponse carries the events drained by one long-poll.
type PollResponse struct {
	Events []Event `json:"events"`
}
