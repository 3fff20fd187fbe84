package realtime

import (
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"go.uber.org/zap"
)

// Publisher fans an event out to an owner's live connections.
type Publisher interface {
	Publish(ownerID, eventName string, payload interface{}) int
}

// Dispatcher delivers events to the members of a user room. Delivery is
// at-most-once: members that join later, are closing or have a full buffer
// miss the event and catch up through polling.
type Dispatcher struct {
	rooms   *Rooms
	log     *zap.SugaredLogger
	metrics *gatewayMetrics
}

var _ Publisher = (*Dispatcher)(nil)

func NewDispatcher(rooms *Rooms) *Dispatcher {
	return &Dispatcher{
		rooms:   rooms,
		log:     logger.GetLogger().Named("dispatcher"),
		metrics: newGatewayMetrics(),
	}
}

// Publish returns the number of connections the event was queued on. ownerID
// must already be canonical.
func (d *Dispatcher) Publish(ownerID, eventName string, payload interface{}) int {
	members := d.rooms.Members(UserRoom(ownerID))
	if len(members) == 0 {
		d.metrics.published.WithLabelValues(eventName, "no_members").Inc()
		return 0
	}

	ev, err := types.NewEvent(eventName, payload)
	if err != nil {
		d.log.Errorw("Failed to encode event", "event", eventName, "ownerID", ownerID, "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range members {
		if conn.enqueue(ev) {
			delivered++
			continue
		}
		d.metrics.published.WithLabelValues(eventName, "dropped").Inc()
		d.log.Warnw("Dropped event for connection", "connectionID", conn.ID(), "ownerID", ownerID, "event", eventName)
	}
	d.metrics.published.WithLabelValues(eventName, "delivered").Add(float64(delivered))
	return delivered
}
