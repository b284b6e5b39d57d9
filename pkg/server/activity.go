package server

import (
	"log"
	"sync/atomic"

	"github.com/crystal-arcade/gamestore/pkg/events"
)

// activityTypes are the catalog and room lifecycle events that get a log
// line of their own. Session traffic is already logged by the endpoints.
var activityTypes = []events.EventType{
	events.EvGameUploaded,
	events.EvGameUpdated,
	events.EvGameRemoved,
	events.EvRoomCreated,
	events.EvRoomDestroyed,
	events.EvGameServerStarted,
	events.EvGameServerExited,
}

// activityLogger subscribes per event type and writes one line per event.
type activityLogger struct {
	closed atomic.Bool
}

func newActivityLogger(bus *events.Bus) *activityLogger {
	l := &activityLogger{}
	for _, t := range activityTypes {
		bus.Subscribe(t, l)
	}
	return l
}

// Receive implements events.Subscriber.
func (l *activityLogger) Receive(ev events.Event) {
	line := ev.Type.String()
	if ev.Player != "" {
		line += " player=" + ev.Player
	}
	if ev.Game != "" {
		line += " game=" + ev.Game
	}
	if ev.Room != "" {
		line += " room=" + ev.Room
	}
	if ev.Detail != "" {
		line += " (" + ev.Detail + ")"
	}
	log.Printf("[Activity] %s", line)
}

// Closed implements events.Subscriber.
func (l *activityLogger) Closed() bool { return l.closed.Load() }

func (l *activityLogger) close() { l.closed.Store(true) }
