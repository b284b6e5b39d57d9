package server

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/crystal-arcade/gamestore/pkg/events"
)

func TestActivityLoggerFollowsLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	l := newActivityLogger(bus)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	bus.Emit(events.Event{Type: events.EvRoomCreated, Player: "alice", Game: "tic", Room: "ROOM_0001"})
	bus.Emit(events.Event{Type: events.EvGameServerExited, Room: "ROOM_0001", Detail: "exit code 0"})
	bus.Emit(events.Event{Type: events.EvPlayerLogin, Player: "alice"})

	out := buf.String()
	if !strings.Contains(out, "room_created player=alice game=tic room=ROOM_0001") {
		t.Errorf("room_created line missing: %q", out)
	}
	if !strings.Contains(out, "game_server_exited room=ROOM_0001 (exit code 0)") {
		t.Errorf("exit line missing: %q", out)
	}
	// Session events are not activity; the endpoints log those themselves.
	if strings.Contains(out, "player_login") {
		t.Errorf("unexpected session event in activity log: %q", out)
	}

	l.close()
	buf.Reset()
	bus.Emit(events.Event{Type: events.EvRoomDestroyed, Room: "ROOM_0001"})
	if strings.Contains(buf.String(), "room_destroyed") {
		t.Errorf("closed logger still wrote: %q", buf.String())
	}
}
