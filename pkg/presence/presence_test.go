package presence

import (
	"errors"
	"testing"

	"github.com/crystal-arcade/gamestore/pkg/room"
)

// fakeRooms maps players to seats and seats to room snapshots.
type fakeRooms struct {
	seats map[string]string
	rooms map[string]room.Room
}

func (f *fakeRooms) RoomOf(player string) (string, bool) {
	id, ok := f.seats[player]
	return id, ok
}

func (f *fakeRooms) Get(roomID string) (room.Room, error) {
	r, ok := f.rooms[roomID]
	if !ok {
		return room.Room{}, room.ErrRoomNotFound
	}
	return r, nil
}

func TestSingleLogin(t *testing.T) {
	tab := NewTable(nil)

	if err := tab.Login("alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := tab.Login("alice"); !errors.Is(err, ErrAlreadyOnline) {
		t.Errorf("expected ErrAlreadyOnline, got %v", err)
	}

	tab.Logout("alice")
	if err := tab.Login("alice"); err != nil {
		t.Errorf("relogin after logout: %v", err)
	}
}

func TestLogoutUnknownIsNoop(t *testing.T) {
	tab := NewTable(nil)
	tab.Logout("ghost")
	if tab.Count() != 0 {
		t.Errorf("expected empty table, got %d", tab.Count())
	}
}

func TestListDerivesStatusAndSorts(t *testing.T) {
	rooms := &fakeRooms{
		seats: map[string]string{
			"carol": "ROOM_0001",
			"dave":  "ROOM_0002",
			"erin":  "ROOM_0002",
		},
		rooms: map[string]room.Room{
			"ROOM_0001": {ID: "ROOM_0001", Game: "battle", Host: "carol", Status: room.StatusWaiting},
			"ROOM_0002": {ID: "ROOM_0002", Game: "battle", Host: "dave", Status: room.StatusPlaying},
		},
	}
	tab := NewTable(rooms)
	for _, name := range []string{"alice", "bob", "carol", "dave", "erin"} {
		if err := tab.Login(name); err != nil {
			t.Fatalf("login %s: %v", name, err)
		}
	}

	list := tab.List()
	if len(list) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(list))
	}

	// playing first (dave, erin), then in_room (carol), then idle (alice, bob).
	wantOrder := []string{"dave", "erin", "carol", "alice", "bob"}
	for i, want := range wantOrder {
		if list[i].Name != want {
			t.Fatalf("row %d: expected %s, got %s", i, want, list[i].Name)
		}
	}

	if list[0].Status != StatusPlaying || !list[0].IsHost || list[0].RoomID != "ROOM_0002" {
		t.Errorf("unexpected dave row %+v", list[0])
	}
	if list[1].IsHost {
		t.Error("erin is not a host")
	}
	if list[2].Status != StatusInRoom || list[2].Game != "battle" {
		t.Errorf("unexpected carol row %+v", list[2])
	}
	if list[3].Status != StatusIdle || list[3].RoomID != "" {
		t.Errorf("unexpected alice row %+v", list[3])
	}
}

func TestListSkipsVanishedRoom(t *testing.T) {
	// Seat exists but the room was destroyed before the lookup.
	rooms := &fakeRooms{
		seats: map[string]string{"alice": "ROOM_0009"},
		rooms: map[string]room.Room{},
	}
	tab := NewTable(rooms)
	tab.Login("alice")

	list := tab.List()
	if len(list) != 1 || list[0].Status != StatusIdle {
		t.Errorf("expected idle fallback, got %+v", list)
	}
}
