// Package presence tracks which players are online and enforces single
// login per account. The table holds names only; room placement is derived
// on demand so presence never duplicates the registry's state.
package presence

import (
	"errors"
	"sort"
	"sync"

	"github.com/crystal-arcade/gamestore/pkg/room"
)

// ErrAlreadyOnline means the account has a live session elsewhere.
var ErrAlreadyOnline = errors.New("presence: player already logged in")

// Player status values as they appear on the wire.
const (
	StatusIdle    = "idle"
	StatusInRoom  = "in_room"
	StatusPlaying = "playing"
)

// RoomLookup is the slice of the room registry presence needs.
type RoomLookup interface {
	RoomOf(player string) (string, bool)
	Get(roomID string) (room.Room, error)
}

// PlayerStatus is one row of the online-players listing.
type PlayerStatus struct {
	Name   string `json:"player_name"`
	Status string `json:"status"`
	RoomID string `json:"room_id,omitempty"`
	Game   string `json:"game_name,omitempty"`
	IsHost bool   `json:"is_host,omitempty"`
}

// Table is the online-player set.
type Table struct {
	mu     sync.Mutex
	online map[string]struct{}
	rooms  RoomLookup
}

// NewTable creates an empty table. rooms may be nil; statuses then always
// derive as idle.
func NewTable(rooms RoomLookup) *Table {
	return &Table{online: make(map[string]struct{}), rooms: rooms}
}

// Login claims the account for this session.
func (t *Table) Login(player string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.online[player]; ok {
		return ErrAlreadyOnline
	}
	t.online[player] = struct{}{}
	return nil
}

// Logout releases the account. Unknown names are a no-op.
func (t *Table) Logout(player string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.online, player)
}

// Online reports whether the account has a live session.
func (t *Table) Online(player string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[player]
	return ok
}

// Count returns the number of online players.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.online)
}

// List derives a status row per online player, sorted playing first, then
// in_room, then idle, names alphabetical within a group.
func (t *Table) List() []PlayerStatus {
	t.mu.Lock()
	names := make([]string, 0, len(t.online))
	for name := range t.online {
		names = append(names, name)
	}
	t.mu.Unlock()

	out := make([]PlayerStatus, 0, len(names))
	for _, name := range names {
		out = append(out, t.statusOf(name))
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := statusRank(out[i].Status), statusRank(out[j].Status)
		if ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (t *Table) statusOf(name string) PlayerStatus {
	ps := PlayerStatus{Name: name, Status: StatusIdle}
	if t.rooms == nil {
		return ps
	}
	id, ok := t.rooms.RoomOf(name)
	if !ok {
		return ps
	}
	r, err := t.rooms.Get(id)
	if err != nil {
		// Room vanished between the two lookups.
		return ps
	}
	ps.RoomID = r.ID
	ps.Game = r.Game
	ps.IsHost = r.Host == name
	if r.Status == room.StatusPlaying {
		ps.Status = StatusPlaying
	} else {
		ps.Status = StatusInRoom
	}
	return ps
}

func statusRank(s string) int {
	switch s {
	case StatusPlaying:
		return 0
	case StatusInRoom:
		return 1
	}
	return 2
}
