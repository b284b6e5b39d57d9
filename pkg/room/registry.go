// Package room tracks multiplayer rooms and their supervised game servers.
// The registry is the single authority for room membership: a player is in
// at most one room, the host's departure disbands the room, and every
// catalog-driven teardown flows through the cascade here.
package room

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/crystal-arcade/gamestore/pkg/catalog"
	"github.com/crystal-arcade/gamestore/pkg/events"
)

// Room status values as they appear on the wire.
const (
	StatusWaiting = "waiting"
	StatusPlaying = "playing"
)

var (
	ErrRoomNotFound    = errors.New("room: not found")
	ErrRoomFull        = errors.New("room: full")
	ErrRoomPlaying     = errors.New("room: game already in progress")
	ErrNotHost         = errors.New("room: only the host may do that")
	ErrAlreadyInRoom   = errors.New("room: player is already in a room")
	ErrNotInRoom       = errors.New("room: player is not in the room")
	ErrVersionMismatch = errors.New("room: game version mismatch")
	ErrNeedMorePlayers = errors.New("room: need at least 2 players to start")
)

// ServerProcess is the registry's view of a supervised game server.
type ServerProcess interface {
	Alive() bool
	PID() int
	Port() int
}

// Supervisor launches and stops game-server subprocesses for rooms.
type Supervisor interface {
	Spawn(roomID, command, workDir string, playerCount int) (ServerProcess, error)
	Stop(p ServerProcess)
}

// GameSource is the slice of the catalog the registry needs.
type GameSource interface {
	Get(name string) (catalog.Game, error)
	VersionDir(name, version string) string
}

// Room is one lobby. Snapshots handed out of the registry are copies; the
// live struct is only touched under the registry mutex.
type Room struct {
	ID          string   `json:"room_id"`
	Game        string   `json:"game_name"`
	GameVersion string   `json:"game_version"`
	Host        string   `json:"host"`
	Players     []string `json:"players"`
	MaxPlayers  int      `json:"max_players"`
	Status      string   `json:"status"`
	CreatedAt   float64  `json:"created_at"`
	ServerPort  int      `json:"server_port,omitempty"`
	ServerPID   int      `json:"server_pid,omitempty"`

	proc ServerProcess
}

// Full reports whether the room is at capacity.
func (r *Room) Full() bool {
	return len(r.Players) >= r.MaxPlayers
}

// Departure describes the outcome of a player leaving a room.
type Departure struct {
	RoomID    string
	Disbanded bool
	Remaining []string
}

// DroppedRoom summarizes one room destroyed by a catalog cascade.
type DroppedRoom struct {
	RoomID  string   `json:"room_id"`
	Players []string `json:"players"`
	Status  string   `json:"status"`
}

// Registry owns all rooms. Lock ordering is catalog before registry; the
// registry never calls back into the catalog while holding its own mutex
// except through GameSource reads, which take the catalog lock briefly and
// never reach back here.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	byPlayer map[string]string
	nextID   int

	games GameSource
	sup   Supervisor
	bus   *events.Bus
}

// NewRegistry creates an empty registry. bus may be nil.
func NewRegistry(games GameSource, sup Supervisor, bus *events.Bus) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		byPlayer: make(map[string]string),
		games:    games,
		sup:      sup,
		bus:      bus,
	}
}

func (reg *Registry) emit(ev events.Event) {
	if reg.bus != nil {
		reg.bus.Emit(ev)
	}
}

// snapshot copies a room for handing outside the mutex.
func snapshot(r *Room) Room {
	cp := *r
	cp.Players = make([]string, len(r.Players))
	copy(cp.Players, r.Players)
	cp.proc = nil
	return cp
}

// Create opens a new room hosted by player. The client's downloaded version
// must match the catalog's current version, so a stale download is rejected
// before anyone waits in a lobby that can never start.
func (reg *Registry) Create(host, gameName, clientVersion string) (Room, error) {
	game, err := reg.games.Get(gameName)
	if err != nil {
		return Room{}, err
	}
	if clientVersion != game.Version {
		return Room{}, fmt.Errorf("%w: have %s, current is %s", ErrVersionMismatch, clientVersion, game.Version)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if id, ok := reg.byPlayer[host]; ok {
		return Room{}, fmt.Errorf("%w (%s)", ErrAlreadyInRoom, id)
	}

	reg.nextID++
	room := &Room{
		ID:          fmt.Sprintf("ROOM_%04d", reg.nextID),
		Game:        gameName,
		GameVersion: game.Version,
		Host:        host,
		Players:     []string{host},
		MaxPlayers:  game.MaxPlayers,
		Status:      StatusWaiting,
		CreatedAt:   float64(time.Now().UnixNano()) / 1e9,
	}
	reg.rooms[room.ID] = room
	reg.byPlayer[host] = room.ID

	reg.emit(events.Event{Type: events.EvRoomCreated, Player: host, Game: gameName, Room: room.ID})
	return snapshot(room), nil
}

// Join adds player to a waiting room. The same version guard as Create
// applies, using the version the room was created against.
func (reg *Registry) Join(player, roomID, clientVersion string) (Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	reg.reconcileLocked(room)

	if id, ok := reg.byPlayer[player]; ok {
		return Room{}, fmt.Errorf("%w (%s)", ErrAlreadyInRoom, id)
	}
	if room.Status != StatusWaiting {
		return Room{}, ErrRoomPlaying
	}
	if room.Full() {
		return Room{}, ErrRoomFull
	}
	if clientVersion != room.GameVersion {
		return Room{}, fmt.Errorf("%w: have %s, room runs %s", ErrVersionMismatch, clientVersion, room.GameVersion)
	}

	room.Players = append(room.Players, player)
	reg.byPlayer[player] = roomID
	return snapshot(room), nil
}

// Leave removes player from roomID. A departing host disbands the room,
// stopping any live game server.
func (reg *Registry) Leave(player, roomID string) (Departure, error) {
	reg.mu.Lock()

	room, ok := reg.rooms[roomID]
	if !ok {
		reg.mu.Unlock()
		return Departure{}, ErrRoomNotFound
	}
	if reg.byPlayer[player] != roomID {
		reg.mu.Unlock()
		return Departure{}, ErrNotInRoom
	}

	if player == room.Host {
		proc := reg.destroyLocked(room)
		reg.mu.Unlock()
		if proc != nil {
			reg.sup.Stop(proc)
		}
		reg.emit(events.Event{Type: events.EvRoomDestroyed, Player: player, Game: room.Game, Room: roomID, Detail: "host left"})
		return Departure{RoomID: roomID, Disbanded: true}, nil
	}

	room.Players = remove(room.Players, player)
	delete(reg.byPlayer, player)
	remaining := make([]string, len(room.Players))
	copy(remaining, room.Players)
	reg.mu.Unlock()

	return Departure{RoomID: roomID, Remaining: remaining}, nil
}

// AutoLeave runs the departure path for a disconnecting player, if they are
// in a room. Returns the departure and true when one happened.
func (reg *Registry) AutoLeave(player string) (Departure, bool) {
	reg.mu.Lock()
	roomID, ok := reg.byPlayer[player]
	reg.mu.Unlock()
	if !ok {
		return Departure{}, false
	}
	dep, err := reg.Leave(player, roomID)
	if err != nil {
		return Departure{}, false
	}
	return dep, true
}

// Get returns a snapshot of one room, reconciling a playing room whose
// server has already exited back to waiting first.
func (reg *Registry) Get(roomID string) (Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	reg.reconcileLocked(room)
	return snapshot(room), nil
}

// RoomOf returns the id of the room player currently occupies.
func (reg *Registry) RoomOf(player string) (string, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	id, ok := reg.byPlayer[player]
	return id, ok
}

// List returns snapshots of every room for a game (or all rooms when game
// is empty), oldest first.
func (reg *Registry) List(game string) []Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		if game != "" && room.Game != game {
			continue
		}
		reg.reconcileLocked(room)
		out = append(out, snapshot(room))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartGame launches the room's game server. Host only, waiting rooms with
// at least two members only. Games without a server command run purely on
// the clients; the room still transitions to playing but no process is
// spawned. Returns the updated snapshot; ServerPort is where players
// connect when a server was launched.
func (reg *Registry) StartGame(player, roomID string) (Room, error) {
	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if !ok {
		reg.mu.Unlock()
		return Room{}, ErrRoomNotFound
	}
	reg.reconcileLocked(room)
	if room.Host != player {
		reg.mu.Unlock()
		return Room{}, ErrNotHost
	}
	if room.Status != StatusWaiting {
		reg.mu.Unlock()
		return Room{}, ErrRoomPlaying
	}
	if len(room.Players) < 2 {
		reg.mu.Unlock()
		return Room{}, ErrNeedMorePlayers
	}
	gameName, version, players := room.Game, room.GameVersion, len(room.Players)
	reg.mu.Unlock()

	game, err := reg.games.Get(gameName)
	if err != nil {
		return Room{}, err
	}

	if game.Config.ServerCommand == "" {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		room, ok = reg.rooms[roomID]
		if !ok {
			return Room{}, ErrRoomNotFound
		}
		if room.Status != StatusWaiting {
			return Room{}, ErrRoomPlaying
		}
		room.Status = StatusPlaying
		return snapshot(room), nil
	}

	// Spawn outside the mutex: the grace window would otherwise stall every
	// room operation for half a second.
	proc, err := reg.sup.Spawn(roomID, game.Config.ServerCommand, reg.games.VersionDir(gameName, version), players)
	if err != nil {
		return Room{}, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok = reg.rooms[roomID]
	if !ok || room.Status != StatusWaiting {
		// The room disbanded (or raced another start) while we were spawning.
		go reg.sup.Stop(proc)
		if !ok {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, ErrRoomPlaying
	}
	room.Status = StatusPlaying
	room.ServerPort = proc.Port()
	room.ServerPID = proc.PID()
	room.proc = proc

	reg.emit(events.Event{Type: events.EvGameServerStarted, Player: player, Game: gameName, Room: roomID,
		Detail: fmt.Sprintf("port %d pid %d", proc.Port(), proc.PID())})
	return snapshot(room), nil
}

// Reset puts a room back to waiting. Host only; a live game server is
// stopped and its exit callback then finds the room already reset.
func (reg *Registry) Reset(player, roomID string) (Room, error) {
	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if !ok {
		reg.mu.Unlock()
		return Room{}, ErrRoomNotFound
	}
	if room.Host != player {
		reg.mu.Unlock()
		return Room{}, ErrNotHost
	}
	var proc ServerProcess
	if room.proc != nil && room.proc.Alive() {
		proc = room.proc
	}
	reg.resetLocked(room)
	snap := snapshot(room)
	reg.mu.Unlock()

	if proc != nil {
		reg.sup.Stop(proc)
	}
	return snap, nil
}

// OnGameServerExit is the supervision callback: the room, if it still
// exists and is still playing, goes back to waiting so the lobby can start
// again.
func (reg *Registry) OnGameServerExit(roomID string, exitCode int) {
	reg.mu.Lock()
	room, ok := reg.rooms[roomID]
	if !ok || room.Status != StatusPlaying {
		reg.mu.Unlock()
		return
	}
	log.Printf("[Room] game server for %s exited (code %d), room back to waiting", roomID, exitCode)
	reg.resetLocked(room)
	game := room.Game
	reg.mu.Unlock()

	reg.emit(events.Event{Type: events.EvGameServerExited, Game: game, Room: roomID,
		Detail: fmt.Sprintf("exit code %d", exitCode)})
}

// CascadeDropByGame destroys every room for a game, stopping live servers,
// and returns a summary per dropped room. Called after catalog update or
// removal commits.
func (reg *Registry) CascadeDropByGame(game string) []DroppedRoom {
	reg.mu.Lock()
	var dropped []DroppedRoom
	var procs []ServerProcess
	for _, room := range reg.rooms {
		if room.Game != game {
			continue
		}
		players := make([]string, len(room.Players))
		copy(players, room.Players)
		dropped = append(dropped, DroppedRoom{RoomID: room.ID, Players: players, Status: room.Status})
		if proc := reg.destroyLocked(room); proc != nil {
			procs = append(procs, proc)
		}
	}
	reg.mu.Unlock()

	for _, p := range procs {
		reg.sup.Stop(p)
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].RoomID < dropped[j].RoomID })
	for _, d := range dropped {
		reg.emit(events.Event{Type: events.EvRoomDestroyed, Game: game, Room: d.RoomID, Detail: "game updated or removed"})
	}
	return dropped
}

// reconcileLocked folds a dead game server back into the room state. The
// exit callback normally does this; the check here covers reads that race
// it. Pure-client rooms have no process and stay playing until reset.
func (reg *Registry) reconcileLocked(room *Room) {
	if room.Status == StatusPlaying && room.proc != nil && !room.proc.Alive() {
		reg.resetLocked(room)
	}
}

func (reg *Registry) resetLocked(room *Room) {
	room.Status = StatusWaiting
	room.ServerPort = 0
	room.ServerPID = 0
	room.proc = nil
}

// destroyLocked unlinks the room and its members and returns the live
// process, if any, for the caller to stop outside the mutex.
func (reg *Registry) destroyLocked(room *Room) ServerProcess {
	for _, p := range room.Players {
		if reg.byPlayer[p] == room.ID {
			delete(reg.byPlayer, p)
		}
	}
	delete(reg.rooms, room.ID)
	if room.proc != nil && room.proc.Alive() {
		return room.proc
	}
	return nil
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
