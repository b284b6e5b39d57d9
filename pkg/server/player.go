package server

import (
	"encoding/base64"
	"errors"
	"log"

	"github.com/crystal-arcade/gamestore/pkg/cred"
	"github.com/crystal-arcade/gamestore/pkg/events"
	"github.com/crystal-arcade/gamestore/pkg/presence"
	"github.com/crystal-arcade/gamestore/pkg/room"
	"github.com/crystal-arcade/gamestore/pkg/supervise"
	"github.com/crystal-arcade/gamestore/pkg/wire"
)

// recentReviewLimit caps the review list embedded in get_game_info; the full
// list is available through get_reviews.
const recentReviewLimit = 10

// preLoginPlayerActions may be called before login so storefront browsing
// works anonymously.
var preLoginPlayerActions = map[string]bool{
	"register": true, "login": true,
	"list_games": true, "get_game_info": true,
}

// playerSession runs the request loop for one lobby connection. Reads carry
// the configured receive deadline; a player that goes silent is torn down
// like a disconnect, which frees their seat and presence entry.
func (s *Server) playerSession(conn *wire.Conn) {
	addr := conn.RemoteAddr()
	log.Printf("[Lobby] Connected from %s", addr)

	var player string
	defer func() {
		if player != "" {
			if dep, ok := s.rooms.AutoLeave(player); ok {
				log.Printf("[Lobby] %s auto-left %s (disbanded=%v)", player, dep.RoomID, dep.Disbanded)
			}
			s.presence.Logout(player)
			s.bus.Emit(events.Event{Type: events.EvPlayerLogout, Player: player})
		}
		log.Printf("[Lobby] Disconnected from %s", addr)
	}()

	for {
		req, err := conn.ReadRequest(s.conf.PlayerReadTimeout())
		if err != nil {
			if wire.IsTimeout(err) {
				log.Printf("[Lobby] %s timed out", addr)
			}
			return
		}
		s.countRequest(endpointLobby, req.Action)
		resp := s.playerDispatch(&player, req)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) playerDispatch(player *string, req wire.Request) wire.Response {
	if !playerActions[req.Action] {
		if developerActions[req.Action] {
			return wire.Err("Developer actions are served on the developer port")
		}
		return wire.Err("Unknown action: %s", req.Action)
	}
	if *player == "" && !preLoginPlayerActions[req.Action] {
		return wire.Err("Please login first")
	}

	switch req.Action {
	case "register":
		return s.playerRegister(req.Data)
	case "login":
		return s.playerLogin(player, req.Data)
	case "list_games":
		games := s.catalog.ListActive()
		return wire.OK("", map[string]interface{}{"games": games, "count": len(games)})
	case "get_game_info":
		return s.gameInfo(req.Data)
	case "download_game":
		return s.downloadGame(*player, req.Data)
	case "submit_review":
		return s.submitReview(*player, req.Data)
	case "get_reviews":
		return s.getReviews(req.Data)
	case "create_room":
		return s.createRoom(*player, req.Data)
	case "list_rooms":
		return s.listRooms(req.Data)
	case "join_room":
		return s.joinRoom(*player, req.Data)
	case "leave_room":
		return s.leaveRoom(*player, req.Data)
	case "get_room_status":
		return s.roomStatus(*player, req.Data)
	case "start_game":
		return s.startGame(*player, req.Data)
	case "reset_room":
		return s.resetRoom(*player, req.Data)
	case "list_online_players":
		players := s.presence.List()
		return wire.OK("", map[string]interface{}{"players": players, "count": len(players)})
	}
	return wire.Err("Unknown action: %s", req.Action)
}

func (s *Server) playerRegister(data []byte) wire.Response {
	var c credentials
	if err := wire.DecodeData(data, &c); err != nil || c.Username == "" || c.Password == "" {
		return wire.Err("Missing username or password")
	}
	switch err := s.creds.CreatePrincipal(cred.Player, c.Username, c.Password); {
	case err == nil:
		return wire.OK("Player registered", nil)
	case errors.Is(err, cred.ErrExists):
		return wire.Err("Player already exists")
	default:
		log.Printf("[Lobby] Register failed for %q: %v", c.Username, err)
		return wire.Err("Registration failed")
	}
}

func (s *Server) playerLogin(player *string, data []byte) wire.Response {
	var c credentials
	if err := wire.DecodeData(data, &c); err != nil || c.Username == "" || c.Password == "" {
		return wire.Err("Missing username or password")
	}
	switch err := s.creds.VerifyCredentials(cred.Player, c.Username, c.Password); {
	case err == nil:
	case errors.Is(err, cred.ErrNotFound):
		return wire.Err("Player not found")
	case errors.Is(err, cred.ErrWrongPassword):
		return wire.Err("Wrong password")
	default:
		log.Printf("[Lobby] Login failed for %q: %v", c.Username, err)
		return wire.Err("Login failed")
	}

	// One live session per account. The credential check passed; presence is
	// the arbiter for duplicates.
	if err := s.presence.Login(c.Username); err != nil {
		if errors.Is(err, presence.ErrAlreadyOnline) {
			return wire.Err("Player already logged in elsewhere")
		}
		return wire.Err("Login failed")
	}
	*player = c.Username
	log.Printf("[Lobby] %s logged in", c.Username)
	s.bus.Emit(events.Event{Type: events.EvPlayerLogin, Player: c.Username})
	return wire.OK("Login success", map[string]string{"username": c.Username})
}

func (s *Server) gameInfo(data []byte) wire.Response {
	var d struct {
		GameName string `json:"game_name"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.GameName == "" {
		return wire.Err("Missing game_name")
	}
	game, reviews, err := s.catalog.GetInfo(d.GameName, recentReviewLimit)
	if err != nil {
		return catalogError(err)
	}
	return wire.OK("", map[string]interface{}{
		"game":           game,
		"recent_reviews": reviews,
	})
}

func (s *Server) downloadGame(player string, data []byte) wire.Response {
	var d struct {
		GameName string `json:"game_name"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.GameName == "" {
		return wire.Err("Missing game_name")
	}
	res, err := s.catalog.PackageBundle(player, d.GameName)
	if err != nil {
		return catalogError(err)
	}

	log.Printf("[Lobby] %s downloaded %s v%s", player, res.Name, res.Version)
	s.bus.Emit(events.Event{Type: events.EvGameDownloaded, Player: player, Game: res.Name, Detail: res.Version})
	return wire.OK("", map[string]interface{}{
		"game_name": res.Name,
		"version":   res.Version,
		"game_data": base64.StdEncoding.EncodeToString(res.Bundle),
		"config":    res.Config,
	})
}

func (s *Server) submitReview(player string, data []byte) wire.Response {
	var d struct {
		GameName string `json:"game_name"`
		Rating   int    `json:"rating"`
		Comment  string `json:"comment"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.GameName == "" {
		return wire.Err("Missing game_name")
	}
	replaced, err := s.catalog.SubmitReview(player, d.GameName, d.Rating, d.Comment)
	if err != nil {
		return catalogError(err)
	}
	s.bus.Emit(events.Event{Type: events.EvReviewSubmitted, Player: player, Game: d.GameName})
	if replaced {
		return wire.OK("Review updated", nil)
	}
	return wire.OK("Review submitted", nil)
}

func (s *Server) getReviews(data []byte) wire.Response {
	var d struct {
		GameName string `json:"game_name"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.GameName == "" {
		return wire.Err("Missing game_name")
	}
	reviews, avg, err := s.catalog.GetReviews(d.GameName)
	if err != nil {
		return catalogError(err)
	}
	return wire.OK("", map[string]interface{}{
		"reviews":        reviews,
		"average_rating": avg,
		"count":          len(reviews),
	})
}

func (s *Server) createRoom(player string, data []byte) wire.Response {
	var d struct {
		GameName string `json:"game_name"`
		Version  string `json:"version"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.GameName == "" {
		return wire.Err("Missing game_name")
	}
	r, err := s.rooms.Create(player, d.GameName, d.Version)
	if err != nil {
		return roomError(err)
	}
	return wire.OK("Room created", s.roomPayload(r))
}

func (s *Server) listRooms(data []byte) wire.Response {
	var d struct {
		GameName string `json:"game_name"`
	}
	wire.DecodeData(data, &d)
	rooms := s.rooms.List(d.GameName)
	return wire.OK("", map[string]interface{}{"rooms": rooms, "count": len(rooms)})
}

func (s *Server) joinRoom(player string, data []byte) wire.Response {
	var d struct {
		RoomID  string `json:"room_id"`
		Version string `json:"version"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.RoomID == "" {
		return wire.Err("Missing room_id")
	}
	r, err := s.rooms.Join(player, d.RoomID, d.Version)
	if err != nil {
		return roomError(err)
	}
	return wire.OK("Joined room", s.roomPayload(r))
}

func (s *Server) leaveRoom(player string, data []byte) wire.Response {
	var d struct {
		RoomID string `json:"room_id"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.RoomID == "" {
		return wire.Err("Missing room_id")
	}
	dep, err := s.rooms.Leave(player, d.RoomID)
	if err != nil {
		return roomError(err)
	}
	if dep.Disbanded {
		return wire.OK("Room disbanded", map[string]interface{}{"disbanded": true})
	}
	return wire.OK("Left room", map[string]interface{}{"disbanded": false})
}

func (s *Server) roomStatus(player string, data []byte) wire.Response {
	var d struct {
		RoomID string `json:"room_id"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.RoomID == "" {
		return wire.Err("Missing room_id")
	}
	r, err := s.rooms.Get(d.RoomID)
	if err != nil {
		return roomError(err)
	}
	if !memberOf(r, player) {
		return wire.Err("You are not in this room")
	}
	return wire.OK("", s.roomPayload(r))
}

func (s *Server) startGame(player string, data []byte) wire.Response {
	var d struct {
		RoomID string `json:"room_id"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.RoomID == "" {
		return wire.Err("Missing room_id")
	}
	r, err := s.rooms.StartGame(player, d.RoomID)
	if err != nil {
		return roomError(err)
	}
	return wire.OK("Game started", s.roomPayload(r))
}

func (s *Server) resetRoom(player string, data []byte) wire.Response {
	var d struct {
		RoomID string `json:"room_id"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.RoomID == "" {
		return wire.Err("Missing room_id")
	}
	r, err := s.rooms.Reset(player, d.RoomID)
	if err != nil {
		return roomError(err)
	}
	return wire.OK("Room reset", s.roomPayload(r))
}

// roomPayload wraps a room snapshot for the wire. Playing rooms carry the
// game's launch config so members can start their clients from the room
// state alone.
func (s *Server) roomPayload(r room.Room) map[string]interface{} {
	out := map[string]interface{}{"room": r}
	if r.Status == room.StatusPlaying {
		if g, err := s.catalog.Get(r.Game); err == nil {
			out["config"] = g.Config
		}
	}
	return out
}

func memberOf(r room.Room, player string) bool {
	for _, p := range r.Players {
		if p == player {
			return true
		}
	}
	return false
}

// roomError maps registry sentinels to wire messages. Catalog errors can
// surface here too (create_room and start_game consult the catalog).
func roomError(err error) wire.Response {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return wire.Err("Room not found")
	case errors.Is(err, room.ErrRoomFull):
		return wire.Err("Room is full")
	case errors.Is(err, room.ErrRoomPlaying):
		return wire.Err("Game already in progress")
	case errors.Is(err, room.ErrNotHost):
		return wire.Err("Only the host may do that")
	case errors.Is(err, room.ErrAlreadyInRoom):
		return wire.Err("You are already in a room")
	case errors.Is(err, room.ErrNotInRoom):
		return wire.Err("You are not in this room")
	case errors.Is(err, room.ErrVersionMismatch):
		return wire.Err("Game version mismatch; re-download the game")
	case errors.Is(err, room.ErrNeedMorePlayers):
		return wire.Err("Need at least 2 players to start")
	case errors.Is(err, supervise.ErrSpawnFailed):
		return wire.Err("Game server failed to start")
	default:
		return catalogError(err)
	}
}
