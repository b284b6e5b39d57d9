package server

import (
	"encoding/base64"
	"errors"
	"log"

	"github.com/crystal-arcade/gamestore/pkg/catalog"
	"github.com/crystal-arcade/gamestore/pkg/cred"
	"github.com/crystal-arcade/gamestore/pkg/events"
	"github.com/crystal-arcade/gamestore/pkg/room"
	"github.com/crystal-arcade/gamestore/pkg/wire"
)

// credentials is the payload for register/login on both endpoints.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// uploadData is the upload_game payload. GameData is base64 over the
// compressed archive bytes; the server never inspects the archive format.
type uploadData struct {
	GameName    string         `json:"game_name"`
	GameType    string         `json:"game_type"`
	Description string         `json:"description"`
	MaxPlayers  int            `json:"max_players"`
	Version     string         `json:"version"`
	GameData    string         `json:"game_data"`
	Config      catalog.Config `json:"config"`
}

// updateData is the update_game payload.
type updateData struct {
	GameName    string `json:"game_name"`
	Version     string `json:"version"`
	GameData    string `json:"game_data"`
	UpdateNotes string `json:"update_notes"`
}

var developerActions = map[string]bool{
	"register": true, "login": true,
	"upload_game": true, "update_game": true, "remove_game": true,
	"list_my_games": true,
}

var playerActions = map[string]bool{
	"register": true, "login": true,
	"list_games": true, "get_game_info": true, "download_game": true,
	"submit_review": true, "get_reviews": true,
	"create_room": true, "list_rooms": true, "join_room": true,
	"leave_room": true, "get_room_status": true, "start_game": true,
	"reset_room": true, "list_online_players": true,
}

// developerSession runs the request loop for one developer connection.
// Developer reads carry no deadline; publishing sessions are long-lived and
// mostly idle.
func (s *Server) developerSession(conn *wire.Conn) {
	addr := conn.RemoteAddr()
	log.Printf("[Developer] Connected from %s", addr)

	var developer string // empty until login
	defer log.Printf("[Developer] Disconnected from %s", addr)

	for {
		req, err := conn.ReadRequest(0)
		if err != nil {
			return
		}
		s.countRequest(endpointDeveloper, req.Action)
		resp := s.developerDispatch(&developer, req)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) developerDispatch(developer *string, req wire.Request) wire.Response {
	if !developerActions[req.Action] {
		if playerActions[req.Action] {
			return wire.Err("Player actions are served on the lobby port")
		}
		return wire.Err("Unknown action: %s", req.Action)
	}

	switch req.Action {
	case "register":
		return s.developerRegister(req.Data)
	case "login":
		return s.developerLogin(developer, req.Data)
	}

	if *developer == "" {
		return wire.Err("Please login first")
	}

	switch req.Action {
	case "upload_game":
		return s.uploadGame(*developer, req.Data)
	case "update_game":
		return s.updateGame(*developer, req.Data)
	case "remove_game":
		return s.removeGame(*developer, req.Data)
	case "list_my_games":
		games := s.catalog.ListByDeveloper(*developer)
		return wire.OK("", map[string]interface{}{"games": games, "count": len(games)})
	}
	return wire.Err("Unknown action: %s", req.Action)
}

func (s *Server) developerRegister(data []byte) wire.Response {
	var c credentials
	if err := wire.DecodeData(data, &c); err != nil || c.Username == "" || c.Password == "" {
		return wire.Err("Missing username or password")
	}
	switch err := s.creds.CreatePrincipal(cred.Developer, c.Username, c.Password); {
	case err == nil:
		return wire.OK("Developer registered", nil)
	case errors.Is(err, cred.ErrExists):
		return wire.Err("Developer already exists")
	default:
		log.Printf("[Developer] Register failed for %q: %v", c.Username, err)
		return wire.Err("Registration failed")
	}
}

func (s *Server) developerLogin(developer *string, data []byte) wire.Response {
	var c credentials
	if err := wire.DecodeData(data, &c); err != nil || c.Username == "" || c.Password == "" {
		return wire.Err("Missing username or password")
	}
	switch err := s.creds.VerifyCredentials(cred.Developer, c.Username, c.Password); {
	case err == nil:
		*developer = c.Username
		log.Printf("[Developer] %s logged in", c.Username)
		return wire.OK("Login success", map[string]string{"username": c.Username})
	case errors.Is(err, cred.ErrNotFound):
		return wire.Err("Developer not found")
	case errors.Is(err, cred.ErrWrongPassword):
		return wire.Err("Wrong password")
	default:
		log.Printf("[Developer] Login failed for %q: %v", c.Username, err)
		return wire.Err("Login failed")
	}
}

func (s *Server) uploadGame(developer string, data []byte) wire.Response {
	var d uploadData
	if err := wire.DecodeData(data, &d); err != nil {
		return wire.Err("Invalid JSON")
	}
	blob, err := base64.StdEncoding.DecodeString(d.GameData)
	if err != nil {
		return wire.Err("game_data is not valid base64")
	}

	game, err := s.catalog.Upload(developer, catalog.UploadParams{
		Name:        d.GameName,
		Kind:        d.GameType,
		Description: d.Description,
		MaxPlayers:  d.MaxPlayers,
		Version:     d.Version,
		Bundle:      blob,
		Config:      d.Config,
	})
	if err != nil {
		return catalogError(err)
	}

	log.Printf("[Developer] %s uploaded %s v%s", developer, game.Name, game.Version)
	s.bus.Emit(events.Event{Type: events.EvGameUploaded, Player: developer, Game: game.Name, Detail: game.Version})
	return wire.OK("Game uploaded", map[string]interface{}{
		"game_id":   game.GameID,
		"game_name": game.Name,
		"version":   game.Version,
	})
}

func (s *Server) updateGame(developer string, data []byte) wire.Response {
	var d updateData
	if err := wire.DecodeData(data, &d); err != nil {
		return wire.Err("Invalid JSON")
	}
	blob, err := base64.StdEncoding.DecodeString(d.GameData)
	if err != nil {
		return wire.Err("game_data is not valid base64")
	}

	game, err := s.catalog.Update(developer, d.GameName, d.Version, blob, d.UpdateNotes)
	if err != nil {
		return catalogError(err)
	}

	// The catalog lock is released; rooms on the old version are torn down
	// now (catalog before rooms, always).
	dropped := s.rooms.CascadeDropByGame(game.Name)

	log.Printf("[Developer] %s updated %s to v%s (%d rooms dropped)",
		developer, game.Name, game.Version, len(dropped))
	s.bus.Emit(events.Event{Type: events.EvGameUpdated, Player: developer, Game: game.Name, Detail: game.Version})
	return wire.OK("Game updated", map[string]interface{}{
		"game_name":      game.Name,
		"version":        game.Version,
		"affected_rooms": droppedPayload(dropped),
	})
}

func (s *Server) removeGame(developer string, data []byte) wire.Response {
	var d struct {
		GameName string `json:"game_name"`
	}
	if err := wire.DecodeData(data, &d); err != nil || d.GameName == "" {
		return wire.Err("Missing game_name")
	}

	if err := s.catalog.Remove(developer, d.GameName); err != nil {
		return catalogError(err)
	}
	dropped := s.rooms.CascadeDropByGame(d.GameName)

	log.Printf("[Developer] %s removed %s (%d rooms dropped)", developer, d.GameName, len(dropped))
	s.bus.Emit(events.Event{Type: events.EvGameRemoved, Player: developer, Game: d.GameName})
	return wire.OK("Game removed", map[string]interface{}{
		"game_name":      d.GameName,
		"affected_rooms": droppedPayload(dropped),
	})
}

// droppedPayload keeps affected_rooms an empty list rather than null.
func droppedPayload(dropped []room.DroppedRoom) []room.DroppedRoom {
	if dropped == nil {
		return []room.DroppedRoom{}
	}
	return dropped
}

// catalogError maps catalog sentinels to wire messages.
func catalogError(err error) wire.Response {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return wire.Err("Game not found")
	case errors.Is(err, catalog.ErrExists):
		return wire.Err("Game already exists")
	case errors.Is(err, catalog.ErrNotOwner):
		return wire.Err("Permission denied: you do not own this game")
	case errors.Is(err, catalog.ErrInactive):
		return wire.Err("Game is not available")
	case errors.Is(err, catalog.ErrNotDownloaded):
		return wire.Err("You must download the game before reviewing it")
	case errors.Is(err, catalog.ErrRatingOutOfRange):
		return wire.Err("Rating must be between 1 and 5")
	case catalog.IsConfigError(err):
		return wire.Err("%s", err.Error())
	default:
		log.Printf("[Store] Catalog error: %v", err)
		return wire.Err("Internal error")
	}
}
