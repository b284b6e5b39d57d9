// Package events is a small pub/sub bus for store lifecycle events. Session
// handlers and the supervisor emit structured events; subscribers (the
// metrics collector, the activity logger) consume them without the emitters
// knowing who is listening.
package events

// EventType identifies what happened.
type EventType int

const (
	EvPlayerLogin EventType = iota
	EvPlayerLogout
	EvGameUploaded
	EvGameUpdated
	EvGameRemoved
	EvGameDownloaded
	EvReviewSubmitted
	EvRoomCreated
	EvRoomDestroyed
	EvGameServerStarted
	EvGameServerExited
)

// String returns a stable name for logs and metric labels.
func (t EventType) String() string {
	switch t {
	case EvPlayerLogin:
		return "player_login"
	case EvPlayerLogout:
		return "player_logout"
	case EvGameUploaded:
		return "game_uploaded"
	case EvGameUpdated:
		return "game_updated"
	case EvGameRemoved:
		return "game_removed"
	case EvGameDownloaded:
		return "game_downloaded"
	case EvReviewSubmitted:
		return "review_submitted"
	case EvRoomCreated:
		return "room_created"
	case EvRoomDestroyed:
		return "room_destroyed"
	case EvGameServerStarted:
		return "game_server_started"
	case EvGameServerExited:
		return "game_server_exited"
	}
	return "unknown"
}

// Event is one occurrence. Fields that do not apply are left empty.
type Event struct {
	Type   EventType
	Player string // acting principal, if any
	Game   string // game name, if any
	Room   string // room id, if any
	Detail string // free-form context (exit reason, version, ...)
}
