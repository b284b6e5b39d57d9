package catalog

import "errors"

var (
	// ErrNotFound means no game with that name exists in the catalog.
	ErrNotFound = errors.New("catalog: game not found")
	// ErrExists means a game with that name already exists.
	ErrExists = errors.New("catalog: game already exists")
	// ErrNotOwner means the acting developer does not own the game.
	ErrNotOwner = errors.New("catalog: permission denied")
	// ErrInactive means the game exists but is not active.
	ErrInactive = errors.New("catalog: game is not available")
	// ErrNotDownloaded means the player has never downloaded the game.
	ErrNotDownloaded = errors.New("catalog: game not downloaded by player")
	// ErrRatingOutOfRange means the rating is outside 1..5.
	ErrRatingOutOfRange = errors.New("catalog: rating must be between 1 and 5")
)

// ConfigError reports an invalid game config or version at upload/update time.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "catalog: " + e.Reason
}

func configErr(reason string) error {
	return &ConfigError{Reason: reason}
}
