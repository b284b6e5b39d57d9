// Package catalog is the authoritative store of game metadata, versioned
// bundle blobs, reviews and per-player download history. All metadata
// mutations commit through atomic JSON writes under a single catalog mutex;
// rooms are never touched here — update and remove report the affected game
// so the endpoint can run the room cascade after the catalog lock is
// released (catalog before rooms, always).
package catalog

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Kind classifies how a game is played.
const (
	KindCLI         = "CLI"
	KindGUI         = "GUI"
	KindMultiplayer = "Multiplayer"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Config holds the launch commands a developer ships with a bundle.
// StartCommand runs on the player's machine and must carry the {host} and
// {port} placeholders; ServerCommand, when present, runs under the
// supervisor and must carry {port}.
type Config struct {
	StartCommand   string `json:"start_command"`
	ServerCommand  string `json:"server_command,omitempty"`
	CompileCommand string `json:"compile_command,omitempty"`
}

// Game is one catalog entry, persisted under games_metadata.json keyed by
// name. Timestamps are epoch seconds.
type Game struct {
	GameID        string  `json:"game_id"`
	Name          string  `json:"game_name"`
	Developer     string  `json:"developer"`
	Kind          string  `json:"game_type"`
	Description   string  `json:"description"`
	MaxPlayers    int     `json:"max_players"`
	Version       string  `json:"version"`
	CreatedAt     float64 `json:"created_at"`
	UpdatedAt     float64 `json:"updated_at"`
	Status        string  `json:"status"`
	Config        Config  `json:"config"`
	DownloadCount int     `json:"download_count"`
	AverageRating float64 `json:"average_rating"`
	ReviewCount   int     `json:"review_count"`
	UpdateNotes   string  `json:"update_notes,omitempty"`
}

// Active reports whether the entry is live. Removed games cease to exist, so
// in practice every stored entry is active; the status field is kept for
// layout compatibility.
func (g *Game) Active() bool {
	return g.Status == "active"
}

// Review is one player's rating of a game. At most one per (game, player).
type Review struct {
	Player    string `json:"player"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	Timestamp string `json:"timestamp"`
}

// playerRecord is the per-player download history persisted in players.json.
type playerRecord struct {
	DownloadedGames []string `json:"downloaded_games"`
}

// UploadParams carries everything a developer sends with a new game.
type UploadParams struct {
	Name        string
	Kind        string
	Description string
	MaxPlayers  int
	Version     string
	Bundle      []byte
	Config      Config
}

// DownloadResult is what packageBundle hands back to a downloader.
type DownloadResult struct {
	Name    string
	Version string
	Bundle  []byte
	Config  Config
}

// Catalog owns the games map, reviews, download history and the bundle tree.
type Catalog struct {
	mu sync.Mutex

	games   map[string]*Game
	reviews map[string][]Review
	players map[string]*playerRecord

	gamesDir    string // <root>/uploaded_games
	metaPath    string // <root>/game_store_data/games_metadata.json
	reviewsPath string // <root>/game_store_data/reviews.json
	playersPath string // <root>/players.json
}

// Open loads (or initializes) the catalog rooted at dataRoot. Aggregates are
// recomputed from the review lists on load, so a crash between the reviews
// write and the metadata write heals here.
func Open(dataRoot string) (*Catalog, error) {
	c := &Catalog{
		games:       make(map[string]*Game),
		reviews:     make(map[string][]Review),
		players:     make(map[string]*playerRecord),
		gamesDir:    filepath.Join(dataRoot, "uploaded_games"),
		metaPath:    filepath.Join(dataRoot, "game_store_data", "games_metadata.json"),
		reviewsPath: filepath.Join(dataRoot, "game_store_data", "reviews.json"),
		playersPath: filepath.Join(dataRoot, "players.json"),
	}

	for _, dir := range []string{c.gamesDir, filepath.Dir(c.metaPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("catalog: create %s: %w", dir, err)
		}
	}

	if err := loadJSON(c.metaPath, &c.games); err != nil {
		return nil, err
	}
	if err := loadJSON(c.reviewsPath, &c.reviews); err != nil {
		return nil, err
	}
	if err := loadJSON(c.playersPath, &c.players); err != nil {
		return nil, err
	}

	// Reviews are the truth; rebuild the denormalized aggregates.
	dirty := false
	for name, g := range c.games {
		avg, count := aggregate(c.reviews[name])
		if g.AverageRating != avg || g.ReviewCount != count {
			g.AverageRating = avg
			g.ReviewCount = count
			dirty = true
		}
	}
	if dirty {
		if err := saveJSON(c.metaPath, c.games); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// aggregate computes the (mean rating rounded to 2 dp, count) pair for a
// review list.
func aggregate(reviews []Review) (float64, int) {
	if len(reviews) == 0 {
		return 0, 0
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	avg := float64(sum) / float64(len(reviews))
	return math.Round(avg*100) / 100, len(reviews)
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// VersionDir returns the bundle directory for (name, version). The caller is
// expected to have snapshotted version from the catalog.
func (c *Catalog) VersionDir(name, version string) string {
	return filepath.Join(c.gamesDir, name, version)
}

// validateConfig enforces the placeholder rules at upload/update time.
func validateConfig(cfg Config) error {
	start := strings.TrimSpace(cfg.StartCommand)
	if start == "" {
		return configErr("start_command is required in config")
	}
	if !strings.Contains(start, "{host}") || !strings.Contains(start, "{port}") {
		return configErr("start_command must include {host} and {port} placeholders")
	}
	if sc := strings.TrimSpace(cfg.ServerCommand); sc != "" && !strings.Contains(sc, "{port}") {
		return configErr("server_command must include the {port} placeholder")
	}
	return nil
}

func validateVersion(version string) error {
	if !versionPattern.MatchString(version) {
		return configErr(fmt.Sprintf("invalid version %q: expected N.N.N", version))
	}
	return nil
}

// Upload persists a brand-new game: bundle first (outside the mutex), then
// the metadata write as the atomic commit.
func (c *Catalog) Upload(developer string, p UploadParams) (*Game, error) {
	if p.Name == "" || p.Kind == "" || len(p.Bundle) == 0 {
		return nil, configErr("missing required fields")
	}
	switch p.Kind {
	case KindCLI, KindGUI, KindMultiplayer:
	default:
		return nil, configErr(fmt.Sprintf("unknown game type %q", p.Kind))
	}
	if p.MaxPlayers < 1 || p.MaxPlayers > 100 {
		return nil, configErr("max_players must be between 1 and 100")
	}
	if p.Version == "" {
		p.Version = "1.0.0"
	}
	if err := validateVersion(p.Version); err != nil {
		return nil, err
	}
	if err := validateConfig(p.Config); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, ok := c.games[p.Name]; ok {
		c.mu.Unlock()
		return nil, ErrExists
	}
	c.mu.Unlock()

	// Stage the bundle in a private directory. It moves under the game's name
	// only after this upload wins the metadata race, so a losing upload can
	// never touch a committed bundle.
	staged, err := os.MkdirTemp(c.gamesDir, ".upload-")
	if err != nil {
		return nil, fmt.Errorf("catalog: stage upload: %w", err)
	}
	if err := writeBundle(staged, p.Bundle); err != nil {
		os.RemoveAll(staged)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.games[p.Name]; ok {
		// Lost a race with a concurrent upload of the same name.
		os.RemoveAll(staged)
		return nil, ErrExists
	}

	dir := c.VersionDir(p.Name, p.Version)
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		os.RemoveAll(staged)
		return nil, fmt.Errorf("catalog: create game dir: %w", err)
	}
	if err := os.Rename(staged, dir); err != nil {
		os.RemoveAll(staged)
		return nil, fmt.Errorf("catalog: commit bundle: %w", err)
	}

	ts := now()
	game := &Game{
		GameID:      fmt.Sprintf("%s_%d", p.Name, time.Now().Unix()),
		Name:        p.Name,
		Developer:   developer,
		Kind:        p.Kind,
		Description: p.Description,
		MaxPlayers:  p.MaxPlayers,
		Version:     p.Version,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		Status:      "active",
		Config:      p.Config,
	}
	c.games[p.Name] = game
	if err := saveJSON(c.metaPath, c.games); err != nil {
		delete(c.games, p.Name)
		os.RemoveAll(filepath.Join(c.gamesDir, p.Name))
		return nil, err
	}
	cp := *game
	return &cp, nil
}

// Update replaces the bundle at a new version and bumps the entry. The
// caller must run the room cascade for the game afterwards.
func (c *Catalog) Update(developer, name, newVersion string, bundle []byte, notes string) (*Game, error) {
	if name == "" || newVersion == "" || len(bundle) == 0 {
		return nil, configErr("missing required fields")
	}
	if err := validateVersion(newVersion); err != nil {
		return nil, err
	}

	c.mu.Lock()
	game, ok := c.games[name]
	switch {
	case !ok:
		c.mu.Unlock()
		return nil, ErrNotFound
	case !game.Active():
		c.mu.Unlock()
		return nil, ErrInactive
	case game.Developer != developer:
		c.mu.Unlock()
		return nil, ErrNotOwner
	}
	c.mu.Unlock()

	dir := c.VersionDir(name, newVersion)
	if err := writeBundle(dir, bundle); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	game, ok = c.games[name]
	if !ok {
		return nil, ErrNotFound
	}
	if game.Developer != developer {
		return nil, ErrNotOwner
	}

	prevVersion, prevUpdated, prevNotes := game.Version, game.UpdatedAt, game.UpdateNotes
	game.Version = newVersion
	game.UpdatedAt = now()
	game.UpdateNotes = notes
	if err := saveJSON(c.metaPath, c.games); err != nil {
		game.Version, game.UpdatedAt, game.UpdateNotes = prevVersion, prevUpdated, prevNotes
		return nil, err
	}
	cp := *game
	return &cp, nil
}

// Remove deletes the entry, its reviews, and every stored bundle for the
// game. The caller must run the room cascade afterwards.
func (c *Catalog) Remove(developer, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	game, ok := c.games[name]
	if !ok {
		return ErrNotFound
	}
	if game.Developer != developer {
		return ErrNotOwner
	}

	delete(c.games, name)
	if err := saveJSON(c.metaPath, c.games); err != nil {
		c.games[name] = game
		return err
	}

	// Blob and review cleanup is best-effort once the metadata commit landed.
	os.RemoveAll(filepath.Join(c.gamesDir, name))
	if _, ok := c.reviews[name]; ok {
		delete(c.reviews, name)
		saveJSON(c.reviewsPath, c.reviews)
	}
	return nil
}

// ListActive returns a snapshot of all active games.
func (c *Catalog) ListActive() []Game {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Game, 0, len(c.games))
	for _, g := range c.games {
		if g.Active() {
			out = append(out, *g)
		}
	}
	return out
}

// ListByDeveloper returns the active games owned by one developer.
func (c *Catalog) ListByDeveloper(developer string) []Game {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Game
	for _, g := range c.games {
		if g.Developer == developer && g.Active() {
			out = append(out, *g)
		}
	}
	return out
}

// Get returns a snapshot of one game regardless of status.
func (c *Catalog) Get(name string) (Game, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.games[name]
	if !ok {
		return Game{}, ErrNotFound
	}
	return *g, nil
}

// GetInfo returns the game plus its most recent reviews (up to limit).
func (c *Catalog) GetInfo(name string, limit int) (Game, []Review, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.games[name]
	if !ok {
		return Game{}, nil, ErrNotFound
	}
	all := c.reviews[name]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Review, len(all))
	copy(out, all)
	return *g, out, nil
}

// PackageBundle produces the download payload for a game's current version,
// increments the download counter, and appends the game to the player's
// download history (once).
func (c *Catalog) PackageBundle(player, name string) (DownloadResult, error) {
	c.mu.Lock()
	game, ok := c.games[name]
	if !ok {
		c.mu.Unlock()
		return DownloadResult{}, ErrNotFound
	}
	if !game.Active() {
		c.mu.Unlock()
		return DownloadResult{}, ErrInactive
	}
	version := game.Version
	cfg := game.Config
	c.mu.Unlock()

	blob, err := readBundle(c.VersionDir(name, version))
	if err != nil {
		return DownloadResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if game, ok = c.games[name]; ok {
		game.DownloadCount++
		if err := saveJSON(c.metaPath, c.games); err != nil {
			game.DownloadCount--
			return DownloadResult{}, err
		}
	}

	rec := c.players[player]
	if rec == nil {
		rec = &playerRecord{}
		c.players[player] = rec
	}
	if !contains(rec.DownloadedGames, name) {
		rec.DownloadedGames = append(rec.DownloadedGames, name)
		if err := saveJSON(c.playersPath, c.players); err != nil {
			return DownloadResult{}, err
		}
	}

	return DownloadResult{Name: name, Version: version, Bundle: blob, Config: cfg}, nil
}

// HasDownloaded reports whether a player has the game in their history.
func (c *Catalog) HasDownloaded(player, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.players[player]
	return rec != nil && contains(rec.DownloadedGames, name)
}

// SubmitReview upserts the player's review for a game and recomputes the
// aggregates. Reviews save first (they are the truth), metadata second.
// Returns true when an existing review was replaced.
func (c *Catalog) SubmitReview(player, name string, rating int, comment string) (bool, error) {
	if rating < 1 || rating > 5 {
		return false, ErrRatingOutOfRange
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	game, ok := c.games[name]
	if !ok {
		return false, ErrNotFound
	}
	if !game.Active() {
		return false, ErrInactive
	}
	rec := c.players[player]
	if rec == nil || !contains(rec.DownloadedGames, name) {
		return false, ErrNotDownloaded
	}

	review := Review{
		Player:    player,
		Rating:    rating,
		Comment:   comment,
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
	}

	list := c.reviews[name]
	replaced := false
	for i := range list {
		if list[i].Player == player {
			list[i] = review
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, review)
	}
	prev := c.reviews[name]
	c.reviews[name] = list
	if err := saveJSON(c.reviewsPath, c.reviews); err != nil {
		c.reviews[name] = prev
		return false, err
	}

	game.AverageRating, game.ReviewCount = aggregate(list)
	// A failed metadata write is recovered by the load-time recompute, so the
	// review itself stands.
	saveJSON(c.metaPath, c.games)
	return replaced, nil
}

// GetReviews returns the full review list with aggregates.
func (c *Catalog) GetReviews(name string) ([]Review, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.games[name]; !ok {
		return nil, 0, ErrNotFound
	}
	list := c.reviews[name]
	out := make([]Review, len(list))
	copy(out, list)
	avg, _ := aggregate(list)
	return out, avg, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IsConfigError reports whether err is a validation failure rather than a
// state error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
