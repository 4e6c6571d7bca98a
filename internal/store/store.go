package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Player operations. SavePlayer is an idempotent upsert by (address, pid).
	SavePlayer(p *Player) error
	GetPlayer(address, pid string) (*Player, error)
	ListPlayers() ([]*Player, error)

	// CreateTrack persists a new track and assigns its ID.
	CreateTrack(tr *Track) error
	GetTrack(id uint64) (*Track, error)

	// UpdateTrack atomically reads, modifies, and saves a track in a single
	// transaction. Returns ErrNotFound if the track does not exist. Guards on
	// single-write fields (duration, finished_at, notified) belong inside fn
	// so concurrent updaters cannot interleave.
	UpdateTrack(id uint64, fn func(tr *Track) error) error

	// RecentTracks returns up to limit tracks, newest first.
	RecentTracks(limit int) ([]*Track, error)

	// Close the store
	Close() error
}
