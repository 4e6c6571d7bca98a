package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPlayers = []byte("players")
	bucketTracks  = []byte("tracks")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketPlayers, bucketTracks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// playerKey is the natural key: address and pid joined with a separator that
// appears in neither.
func playerKey(address, pid string) []byte {
	return []byte(address + "|" + pid)
}

func trackKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func (s *BoltStore) SavePlayer(p *Player) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlayers)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketPlayers)
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(playerKey(p.Address, p.PID), data)
	})
}

func (s *BoltStore) GetPlayer(address, pid string) (*Player, error) {
	var p Player
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlayers)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketPlayers)
		}
		data := b.Get(playerKey(address, pid))
		if data == nil {
			return fmt.Errorf("player %s/%s: %w", address, pid, ErrNotFound)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPlayers() ([]*Player, error) {
	var players []*Player
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlayers)
		if b == nil {
			return nil // no bucket = no players
		}
		players = make([]*Player, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var p Player
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			players = append(players, &p)
			return nil
		})
	})
	return players, err
}

func (s *BoltStore) CreateTrack(tr *Track) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTracks)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTracks)
		}
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		tr.ID = id
		data, err := json.Marshal(tr)
		if err != nil {
			return err
		}
		return b.Put(trackKey(id), data)
	})
}

func (s *BoltStore) GetTrack(id uint64) (*Track, error) {
	var tr Track
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTracks)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTracks)
		}
		data := b.Get(trackKey(id))
		if data == nil {
			return fmt.Errorf("track %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &tr)
	})
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (s *BoltStore) UpdateTrack(id uint64, fn func(tr *Track) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTracks)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTracks)
		}
		data := b.Get(trackKey(id))
		if data == nil {
			return fmt.Errorf("track %d: %w", id, ErrNotFound)
		}
		var tr Track
		if err := json.Unmarshal(data, &tr); err != nil {
			return err
		}
		if err := fn(&tr); err != nil {
			return err
		}
		tr.ID = id
		updated, err := json.Marshal(&tr)
		if err != nil {
			return err
		}
		return b.Put(trackKey(id), updated)
	})
}

func (s *BoltStore) RecentTracks(limit int) ([]*Track, error) {
	if limit <= 0 {
		limit = 50
	}
	var tracks []*Track
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTracks)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(tracks) < limit; k, v = c.Prev() {
			var tr Track
			if err := json.Unmarshal(v, &tr); err != nil {
				return err
			}
			tracks = append(tracks, &tr)
		}
		return nil
	})
	return tracks, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
