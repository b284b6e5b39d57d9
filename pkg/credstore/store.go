// Package credstore implements the external credential store: the
// authoritative user database for the two disjoint principal kinds
// (developer, player). Accounts persist in bbolt, one bucket per kind,
// with bcrypt password hashes. The game store server only ever talks to
// this process over the framed collection protocol (see server.go).
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
)

var (
	bucketDevelopers = []byte("developers")
	bucketPlayers    = []byte("players")
)

var (
	// ErrExists means an account with that name already exists in the kind's namespace.
	ErrExists = errors.New("credstore: account already exists")
	// ErrNotFound means no account with that name exists.
	ErrNotFound = errors.New("credstore: account not found")
	// ErrWrongPassword means the password did not match the stored hash.
	ErrWrongPassword = errors.New("credstore: wrong password")
)

// Account is the persisted record for one principal. The password hash is
// stored alongside but never returned to callers.
type Account struct {
	Name         string  `json:"name"`
	PasswordHash string  `json:"password_hash"`
	CreatedAt    float64 `json:"created_at"`
	LastLoginAt  float64 `json:"last_login_at,omitempty"`
}

// Store wraps a bbolt database holding the two account namespaces.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates the account database and ensures both buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("credstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDevelopers, bucketPlayers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("credstore: create buckets: %w", err)
	}

	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// bucketFor maps a collection name to its bucket. Unknown collections are a
// caller bug and surface as an error on the wire.
func bucketFor(collection string) ([]byte, error) {
	switch collection {
	case "Developer":
		return bucketDevelopers, nil
	case "Player":
		return bucketPlayers, nil
	}
	return nil, fmt.Errorf("credstore: unknown collection %q", collection)
}

// Create registers a new account. The password is hashed with bcrypt before
// it touches disk.
func (s *Store) Create(collection, name, password string) error {
	bucket, err := bucketFor(collection)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("credstore: hash password: %w", err)
	}

	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(name)) != nil {
			return ErrExists
		}
		acct := Account{
			Name:         name,
			PasswordHash: string(hash),
			CreatedAt:    float64(time.Now().UnixNano()) / 1e9,
		}
		data, err := json.Marshal(&acct)
		if err != nil {
			return fmt.Errorf("credstore: encode account %s: %w", name, err)
		}
		return b.Put([]byte(name), data)
	})
}

// Verify checks a name/password pair and stamps last_login_at on success.
func (s *Store) Verify(collection, name, password string) error {
	bucket, err := bucketFor(collection)
	if err != nil {
		return err
	}

	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		raw := b.Get([]byte(name))
		if raw == nil {
			return ErrNotFound
		}
		var acct Account
		if err := json.Unmarshal(raw, &acct); err != nil {
			return fmt.Errorf("credstore: decode account %s: %w", name, err)
		}
		if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
			return ErrWrongPassword
		}
		acct.LastLoginAt = float64(time.Now().UnixNano()) / 1e9
		data, err := json.Marshal(&acct)
		if err != nil {
			return fmt.Errorf("credstore: encode account %s: %w", name, err)
		}
		return b.Put([]byte(name), data)
	})
}

// Count returns the number of accounts in a collection. Used by the server's
// startup log line.
func (s *Store) Count(collection string) int {
	bucket, err := bucketFor(collection)
	if err != nil {
		return 0
	}
	n := 0
	s.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucket).Stats().KeyN
		return nil
	})
	return n
}
