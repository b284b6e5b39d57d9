package credstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	bbolt "go.etcd.io/bbolt"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndVerify(t *testing.T) {
	s := openStore(t)

	if err := s.Create("Player", "alice", "hunter2"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Verify("Player", "alice", "hunter2"); err != nil {
		t.Errorf("verify: %v", err)
	}
	if err := s.Verify("Player", "alice", "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("expected ErrWrongPassword, got %v", err)
	}
	if err := s.Verify("Player", "bob", "hunter2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateName(t *testing.T) {
	s := openStore(t)

	if err := s.Create("Developer", "studio", "pw1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create("Developer", "studio", "pw2"); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestNamespacesAreDisjoint(t *testing.T) {
	s := openStore(t)

	if err := s.Create("Developer", "sam", "devpw"); err != nil {
		t.Fatalf("create developer: %v", err)
	}
	// Same name is free in the player namespace.
	if err := s.Create("Player", "sam", "playerpw"); err != nil {
		t.Fatalf("create player: %v", err)
	}

	if err := s.Verify("Developer", "sam", "devpw"); err != nil {
		t.Errorf("developer verify: %v", err)
	}
	if err := s.Verify("Player", "sam", "devpw"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("expected ErrWrongPassword across namespaces, got %v", err)
	}
}

func TestUnknownCollection(t *testing.T) {
	s := openStore(t)

	if err := s.Create("Admin", "root", "pw"); err == nil {
		t.Error("expected an error for an unknown collection")
	}
	if s.Count("Admin") != 0 {
		t.Error("unknown collection should count zero")
	}
}

func TestCount(t *testing.T) {
	s := openStore(t)

	for _, name := range []string{"a", "b", "c"} {
		if err := s.Create("Player", name, "pw"); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if got := s.Count("Player"); got != 3 {
		t.Errorf("expected 3 players, got %d", got)
	}
	if got := s.Count("Developer"); got != 0 {
		t.Errorf("expected 0 developers, got %d", got)
	}
}

func TestPasswordsAreHashed(t *testing.T) {
	s := openStore(t)
	if err := s.Create("Player", "alice", "hunter2"); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The stored record must not contain the plaintext.
	var raw []byte
	s.bolt.View(func(tx *bbolt.Tx) error {
		raw = append(raw, tx.Bucket(bucketPlayers).Get([]byte("alice"))...)
		return nil
	})
	if len(raw) == 0 {
		t.Fatal("record missing")
	}
	if bytes.Contains(raw, []byte("hunter2")) {
		t.Error("plaintext password on disk")
	}
	if !bytes.Contains(raw, []byte("$2a$")) {
		t.Error("expected a bcrypt hash in the record")
	}
}
