package bbolt

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmcleod/labflow/storage"
	"go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) (*bbolt.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session-test.db")
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestBBoltStore(t *testing.T) {
	db, _ := newTestDB(t)
	s := NewStore(db)

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get("labflow_token")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutGet", func(t *testing.T) {
		if err := s.Put("labflow_token", "abc"); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get("labflow_token")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != "abc" {
			t.Errorf("expected %q, got %q", "abc", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s.Put("labflow_token", "v1")
		s.Put("labflow_token", "v2")
		got, _ := s.Get("labflow_token")
		if got != "v2" {
			t.Errorf("expected %q, got %q", "v2", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s.Put("labflow_user", "{}")
		if err := s.Delete("labflow_user"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get("labflow_user"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := s.Delete("never-existed"); err != nil {
			t.Errorf("Delete of missing key should succeed, got %v", err)
		}
	})

	t.Run("BatchRollback", func(t *testing.T) {
		s.Put("keep", "original")
		boom := errors.New("boom")
		err := s.Batch(func(tx storage.Tx) error {
			if err := tx.Put("keep", "changed"); err != nil {
				return err
			}
			if err := tx.Delete("labflow_token"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected batch error, got %v", err)
		}
		got, _ := s.Get("keep")
		if got != "original" {
			t.Errorf("expected rollback to keep %q, got %q", "original", got)
		}
		if _, err := s.Get("labflow_token"); err != nil {
			t.Errorf("expected token to survive rollback, got %v", err)
		}
	})
}

func TestBBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewStoreFromFile(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put("labflow_token", "persisted"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewStoreFromFile(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get("labflow_token")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got != "persisted" {
		t.Errorf("expected %q, got %q", "persisted", got)
	}
}

func TestBBoltStoreCustomBucket(t *testing.T) {
	db, _ := newTestDB(t)
	a := NewStore(db, WithBucket("a"))
	b := NewStore(db, WithBucket("b"))

	a.Put("k", "from-a")
	if _, err := b.Get("k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("buckets should be isolated, got %v", err)
	}
}

func TestNewStoreFromFileLockedFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	first, err := NewStoreFromFile(path, nil)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	defer first.Close()

	start := time.Now()
	second, err := NewStoreFromFile(path, &bbolt.Options{Timeout: 100 * time.Millisecond})
	if err == nil {
		second.Close()
		t.Fatal("expected second open to fail while the lock is held")
	}
	if !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("second open took %v, expected it to give up after the timeout", elapsed)
	}
}
