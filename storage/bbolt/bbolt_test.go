package bbolt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmcleod/ironcert/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func envelope(ciphertext string, version uint64) *storage.Envelope {
	return &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: make([]byte, 12), Ciphertext: []byte(ciphertext), Version: version}
}

func TestStore(t *testing.T) {
	s := newTestStore(t)
	namespace := "www.example.com"

	t.Run("PutGet", func(t *testing.T) {
		if err := s.Put(namespace, "material", "current", envelope("cipher", 1)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(namespace, "material", "current")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Ciphertext) != "cipher" || got.Version != 1 {
			t.Errorf("unexpected envelope %+v", got)
		}
	})

	t.Run("Get errors", func(t *testing.T) {
		if _, err := s.Get("missing", "material", "current"); !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("expected ErrNamespaceNotFound, got %v", err)
		}
		if _, err := s.Get(namespace, "material", "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List is ordered and prefix scoped", func(t *testing.T) {
		for _, id := range []string{"run-b", "run-a", "run-c"} {
			if err := s.Put(namespace, "history", id, envelope(id, 0)); err != nil {
				t.Fatalf("Put %s failed: %v", id, err)
			}
		}
		if err := s.Put(namespace, "historyx", "other", envelope("x", 0)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ids, err := s.List(namespace, "history")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		want := []string{"run-a", "run-b", "run-c"}
		if len(ids) != len(want) {
			t.Fatalf("expected %v, got %v", want, ids)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Errorf("expected %v, got %v", want, ids)
			}
		}

		ids, err = s.List("missing", "history")
		if err != nil || len(ids) != 0 {
			t.Errorf("expected no ids and no error, got %v, %v", ids, err)
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		if err := s.PutCAS(namespace, "cas", "a", 0, envelope("v1", 1)); err != nil {
			t.Fatalf("PutCAS create failed: %v", err)
		}
		if err := s.PutCAS(namespace, "cas", "a", 0, envelope("v1", 1)); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed on second create, got %v", err)
		}
		if err := s.PutCAS(namespace, "cas", "a", 1, envelope("v2", 2)); err != nil {
			t.Fatalf("PutCAS update failed: %v", err)
		}
		if err := s.PutCAS(namespace, "cas", "a", 1, envelope("v3", 3)); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed on stale version, got %v", err)
		}
		if err := s.PutCAS(namespace, "cas", "missing", 4, envelope("v1", 5)); err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed on missing record, got %v", err)
		}
		got, _ := s.Get(namespace, "cas", "a")
		if got.Version != 2 {
			t.Errorf("expected version 2, got %d", got.Version)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(namespace, "cas", "a"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := s.Delete(namespace, "cas", "a"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := s.Delete("missing", "cas", "a"); !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("expected ErrNamespaceNotFound, got %v", err)
		}
	})

	t.Run("Namespaces and DeleteNamespace", func(t *testing.T) {
		if err := s.Put("api.example.com", "material", "current", envelope("x", 1)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		names, err := s.Namespaces()
		if err != nil {
			t.Fatalf("Namespaces failed: %v", err)
		}
		if len(names) != 2 {
			t.Fatalf("expected 2 namespaces, got %v", names)
		}
		if err := s.DeleteNamespace("api.example.com"); err != nil {
			t.Fatalf("DeleteNamespace failed: %v", err)
		}
		if _, err := s.Get("api.example.com", "material", "current"); !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("expected deleted namespace to be gone, got %v", err)
		}
		if err := s.DeleteNamespace("api.example.com"); !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("expected ErrNamespaceNotFound, got %v", err)
		}
	})
}

func TestStore_Batch(t *testing.T) {
	s := newTestStore(t)
	namespace := "www.example.com"

	t.Run("atomic write", func(t *testing.T) {
		err := s.Batch(namespace, func(tx storage.BatchTx) error {
			if err := tx.PutCAS("material", "current", 0, envelope("a", 1)); err != nil {
				return err
			}
			return tx.Put("history", "run-1", envelope("b", 0))
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}
		if _, err := s.Get(namespace, "history", "run-1"); err != nil {
			t.Errorf("history record missing after batch: %v", err)
		}
	})

	t.Run("rollback on CAS failure", func(t *testing.T) {
		err := s.Batch(namespace, func(tx storage.BatchTx) error {
			if err := tx.Put("history", "run-2", envelope("c", 0)); err != nil {
				return err
			}
			return tx.PutCAS("material", "current", 7, envelope("d", 8))
		})
		if err != storage.ErrCASFailed {
			t.Fatalf("expected ErrCASFailed, got %v", err)
		}
		if _, err := s.Get(namespace, "history", "run-2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected run-2 to be rolled back, got %v", err)
		}
		got, _ := s.Get(namespace, "material", "current")
		if string(got.Ciphertext) != "a" {
			t.Errorf("expected current record untouched, got %q", got.Ciphertext)
		}
	})
}

func TestNewRepositoryFromFile_InvalidPath(t *testing.T) {
	if _, err := NewRepositoryFromFile(filepath.Join(t.TempDir(), "missing", "archive.db"), nil); err == nil {
		t.Error("expected error for invalid path")
	}
}
