package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "vault.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLitePutGetDelete(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get("vault/record"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	value := []byte(`{"version":1}`)
	if err := store.Put("vault/record", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := store.Get("vault/record")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("expected %q, got %q", value, got)
	}

	if err := store.Delete("vault/record"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("vault/record"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestSQLitePutOverwrites(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put("vault/record", []byte("first")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put("vault/record", []byte("second")); err != nil {
		t.Fatalf("overwrite Put failed: %v", err)
	}
	got, err := store.Get("vault/record")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("expected overwritten value, got %q", got)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.Put("vault/record", []byte("durable")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get("vault/record")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("expected persisted value, got %q", got)
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()

	value := []byte("original")
	if err := store.Put("k", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value[0] = 'X'

	got, err := store.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("store should hold a copy, got %q", got)
	}

	got[0] = 'Y'
	again, _ := store.Get("k")
	if string(again) != "original" {
		t.Errorf("Get should return a copy, got %q", again)
	}
}
