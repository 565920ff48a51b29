package store

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "userProgress"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store: err = %v, want ErrNotFound", err)
	}
	if err := kv.Put(ctx, "userProgress", []byte(`{"highestStep":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := kv.Put(ctx, "userProgress", []byte(`{"highestStep":2}`)); err != nil {
		t.Fatal(err)
	}
	got, err := kv.Get(ctx, "userProgress")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"highestStep":2}` {
		t.Errorf("Get = %s", got)
	}
	if err := kv.Delete(ctx, "userProgress"); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get(ctx, "userProgress"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: err = %v", err)
	}
	if err := kv.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete of a missing key: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseKV(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	v := []byte("abc")
	_ = s.Put(ctx, "k", v)
	v[0] = 'x'
	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller's slice: %s", got)
	}
	got[1] = 'y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased stored slice: %s", again)
	}
	if !slices.Equal(s.Keys(), []string{"k"}) {
		t.Errorf("Keys = %v", s.Keys())
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	exerciseKV(t, s)
}

func TestSQLiteStoreNamespaces(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	alice := s.Namespace("alice@example.com")
	bob := s.Namespace("bob@example.com")
	if err := alice.Put(ctx, "userProgress", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.Get(ctx, "userProgress"); !errors.Is(err, ErrNotFound) {
		t.Errorf("namespaces leak: err = %v", err)
	}
	if err := bob.Close(); err != nil {
		t.Fatal(err)
	}
	if got, err := alice.Get(ctx, "userProgress"); err != nil || string(got) != "a" {
		t.Errorf("Get after closing a view = %q, %v", got, err)
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "userProgress", []byte(`{"currentSubStepIndex":4}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "userProgress")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"currentSubStepIndex":4}` {
		t.Errorf("Get = %s", got)
	}
}
