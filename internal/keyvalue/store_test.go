package keyvalue

import (
	"path/filepath"
	"testing"
	"time"

	"projectbrowser/internal/database"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return NewFactory(db)
}

func TestSetGetDelete(t *testing.T) {
	factory := newTestFactory(t)
	store := factory.Get("test")
	ctx := t.Context()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
	}

	if err := store.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "a", []byte("2")); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}

	value, ok, err := store.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get(a) = ok %v, err %v", ok, err)
	}
	if string(value) != "2" {
		t.Errorf("Get(a) = %q, want %q", value, "2")
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Error("expected key to be deleted")
	}
}

func TestCollectionsAreIsolated(t *testing.T) {
	factory := newTestFactory(t)
	ctx := t.Context()
	one := factory.Get("project_browser:one")
	two := factory.Get("project_browser:two")

	if err := one.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := two.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatal(err)
	}

	if err := one.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}

	if _, ok, _ := one.Get(ctx, "k"); ok {
		t.Error("expected collection one to be empty")
	}
	value, ok, _ := two.Get(ctx, "k")
	if !ok || string(value) != "two" {
		t.Errorf("collection two lost its entry: %q, %v", value, ok)
	}
}

func TestExpiry(t *testing.T) {
	factory := newTestFactory(t)
	now := time.Unix(1_700_000_000, 0)
	factory.now = func() time.Time { return now }
	store := factory.Get("exp")
	ctx := t.Context()

	if err := store.SetWithExpire(ctx, "short", []byte("x"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "forever", []byte("y")); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)

	if _, ok, _ := store.Get(ctx, "short"); ok {
		t.Error("expected expired entry to be hidden")
	}
	all, err := store.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || string(all["forever"]) != "y" {
		t.Errorf("GetAll() = %v, want only forever", all)
	}

	n, err := factory.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", n)
	}
}

func TestSetIfNotExists(t *testing.T) {
	factory := newTestFactory(t)
	store := factory.Get("once")
	ctx := t.Context()

	wrote, err := store.SetIfNotExists(ctx, "k", []byte("first"))
	if err != nil || !wrote {
		t.Fatalf("first SetIfNotExists = %v, %v", wrote, err)
	}
	wrote, err = store.SetIfNotExists(ctx, "k", []byte("second"))
	if err != nil || wrote {
		t.Fatalf("second SetIfNotExists = %v, %v", wrote, err)
	}
	value, _, _ := store.Get(ctx, "k")
	if string(value) != "first" {
		t.Errorf("value = %q, want first", value)
	}
}
