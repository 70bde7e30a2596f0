package mouse_telemetry

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "identity.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	badgerStore, err := NewBadgerStore(filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatalf("failed to open badger store: %v", err)
	}

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
		"badger": badgerStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := store.Get(ctx, KeyUserID); err != nil || ok {
				t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
			}

			if err := store.Set(ctx, KeyUserID, "abc123"); err != nil {
				t.Fatalf("set failed: %v", err)
			}
			if err := store.Set(ctx, KeyUserID, "def456"); err != nil {
				t.Fatalf("overwrite failed: %v", err)
			}

			v, ok, err := store.Get(ctx, KeyUserID)
			if err != nil || !ok || v != "def456" {
				t.Fatalf("got %q ok=%v err=%v", v, ok, err)
			}
		})
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "identity.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.Set(ctx, KeyAPIEndpoint, "http://localhost:3000/api/mouse-data"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	_ = s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	v, ok, err := s.Get(ctx, KeyAPIEndpoint)
	if err != nil || !ok || v != "http://localhost:3000/api/mouse-data" {
		t.Fatalf("got %q ok=%v err=%v", v, ok, err)
	}
}

func TestNewStore_Drivers(t *testing.T) {
	dir := t.TempDir()

	for _, cfg := range []StorageConfig{
		{Driver: "memory"},
		{Driver: "sqlite", Path: filepath.Join(dir, "a.db")},
		{Driver: "badger", Path: filepath.Join(dir, "b")},
	} {
		s, err := NewStore(&cfg)
		if err != nil {
			t.Fatalf("%s: %v", cfg.Driver, err)
		}
		_ = s.Close()
	}

	if _, err := NewStore(&StorageConfig{Driver: "etcd"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestIdentity_EnsureUserIDIsStable(t *testing.T) {
	ctx := context.Background()
	id := NewIdentity(NewMemoryStore(), zap.NewNop())

	first, err := id.EnsureUserID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == "" {
		t.Fatal("expected a generated user id")
	}
	for _, r := range first {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z') {
			t.Fatalf("user id must be base-36, got %q", first)
		}
	}

	second, err := id.EnsureUserID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("user id changed: %q then %q", first, second)
	}

	stored, err := id.UserID(ctx)
	if err != nil || stored != first {
		t.Errorf("UserID returned %q err=%v", stored, err)
	}
}

func TestIdentity_SetEndpoint(t *testing.T) {
	ctx := context.Background()
	id := NewIdentity(NewMemoryStore(), zap.NewNop())

	if ep, err := id.Endpoint(ctx); err != nil || ep != "" {
		t.Fatalf("expected empty endpoint, got %q err=%v", ep, err)
	}

	for _, bad := range []string{"", "not a url", "ftp://example.com/data"} {
		if err := id.SetEndpoint(ctx, bad); err == nil {
			t.Errorf("expected rejection of %q", bad)
		}
	}

	if err := id.SetEndpoint(ctx, "http://localhost:3000/api/mouse-data"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep, _ := id.Endpoint(ctx); ep != "http://localhost:3000/api/mouse-data" {
		t.Errorf("unexpected endpoint %q", ep)
	}
}

func TestIdentity_SeedEndpointKeepsExisting(t *testing.T) {
	ctx := context.Background()
	id := NewIdentity(NewMemoryStore(), zap.NewNop())

	if err := id.SeedEndpoint(ctx, "http://first.local/api"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := id.SeedEndpoint(ctx, "http://second.local/api"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ep, _ := id.Endpoint(ctx); ep != "http://first.local/api" {
		t.Errorf("seed must not overwrite, got %q", ep)
	}
}
