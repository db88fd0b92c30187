package secrets

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/radar/dbopen"
)

func setup(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	if err := s.Set(ctx, "shop_1", "serpapi", "sk_live_123"); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.GetProviderSecret(ctx, "shop_1", "serpapi")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "sk_live_123" {
		t.Fatal("secret value mismatch")
	}

	ok, err := s.IsProviderConfigured(ctx, "shop_1", "serpapi")
	if err != nil || !ok {
		t.Fatalf("configured: %v %v", ok, err)
	}
}

func TestSetOverwrites(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	s.Set(ctx, "shop_1", "serpapi", "old")
	s.Set(ctx, "shop_1", "serpapi", "new")

	got, _ := s.GetProviderSecret(ctx, "shop_1", "serpapi")
	if got != "new" {
		t.Fatal("rotation did not overwrite")
	}
}

func TestMissingSecret(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	ok, err := s.IsProviderConfigured(ctx, "shop_1", "clearbit")
	if err != nil || ok {
		t.Fatalf("unconfigured provider reported configured: %v %v", ok, err)
	}
	if _, err := s.GetProviderSecret(ctx, "shop_1", "clearbit"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestShopIsolation(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	s.Set(ctx, "shop_1", "serpapi", "k1")

	ok, _ := s.IsProviderConfigured(ctx, "shop_2", "serpapi")
	if ok {
		t.Fatal("secret leaked across shops")
	}
}

func TestDeleteAndList(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	s.Set(ctx, "shop_1", "serpapi", "k1")
	s.Set(ctx, "shop_1", "clearbit", "k2")

	names, err := s.ConfiguredProviders(ctx, "shop_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "clearbit" || names[1] != "serpapi" {
		t.Fatalf("list = %v", names)
	}

	if err := s.Delete(ctx, "shop_1", "serpapi"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, _ := s.IsProviderConfigured(ctx, "shop_1", "serpapi")
	if ok {
		t.Fatal("secret survived delete")
	}
}
