package strategy

import (
	"context"
	"sort"
	"testing"
)

func TestClearOldCaches(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	for _, name := range []string{
		"document-cache-v1", "asset-cache-v1", "data-cache-v1",
		"document-cache-v2", "asset-cache-v2",
		"asset-cache", "third-party-cache-v1",
	} {
		if _, err := s.Open(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := ClearOldCaches(ctx, s, []string{"document-cache", "data-cache", "asset-cache"}, "v2")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(deleted)
	want := []string{"asset-cache", "asset-cache-v1", "data-cache-v1", "document-cache-v1"}
	if len(deleted) != len(want) {
		t.Fatalf("expected %v, got %v", want, deleted)
	}
	for i := range want {
		if deleted[i] != want[i] {
			t.Errorf("expected %v, got %v", want, deleted)
		}
	}

	keys, _ := s.Keys(ctx)
	remaining := map[string]bool{}
	for _, k := range keys {
		remaining[k] = true
	}
	for _, k := range []string{"document-cache-v2", "asset-cache-v2", "third-party-cache-v1"} {
		if !remaining[k] {
			t.Errorf("expected %s kept", k)
		}
	}
}

func TestClearOldCachesPrefixCollision(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	for _, name := range []string{"asset-v2", "asset-cache-v2", "asset-cache-v1"} {
		if _, err := s.Open(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := ClearOldCaches(ctx, s, []string{"asset", "asset-cache"}, "v2")
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || deleted[0] != "asset-cache-v1" {
		t.Errorf("expected only asset-cache-v1 deleted, got %v", deleted)
	}
}

func TestClearOldCachesKeepsEveryLiveVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	for _, name := range []string{"asset-cache-v1", "asset-cache-v2", "asset-cache-v3"} {
		if _, err := s.Open(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := ClearOldCaches(ctx, s, []string{"asset-cache"}, "v3", "v2")
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || deleted[0] != "asset-cache-v1" {
		t.Errorf("expected only asset-cache-v1 deleted, got %v", deleted)
	}
}
