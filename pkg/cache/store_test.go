package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/klio-ai/klio/pkg/models"
)

func newTestStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.json")
	s := New(path, maxEntries, 10*time.Millisecond, zerolog.Nop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t, 0)

	s.Put("fp1", "ответ", time.Hour)

	got, ok := s.Get("fp1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "ответ" {
		t.Errorf("unexpected value: %s", got)
	}

	if _, ok := s.Get("fp2"); ok {
		t.Error("expected miss for unknown fingerprint")
	}
}

func TestTTLExpiration(t *testing.T) {
	s := newTestStore(t, 0)

	s.Put("fp1", "data", time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	if _, ok := s.Get("fp1"); ok {
		t.Error("expected miss after TTL expiry")
	}
	if stats := s.Stats(); stats.Entries != 0 {
		t.Errorf("expected expired entry purged, got %d entries", stats.Entries)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := newTestStore(t, 3)

	for i := 0; i < 3; i++ {
		s.Put(fmt.Sprintf("fp%d", i), "v", time.Hour)
		time.Sleep(time.Millisecond) // distinct insertion times
	}
	s.Put("fp3", "v", time.Hour)

	if stats := s.Stats(); stats.Entries != 3 {
		t.Fatalf("expected 3 entries after eviction, got %d", stats.Entries)
	}
	if _, ok := s.Get("fp0"); ok {
		t.Error("expected oldest entry fp0 evicted")
	}
	for _, fp := range []string{"fp1", "fp2", "fp3"} {
		if _, ok := s.Get(fp); !ok {
			t.Errorf("expected %s to survive eviction", fp)
		}
	}
}

func TestReplaceDoesNotEvict(t *testing.T) {
	s := newTestStore(t, 2)

	s.Put("fp1", "a", time.Hour)
	s.Put("fp2", "b", time.Hour)
	s.Put("fp1", "c", time.Hour) // replace, not insert

	if stats := s.Stats(); stats.Entries != 2 {
		t.Fatalf("expected 2 entries, got %d", stats.Entries)
	}
	if got, _ := s.Get("fp1"); got != "c" {
		t.Errorf("expected replaced value, got %s", got)
	}
}

func TestInvalidateAllIdempotent(t *testing.T) {
	s := newTestStore(t, 0)

	s.Put("fp1", "a", time.Hour)
	s.InvalidateAll()
	s.InvalidateAll()

	if stats := s.Stats(); stats.Entries != 0 {
		t.Errorf("expected empty store, got %d entries", stats.Entries)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	s := New(path, 0, 10*time.Millisecond, zerolog.Nop())
	s.Put("live", "сохранено", time.Hour)
	s.Put("dead", "истекло", time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded := New(path, 0, 10*time.Millisecond, zerolog.Nop())
	t.Cleanup(func() { _ = reloaded.Close() })

	got, ok := reloaded.Get("live")
	if !ok {
		t.Fatal("expected live entry to survive reload")
	}
	if got != "сохранено" {
		t.Errorf("unexpected value after reload: %s", got)
	}
	if _, ok := reloaded.Get("dead"); ok {
		t.Error("expected expired entry dropped on load")
	}
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	s := New(path, 0, 10*time.Millisecond, zerolog.Nop())
	t.Cleanup(func() { _ = s.Close() })

	if stats := s.Stats(); stats.Entries != 0 {
		t.Errorf("expected empty store from corrupt snapshot, got %d", stats.Entries)
	}
}

func TestSnapshotFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	s := New(path, 0, 10*time.Millisecond, zerolog.Nop())
	s.Put("fp1", "v", time.Hour)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snapshot map[string]models.CacheEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("snapshot not a fingerprint map: %v", err)
	}
	entry, ok := snapshot["fp1"]
	if !ok {
		t.Fatal("expected fp1 in snapshot")
	}
	if !entry.ExpiresAt.After(entry.CreatedAt) {
		t.Error("expected expires_at after created_at")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t, 0)

	s.Put("fp1", "v", time.Hour)
	s.Get("fp1") // hit
	s.Get("fp2") // miss

	stats := s.Stats()
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.Entries)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}
