package metacache

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ytfetch/internal/shared"
)

func testCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	return New(opts, shared.NewLogger(io.Discard))
}

func TestCache(t *testing.T) {
	const url = "https://music.youtube.com/watch?v=abc"

	t.Run("PutGetRoundtrip", func(t *testing.T) {
		cache := testCache(t, Options{Enabled: true})
		payload := json.RawMessage(`{"title":"Song","unknown_field":42}`)

		if err := cache.Put(url, payload); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		got := cache.Get(url)
		if got == nil {
			t.Fatal("expected a cache hit")
		}
		// Raw payload passes through verbatim, unknown fields included.
		var m map[string]any
		if err := json.Unmarshal(got, &m); err != nil {
			t.Fatalf("cached payload should be valid JSON: %v", err)
		}
		if m["unknown_field"] != float64(42) {
			t.Errorf("unknown field should survive, got %v", m["unknown_field"])
		}
	})

	t.Run("DisabledAlwaysMisses", func(t *testing.T) {
		dir := t.TempDir()
		enabled := testCache(t, Options{Dir: dir, Enabled: true})
		if err := enabled.Put(url, json.RawMessage(`{}`)); err != nil {
			t.Fatal(err)
		}

		disabled := testCache(t, Options{Dir: dir, Enabled: false})
		if disabled.Get(url) != nil {
			t.Error("disabled cache must report absent without consulting storage")
		}
		if err := disabled.Put(url, json.RawMessage(`{"x":1}`)); err != nil {
			t.Errorf("disabled put should be a no-op, got %v", err)
		}
	})

	t.Run("ExpiredEntryIsAbsent", func(t *testing.T) {
		dir := t.TempDir()
		now := time.Now()
		writer := testCache(t, Options{Dir: dir, Enabled: true, TTLDays: 1, Now: func() time.Time { return now }})
		if err := writer.Put(url, json.RawMessage(`{}`)); err != nil {
			t.Fatal(err)
		}

		later := testCache(t, Options{Dir: dir, Enabled: true, TTLDays: 1, Now: func() time.Time { return now.Add(48 * time.Hour) }})
		if later.Get(url) != nil {
			t.Error("entry past TTL must be treated as absent")
		}
		// Expired entries are removed on read.
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected expired entry to be deleted, %d files remain", len(entries))
		}
	})

	t.Run("CorruptEntryIsAbsent", func(t *testing.T) {
		dir := t.TempDir()
		cache := testCache(t, Options{Dir: dir, Enabled: true})
		if err := cache.Put(url, json.RawMessage(`{}`)); err != nil {
			t.Fatal(err)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
		path := filepath.Join(dir, entries[0].Name())
		if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
			t.Fatal(err)
		}

		if cache.Get(url) != nil {
			t.Error("corrupt entry must be treated as absent, not fatal")
		}
	})

	t.Run("PurgeRemovesAllRegardlessOfAge", func(t *testing.T) {
		cache := testCache(t, Options{Enabled: true})
		for _, u := range []string{"https://a", "https://b", "https://c"} {
			if err := cache.Put(u, json.RawMessage(`{}`)); err != nil {
				t.Fatal(err)
			}
		}
		if purged := cache.Purge(); purged != 3 {
			t.Errorf("expected 3 purged, got %d", purged)
		}
		if cache.Get("https://a") != nil {
			t.Error("purged entry should be absent")
		}
	})
}

func TestNormalizeURL(t *testing.T) {
	t.Run("StripsTrackingParams", func(t *testing.T) {
		got := NormalizeURL("https://music.youtube.com/watch?v=abc&si=track&utm_source=x")
		want := "https://music.youtube.com/watch?v=abc"
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("EquivalentURLsShareEntry", func(t *testing.T) {
		cache := testCache(t, Options{Enabled: true})
		if err := cache.Put("https://music.youtube.com/watch?v=abc&si=one", json.RawMessage(`{"k":1}`)); err != nil {
			t.Fatal(err)
		}
		if cache.Get("https://music.youtube.com/watch?v=abc&si=two") == nil {
			t.Error("expected hit across differing tracking params")
		}
	})

	t.Run("NoQueryPassthrough", func(t *testing.T) {
		u := "https://music.youtube.com/playlist"
		if NormalizeURL(u) != u {
			t.Errorf("URL without query should be unchanged")
		}
	})
}
