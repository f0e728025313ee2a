package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ytfetch/internal/shared"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "download_archive.txt")
	store, err := Open(path, shared.NewLogger(io.Discard))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return store, path
}

func TestStore(t *testing.T) {
	t.Run("AddAndContains", func(t *testing.T) {
		store, path := testStore(t)

		if store.Contains("abc123") {
			t.Error("empty store should not contain abc123")
		}
		if err := store.Add("abc123"); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if !store.Contains("abc123") {
			t.Error("store should contain abc123 after add")
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("archive file should exist: %v", err)
		}
		if strings.TrimSpace(string(data)) != "youtube abc123" {
			t.Errorf("unexpected archive contents: %q", string(data))
		}
	})

	t.Run("AddIsIdempotent", func(t *testing.T) {
		store, path := testStore(t)
		for i := 0; i < 3; i++ {
			if err := store.Add("abc123"); err != nil {
				t.Fatalf("add failed: %v", err)
			}
		}
		data, _ := os.ReadFile(path)
		if got := strings.Count(string(data), "abc123"); got != 1 {
			t.Errorf("expected 1 archive line, got %d", got)
		}
	})

	t.Run("ReopenLoadsEntries", func(t *testing.T) {
		store, path := testStore(t)
		if err := store.Add("abc123"); err != nil {
			t.Fatalf("add failed: %v", err)
		}

		reopened, err := Open(path, shared.NewLogger(io.Discard))
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		if !reopened.Contains("abc123") {
			t.Error("reopened store should contain abc123")
		}
	})

	t.Run("LoadsBareIdentifiers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "archive.txt")
		if err := os.WriteFile(path, []byte("bare-id\nyoutube two\n"), 0644); err != nil {
			t.Fatal(err)
		}
		store, err := Open(path, shared.NewLogger(io.Discard))
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		if !store.Contains("bare-id") || !store.Contains("two") {
			t.Error("expected both identifier styles to load")
		}
	})

	t.Run("ConcurrentAdd", func(t *testing.T) {
		store, _ := testStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_ = store.Add(strings.Repeat("x", n+1))
			}(i)
		}
		wg.Wait()
		if store.Len() != 10 {
			t.Errorf("expected 10 entries, got %d", store.Len())
		}
	})
}

func TestScrub(t *testing.T) {
	exists := func(present map[string]bool) ExistsFunc {
		return func(dir, stem string) bool { return present[stem] }
	}
	resolve := func(known map[string][2]string) Resolver {
		return func(id string) (string, string, bool) {
			loc, ok := known[id]
			return loc[0], loc[1], ok
		}
	}

	t.Run("RemovesOnlyMissing", func(t *testing.T) {
		store, path := testStore(t)
		for _, id := range []string{"keep", "gone", "foreign"} {
			if err := store.Add(id); err != nil {
				t.Fatal(err)
			}
		}

		removed, err := store.Scrub(
			resolve(map[string][2]string{
				"keep": {"/lib/Mix", "001-A-B"},
				"gone": {"/lib/Mix", "002-C-D"},
			}),
			exists(map[string]bool{"001-A-B": true}),
		)
		if err != nil {
			t.Fatalf("scrub failed: %v", err)
		}
		if removed != 1 {
			t.Errorf("expected 1 removed, got %d", removed)
		}
		if store.Contains("gone") {
			t.Error("scrubbed entry should be gone")
		}
		if !store.Contains("keep") {
			t.Error("entry with existing file should remain")
		}
		// Entries outside the run's scope are untouched.
		if !store.Contains("foreign") {
			t.Error("unresolved entry should remain")
		}

		data, _ := os.ReadFile(path)
		if strings.Contains(string(data), "gone") {
			t.Error("rewritten ledger should not contain scrubbed entry")
		}
	})

	t.Run("NoRewriteWhenNothingRemoved", func(t *testing.T) {
		store, path := testStore(t)
		if err := store.Add("keep"); err != nil {
			t.Fatal(err)
		}
		before, _ := os.Stat(path)

		removed, err := store.Scrub(
			resolve(map[string][2]string{"keep": {"/lib", "001"}}),
			exists(map[string]bool{"001": true}),
		)
		if err != nil || removed != 0 {
			t.Fatalf("expected clean scrub, got removed=%d err=%v", removed, err)
		}
		after, _ := os.Stat(path)
		if before.ModTime() != after.ModTime() {
			t.Error("ledger should not be rewritten when nothing was removed")
		}
	})

	t.Run("ReaddAfterScrub", func(t *testing.T) {
		store, _ := testStore(t)
		if err := store.Add("gone"); err != nil {
			t.Fatal(err)
		}
		if _, err := store.Scrub(
			resolve(map[string][2]string{"gone": {"/lib", "001"}}),
			exists(nil),
		); err != nil {
			t.Fatal(err)
		}
		if store.Contains("gone") {
			t.Fatal("entry should have been scrubbed")
		}
		if err := store.Add("gone"); err != nil {
			t.Fatalf("re-add failed: %v", err)
		}
		if !store.Contains("gone") {
			t.Error("re-added entry should be present")
		}
	})
}
