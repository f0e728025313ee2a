// package metacache stores fetched metadata JSON on disk with a TTL.
//
// One file per cached identifier under the cache directory, named by the
// SHA-256 of the normalized URL. The payload wraps the raw fetched JSON with
// the fetch timestamp; the raw bytes pass through verbatim so unknown fields
// survive. The whole directory is a pure optimization layer and can be
// removed at any time without corrupting anything else.
package metacache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultTTLDays is how long an entry stays fresh when unconfigured.
const DefaultTTLDays = 30

// Cache is a TTL-bounded key→JSON store. Reads and writes for distinct keys
// are independent; no cross-key locking is needed.
type Cache struct {
	dir     string
	ttl     time.Duration
	enabled bool
	logger  *log.Logger
	now     func() time.Time
}

// Options configures a Cache.
type Options struct {
	Dir     string
	TTLDays int
	Enabled bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New returns a Cache with the given options.
func New(opts Options, logger *log.Logger) *Cache {
	if opts.TTLDays <= 0 {
		opts.TTLDays = DefaultTTLDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		dir:     opts.Dir,
		ttl:     time.Duration(opts.TTLDays) * 24 * time.Hour,
		enabled: opts.Enabled,
		logger:  logger,
		now:     opts.Now,
	}
}

type envelope struct {
	CachedAt string          `json:"cached_at"`
	URL      string          `json:"url"`
	Data     json.RawMessage `json:"data"`
}

// Get returns the cached metadata for the URL, or nil when the entry is
// absent, expired, disabled, or unreadable. Corrupt and expired entries are
// deleted on the way out; corruption is never fatal.
func (c *Cache) Get(rawURL string) json.RawMessage {
	if !c.enabled {
		return nil
	}
	path := c.entryPath(rawURL)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("metadata cache miss (invalid JSON)", "entry", filepath.Base(path))
		c.remove(path)
		return nil
	}
	cachedAt, err := time.Parse(time.RFC3339, env.CachedAt)
	if err != nil {
		c.logger.Warn("metadata cache miss (missing timestamp)", "entry", filepath.Base(path))
		c.remove(path)
		return nil
	}
	if c.now().Sub(cachedAt) > c.ttl {
		c.logger.Info("metadata cache miss (expired)", "entry", filepath.Base(path))
		c.remove(path)
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		c.logger.Warn("metadata cache miss (invalid data)", "entry", filepath.Base(path))
		c.remove(path)
		return nil
	}
	c.logger.Debug("metadata cache hit", "entry", filepath.Base(path))
	return env.Data
}

// Put stores raw metadata JSON for the URL, stamped with the current time.
// The write is atomic (temp file + rename) so a concurrent reader never sees
// a partial entry.
func (c *Cache) Put(rawURL string, data json.RawMessage) error {
	if !c.enabled {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	env := envelope{
		CachedAt: c.now().UTC().Format(time.RFC3339),
		URL:      NormalizeURL(rawURL),
		Data:     data,
	}
	payload, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	path := c.entryPath(rawURL)
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize cache entry: %w", err)
	}
	c.logger.Debug("metadata cache write", "entry", filepath.Base(path))
	return nil
}

// Purge unconditionally removes every cache entry, regardless of TTL.
// Returns the number of entries deleted.
func (c *Cache) Purge() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			c.logger.Warn("failed to delete cache entry", "entry", entry.Name(), "err", err)
			continue
		}
		count++
	}
	return count
}

func (c *Cache) entryPath(rawURL string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

func (c *Cache) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to delete cache entry", "entry", filepath.Base(path), "err", err)
	}
}

// Query params that never change what a URL resolves to.
var ignoredParams = map[string]bool{
	"si":           true,
	"feature":      true,
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
}

// NormalizeURL strips tracking query params so equivalent URLs share one
// cache entry.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.RawQuery == "" {
		return raw
	}
	kept := url.Values{}
	for key, values := range parsed.Query() {
		if !ignoredParams[key] {
			kept[key] = values
		}
	}
	parsed.RawQuery = kept.Encode()
	return parsed.String()
}
