package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"wkb/internal/logging"
)

// UnknownFingerprint is the sentinel produced when fingerprinting
// fails entirely. The cache refuses to store or match it, so a broken
// fingerprint chain degrades to always-crawl instead of stale hits.
const UnknownFingerprint = "unknown"

// Depth is the crawl depth a cache entry belongs to
type Depth string

const (
	// ShallowDepth caches entry-point/structure/config results
	ShallowDepth Depth = "shallow"
	// DeepDepth caches full-inventory results
	DeepDepth Depth = "deep"
)

// Entry mirrors one index row
type Entry struct {
	App            string
	Depth          Depth
	Fingerprint    string
	BlobPath       string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	SizeBytes      int64
	HitCount       int
}

// Stats summarizes cache contents
type Stats struct {
	Entries        int   `json:"entries"`
	TotalSizeBytes int64 `json:"totalSizeBytes"`
	TotalHits      int   `json:"totalHits"`
	Expired        int   `json:"expired"`
}

// Options configures the fingerprint cache
type Options struct {
	MaxSizeMB int
	TTLDays   int
}

// FingerprintCache is a content-addressed cache keyed by
// (application, depth, fingerprint). The index lives in SQLite; each
// (application, depth) pair owns one zstd-compressed blob file under
// the cache directory.
type FingerprintCache struct {
	db       *DB
	cacheDir string
	maxBytes int64
	ttl      time.Duration
	logger   *logging.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewFingerprintCache creates a cache rooted at cacheDir
func NewFingerprintCache(db *DB, cacheDir string, opts Options, logger *logging.Logger) (*FingerprintCache, error) {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 500
	}
	if opts.TTLDays <= 0 {
		opts.TTLDays = 7
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &FingerprintCache{
		db:       db,
		cacheDir: cacheDir,
		maxBytes: int64(opts.MaxSizeMB) * 1024 * 1024,
		ttl:      time.Duration(opts.TTLDays) * 24 * time.Hour,
		logger:   logger,
		enc:      enc,
		dec:      dec,
	}, nil
}

// blobPath returns the blob file for an (app, depth) pair
func (c *FingerprintCache) blobPath(app string, depth Depth) string {
	return filepath.Join(c.cacheDir, app, string(depth)+".json.zst")
}

// Get returns the cached payload for (app, depth, fingerprint).
// Every stale-data path is a miss, not an error: no row, fingerprint
// mismatch, TTL expiry, or a missing blob file. Expired and corrupt
// entries are purged on this path.
func (c *FingerprintCache) Get(app string, depth Depth, fingerprint string) ([]byte, bool, error) {
	if fingerprint == UnknownFingerprint {
		return nil, false, nil
	}

	var storedFp, blobPath, createdAt string
	err := c.db.QueryRow(`
		SELECT fingerprint, blob_path, created_at
		FROM cache_entries
		WHERE app = ? AND depth = ?
	`, app, string(depth)).Scan(&storedFp, &blobPath, &createdAt)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	if storedFp != fingerprint {
		// Application content changed since the entry was written
		c.purge(app, depth, storedFp, blobPath)
		return nil, false, nil
	}

	createdTime, err := time.Parse(time.RFC3339, createdAt)
	if err != nil || time.Since(createdTime) > c.ttl {
		c.logger.Debug("Cache entry expired", map[string]interface{}{
			"app":   app,
			"depth": string(depth),
		})
		c.purge(app, depth, storedFp, blobPath)
		return nil, false, nil
	}

	compressed, err := os.ReadFile(blobPath)
	if err != nil {
		// Index row references a missing blob: purge defensively
		c.logger.Warn("Cache blob missing, purging index row", map[string]interface{}{
			"app":      app,
			"blobPath": blobPath,
		})
		c.purge(app, depth, storedFp, "")
		return nil, false, nil
	}

	data, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		c.logger.Warn("Cache blob corrupt, purging entry", map[string]interface{}{
			"app":   app,
			"error": err.Error(),
		})
		c.purge(app, depth, storedFp, blobPath)
		return nil, false, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	touchErr := c.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE cache_entries
			SET last_accessed_at = ?, hit_count = hit_count + 1
			WHERE app = ? AND depth = ? AND fingerprint = ?
		`, now, app, string(depth), fingerprint)
		return err
	})
	if touchErr != nil {
		c.logger.Warn("Failed to update cache access time", map[string]interface{}{
			"app":   app,
			"error": touchErr.Error(),
		})
	}

	return data, true, nil
}

// Put writes a payload for (app, depth, fingerprint), evicting the
// least recently used entries first if the cache would exceed its
// size ceiling. Returns false if the write failed.
func (c *FingerprintCache) Put(app string, depth Depth, fingerprint string, data []byte) bool {
	if fingerprint == UnknownFingerprint {
		c.logger.Debug("Refusing to cache with unknown fingerprint", map[string]interface{}{
			"app": app,
		})
		return false
	}

	compressed := c.enc.EncodeAll(data, nil)
	size := int64(len(compressed))

	if err := c.evictIfNeeded(size); err != nil {
		c.logger.Warn("Cache eviction failed", map[string]interface{}{
			"error": err.Error(),
		})
		// Fall through: a failed eviction should not block the write
	}

	blobPath := c.blobPath(app, depth)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0755); err != nil {
		c.logger.Error("Failed to create application cache directory", map[string]interface{}{
			"app":   app,
			"error": err.Error(),
		})
		return false
	}
	if err := os.WriteFile(blobPath, compressed, 0644); err != nil {
		c.logger.Error("Failed to write cache blob", map[string]interface{}{
			"app":   app,
			"error": err.Error(),
		})
		return false
	}

	now := time.Now().UTC().Format(time.RFC3339)
	err := c.db.WithTx(func(tx *sql.Tx) error {
		// One blob per (app, depth): any previous fingerprint's row
		// is superseded along with its blob file.
		if _, err := tx.Exec(`
			DELETE FROM cache_entries WHERE app = ? AND depth = ?
		`, app, string(depth)); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO cache_entries
				(app, depth, fingerprint, blob_path, created_at, last_accessed_at, size_bytes, hit_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		`, app, string(depth), fingerprint, blobPath, now, now, size)
		return err
	})
	if err != nil {
		c.logger.Error("Failed to write cache index row", map[string]interface{}{
			"app":   app,
			"error": err.Error(),
		})
		return false
	}

	return true
}

// evictIfNeeded removes the oldest entries by last_accessed_at, in
// batches of 20%, until the cache plus the incoming entry fits under
// the size ceiling. The just-written entry is never a candidate since
// its row does not exist yet.
func (c *FingerprintCache) evictIfNeeded(incomingSize int64) error {
	evicted := 0

	for {
		var total sql.NullInt64
		var count int
		err := c.db.QueryRow(`
			SELECT SUM(size_bytes), COUNT(*) FROM cache_entries
		`).Scan(&total, &count)
		if err != nil {
			return fmt.Errorf("failed to read cache size: %w", err)
		}
		if count == 0 || !total.Valid || total.Int64+incomingSize <= c.maxBytes {
			break
		}

		batch := count / 5
		if batch < 1 {
			batch = 1
		}
		n, err := c.evictBatch(batch)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		evicted += n
	}

	if evicted > 0 {
		c.logger.Info("Evicted cache entries", map[string]interface{}{
			"count": evicted,
		})
	}
	return nil
}

// evictBatch removes up to n least recently accessed entries and
// returns how many it removed
func (c *FingerprintCache) evictBatch(n int) (int, error) {
	rows, err := c.db.Query(`
		SELECT app, depth, fingerprint, blob_path
		FROM cache_entries
		ORDER BY last_accessed_at ASC
		LIMIT ?
	`, n)
	if err != nil {
		return 0, err
	}

	type victim struct {
		app, depth, fp, blob string
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.app, &v.depth, &v.fp, &v.blob); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, v)
	}
	rows.Close()

	for _, v := range victims {
		// Files first, then index rows, so a crash never leaves a
		// row pointing at freed space that a later write reused.
		if err := os.Remove(v.blob); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("Failed to remove evicted blob", map[string]interface{}{
				"path":  v.blob,
				"error": err.Error(),
			})
		}
		err := c.db.WithTx(func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				DELETE FROM cache_entries WHERE app = ? AND depth = ? AND fingerprint = ?
			`, v.app, v.depth, v.fp)
			return err
		})
		if err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

// purge removes a single entry and its blob, tolerating missing files
func (c *FingerprintCache) purge(app string, depth Depth, fingerprint, blobPath string) {
	if blobPath != "" {
		if err := os.Remove(blobPath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("Failed to remove cache blob", map[string]interface{}{
				"path":  blobPath,
				"error": err.Error(),
			})
		}
	}
	err := c.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			DELETE FROM cache_entries WHERE app = ? AND depth = ? AND fingerprint = ?
		`, app, string(depth), fingerprint)
		return err
	})
	if err != nil {
		c.logger.Warn("Failed to purge cache index row", map[string]interface{}{
			"app":   app,
			"error": err.Error(),
		})
	}
}

// ClearApp removes all cache entries and blobs for one application
func (c *FingerprintCache) ClearApp(app string) error {
	err := c.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM cache_entries WHERE app = ?`, app)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear cache for %s: %w", app, err)
	}

	appDir := filepath.Join(c.cacheDir, app)
	if err := os.RemoveAll(appDir); err != nil {
		return fmt.Errorf("failed to remove cache directory for %s: %w", app, err)
	}

	c.logger.Debug("Cleared application cache", map[string]interface{}{
		"app": app,
	})
	return nil
}

// ClearAll removes every cache entry and blob
func (c *FingerprintCache) ClearAll() error {
	err := c.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM cache_entries`)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear cache index: %w", err)
	}

	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.cacheDir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}

	c.logger.Info("Cleared entire cache", nil)
	return nil
}

// Stats returns entry counts, total size, and hit totals
func (c *FingerprintCache) Stats() (*Stats, error) {
	stats := &Stats{}

	err := c.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(hit_count), 0)
		FROM cache_entries
	`).Scan(&stats.Entries, &stats.TotalSizeBytes, &stats.TotalHits)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", err)
	}

	cutoff := time.Now().UTC().Add(-c.ttl).Format(time.RFC3339)
	err = c.db.QueryRow(`
		SELECT COUNT(*) FROM cache_entries WHERE created_at < ?
	`, cutoff).Scan(&stats.Expired)
	if err != nil {
		return nil, fmt.Errorf("failed to count expired entries: %w", err)
	}

	return stats, nil
}
