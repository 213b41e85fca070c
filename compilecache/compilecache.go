// Package compilecache - Persistenter Cache fuer kompilierte Artefakte
//
// Dieses Paket enthaelt den Artefakt-Cache, der kompilierte Programme
// ueber Neustarts hinweg aufhebt. Pro Geraet und Modell gibt es ein
// eigenes Verzeichnis mit einer SQLite-Datenbank (index.db).
// Das Verzeichnis wird angelegt, falls es fehlt.
package compilecache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// currentSchemaVersion wird bei Schema-Aenderungen erhoeht
const currentSchemaVersion = 1

var ErrReadOnly = errors.New("compile cache is read-only")

// Key identifies the compilation target. Artifacts of different keys never
// mix.
type Key struct {
	Device   string
	DeviceID string
	Model    string
}

// Dir is the directory name of the key below the cache root.
func (k Key) Dir() string {
	sum := sha256.Sum256([]byte(k.Model))
	return fmt.Sprintf("%s-%s-%s", sanitize(k.Device), sanitize(k.DeviceID), hex.EncodeToString(sum[:])[:12])
}

func sanitize(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

// Stats describes the content of a cache.
type Stats struct {
	Entries int    `json:"entries"`
	Bytes   uint64 `json:"bytes"`
	Hits    uint64 `json:"hits"`
}

// Cache is a compiled-artifact cache on disk. It is safe for concurrent use;
// sqlite serializes writers.
type Cache struct {
	dir      string
	readOnly bool
	conn     *sql.DB
}

// Open opens or creates the cache for key below root.
func Open(root string, key Key, readOnly bool) (*Cache, error) {
	dir := filepath.Join(root, key.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create compile cache: %w", err)
	}

	conn, err := sql.Open("sqlite3", filepath.Join(dir, "index.db")+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open compile cache: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping compile cache: %w", err)
	}

	c := &Cache{dir: dir, readOnly: readOnly, conn: conn}
	if err := c.init(key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize compile cache: %w", err)
	}

	stats, err := c.Stats()
	if err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("compile cache opened", "dir", dir, "entries", stats.Entries, "read_only", readOnly)
	return c, nil
}

func (c *Cache) init(key Key) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		device TEXT NOT NULL DEFAULT '',
		device_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		schema_version INTEGER NOT NULL DEFAULT %d
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		size INTEGER NOT NULL,
		hits INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`, currentSchemaVersion)

	if _, err := c.conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := c.conn.Exec(`INSERT OR IGNORE INTO meta (id, device, device_id, model) VALUES (1, ?, ?, ?)`,
		key.Device, key.DeviceID, key.Model); err != nil {
		return fmt.Errorf("insert meta: %w", err)
	}

	var version int
	if err := c.conn.QueryRow(`SELECT schema_version FROM meta WHERE id = 1`).Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	// artifacts of older schemas are recompiled, not migrated
	if version != currentSchemaVersion {
		slog.Warn("compile cache schema changed, dropping artifacts", "version", version, "current", currentSchemaVersion)
		if _, err := c.conn.Exec(`DELETE FROM artifacts`); err != nil {
			return fmt.Errorf("reset artifacts: %w", err)
		}
		if _, err := c.conn.Exec(`UPDATE meta SET schema_version = ? WHERE id = 1`, currentSchemaVersion); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}

	return nil
}

// Dir is the directory holding the cache.
func (c *Cache) Dir() string {
	return c.dir
}

// Get returns the artifact stored under name.
func (c *Cache) Get(name string) ([]byte, bool, error) {
	var data []byte
	err := c.conn.QueryRow(`SELECT data FROM artifacts WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("get artifact: %w", err)
	}

	if !c.readOnly {
		if _, err := c.conn.Exec(`UPDATE artifacts SET hits = hits + 1 WHERE name = ?`, name); err != nil {
			return nil, false, fmt.Errorf("update hits: %w", err)
		}
	}

	return data, true, nil
}

// Put stores data under name, replacing an existing artifact.
func (c *Cache) Put(name string, data []byte) error {
	if c.readOnly {
		return ErrReadOnly
	}

	_, err := c.conn.Exec(`
		INSERT INTO artifacts (name, data, size) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, size = excluded.size, hits = 0`,
		name, data, len(data))
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

func (c *Cache) Stats() (Stats, error) {
	var s Stats
	err := c.conn.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(hits), 0) FROM artifacts`).
		Scan(&s.Entries, &s.Bytes, &s.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}

func (c *Cache) Close() error {
	if !c.readOnly {
		_, _ = c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	}
	return c.conn.Close()
}
