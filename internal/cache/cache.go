// Package cache stores parse results keyed by file content, so unchanged
// files are not re-parsed across runs. Keys ignore the file path, which
// lets relocated files hit the cache.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"

	"tsmove/internal/parse"
)

// Dir is the cache directory relative to the project root.
const Dir = ".tsmove/cache"

const schema = `
CREATE TABLE IF NOT EXISTS declarations (
	digest TEXT PRIMARY KEY,
	outcome TEXT NOT NULL,
	count INTEGER NOT NULL,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Store is a sqlite-backed declaration cache.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the cache under root: {root}/.tsmove/cache/refs.db
func Open(root string) (*Store, error) {
	return OpenPath(filepath.Join(root, filepath.FromSlash(Dir), "refs.db"))
}

// OpenPath opens or creates a cache database at an explicit path.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying cache schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close releases the database and codecs.
func (s *Store) Close() error {
	s.dec.Close()
	encErr := s.enc.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return encErr
}

// Digest is the cache key for content parsed with the named grammar.
func Digest(lang string, content []byte) string {
	h := blake3.New(32, nil)
	h.Write([]byte(lang))
	h.Write([]byte{0})
	h.Write(content)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached result for a digest.
func (s *Store) Get(digest string) (*parse.Result, bool, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM declarations WHERE digest = ?", digest).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache: %w", err)
	}

	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompressing cache entry: %w", err)
	}
	var res parse.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &res, true, nil
}

// Put stores a result. Only full parses are cached; a degraded result
// depends on the budget and machine speed, not just the content.
func (s *Store) Put(digest string, res *parse.Result) error {
	if res == nil || res.Outcome != parse.Full {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	payload := s.enc.EncodeAll(raw, nil)

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO declarations (digest, outcome, count, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		digest, res.Outcome.String(), len(res.Declarations), payload, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// Clear removes all entries.
func (s *Store) Clear() error {
	_, err := s.db.Exec("DELETE FROM declarations")
	return err
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries      int64 `json:"entries"`
	Declarations int64 `json:"declarations"`
	PayloadBytes int64 `json:"payloadBytes"`
}

// Stats returns cache statistics.
func (s *Store) Stats() (*Stats, error) {
	var st Stats
	err := s.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(count), 0), COALESCE(SUM(LENGTH(payload)), 0) FROM declarations",
	).Scan(&st.Entries, &st.Declarations, &st.PayloadBytes)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
