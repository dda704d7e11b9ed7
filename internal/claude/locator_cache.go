package claude

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
)

// pathRecordVersion is bumped when the on-disk record shape changes.
const pathRecordVersion = "1.0"

// pathRecordTTL is how long a discovered invocation stays valid.
const pathRecordTTL = 24 * time.Hour

// pathRecord is the persisted executable discovery result.
type pathRecord struct {
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Version   string `json:"version"`
}

// expired reports whether the record is older than pathRecordTTL.
// Expired records are discarded, never silently extended.
func (r pathRecord) expired(now time.Time) bool {
	discovered := time.UnixMilli(r.Timestamp)
	return now.Sub(discovered) > pathRecordTTL
}

// recordStore persists one pathRecord as a JSON file under the per-user
// config directory. Only the locator writes it, and only after a full
// discovery.
type recordStore struct {
	path string
}

func newRecordStore(dir string) *recordStore {
	return &recordStore{path: filepath.Join(dir, "claude-path.json")}
}

// load returns the cached record, or ok=false on absence, corruption, or
// expiry. Corruption is a cache miss, not an error.
func (s *recordStore) load(now time.Time) (pathRecord, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn(log.CatLocator, "path cache unreadable, treating as miss", "path", s.path, "error", err)
		}
		return pathRecord{}, false
	}

	var rec pathRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn(log.CatLocator, "path cache corrupt, treating as miss", "path", s.path, "error", err)
		return pathRecord{}, false
	}
	if rec.Path == "" || rec.Version != pathRecordVersion {
		return pathRecord{}, false
	}
	if rec.expired(now) {
		log.Debug(log.CatLocator, "path cache expired", "age", now.Sub(time.UnixMilli(rec.Timestamp)))
		return pathRecord{}, false
	}
	return rec, true
}

// store persists a freshly discovered invocation, creating the containing
// directory if absent.
func (s *recordStore) store(invocation string, now time.Time) error {
	rec := pathRecord{
		Path:      invocation,
		Timestamp: now.UnixMilli(),
		Version:   pathRecordVersion,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding path record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing path record: %w", err)
	}
	log.Debug(log.CatLocator, "path cache written", "path", s.path, "invocation", invocation)
	return nil
}
