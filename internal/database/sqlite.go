package database

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const sharedMemoryDSN = "file::memory:?cache=shared&_foreign_keys=1"

var sqliteFileDefaults = map[string]string{
	"_foreign_keys": "1",
	"_journal_mode": "WAL",
	"_busy_timeout": "5000",
}

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn, err := buildSQLiteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	// Single writer: one pooled connection serialises concurrent upserts.
	if err := configurePool(db, 1, 0); err != nil {
		return nil, err
	}
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}
	return db, nil
}

// buildSQLiteDSN turns a file path into a DSN with WAL and foreign keys enabled. Options
// override the defaults. An empty path or ":memory:" selects a shared in-memory database.
func buildSQLiteDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return sharedMemoryDSN, nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}

	params := mergeOptions(map[string]string{}, sqliteFileDefaults)
	params = mergeOptions(params, cfg.Options)
	pairs := make([]string, 0, len(params))
	for _, key := range sortedKeys(params) {
		pairs = append(pairs, key+"="+params[key])
	}
	return "file:" + filepath.ToSlash(path) + "?" + strings.Join(pairs, "&"), nil
}
