// Package db opens the SQLite file that holds federator state: scan cursors,
// vote bookkeeping and observed heartbeats.
package db

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tokenbridge/federator/federator/store"
)

const (
	// InMemorySQLiteDSN opens an ephemeral database, used by tests.
	InMemorySQLiteDSN = ":memory:"

	dirPermissions = 0o750

	// File databases run in WAL mode and wait up to 5s on a locked file.
	filePragmas = "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&mode=rwc"
)

// models are migrated in this order.
var models = []any{
	&store.ChainCursor{},
	&store.VoteRecord{},
	&store.HeartbeatRecord{},
}

// DB is a single-connection gorm handle. Every writer in the process goes
// through it, so SQLite never sees two concurrent writers.
type DB struct {
	client *gorm.DB
	path   string

	mu     sync.Mutex
	closed bool
}

// OpenFileDB opens <dir>/<filename>, creating the directory when needed.
func OpenFileDB(dir, filename string, migrateSchema bool) (*DB, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create database directory %s", dir)
	}
	path := filepath.Join(dir, filename)
	return open(path, path+filePragmas, migrateSchema)
}

// OpenInMemoryDB opens a database that disappears with the connection.
func OpenInMemoryDB(migrateSchema bool) (*DB, error) {
	return open(InMemorySQLiteDSN, InMemorySQLiteDSN, migrateSchema)
}

func open(path, dsn string, migrateSchema bool) (*DB, error) {
	client, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite database %s", path)
	}

	sqlDB, err := client.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	// One connection: an in-memory database lives exactly as long as it.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	d := &DB{client: client, path: path}
	if migrateSchema {
		if err := d.Migrate(); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return d, nil
}

// Migrate creates or updates the federator tables.
func (d *DB) Migrate() error {
	if err := d.client.AutoMigrate(models...); err != nil {
		return errors.Wrap(err, "failed to migrate database schema")
	}
	return nil
}

// Client returns the gorm handle for queries.
func (d *DB) Client() *gorm.DB {
	return d.client
}

// Path returns the database file, or InMemorySQLiteDSN.
func (d *DB) Path() string {
	return d.path
}

// Close closes the connection. Closing twice is a no-op.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}

	sqlDB, err := d.client.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get underlying sql.DB")
	}
	if err := sqlDB.Close(); err != nil {
		return errors.Wrap(err, "failed to close database")
	}
	d.closed = true
	return nil
}
