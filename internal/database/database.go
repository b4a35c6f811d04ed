package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"telxfwd/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the SQLite-backed persistence port for users, accounts,
// pairs, the job ledger and the message/error logs.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	now       func() time.Time
}

func New(dbPath string) (*Database, error) {
	if dbPath == "" || strings.ContainsRune(dbPath, '\x00') {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, closeOnError(db, fmt.Errorf("failed to ping database: %w", err))
	}

	if _, err := migrations.Apply(ctx, db); err != nil {
		return nil, closeOnError(db, fmt.Errorf("failed to initialize schema: %w", err))
	}

	enc, err := NewEncryptor()
	if err != nil {
		return nil, closeOnError(db, fmt.Errorf("failed to initialize encryptor: %w", err))
	}

	return newWithDB(db, enc), nil
}

func newWithDB(db *sql.DB, enc *encryptor) *Database {
	return &Database{
		db:        db,
		encryptor: enc,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func closeOnError(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
