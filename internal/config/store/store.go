package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nupi-ai/nexus/internal/config"
	storecrypto "github.com/nupi-ai/nexus/internal/config/store/crypto"
	"github.com/nupi-ai/nexus/internal/constants"
)

const (
	defaultBusyTimeout        = 5 * time.Second
	defaultConnectionLifetime = 0 // unlimited
)

// Options describes parameters for opening a settings store.
type Options struct {
	ProfileName string // Profile within the database (defaults to config.DefaultProfile)
	DBPath      string // Optional override for config.db path (primarily for tests)
	ReadOnly    bool   // Open database in read-only mode
}

// Store provides access to the settings database.
type Store struct {
	db          *sql.DB
	profileName string
	dbPath      string
	readOnly    bool
	sealer      *storecrypto.Sealer // nil in read-only mode when no key exists yet
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Open initialises the settings store.
func Open(opts Options) (*Store, error) {
	if opts.ProfileName == "" {
		opts.ProfileName = config.DefaultProfile
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		paths, err := config.EnsureDirs()
		if err != nil {
			return nil, fmt.Errorf("config: ensure directories: %w", err)
		}
		dbPath = paths.ConfigDB
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("config: ensure database directory: %w", err)
	}

	dsn := dbPath
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(defaultConnectionLifetime)
	db.SetConnMaxIdleTime(defaultConnectionLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), constants.StoreOpenTimeout)
	defer cancel()

	if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
		db.Close()
		return nil, err
	}

	if !opts.ReadOnly {
		if err := applySchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	keyPath := storecrypto.KeyPath(dbPath)
	var key []byte
	if opts.ReadOnly {
		key, err = storecrypto.LoadKey(keyPath)
	} else {
		key, err = storecrypto.LoadOrCreateKey(keyPath)
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	var sealer *storecrypto.Sealer
	if key != nil {
		if sealer, err = storecrypto.NewSealer(key); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{
		db:          db,
		profileName: opts.ProfileName,
		dbPath:      dbPath,
		readOnly:    opts.ReadOnly,
		sealer:      sealer,
	}, nil
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ProfileName returns the profile associated with the store.
func (s *Store) ProfileName() string {
	return s.profileName
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("config: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
