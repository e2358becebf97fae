package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"tourgraph/config"
	"tourgraph/metrics"
	"tourgraph/models"
	"tourgraph/utils"
)

const cursorKey = "last_partition_id"

// SQLStore is the catalog store over database/sql. SQLite is the default
// embedded backend; PostgreSQL is supported with the same schema.
//
// The store is single-writer: every mutating call holds writeMu for its
// whole duration, so at most one write transaction is open at a time.
// Reads do not take the lock.
type SQLStore struct {
	db      *sql.DB
	driver  string
	writeMu sync.Mutex
	log     *utils.Logger
	now     func() time.Time
}

// Open connects to the database, runs schema migrations, and returns a
// ready-to-use store.
func Open(ctx context.Context, driver, dsn string, log *utils.Logger) (*SQLStore, error) {
	if log == nil {
		log = utils.NopLogger()
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	// Postgres may still be starting when we come up under compose.
	attempts := 1
	if driver == config.DriverPostgres {
		attempts = 10
	}
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		if i < attempts-1 {
			if werr := utils.SleepContext(ctx, 2*time.Second); werr != nil {
				err = werr
				break
			}
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}

	s := &SQLStore{db: db, driver: driver, log: log, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// OpenFromConfig opens the backend selected by cfg.
func OpenFromConfig(ctx context.Context, cfg *config.Config, log *utils.Logger) (*SQLStore, error) {
	return Open(ctx, cfg.DBDriver, cfg.DSN(), log)
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schemaFor(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w (statement: %.60s)", err, stmt)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind turns '?' placeholders into '$N' for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn in one write transaction. Any error rolls the transaction
// back and comes out as a StoreError.
func (s *SQLStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	defer func() { metrics.RecordStoreOp(op, time.Since(start), err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.StoreError{Op: op, Err: err}
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("[store] %s: rollback failed: %v", op, rbErr)
		}
		if models.IsValidation(err) {
			return err
		}
		return &models.StoreError{Op: op, Err: err}
	}
	if err = tx.Commit(); err != nil {
		return &models.StoreError{Op: op, Err: err}
	}
	return nil
}

// exec runs a single write statement under the writer lock.
func (s *SQLStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	metrics.RecordStoreOp(op, time.Since(start), err)
	if err != nil {
		return nil, &models.StoreError{Op: op, Err: err}
	}
	return res, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// GetState reads a process-wide key; ok is false when the key is unset.
func (s *SQLStore) GetState(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM sync_state WHERE key = ?`), key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: get state %q: %w", key, err)
	}
	return value, true, nil
}

// SetState writes a process-wide key.
func (s *SQLStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, "set_state", `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.now())
	return err
}

// Cursor returns the last fully processed partition id, "" if none.
func (s *SQLStore) Cursor(ctx context.Context) (string, error) {
	v, _, err := s.GetState(ctx, cursorKey)
	return v, err
}

// SetCursor records partitionID as the last fully processed partition.
func (s *SQLStore) SetCursor(ctx context.Context, partitionID string) error {
	return s.SetState(ctx, cursorKey, partitionID)
}

// ResetCursor clears the sweep position so the next resume starts over.
func (s *SQLStore) ResetCursor(ctx context.Context) error {
	_, err := s.exec(ctx, "reset_cursor", `DELETE FROM sync_state WHERE key = ?`, cursorKey)
	return err
}
