package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrLocked indicates another process holds the snapshot advisory lock.
	ErrLocked = errors.New("storage: snapshot lock held by another writer")
	// ErrLockKeyRange indicates an advisory lock key that does not fit in int32.
	ErrLockKeyRange = errors.New("storage: advisory lock key out of int32 range")
)

const (
	createSnapshotsTableSQL = `CREATE TABLE IF NOT EXISTS revenue_snapshots (
        family     TEXT PRIMARY KEY,
        document   JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	loadSnapshotSQL = `SELECT document FROM revenue_snapshots WHERE family = $1;`

	upsertSnapshotSQL = `INSERT INTO revenue_snapshots (
        family,
        document,
        updated_at
    ) VALUES (
        $1,$2,now()
    )
    ON CONFLICT (family) DO UPDATE
    SET document   = EXCLUDED.document,
        updated_at = EXCLUDED.updated_at;`

	tryAdvisoryXactLockSQL = `SELECT pg_try_advisory_xact_lock($1, hashtext($2));`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// xactLockKey narrows the configured key to the int4 half of the two-key
// advisory lock. Keys outside the int32 range are rejected, not truncated.
func xactLockKey(key int64) (int32, error) {
	if key < math.MinInt32 || key > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d", ErrLockKeyRange, key)
	}
	return int32(key), nil
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// PostgresSnapshots stores snapshot documents in a JSONB table.
type PostgresSnapshots struct {
	pool    *pgxpool.Pool
	lockKey int64
	logger  zerolog.Logger
}

// NewPostgresSnapshots wires a pgx pool into a snapshot store.
func NewPostgresSnapshots(pool *pgxpool.Pool, lockKey int64, logger zerolog.Logger) *PostgresSnapshots {
	return &PostgresSnapshots{
		pool:    pool,
		lockKey: lockKey,
		logger:  logger.With().Str("component", "postgres_snapshots").Logger(),
	}
}

// Close releases the underlying pool resources.
func (s *PostgresSnapshots) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresSnapshots) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the snapshot table when missing.
func (s *PostgresSnapshots) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSnapshotsTableSQL); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	return nil
}

// Load returns the family document.
func (s *PostgresSnapshots) Load(ctx context.Context, family string) ([]byte, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}
	var doc []byte
	scanErr := pool.QueryRow(ctx, loadSnapshotSQL, family).Scan(&doc)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if scanErr != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", family, scanErr)
	}
	return doc, true, nil
}

// Save upserts the family document. A transaction-scoped advisory lock keyed by
// family keeps concurrent writers from interleaving.
func (s *PostgresSnapshots) Save(ctx context.Context, family string, doc []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn().Err(rbErr).Str("family", family).Msg("rollback snapshot tx")
		}
	}()

	key, err := xactLockKey(s.lockKey)
	if err != nil {
		return err
	}
	var acquired bool
	if err := tx.QueryRow(ctx, tryAdvisoryXactLockSQL, key, family).Scan(&acquired); err != nil {
		return fmt.Errorf("try snapshot lock: %w", err)
	}
	if !acquired {
		return ErrLocked
	}

	if _, err := tx.Exec(ctx, upsertSnapshotSQL, family, doc); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", family, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot %s: %w", family, err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a session advisory lock and returns a release func.
// The scheduler uses it so only one instance runs the monitoring cycle.
func (s *PostgresSnapshots) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

var (
	_ Snapshots      = (*PostgresSnapshots)(nil)
	_ AdvisoryLocker = (*PostgresSnapshots)(nil)
)
