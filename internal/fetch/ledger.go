package fetch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// SQL statements for ledger operations.
const (
	sqlLookupArtifact = `SELECT digest, size, mtime FROM artifacts WHERE path = ?`

	sqlUpsertArtifact = `INSERT INTO artifacts (path, digest, size, mtime, verified_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		 digest = excluded.digest,
		 size = excluded.size,
		 mtime = excluded.mtime,
		 verified_at = excluded.verified_at,
		 run_id = excluded.run_id`

	sqlForgetArtifact = `DELETE FROM artifacts WHERE path = ?`
)

// Entry is one remembered verification: the digest a file had the last
// time it was hashed, together with the stat fingerprint (size, mtime in
// unix nanoseconds) of the file at that moment.
type Entry struct {
	Digest string
	Size   int64
	Mtime  int64
}

// Ledger remembers past artifact verifications in a SQLite database so
// that unchanged files can be trusted on later runs without re-hashing.
// It is the sole writer to the database.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// OpenLedger opens the SQLite database at dbPath, runs migrations, and
// returns a ready-to-use ledger. The database uses WAL mode with
// synchronous=FULL for crash-safe durability.
func OpenLedger(dbPath string, logger *slog.Logger) (*Ledger, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("fetch: opening ledger %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", "db_path", dbPath)

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("fetch: closing ledger: %w", err)
	}

	return nil
}

// Lookup returns the remembered entry for a logical artifact path, or nil
// when the path has never been verified.
func (l *Ledger) Lookup(ctx context.Context, path string) (*Entry, error) {
	var e Entry
	err := l.db.QueryRowContext(ctx, sqlLookupArtifact, path).Scan(&e.Digest, &e.Size, &e.Mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch: ledger lookup %s: %w", path, err)
	}

	return &e, nil
}

// Record stores or replaces the verification entry for a logical path.
func (l *Ledger) Record(ctx context.Context, path, digest string, size, mtime int64, runID string) error {
	now := l.nowFunc().UnixNano()

	if _, err := l.db.ExecContext(ctx, sqlUpsertArtifact, path, digest, size, mtime, now, runID); err != nil {
		return fmt.Errorf("fetch: ledger record %s: %w", path, err)
	}

	return nil
}

// Forget removes the entry for a logical path, forcing a full hash on the
// next run.
func (l *Ledger) Forget(ctx context.Context, path string) error {
	if _, err := l.db.ExecContext(ctx, sqlForgetArtifact, path); err != nil {
		return fmt.Errorf("fetch: ledger forget %s: %w", path, err)
	}

	return nil
}
