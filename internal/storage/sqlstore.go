package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLStore persists key-value records and leases to SQLite or PostgreSQL,
// picking the backend from the DSN: a postgres://, postgresql:// prefix selects pgx, anything else is treated
// as a SQLite file path (the "memory/records.sqlite" leg of the persisted
// state layout).
type SQLStore struct {
	db         *sql.DB
	isPostgres bool
}

// Queries in this package are written with ? placeholders; rebind numbers
// them into the $N form PostgreSQL expects. SQLite takes them as written.
func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	arg := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		arg++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(arg))
	}
	return b.String()
}

func OpenSQLStore(dsn string) (*SQLStore, error) {
	if dsn == "" {
		dsn = "memory/records.sqlite"
	}
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	var db *sql.DB
	var err error
	if isPostgres {
		db, err = sql.Open("pgx", dsn)
	} else {
		db, err = sql.Open("sqlite", dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dsn, err)
	}

	s := &SQLStore{db: db, isPostgres: isPostgres}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_records (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		`CREATE TABLE IF NOT EXISTS leases (
			lease_key TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Get returns the stored value for (namespace, key), or ("", false, nil) if absent.
func (s *SQLStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	q := rebind(s.isPostgres, `SELECT value FROM kv_records WHERE namespace = ? AND key = ?`)
	var value string
	err := s.db.QueryRowContext(ctx, q, namespace, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

// Set upserts a value.
func (s *SQLStore) Set(ctx context.Context, namespace, key, value string) error {
	var q string
	if s.isPostgres {
		q = `INSERT INTO kv_records (namespace, key, value, updated_at) VALUES ($1,$2,$3,$4)
			ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	} else {
		q = `INSERT INTO kv_records (namespace, key, value, updated_at) VALUES (?,?,?,?)
			ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, q, namespace, key, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("storage: set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Lease is a time-bounded exclusive claim on a key, for coordinating
// multiple writer processes against one audit chain or rate bucket.
type Lease struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
}

// AcquireLease claims key for holder until ttl elapses. It succeeds if the
// key is unclaimed or its previous lease has expired.
func (s *SQLStore) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (*Lease, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: acquire lease %s: %w", key, err)
	}
	defer tx.Rollback()

	q := rebind(s.isPostgres, `SELECT holder, expires_at FROM leases WHERE lease_key = ?`)
	var holderCur, expiresCur string
	err = tx.QueryRowContext(ctx, q, key).Scan(&holderCur, &expiresCur)
	switch {
	case err == sql.ErrNoRows:
		ins := rebind(s.isPostgres, `INSERT INTO leases (lease_key, holder, expires_at) VALUES (?,?,?)`)
		if _, err := tx.ExecContext(ctx, ins, key, holder, expires.Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("storage: insert lease %s: %w", key, err)
		}
	case err != nil:
		return nil, fmt.Errorf("storage: read lease %s: %w", key, err)
	default:
		prevExpires, perr := time.Parse(time.RFC3339Nano, expiresCur)
		if perr == nil && holderCur != holder && now.Before(prevExpires) {
			return nil, fmt.Errorf("storage: lease %s held by %s until %s", key, holderCur, expiresCur)
		}
		upd := rebind(s.isPostgres, `UPDATE leases SET holder = ?, expires_at = ? WHERE lease_key = ?`)
		if _, err := tx.ExecContext(ctx, upd, holder, expires.Format(time.RFC3339Nano), key); err != nil {
			return nil, fmt.Errorf("storage: renew lease %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage: commit lease %s: %w", key, err)
	}
	return &Lease{Key: key, Holder: holder, ExpiresAt: expires}, nil
}

// RenewLease extends an already-held lease.
func (s *SQLStore) RenewLease(ctx context.Context, l *Lease, ttl time.Duration) error {
	renewed, err := s.AcquireLease(ctx, l.Key, l.Holder, ttl)
	if err != nil {
		return err
	}
	l.ExpiresAt = renewed.ExpiresAt
	return nil
}

// ReleaseLease drops a held lease early.
func (s *SQLStore) ReleaseLease(ctx context.Context, l *Lease) error {
	q := rebind(s.isPostgres, `DELETE FROM leases WHERE lease_key = ? AND holder = ?`)
	if _, err := s.db.ExecContext(ctx, q, l.Key, l.Holder); err != nil {
		return fmt.Errorf("storage: release lease %s: %w", l.Key, err)
	}
	return nil
}
