// Package sqlite is a Store backed by SQLite (pure Go driver).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"xdao.co/kel/event"
	"xdao.co/kel/storage"
	"xdao.co/kel/storage/sqlite/migrations"
)

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps the next-sequence check and insert in one transaction
	// without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isConstraint(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func encodeExtras(rec storage.Record) (string, sql.NullString, error) {
	sigs, err := json.Marshal(rec.Signatures)
	if err != nil {
		return "", sql.NullString{}, err
	}
	var seal sql.NullString
	if rec.DelegatorSeal != nil {
		b, err := json.Marshal(rec.DelegatorSeal)
		if err != nil {
			return "", sql.NullString{}, err
		}
		seal = sql.NullString{String: string(b), Valid: true}
	}
	return string(sigs), seal, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (storage.Record, error) {
	var (
		rec  storage.Record
		sn   int64
		sigs string
		seal sql.NullString
	)
	if err := row.Scan(&rec.Prefix, &sn, &rec.Digest, &rec.Raw, &sigs, &seal); err != nil {
		return storage.Record{}, err
	}
	rec.Sn = uint64(sn)
	if err := json.Unmarshal([]byte(sigs), &rec.Signatures); err != nil {
		return storage.Record{}, fmt.Errorf("decode signatures: %w", err)
	}
	if seal.Valid {
		rec.DelegatorSeal = &event.Seal{}
		if err := json.Unmarshal([]byte(seal.String), rec.DelegatorSeal); err != nil {
			return storage.Record{}, fmt.Errorf("decode delegator seal: %w", err)
		}
	}
	return rec, nil
}

func (s *Store) Append(ctx context.Context, rec storage.Record) error {
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	sigs, seal, err := encodeExtras(rec)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM events WHERE prefix = ?`, rec.Prefix).Scan(&n); err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	if rec.Sn < uint64(n) {
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT digest FROM events WHERE prefix = ? AND sn = ?`, rec.Prefix, int64(rec.Sn)).Scan(&existing); err != nil {
			return fmt.Errorf("load event: %w", err)
		}
		if existing == rec.Digest {
			return nil
		}
		return storage.ErrConflict
	}
	if rec.Sn != uint64(n) {
		return storage.ErrOutOfSequence
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (prefix, sn, digest, raw, signatures, delegator_seal) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Prefix, int64(rec.Sn), rec.Digest, rec.Raw, sigs, seal)
	if err != nil {
		if isConstraint(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Events(ctx context.Context, prefix string) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prefix, sn, digest, raw, signatures, delegator_seal FROM events WHERE prefix = ? ORDER BY sn`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Event(ctx context.Context, digest string) (storage.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT prefix, sn, digest, raw, signatures, delegator_seal FROM events WHERE digest = ?`, digest)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, err
	}
	return rec, nil
}

func (s *Store) Prefixes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT prefix FROM events ORDER BY prefix`)
	if err != nil {
		return nil, fmt.Errorf("query prefixes: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PutReceipt(ctx context.Context, r event.Receipt) (bool, error) {
	if r.Digest == "" || r.Witness == "" {
		return false, storage.ErrInvalidRecord
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (digest, witness, signature) VALUES (?, ?, ?) ON CONFLICT (digest, witness) DO NOTHING`,
		r.Digest, r.Witness, r.Signature)
	if err != nil {
		return false, fmt.Errorf("insert receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) Receipts(ctx context.Context, digest string) ([]event.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT digest, witness, signature FROM receipts WHERE digest = ? ORDER BY witness`, digest)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()
	var out []event.Receipt
	for rows.Next() {
		var r event.Receipt
		if err := rows.Scan(&r.Digest, &r.Witness, &r.Signature); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PutDuplicitous(ctx context.Context, rec storage.Record) error {
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	sigs, seal, err := encodeExtras(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO duplicitous (prefix, sn, digest, raw, signatures, delegator_seal) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (prefix, digest) DO NOTHING`,
		rec.Prefix, int64(rec.Sn), rec.Digest, rec.Raw, sigs, seal)
	if err != nil {
		return fmt.Errorf("insert duplicitous event: %w", err)
	}
	return nil
}

func (s *Store) Duplicitous(ctx context.Context, prefix string) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prefix, sn, digest, raw, signatures, delegator_seal FROM duplicitous WHERE prefix = ? ORDER BY sn, digest`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query duplicitous events: %w", err)
	}
	defer rows.Close()
	var out []storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutPending(ctx context.Context, rec storage.Record) error {
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	sigs, seal, err := encodeExtras(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending (prefix, sn, digest, raw, signatures, delegator_seal) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (prefix) DO UPDATE SET sn = excluded.sn, digest = excluded.digest, raw = excluded.raw,
		 signatures = excluded.signatures, delegator_seal = excluded.delegator_seal`,
		rec.Prefix, int64(rec.Sn), rec.Digest, rec.Raw, sigs, seal)
	if err != nil {
		return fmt.Errorf("upsert pending event: %w", err)
	}
	return nil
}

func (s *Store) DeletePending(ctx context.Context, prefix, digest string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending WHERE prefix = ? AND digest = ?`, prefix, digest); err != nil {
		return fmt.Errorf("delete pending event: %w", err)
	}
	return nil
}

func (s *Store) Pending(ctx context.Context) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prefix, sn, digest, raw, signatures, delegator_seal FROM pending ORDER BY prefix`)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()
	var out []storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
