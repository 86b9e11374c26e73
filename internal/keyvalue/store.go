// Package keyvalue provides durable, collection-scoped key/value storage on SQLite
// with optional per-entry expiry.
package keyvalue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Factory hands out stores that share one database.
type Factory struct {
	db  *sql.DB
	now func() time.Time
}

// NewFactory creates a store factory on db.
func NewFactory(db *sql.DB) *Factory {
	return &Factory{db: db, now: time.Now}
}

// Get returns the store for a collection.
func (f *Factory) Get(collection string) *SQLStore {
	return &SQLStore{db: f.db, collection: collection, now: f.now}
}

// DeleteExpired removes expired entries across all collections and reports how many were dropped.
func (f *Factory) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := f.db.ExecContext(ctx,
		`DELETE FROM key_value WHERE expire IS NOT NULL AND expire <= ?`, f.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired entries: %w", err)
	}
	return n, nil
}

// SQLStore is a key/value store bound to a single collection.
type SQLStore struct {
	db         *sql.DB
	collection string
	now        func() time.Time
}

// Get returns the value for key; ok is false when the key is absent or expired.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM key_value
		 WHERE collection = ? AND name = ? AND (expire IS NULL OR expire > ?)`,
		s.collection, key, s.now().Unix(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s:%s: %w", s.collection, key, err)
	}
	return value, true, nil
}

// GetAll returns every live entry in the collection.
func (s *SQLStore) GetAll(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM key_value
		 WHERE collection = ? AND (expire IS NULL OR expire > ?)`,
		s.collection, s.now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.collection, err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var name string
		var value []byte
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s entry: %w", s.collection, err)
		}
		result[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", s.collection, err)
	}
	return result, nil
}

// Set stores value under key without expiry.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	return s.upsert(ctx, key, value, sql.NullInt64{})
}

// SetWithExpire stores value under key for ttl.
func (s *SQLStore) SetWithExpire(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expire := sql.NullInt64{Int64: s.now().Add(ttl).Unix(), Valid: true}
	return s.upsert(ctx, key, value, expire)
}

func (s *SQLStore) upsert(ctx context.Context, key string, value []byte, expire sql.NullInt64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO key_value (collection, name, value, expire) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, name) DO UPDATE SET value = excluded.value, expire = excluded.expire`,
		s.collection, key, value, expire)
	if err != nil {
		return fmt.Errorf("failed to write %s:%s: %w", s.collection, key, err)
	}
	return nil
}

// SetIfNotExists stores value only when key has no live entry. It reports whether it wrote.
func (s *SQLStore) SetIfNotExists(ctx context.Context, key string, value []byte) (bool, error) {
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO key_value (collection, name, value, expire) VALUES (?, ?, ?, NULL)
		 ON CONFLICT(collection, name) DO UPDATE SET value = excluded.value, expire = NULL
		 WHERE key_value.expire IS NOT NULL AND key_value.expire <= ?`,
		s.collection, key, value, now)
	if err != nil {
		return false, fmt.Errorf("failed to write %s:%s: %w", s.collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check write of %s:%s: %w", s.collection, key, err)
	}
	return n > 0, nil
}

// Delete removes key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM key_value WHERE collection = ? AND name = ?`, s.collection, key); err != nil {
		return fmt.Errorf("failed to delete %s:%s: %w", s.collection, key, err)
	}
	return nil
}

// DeleteAll removes every entry in the collection in a single statement.
func (s *SQLStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM key_value WHERE collection = ?`, s.collection); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.collection, err)
	}
	return nil
}
