// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-softtoken.
//
// go-softtoken is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package sqlite implements registry.Registry on a SQLite database so key
// and certificate metadata survive restarts.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"

	"github.com/jeremyhahn/go-softtoken/pkg/registry"
	"github.com/jeremyhahn/go-softtoken/pkg/types"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config configures the SQLite registry.
type Config struct {
	// Path is the database file, or MemoryPath.
	Path string `yaml:"path" json:"path" mapstructure:"path"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil || c.Path == "" {
		return errors.New("sqlite: path is required")
	}
	return nil
}

// DB is a registry.Registry backed by SQLite.
type DB struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens (creating if needed) the registry database at cfg.Path.
// Every token is marked inactive, since session PINs are never persisted.
func Open(cfg *Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open %s: %w", cfg.Path, err)
	}
	// One connection: SQLite serializes writers anyway and ":memory:" is
	// per connection.
	db.SetMaxOpenConns(1)

	r := &DB{db: db}
	if err := r.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", "5000")
	if path != MemoryPath {
		q.Set("_journal_mode", "WAL")
	}
	return "file:" + path + "?" + q.Encode()
}

func (r *DB) init() error {
	for _, stmt := range createStmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: failed to create schema: %w", err)
		}
	}
	if _, err := r.db.Exec(resetActiveQuery); err != nil {
		return fmt.Errorf("sqlite: failed to reset session state: %w", err)
	}
	return nil
}

// AddToken implements registry.Registry.
func (r *DB) AddToken(tokenID string) error {
	if tokenID == "" {
		return registry.ErrInvalidID
	}
	if r.closed.Load() {
		return registry.ErrClosed
	}
	_, err := r.db.Exec(insertTokenQuery, tokenID, string(types.TokenStatusNotInitialized))
	return wrap(err, "add token")
}

// Token implements registry.Registry.
func (r *DB) Token(tokenID string) (*types.TokenInfo, error) {
	if r.closed.Load() {
		return nil, registry.ErrClosed
	}
	t, err := scanToken(r.db.QueryRow(getTokenQuery, tokenID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", registry.ErrTokenNotFound, tokenID)
	}
	if err != nil {
		return nil, wrap(err, "get token")
	}
	return t, nil
}

// Tokens implements registry.Registry.
func (r *DB) Tokens() ([]*types.TokenInfo, error) {
	if r.closed.Load() {
		return nil, registry.ErrClosed
	}
	rows, err := r.db.Query(listTokensQuery)
	if err != nil {
		return nil, wrap(err, "list tokens")
	}
	defer rows.Close()

	var out []*types.TokenInfo
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, wrap(err, "list tokens")
		}
		out = append(out, t)
	}
	return out, wrap(rows.Err(), "list tokens")
}

// SetTokenStatus implements registry.Registry.
func (r *DB) SetTokenStatus(tokenID string, status types.TokenStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", registry.ErrInvalidStatus, status)
	}
	return r.updateToken(updateTokenStatusQuery, string(status), tokenID)
}

// SetTokenActive implements registry.Registry.
func (r *DB) SetTokenActive(tokenID string, active bool) error {
	return r.updateToken(updateTokenActiveQuery, active, tokenID)
}

// SetTokenAvailable implements registry.Registry.
func (r *DB) SetTokenAvailable(tokenID string, available bool) error {
	return r.updateToken(updateTokenAvailableQuery, available, tokenID)
}

// IsTokenActive implements registry.Registry.
func (r *DB) IsTokenActive(tokenID string) (bool, error) {
	t, err := r.Token(tokenID)
	if err != nil {
		return false, err
	}
	return t.Active, nil
}

// AddKey implements registry.Registry.
func (r *DB) AddKey(tokenID, keyID, publicKey string) error {
	if keyID == "" {
		return registry.ErrInvalidID
	}
	if err := r.requireToken(tokenID); err != nil {
		return err
	}
	_, err := r.db.Exec(insertKeyQuery, tokenID, keyID, publicKey)
	if isConstraint(err) {
		return fmt.Errorf("%w: %s", registry.ErrKeyExists, keyID)
	}
	return wrap(err, "add key")
}

// Key implements registry.Registry.
func (r *DB) Key(tokenID, keyID string) (*types.KeyInfo, error) {
	if err := r.requireToken(tokenID); err != nil {
		return nil, err
	}

	key := &types.KeyInfo{TokenID: tokenID}
	err := r.db.QueryRow(getKeyQuery, tokenID, keyID).Scan(&key.ID, &key.PublicKey, &key.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", registry.ErrKeyNotFound, keyID)
	}
	if err != nil {
		return nil, wrap(err, "get key")
	}

	certs, err := r.certs(listCertsQuery, tokenID, keyID)
	if err != nil {
		return nil, err
	}
	key.Certs = certs
	return key, nil
}

// Keys implements registry.Registry.
func (r *DB) Keys(tokenID string) ([]*types.KeyInfo, error) {
	if err := r.requireToken(tokenID); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(listKeysQuery, tokenID)
	if err != nil {
		return nil, wrap(err, "list keys")
	}
	out := make([]*types.KeyInfo, 0)
	byID := make(map[string]*types.KeyInfo)
	for rows.Next() {
		key := &types.KeyInfo{TokenID: tokenID}
		if err := rows.Scan(&key.ID, &key.PublicKey, &key.Available); err != nil {
			rows.Close()
			return nil, wrap(err, "list keys")
		}
		out = append(out, key)
		byID[key.ID] = key
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrap(err, "list keys")
	}

	certs, err := r.certs(listTokenCertsQuery, tokenID)
	if err != nil {
		return nil, err
	}
	for _, cert := range certs {
		if key, ok := byID[cert.KeyID]; ok {
			key.Certs = append(key.Certs, cert)
		}
	}
	return out, nil
}

// HasKey implements registry.Registry.
func (r *DB) HasKey(tokenID, keyID string) (bool, error) {
	_, err := r.Key(tokenID, keyID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, registry.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SetKeyAvailable implements registry.Registry.
func (r *DB) SetKeyAvailable(tokenID, keyID string, available bool) error {
	return r.updateKey(updateKeyAvailableQuery, available, tokenID, keyID)
}

// IsKeyAvailable implements registry.Registry.
func (r *DB) IsKeyAvailable(tokenID, keyID string) (bool, error) {
	key, err := r.Key(tokenID, keyID)
	if err != nil {
		return false, err
	}
	return key.Available, nil
}

// SetKeyPublicKey implements registry.Registry.
func (r *DB) SetKeyPublicKey(tokenID, keyID, publicKey string) error {
	return r.updateKey(updateKeyPublicKeyQuery, publicKey, tokenID, keyID)
}

// RemoveKey implements registry.Registry.
func (r *DB) RemoveKey(tokenID, keyID string) error {
	if err := r.requireToken(tokenID); err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return wrap(err, "remove key")
	}
	if _, err := tx.Exec(deleteKeyCertsQuery, tokenID, keyID); err != nil {
		_ = tx.Rollback()
		return wrap(err, "remove key")
	}
	if _, err := tx.Exec(deleteKeyQuery, tokenID, keyID); err != nil {
		_ = tx.Rollback()
		return wrap(err, "remove key")
	}
	return wrap(tx.Commit(), "remove key")
}

// AddCert implements registry.Registry.
func (r *DB) AddCert(tokenID string, cert *types.CertInfo) error {
	if cert == nil || cert.ID == "" {
		return registry.ErrInvalidID
	}
	if ok, err := r.HasKey(tokenID, cert.KeyID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", registry.ErrKeyNotFound, cert.KeyID)
	}

	_, err := r.db.Exec(insertCertQuery, tokenID, cert.ID, cert.KeyID, cert.Active, cert.Certificate)
	if isConstraint(err) {
		return fmt.Errorf("%w: %s", registry.ErrCertExists, cert.ID)
	}
	return wrap(err, "add cert")
}

// RemoveCert implements registry.Registry.
func (r *DB) RemoveCert(tokenID, certID string) error {
	if err := r.requireToken(tokenID); err != nil {
		return err
	}
	_, err := r.db.Exec(deleteCertQuery, tokenID, certID)
	return wrap(err, "remove cert")
}

// Close implements registry.Registry.
func (r *DB) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.db.Close()
}

func (r *DB) requireToken(tokenID string) error {
	_, err := r.Token(tokenID)
	return err
}

func (r *DB) updateToken(query string, value interface{}, tokenID string) error {
	if r.closed.Load() {
		return registry.ErrClosed
	}
	res, err := r.db.Exec(query, value, tokenID)
	if err != nil {
		return wrap(err, "update token")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", registry.ErrTokenNotFound, tokenID)
	}
	return nil
}

func (r *DB) updateKey(query string, value interface{}, tokenID, keyID string) error {
	if err := r.requireToken(tokenID); err != nil {
		return err
	}
	res, err := r.db.Exec(query, value, tokenID, keyID)
	if err != nil {
		return wrap(err, "update key")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", registry.ErrKeyNotFound, keyID)
	}
	return nil
}

func (r *DB) certs(query string, args ...interface{}) ([]*types.CertInfo, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, wrap(err, "list certs")
	}
	defer rows.Close()

	var out []*types.CertInfo
	for rows.Next() {
		c := &types.CertInfo{}
		if err := rows.Scan(&c.ID, &c.KeyID, &c.Active, &c.Certificate); err != nil {
			return nil, wrap(err, "list certs")
		}
		out = append(out, c)
	}
	return out, wrap(rows.Err(), "list certs")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*types.TokenInfo, error) {
	var (
		t      types.TokenInfo
		status string
	)
	if err := row.Scan(&t.ID, &status, &t.Active, &t.Available); err != nil {
		return nil, err
	}
	parsed, err := types.ParseTokenStatus(status)
	if err != nil {
		return nil, wrap(err, "scan token")
	}
	t.Status = parsed
	return &t, nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("sqlite: failed to %s: %w", op, err)
}

var _ registry.Registry = (*DB)(nil)
