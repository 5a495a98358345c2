// Package sqlstore persists authorization codes in SQLite. Redemption
// uses a conditional UPDATE and treats anything but one affected row as
// a lost race.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/authcore/internal/authcode"
	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/alexjbarnes/authcore/internal/models"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// CodeStore is an authcode.Backend on SQLite.
type CodeStore struct {
	db *sql.DB
}

var _ authcode.Backend = (*CodeStore)(nil)

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*CodeStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY
	// churn under concurrent redeem attempts.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &CodeStore{db: db}, nil
}

// Close closes the database.
func (s *CodeStore) Close() error {
	return s.db.Close()
}

const insertCodeSQL = `INSERT INTO authorization_codes
	(code, client_id, user_id, redirect_uri, scope, code_challenge, code_challenge_method, nonce, expires_at, created_at, used)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Insert implements authcode.Backend.
func (s *CodeStore) Insert(ctx context.Context, ac *models.AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx, insertCodeSQL,
		ac.Code, ac.ClientID, ac.UserID, ac.RedirectURI, ac.Scope,
		ac.CodeChallenge, ac.CodeChallengeMethod, ac.Nonce,
		ac.ExpiresAt.UnixNano(), ac.CreatedAt.UnixNano(), boolToInt(ac.Used),
	)
	if err != nil {
		return fmt.Errorf("inserting authorization code: %w", err)
	}

	return nil
}

const selectCodeSQL = `SELECT code, client_id, user_id, redirect_uri, scope, code_challenge,
	code_challenge_method, nonce, expires_at, created_at, used
	FROM authorization_codes WHERE code = ?`

// Get returns a stored code, or nil if absent.
func (s *CodeStore) Get(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	var (
		ac               models.AuthorizationCode
		expires, created int64
		used             int
	)

	err := s.db.QueryRowContext(ctx, selectCodeSQL, code).Scan(
		&ac.Code, &ac.ClientID, &ac.UserID, &ac.RedirectURI, &ac.Scope, &ac.CodeChallenge,
		&ac.CodeChallengeMethod, &ac.Nonce, &expires, &created, &used,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}

	ac.ExpiresAt = time.Unix(0, expires)
	ac.CreatedAt = time.Unix(0, created)
	ac.Used = used != 0

	return &ac, nil
}

// Redeem implements authcode.Backend.
func (s *CodeStore) Redeem(ctx context.Context, code string, check authcode.CheckFunc) (*models.AuthorizationCode, error) {
	ac, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := check(ac); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE authorization_codes SET used = 1 WHERE code = ? AND used = 0`, code)
	if err != nil {
		return nil, fmt.Errorf("marking authorization code used: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("marking authorization code used: %w", err)
	}

	if n != 1 {
		return nil, apperrors.ErrAuthorizationCodeUsed
	}

	ac.Used = true

	return ac, nil
}

// Purge implements authcode.Backend.
func (s *CodeStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE expires_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging authorization codes: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
