package oauth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const oauthTimeFormat = time.RFC3339Nano

// Store provides SQLite-backed storage for authorization codes and refresh
// token chains. It owns these tables exclusively; no other subsystem writes
// them.
type Store struct {
	db *sql.DB
}

// NewStore creates an OAuth store using the provided database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("oauth store is not configured")
	}
	return nil
}

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CreateAuthorizationCode stores a new single-use authorization code.
func (s *Store) CreateAuthorizationCode(ctx context.Context, request AuthorizationRequest, now time.Time, ttl time.Duration) (*AuthorizationCode, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	code, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	expiresAt := now.UTC().Add(ttl)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO oauth_authorization_codes
		(code, user_id, app_id, redirect_uri, code_challenge, code_challenge_method, scope, state, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		code, request.UserID, request.ClientID, request.RedirectURI, request.CodeChallenge,
		request.CodeChallengeMethod, request.Scope, request.State, expiresAt.Format(oauthTimeFormat),
	)
	if err != nil {
		return nil, err
	}
	return &AuthorizationCode{
		Code:                code,
		UserID:              request.UserID,
		AppID:               request.ClientID,
		RedirectURI:         request.RedirectURI,
		CodeChallenge:       request.CodeChallenge,
		CodeChallengeMethod: request.CodeChallengeMethod,
		Scope:               request.Scope,
		State:               request.State,
		ExpiresAt:           expiresAt,
		Used:                false,
	}, nil
}

// GetAuthorizationCode retrieves an authorization code.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var authCode AuthorizationCode
	var expiresAt string
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT code, user_id, app_id, redirect_uri, code_challenge, code_challenge_method, scope, state, expires_at, used
		FROM oauth_authorization_codes WHERE code = ?`,
		code,
	).Scan(
		&authCode.Code, &authCode.UserID, &authCode.AppID, &authCode.RedirectURI,
		&authCode.CodeChallenge, &authCode.CodeChallengeMethod, &authCode.Scope, &authCode.State,
		&expiresAt, &used,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	expiry, err := time.Parse(oauthTimeFormat, expiresAt)
	if err != nil {
		return nil, err
	}
	authCode.ExpiresAt = expiry
	authCode.Used = used != 0
	return &authCode, nil
}

// DeleteAuthorizationCode deletes a code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) {
	if s == nil || s.db == nil {
		return
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM oauth_authorization_codes WHERE code = ?`, code)
}

// RedeemAuthorizationCode marks a code used and creates the root refresh
// token of a new chain in one transaction, so a second concurrent exchange
// cannot race a not-yet-marked code.
//
// It reports false when the code was already consumed.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string, root RefreshToken) (bool, error) {
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin redeem transaction: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE oauth_authorization_codes SET used = 1 WHERE code = ? AND used = 0`,
		code,
	)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if rows != 1 {
		_ = tx.Rollback()
		return false, nil
	}

	if err := insertRefreshToken(ctx, tx, root); err != nil {
		_ = tx.Rollback()
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit redeem transaction: %w", err)
	}
	return true, nil
}

// GetRefreshToken retrieves a refresh token row.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	return scanRefreshToken(s.db.QueryRowContext(ctx,
		refreshTokenColumns+` WHERE token = ?`, token))
}

// GetRefreshTokenSuccessor returns the token that superseded the given one.
func (s *Store) GetRefreshTokenSuccessor(ctx context.Context, token string) (*RefreshToken, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	return scanRefreshToken(s.db.QueryRowContext(ctx,
		refreshTokenColumns+` WHERE rotated_from = ?`, token))
}

// RotateRefreshToken archives the old token and inserts its successor in one
// transaction. The conditional archive is what totally orders rotations
// within a chain: a losing concurrent rotator observes "already archived"
// and reports false so the caller can fall back to the grace-window replay.
func (s *Store) RotateRefreshToken(ctx context.Context, oldToken string, next RefreshToken, archivedAt time.Time) (bool, error) {
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin rotate transaction: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE oauth_refresh_tokens SET archived = 1, archived_at = ?
		WHERE token = ? AND archived = 0 AND revoked = 0`,
		archivedAt.UTC().Format(oauthTimeFormat), oldToken,
	)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if rows != 1 {
		_ = tx.Rollback()
		return false, nil
	}

	if err := insertRefreshToken(ctx, tx, next); err != nil {
		_ = tx.Rollback()
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit rotate transaction: %w", err)
	}
	return true, nil
}

// RevokeSession revokes every token in a chain. Used when reuse of an
// archived token past the grace window signals theft.
func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE oauth_refresh_tokens SET revoked = 1 WHERE session_id = ?`,
		sessionID,
	)
	return err
}

// CleanupExpired deletes expired authorization codes and refresh tokens.
func (s *Store) CleanupExpired(ctx context.Context, now time.Time) {
	if s == nil || s.db == nil {
		return
	}
	cutoff := now.UTC().Format(oauthTimeFormat)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM oauth_authorization_codes WHERE expires_at <= ?`, cutoff)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM oauth_refresh_tokens WHERE expires_at <= ?`, cutoff)
}

const refreshTokenColumns = `SELECT token, session_id, user_id, app_id, scope, key_version, access_token,
	rotated_from, issued_at, expires_at, archived, archived_at, revoked
	FROM oauth_refresh_tokens`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefreshToken(row rowScanner) (*RefreshToken, error) {
	var (
		rt          RefreshToken
		rotatedFrom sql.NullString
		issuedAt    string
		expiresAt   string
		archived    int
		archivedAt  sql.NullString
		revoked     int
	)
	err := row.Scan(
		&rt.Token, &rt.SessionID, &rt.UserID, &rt.AppID, &rt.Scope, &rt.KeyVersion, &rt.AccessToken,
		&rotatedFrom, &issuedAt, &expiresAt, &archived, &archivedAt, &revoked,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rt.RotatedFrom = rotatedFrom.String
	rt.Archived = archived != 0
	rt.Revoked = revoked != 0
	if rt.IssuedAt, err = time.Parse(oauthTimeFormat, issuedAt); err != nil {
		return nil, err
	}
	if rt.ExpiresAt, err = time.Parse(oauthTimeFormat, expiresAt); err != nil {
		return nil, err
	}
	if archivedAt.Valid && archivedAt.String != "" {
		if rt.ArchivedAt, err = time.Parse(oauthTimeFormat, archivedAt.String); err != nil {
			return nil, err
		}
	}
	return &rt, nil
}

func insertRefreshToken(ctx context.Context, tx *sql.Tx, rt RefreshToken) error {
	var rotatedFrom any
	if rt.RotatedFrom != "" {
		rotatedFrom = rt.RotatedFrom
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO oauth_refresh_tokens
		(token, session_id, user_id, app_id, scope, key_version, access_token, rotated_from, issued_at, expires_at, archived, archived_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, 0)`,
		rt.Token, rt.SessionID, rt.UserID, rt.AppID, rt.Scope, rt.KeyVersion, rt.AccessToken,
		rotatedFrom, rt.IssuedAt.UTC().Format(oauthTimeFormat), rt.ExpiresAt.UTC().Format(oauthTimeFormat),
	)
	return err
}
