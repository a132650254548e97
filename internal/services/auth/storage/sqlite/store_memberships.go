package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/llmgate/llmgate/internal/services/auth/permission"
	"github.com/llmgate/llmgate/internal/services/auth/storage"
)

// PutMembership inserts or updates a membership record.
func (s *Store) PutMembership(ctx context.Context, m storage.Membership) error {
	now := time.Now().UTC()
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO app_memberships (user_id, app_id, role, referred_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, app_id) DO UPDATE SET
			role = excluded.role,
			referred_by = excluded.referred_by,
			updated_at = excluded.updated_at`,
		m.UserID, m.AppID, m.Role, m.ReferredBy, formatTime(createdAt), formatTime(updatedAt),
	)
	return err
}

// GetMembership returns the membership for a user and application.
func (s *Store) GetMembership(ctx context.Context, userID, appID string) (storage.Membership, error) {
	var (
		m         storage.Membership
		createdAt string
		updatedAt string
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT user_id, app_id, role, referred_by, created_at, updated_at
		FROM app_memberships WHERE user_id = ? AND app_id = ?`,
		userID, appID,
	).Scan(&m.UserID, &m.AppID, &m.Role, &m.ReferredBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Membership{}, storage.ErrNotFound
		}
		return storage.Membership{}, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return storage.Membership{}, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return storage.Membership{}, err
	}
	return m, nil
}

// MembershipRole resolves a user's role for the permission evaluator.
//
// Unknown roles stored by older deployments are reported as no membership
// rather than an error, so permission checks stay a plain denial.
func (s *Store) MembershipRole(ctx context.Context, userID, appID string) (permission.Role, bool, error) {
	m, err := s.GetMembership(ctx, userID, appID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	role, ok := permission.ParseRole(m.Role)
	if !ok {
		return "", false, nil
	}
	return role, true, nil
}

// PutReferralCode inserts or updates a referral code.
func (s *Store) PutReferralCode(ctx context.Context, code storage.ReferralCode) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO referral_codes (code, app_id, owner_user_id, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			app_id = excluded.app_id,
			owner_user_id = excluded.owner_user_id,
			active = excluded.active`,
		code.Code, code.AppID, code.OwnerUserID, boolToInt(code.Active),
	)
	return err
}

// GetReferralCode returns a referral code by value.
func (s *Store) GetReferralCode(ctx context.Context, code string) (storage.ReferralCode, error) {
	var (
		record storage.ReferralCode
		active int
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT code, app_id, owner_user_id, active FROM referral_codes WHERE code = ?`,
		code,
	).Scan(&record.Code, &record.AppID, &record.OwnerUserID, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ReferralCode{}, storage.ErrNotFound
		}
		return storage.ReferralCode{}, err
	}
	record.Active = active != 0
	return record, nil
}
