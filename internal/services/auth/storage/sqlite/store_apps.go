package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/llmgate/llmgate/internal/services/auth/storage"
)

// PutApplication inserts or updates an application record.
func (s *Store) PutApplication(ctx context.Context, app storage.Application) error {
	redirectURIs, err := json.Marshal(app.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshal redirect uris: %w", err)
	}
	scopes, err := json.Marshal(app.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	now := time.Now().UTC()
	createdAt := app.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := app.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO applications
		(id, name, active, redirect_uris, scopes, secret_hash, token_endpoint_auth_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active,
			redirect_uris = excluded.redirect_uris,
			scopes = excluded.scopes,
			secret_hash = excluded.secret_hash,
			token_endpoint_auth_method = excluded.token_endpoint_auth_method,
			updated_at = excluded.updated_at`,
		app.ID, app.Name, boolToInt(app.Active), string(redirectURIs), string(scopes),
		app.SecretHash, app.TokenEndpointAuthMethod, formatTime(createdAt), formatTime(updatedAt),
	)
	return err
}

// GetApplication returns an application by id.
func (s *Store) GetApplication(ctx context.Context, appID string) (storage.Application, error) {
	var (
		app          storage.Application
		active       int
		redirectURIs string
		scopes       string
		createdAt    string
		updatedAt    string
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, active, redirect_uris, scopes, secret_hash, token_endpoint_auth_method, created_at, updated_at
		FROM applications WHERE id = ?`,
		appID,
	).Scan(
		&app.ID, &app.Name, &active, &redirectURIs, &scopes,
		&app.SecretHash, &app.TokenEndpointAuthMethod, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Application{}, storage.ErrNotFound
		}
		return storage.Application{}, err
	}

	app.Active = active != 0
	if err := json.Unmarshal([]byte(redirectURIs), &app.RedirectURIs); err != nil {
		return storage.Application{}, fmt.Errorf("unmarshal redirect uris: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &app.Scopes); err != nil {
		return storage.Application{}, fmt.Errorf("unmarshal scopes: %w", err)
	}
	if app.CreatedAt, err = parseTime(createdAt); err != nil {
		return storage.Application{}, err
	}
	if app.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return storage.Application{}, err
	}
	return app, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
