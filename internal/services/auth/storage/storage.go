// Package storage defines the persistence interfaces for the auth engine.
//
// Applications, memberships and referral codes are owned by the surrounding
// product and are read-mostly here; the engine only writes referral linkage
// events into the integration outbox.
package storage

import (
	"context"
	"time"

	"github.com/llmgate/llmgate/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// Application is a registered client application.
type Application struct {
	ID                      string
	Name                    string
	Active                  bool
	RedirectURIs            []string
	Scopes                  []string
	SecretHash              string // bcrypt hash, empty for public clients
	TokenEndpointAuthMethod string // "none" or "client_secret_post"
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// ApplicationStore persists application records.
type ApplicationStore interface {
	PutApplication(ctx context.Context, app Application) error
	GetApplication(ctx context.Context, appID string) (Application, error)
}

// Membership ties a user to an application with a role.
type Membership struct {
	UserID     string
	AppID      string
	Role       string
	ReferredBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MembershipStore reads and writes application memberships.
type MembershipStore interface {
	PutMembership(ctx context.Context, m Membership) error
	GetMembership(ctx context.Context, userID, appID string) (Membership, error)
}

// ReferralCode is a code that links new members to a referrer.
type ReferralCode struct {
	Code        string
	AppID       string
	OwnerUserID string
	Active      bool
}

// ReferralStore reads referral codes owned by the membership collaborator.
type ReferralStore interface {
	GetReferralCode(ctx context.Context, code string) (ReferralCode, error)
}

// Integration outbox statuses.
const (
	IntegrationOutboxStatusPending = "pending"
	IntegrationOutboxStatusDone    = "done"
)

// IntegrationOutboxEvent is a pending side effect drained by external workers.
type IntegrationOutboxEvent struct {
	ID            string
	EventType     string
	PayloadJSON   string
	DedupeKey     string
	Status        string
	AttemptCount  int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OutboxStore persists integration outbox events.
type OutboxStore interface {
	EnqueueIntegrationOutboxEvent(ctx context.Context, event IntegrationOutboxEvent) error
	ListPendingIntegrationOutboxEvents(ctx context.Context, limit int) ([]IntegrationOutboxEvent, error)
}
