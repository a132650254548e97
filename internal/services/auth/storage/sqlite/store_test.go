package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/llmgate/llmgate/internal/services/auth/permission"
	"github.com/llmgate/llmgate/internal/services/auth/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/auth.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestApplicationRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	app := storage.Application{
		ID:                      "app-1",
		Name:                    "Example Client",
		Active:                  true,
		RedirectURIs:            []string{"https://app.example.com/callback"},
		Scopes:                  []string{"llm:invoke", "offline_access"},
		TokenEndpointAuthMethod: "none",
	}
	if err := store.PutApplication(ctx, app); err != nil {
		t.Fatalf("put application: %v", err)
	}

	got, err := store.GetApplication(ctx, "app-1")
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if got.Name != app.Name || !got.Active {
		t.Errorf("got %+v", got)
	}
	if len(got.RedirectURIs) != 1 || got.RedirectURIs[0] != "https://app.example.com/callback" {
		t.Errorf("RedirectURIs = %v", got.RedirectURIs)
	}
	if len(got.Scopes) != 2 {
		t.Errorf("Scopes = %v", got.Scopes)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	t.Run("update deactivates", func(t *testing.T) {
		app.Active = false
		if err := store.PutApplication(ctx, app); err != nil {
			t.Fatalf("update application: %v", err)
		}
		got, err := store.GetApplication(ctx, "app-1")
		if err != nil {
			t.Fatalf("get application: %v", err)
		}
		if got.Active {
			t.Error("expected application to be inactive after update")
		}
	})

	t.Run("missing application", func(t *testing.T) {
		_, err := store.GetApplication(ctx, "nope")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMembershipRole(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.PutMembership(ctx, storage.Membership{UserID: "user-1", AppID: "app-1", Role: "owner"}); err != nil {
		t.Fatalf("put membership: %v", err)
	}
	if err := store.PutMembership(ctx, storage.Membership{UserID: "user-2", AppID: "app-1", Role: "banana"}); err != nil {
		t.Fatalf("put membership: %v", err)
	}

	role, ok, err := store.MembershipRole(ctx, "user-1", "app-1")
	if err != nil || !ok || role != permission.RoleOwner {
		t.Errorf("MembershipRole() = %v, %v, %v", role, ok, err)
	}

	if _, ok, err := store.MembershipRole(ctx, "user-2", "app-1"); err != nil || ok {
		t.Errorf("unknown stored role should read as no membership, got ok=%v err=%v", ok, err)
	}

	if _, ok, err := store.MembershipRole(ctx, "user-9", "app-1"); err != nil || ok {
		t.Errorf("missing membership should read as no membership, got ok=%v err=%v", ok, err)
	}
}

func TestReferralCodes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	code := storage.ReferralCode{Code: "FRIEND50", AppID: "app-1", OwnerUserID: "user-1", Active: true}
	if err := store.PutReferralCode(ctx, code); err != nil {
		t.Fatalf("put referral code: %v", err)
	}
	got, err := store.GetReferralCode(ctx, "FRIEND50")
	if err != nil {
		t.Fatalf("get referral code: %v", err)
	}
	if got.OwnerUserID != "user-1" || !got.Active {
		t.Errorf("got %+v", got)
	}
	if _, err := store.GetReferralCode(ctx, "UNKNOWN"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOutboxDeduplicates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	event := storage.IntegrationOutboxEvent{
		ID:            "evt-1",
		EventType:     "auth.referral_linked",
		PayloadJSON:   `{"user_id":"user-1"}`,
		DedupeKey:     "referral:user-1:app-1",
		Status:        storage.IntegrationOutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.EnqueueIntegrationOutboxEvent(ctx, event); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	duplicate := event
	duplicate.ID = "evt-2"
	if err := store.EnqueueIntegrationOutboxEvent(ctx, duplicate); err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}

	events, err := store.ListPendingIntegrationOutboxEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 pending event after dedupe, got %d", len(events))
	}
	if events[0].ID != "evt-1" {
		t.Errorf("expected the first event to win, got %s", events[0].ID)
	}
}
