package oauth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/llmgate/llmgate/internal/services/auth/storage"
)

func TestLinkReferral(t *testing.T) {
	seed := func(t *testing.T, authStore interface {
		PutReferralCode(ctx context.Context, code storage.ReferralCode) error
	}, code storage.ReferralCode) {
		t.Helper()
		if err := authStore.PutReferralCode(context.Background(), code); err != nil {
			t.Fatalf("seed referral code: %v", err)
		}
	}

	pendingEvents := func(t *testing.T, server *Server) []storage.IntegrationOutboxEvent {
		t.Helper()
		events, err := server.backends.Outbox.ListPendingIntegrationOutboxEvents(context.Background(), 10)
		if err != nil {
			t.Fatalf("list outbox: %v", err)
		}
		return events
	}

	t.Run("valid code enqueues one event", func(t *testing.T) {
		server, authStore, _ := testServerWithStore(t)
		seed(t, authStore, storage.ReferralCode{Code: "FRIEND10", AppID: "test-app", OwnerUserID: "referrer-1", Active: true})

		q := validAuthorizeQuery()
		q.Set("referral_code", "FRIEND10")
		w := httptest.NewRecorder()
		server.handleAuthorize(w, authorizeRequest(q))
		redirectQuery(t, w)

		events := pendingEvents(t, server)
		if len(events) != 1 {
			t.Fatalf("expected one outbox event, got %d", len(events))
		}
		if events[0].EventType != eventReferralLinked {
			t.Errorf("unexpected event type: %q", events[0].EventType)
		}

		// A second authorization with the same code dedupes on user and app.
		w = httptest.NewRecorder()
		server.handleAuthorize(w, authorizeRequest(q))
		redirectQuery(t, w)
		if events := pendingEvents(t, server); len(events) != 1 {
			t.Errorf("expected dedupe to keep one event, got %d", len(events))
		}
	})

	t.Run("self referral is ignored", func(t *testing.T) {
		server, authStore, _ := testServerWithStore(t)
		seed(t, authStore, storage.ReferralCode{Code: "SELF", AppID: "test-app", OwnerUserID: "user-1", Active: true})

		q := validAuthorizeQuery()
		q.Set("referral_code", "SELF")
		w := httptest.NewRecorder()
		server.handleAuthorize(w, authorizeRequest(q))
		redirectQuery(t, w)

		if events := pendingEvents(t, server); len(events) != 0 {
			t.Errorf("expected no events for self referral, got %d", len(events))
		}
	})

	t.Run("unknown or inactive code never fails authorization", func(t *testing.T) {
		server, authStore, _ := testServerWithStore(t)
		seed(t, authStore, storage.ReferralCode{Code: "OLD", AppID: "test-app", OwnerUserID: "referrer-1", Active: false})

		for _, code := range []string{"NOPE", "OLD"} {
			q := validAuthorizeQuery()
			q.Set("referral_code", code)
			w := httptest.NewRecorder()
			server.handleAuthorize(w, authorizeRequest(q))
			if query := redirectQuery(t, w); query.Get("code") == "" {
				t.Errorf("code %q: authorization must still succeed", code)
			}
		}
		if events := pendingEvents(t, server); len(events) != 0 {
			t.Errorf("expected no events, got %d", len(events))
		}
	})
}
