package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/llmgate/llmgate/internal/services/auth/storage"
)

// eventReferralLinked is emitted to the integration outbox when a user signs
// in through a referral link. Downstream billing consumes it to credit the
// referrer.
const eventReferralLinked = "auth.referral_linked"

// linkReferral records a referral attribution for the authorizing user. The
// outbox dedupe key makes repeat authorizations with the same referral code a
// no-op, so a user can only be attributed once per application.
func (s *Server) linkReferral(ctx context.Context, request AuthorizationRequest) error {
	if s.backends.Referrals == nil || s.backends.Outbox == nil {
		return nil
	}

	referral, err := s.backends.Referrals.GetReferralCode(ctx, request.ReferralCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load referral code: %w", err)
	}
	if !referral.Active {
		return nil
	}
	if referral.AppID != "" && referral.AppID != request.ClientID {
		return nil
	}
	if referral.OwnerUserID == request.UserID {
		// Self-referrals earn nothing.
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"user_id":       request.UserID,
		"app_id":        request.ClientID,
		"referral_code": referral.Code,
		"referrer_id":   referral.OwnerUserID,
	})
	if err != nil {
		return fmt.Errorf("marshal referral payload: %w", err)
	}
	event := storage.IntegrationOutboxEvent{
		ID:          uuid.NewString(),
		EventType:   eventReferralLinked,
		PayloadJSON: string(payload),
		DedupeKey:   fmt.Sprintf("referral_linked:%s:%s", request.UserID, request.ClientID),
		Status:      storage.IntegrationOutboxStatusPending,
	}
	if err := s.backends.Outbox.EnqueueIntegrationOutboxEvent(ctx, event); err != nil {
		return fmt.Errorf("enqueue referral event: %w", err)
	}
	return nil
}
