package oauth

import (
	"context"
	"log"
	"net/http"
	"time"
)

// tokenError is a structured token-endpoint failure mapped straight to an
// RFC 6749 error response.
type tokenError struct {
	Status      int
	Code        string
	Description string
}

func (e *tokenError) Error() string {
	return e.Code + ": " + e.Description
}

func invalidGrant(description string) *tokenError {
	return &tokenError{Status: http.StatusBadRequest, Code: "invalid_grant", Description: description}
}

func serverError(description string) *tokenError {
	return &tokenError{Status: http.StatusInternalServerError, Code: "server_error", Description: description}
}

// exchangeAuthorizationCode redeems a code for the root token pair of a new
// refresh chain.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, code, verifier, redirectURI, clientID string) (*TokenPair, *tokenError) {
	now := s.clock().UTC()

	authCode, err := s.store.GetAuthorizationCode(ctx, code)
	if err != nil {
		return nil, serverError("failed to load authorization code")
	}
	if authCode == nil {
		return nil, invalidGrant("invalid authorization code")
	}
	if now.After(authCode.ExpiresAt) {
		s.store.DeleteAuthorizationCode(ctx, code)
		return nil, invalidGrant("authorization code expired")
	}
	if authCode.Used {
		return nil, invalidGrant("authorization code already used")
	}
	if authCode.AppID != clientID {
		return nil, invalidGrant("client_id mismatch")
	}
	// Byte-for-byte match only: scheme and trailing-slash variants are
	// different URIs.
	if authCode.RedirectURI != redirectURI {
		return nil, invalidGrant("redirect_uri mismatch")
	}
	if !ValidatePKCE(verifier, authCode.CodeChallenge, authCode.CodeChallengeMethod) {
		return nil, invalidGrant("PKCE verification failed")
	}

	accessToken, _, err := s.codec.Sign(authCode.UserID, authCode.AppID, authCode.Scope)
	if err != nil {
		return nil, serverError("failed to sign access token")
	}

	root, err := s.newRefreshToken(authCode.UserID, authCode.AppID, authCode.Scope, accessToken, "", "", now)
	if err != nil {
		return nil, serverError("failed to create refresh token")
	}

	redeemed, err := s.store.RedeemAuthorizationCode(ctx, code, root)
	if err != nil {
		return nil, serverError("failed to redeem authorization code")
	}
	if !redeemed {
		// A concurrent exchange won the conditional update.
		return nil, invalidGrant("authorization code already used")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: root.Token,
		Scope:        authCode.Scope,
		ExpiresIn:    int64(s.config.AccessTokenTTL.Seconds()),
	}, nil
}

// rotateRefreshToken advances a chain, or replays the current tip when the
// presented token was archived within the grace window.
//
// State machine per chain tip: active -> archived (on rotation), then either
// expiry by time or revocation of the whole chain on reuse past grace.
func (s *Server) rotateRefreshToken(ctx context.Context, raw, clientID string) (*TokenPair, *tokenError) {
	now := s.clock().UTC()

	presented, err := s.store.GetRefreshToken(ctx, raw)
	if err != nil {
		return nil, serverError("failed to load refresh token")
	}
	if presented == nil {
		return nil, invalidGrant("invalid refresh token")
	}
	if presented.AppID != clientID {
		return nil, invalidGrant("client_id mismatch")
	}
	if presented.Revoked {
		return nil, invalidGrant("refresh token revoked")
	}
	if now.After(presented.ExpiresAt) {
		return nil, invalidGrant("refresh token expired")
	}

	if !presented.Archived {
		pair, rotated, terr := s.rotateLiveTip(ctx, presented, now)
		if terr != nil {
			return nil, terr
		}
		if rotated {
			return pair, nil
		}
		// Lost the race: reload and fall through to the archived path so a
		// concurrent duplicate request resolves as a grace-window replay.
		presented, err = s.store.GetRefreshToken(ctx, raw)
		if err != nil {
			return nil, serverError("failed to load refresh token")
		}
		if presented == nil || presented.Revoked || !presented.Archived {
			return nil, invalidGrant("invalid refresh token")
		}
	}

	return s.replayOrRevoke(ctx, presented, now)
}

// rotateLiveTip archives the tip and issues its successor. The middle return
// reports whether this caller won the conditional archive.
func (s *Server) rotateLiveTip(ctx context.Context, tip *RefreshToken, now time.Time) (*TokenPair, bool, *tokenError) {
	accessToken, _, err := s.codec.Sign(tip.UserID, tip.AppID, tip.Scope)
	if err != nil {
		return nil, false, serverError("failed to sign access token")
	}

	next, err := s.newRefreshToken(tip.UserID, tip.AppID, tip.Scope, accessToken, tip.SessionID, tip.Token, now)
	if err != nil {
		return nil, false, serverError("failed to create refresh token")
	}

	rotated, err := s.store.RotateRefreshToken(ctx, tip.Token, next, now)
	if err != nil {
		return nil, false, serverError("failed to rotate refresh token")
	}
	if !rotated {
		return nil, false, nil
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: next.Token,
		Scope:        tip.Scope,
		ExpiresIn:    int64(s.config.AccessTokenTTL.Seconds()),
	}, true, nil
}

// replayOrRevoke resolves an archived token: an idempotent replay inside the
// grace window, full-chain revocation outside it.
func (s *Server) replayOrRevoke(ctx context.Context, archived *RefreshToken, now time.Time) (*TokenPair, *tokenError) {
	elapsed := now.Sub(archived.ArchivedAt)
	// A negative elapsed means the wall clock moved backwards; treat it as
	// reuse rather than trusting the arithmetic.
	if elapsed >= 0 && elapsed <= s.config.RefreshGraceWindow {
		successor, err := s.store.GetRefreshTokenSuccessor(ctx, archived.Token)
		if err != nil {
			return nil, serverError("failed to load refresh token successor")
		}
		if successor != nil && !successor.Revoked {
			remaining := successor.IssuedAt.Add(s.config.AccessTokenTTL).Sub(now)
			if remaining < 0 {
				remaining = 0
			}
			return &TokenPair{
				AccessToken:  successor.AccessToken,
				RefreshToken: successor.Token,
				Scope:        successor.Scope,
				ExpiresIn:    int64(remaining.Seconds()),
			}, nil
		}
		return nil, invalidGrant("invalid refresh token")
	}

	// Reuse past the grace window signals theft: revoke the whole chain so
	// every descendant token stops working, then force re-authorization.
	if err := s.store.RevokeSession(ctx, archived.SessionID); err != nil {
		logError("revoke session after refresh token reuse", err)
	} else {
		log.Printf("oauth: refresh token reuse detected, session %s revoked", archived.SessionID)
	}
	return nil, invalidGrant("refresh token reuse detected")
}

// newRefreshToken builds an unsaved refresh token row. A root token starts a
// new session; successors inherit the session and reference their
// predecessor.
func (s *Server) newRefreshToken(userID, appID, scope, accessToken, sessionID, rotatedFrom string, now time.Time) (RefreshToken, error) {
	value, err := generateToken(32)
	if err != nil {
		return RefreshToken{}, err
	}
	if sessionID == "" {
		sessionID, err = generateToken(16)
		if err != nil {
			return RefreshToken{}, err
		}
	}
	return RefreshToken{
		Token:       value,
		SessionID:   sessionID,
		UserID:      userID,
		AppID:       appID,
		Scope:       scope,
		KeyVersion:  s.codec.ActiveKeyVersion(),
		AccessToken: accessToken,
		RotatedFrom: rotatedFrom,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.config.RefreshTokenTTL),
	}, nil
}
