// Package token signs and verifies the stateless access tokens presented on
// every proxied model call. Verification touches no storage; revocation for
// access tokens is bounded by their short lifetime.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/llmgate/llmgate/internal/platform/errors"
)

// Claims is the signed claim set carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
	Scope      string `json:"scope,omitempty"`
	KeyVersion int    `json:"key_version"`
}

// Config describes signing and verification behavior.
type Config struct {
	Issuer string
	// Secrets maps key versions to symmetric signing secrets. Verification
	// uses the version embedded in the claims, so secrets can rotate without
	// invalidating every outstanding token at once.
	Secrets       map[int][]byte
	ActiveVersion int
	TTL           time.Duration
	// ClockSkew is the tolerance applied to exp and iat during verification.
	ClockSkew time.Duration
}

// Codec signs and verifies access tokens.
type Codec struct {
	config Config
	clock  func() time.Time
	newID  func() string
}

// NewCodec builds a codec for the given config.
func NewCodec(config Config) *Codec {
	return &Codec{
		config: config,
		clock:  time.Now,
		newID:  uuid.NewString,
	}
}

// WithClock overrides the codec clock, for tests.
func (c *Codec) WithClock(clock func() time.Time) *Codec {
	if clock != nil {
		c.clock = clock
	}
	return c
}

// ActiveKeyVersion returns the key version new tokens are signed with.
func (c *Codec) ActiveKeyVersion() int {
	return c.config.ActiveVersion
}

// Sign issues a signed access token for the user, application and scope.
func (c *Codec) Sign(userID, appID, scope string) (string, Claims, error) {
	secret, ok := c.config.Secrets[c.config.ActiveVersion]
	if !ok || len(secret) == 0 {
		return "", Claims{}, apperrors.New(apperrors.CodeTokenSigningUnavailable, "no signing secret for active key version")
	}

	now := c.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.config.Issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{appID},
			ID:        c.newID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.TTL)),
		},
		Scope:      scope,
		KeyVersion: c.config.ActiveVersion,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, expiry and audience and returns the claims.
//
// Failures are classified as domain errors so callers can report them
// without guessing: TOKEN_MALFORMED, TOKEN_BAD_SIGNATURE, TOKEN_EXPIRED,
// TOKEN_AUDIENCE_MISMATCH, TOKEN_UNKNOWN_KEY_VERSION.
func (c *Codec) Verify(raw, audience string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenMalformed, "access token is required")
	}

	var parsed Claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, apperrors.New(apperrors.CodeTokenMalformed, "unexpected claims type")
		}
		secret, ok := c.config.Secrets[claims.KeyVersion]
		if !ok || len(secret) == 0 {
			return nil, apperrors.New(apperrors.CodeTokenUnknownKeyVersion, "unknown token key version")
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeTokenMalformed, "access token exp is required")
	}

	now := c.clock().UTC()
	skew := c.config.ClockSkew
	if skew < 0 {
		skew = 0
	}
	if now.After(parsed.ExpiresAt.Time.Add(skew)) {
		return Claims{}, apperrors.New(apperrors.CodeTokenExpired, "access token is expired")
	}
	if parsed.IssuedAt != nil && now.Add(skew).Before(parsed.IssuedAt.Time) {
		return Claims{}, apperrors.New(apperrors.CodeTokenMalformed, "access token issued in the future")
	}

	if audience != "" && !audienceContains(parsed.Audience, audience) {
		return Claims{}, apperrors.New(apperrors.CodeTokenAudienceMismatch, "access token audience mismatch")
	}

	return parsed, nil
}

// mapJWTError translates jwt library errors to domain errors.
func mapJWTError(err error) error {
	var domainErr *apperrors.Error
	// Keyfunc failures (unknown key version) surface through the parse error
	// chain and already carry a domain code.
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeTokenBadSignature, "access token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeTokenBadSignature, "access token alg is invalid")
	}
	return apperrors.New(apperrors.CodeTokenMalformed, "access token is malformed")
}

func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}
