package oauth

import "time"

// AuthorizationRequest carries the parameters of an authorize call.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	ReferralCode        string
	Prompt              string
	// UserID is asserted by the trusted product frontend, which performed
	// login and consent before calling the engine.
	UserID string
}

// AuthorizationCode is a single-use code bound to a PKCE challenge.
type AuthorizationCode struct {
	Code                string
	UserID              string
	AppID               string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	State               string
	ExpiresAt           time.Time
	Used                bool
}

// RefreshToken is one link of a rotation chain.
//
// AccessToken stores the signed access token issued together with this
// refresh token, so a grace-window replay can return the identical pair.
type RefreshToken struct {
	Token       string
	SessionID   string
	UserID      string
	AppID       string
	Scope       string
	KeyVersion  int
	AccessToken string
	RotatedFrom string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Archived    bool
	ArchivedAt  time.Time
	Revoked     bool
}

// TokenPair is the result of a successful exchange or rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresIn    int64
}
