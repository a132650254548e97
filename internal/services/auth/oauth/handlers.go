package oauth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/llmgate/llmgate/internal/platform/errors"
	"github.com/llmgate/llmgate/internal/services/auth/permission"
	"github.com/llmgate/llmgate/internal/services/auth/storage"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"userId,omitempty"`
	AppID  string `json:"appId,omitempty"`
	Scope  string `json:"scope,omitempty"`
	Error  string `json:"error,omitempty"`
}

type permissionCheckRequest struct {
	UserID     string `json:"user_id"`
	AppID      string `json:"app_id"`
	Capability string `json:"capability"`
}

type permissionCheckResponse struct {
	Allowed bool `json:"allowed"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.resourceSecretOK(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	params := r.URL.Query()
	request := AuthorizationRequest{
		ResponseType:        params.Get("response_type"),
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
		ReferralCode:        params.Get("referral_code"),
		Prompt:              params.Get("prompt"),
		UserID:              strings.TrimSpace(params.Get("user_id")),
	}

	if request.ResponseType != "code" {
		writeJSONError(w, http.StatusBadRequest, "unsupported_response_type", "only 'code' response type is supported")
		return
	}
	if request.Prompt != "" && request.Prompt != "none" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "unsupported prompt value")
		return
	}

	app, err := s.getApplication(r.Context(), request.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusBadRequest, "unauthorized_client", "unknown client_id")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to load application")
		return
	}
	if !app.Active {
		writeJSONError(w, http.StatusBadRequest, "unauthorized_client", "application is not active")
		return
	}

	if request.RedirectURI == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is required")
		return
	}
	if !redirectURIAllowed(request.RedirectURI, app.RedirectURIs) {
		// Never redirect to an unregistered URI, not even with an error.
		writeJSONError(w, http.StatusBadRequest, "unauthorized_client", "redirect_uri is not registered")
		return
	}

	// The redirect URI is trusted from here on; remaining failures redirect
	// back to the client per RFC 6749.
	if request.UserID == "" {
		s.redirectError(w, r, request, "access_denied", "authentication is required")
		return
	}
	if !scopeAllowed(request.Scope, app.Scopes) {
		s.redirectError(w, r, request, "invalid_scope", "requested scope exceeds application scopes")
		return
	}
	if request.CodeChallenge == "" {
		s.redirectError(w, r, request, "invalid_request", "code_challenge is required")
		return
	}
	if request.CodeChallengeMethod != "S256" {
		s.redirectError(w, r, request, "invalid_request", "code_challenge_method must be S256")
		return
	}
	if !ValidateCodeChallenge(request.CodeChallenge) {
		s.redirectError(w, r, request, "invalid_request", "invalid code_challenge format")
		return
	}

	code, err := s.store.CreateAuthorizationCode(r.Context(), request, s.clock().UTC(), s.config.AuthorizationCodeTTL)
	if err != nil {
		s.redirectError(w, r, request, "server_error", "failed to create authorization code")
		return
	}

	// Referral linkage is a best-effort side transaction; it must never fail
	// the authorization flow.
	if request.ReferralCode != "" {
		if err := s.linkReferral(r.Context(), request); err != nil {
			logError("link referral", err)
		}
	}

	redirectURL, err := url.Parse(request.RedirectURI)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "invalid redirect uri")
		return
	}
	query := redirectURL.Query()
	query.Set("code", code.Code)
	if request.State != "" {
		query.Set("state", request.State)
	}
	redirectURL.RawQuery = query.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	grantType := r.FormValue("grant_type")
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")

	ctx, span := s.tracer.Start(r.Context(), "oauth.token")
	span.SetAttributes(attribute.String("oauth.grant_type", grantType))
	defer span.End()

	if clientID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	}
	app, err := s.getApplication(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to load application")
		return
	}
	if !app.Active {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "application is not active")
		return
	}
	if err := validateTokenClientAuth(app, clientSecret); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "invalid client authentication")
		return
	}

	var pair *TokenPair
	var terr *tokenError
	switch grantType {
	case "authorization_code":
		code := r.FormValue("code")
		verifier := r.FormValue("code_verifier")
		redirectURI := r.FormValue("redirect_uri")
		if code == "" || verifier == "" || redirectURI == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "missing required fields")
			return
		}
		pair, terr = s.exchangeAuthorizationCode(ctx, code, verifier, redirectURI, clientID)
	case "refresh_token":
		raw := r.FormValue("refresh_token")
		if raw == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
			return
		}
		pair, terr = s.rotateRefreshToken(ctx, raw, clientID)
	default:
		writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code and refresh_token are supported")
		return
	}

	if terr != nil {
		writeJSONError(w, terr.Status, terr.Code, terr.Description)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		Scope:        pair.Scope,
	})
}

// handleValidate is the hot-path bearer check used on every proxied model
// call. It never touches storage.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := bearerToken(r)
	if raw == "" {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: "missing_token"})
		return
	}

	claims, err := s.codec.Verify(raw, r.URL.Query().Get("audience"))
	if err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: validateErrorString(err)})
		return
	}

	appID := ""
	if len(claims.Audience) > 0 {
		appID = claims.Audience[0]
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:  true,
		UserID: claims.Subject,
		AppID:  appID,
		Scope:  claims.Scope,
	})
}

func (s *Server) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.resourceSecretOK(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var request permissionCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	capability, ok := permission.ParseCapability(request.Capability)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "unknown capability")
		return
	}

	allowed, err := s.permissions.Allowed(r.Context(), request.UserID, request.AppID, capability)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to evaluate permission")
		return
	}
	writeJSON(w, http.StatusOK, permissionCheckResponse{Allowed: allowed})
}

// resourceSecretOK guards endpoints reserved for the trusted product surface.
func (s *Server) resourceSecretOK(r *http.Request) bool {
	if s.config.ResourceSecret == "" {
		return true
	}
	provided := r.Header.Get("X-Resource-Secret")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.config.ResourceSecret)) == 1
}

func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, request AuthorizationRequest, code, description string) {
	redirectURL, err := url.Parse(request.RedirectURI)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "invalid redirect uri")
		return
	}
	query := redirectURL.Query()
	query.Set("error", code)
	query.Set("error_description", description)
	if request.State != "" {
		query.Set("state", request.State)
	}
	redirectURL.RawQuery = query.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

// bearerToken extracts the access token from the Authorization header or the
// dedicated X-Access-Token header. The dedicated header exists so callers
// behind middleware that consumes Authorization can still validate.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Access-Token"))
}

// validateErrorString maps classified codec failures to wire error names.
func validateErrorString(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeTokenExpired:
		return "expired"
	case apperrors.CodeTokenBadSignature:
		return "bad_signature"
	case apperrors.CodeTokenAudienceMismatch:
		return "audience_mismatch"
	case apperrors.CodeTokenUnknownKeyVersion:
		return "unknown_key_version"
	default:
		return "malformed"
	}
}

func redirectURIAllowed(uri string, allowed []string) bool {
	for _, value := range allowed {
		if value == uri {
			return true
		}
	}
	return false
}

// scopeAllowed reports whether every requested scope is registered for the
// application.
func scopeAllowed(requested string, allowed []string) bool {
	fields := strings.Fields(requested)
	if len(fields) == 0 {
		return true
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, scope := range allowed {
		allowedSet[scope] = struct{}{}
	}
	for _, scope := range fields {
		if _, ok := allowedSet[scope]; !ok {
			return false
		}
	}
	return true
}

func validateTokenClientAuth(app storage.Application, clientSecret string) error {
	method := strings.TrimSpace(app.TokenEndpointAuthMethod)
	if method == "" {
		if app.SecretHash != "" {
			method = "client_secret_post"
		} else {
			method = "none"
		}
	}
	if method == "none" {
		return nil
	}
	if method != "client_secret_post" {
		return errors.New("unsupported token endpoint auth method")
	}
	if app.SecretHash == "" {
		return errors.New("client secret not configured")
	}
	if clientSecret == "" {
		return errors.New("client secret is required")
	}
	return bcrypt.CompareHashAndPassword([]byte(app.SecretHash), []byte(clientSecret))
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
