package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleMetadata(t *testing.T) {
	t.Run("uses configured issuer", func(t *testing.T) {
		server, _ := testServer(t)
		req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
		w := httptest.NewRecorder()
		server.handleMetadata(w, req)

		var metadata AuthorizationServerMetadata
		if err := json.Unmarshal(w.Body.Bytes(), &metadata); err != nil {
			t.Fatalf("decode metadata: %v", err)
		}
		if metadata.Issuer != "https://auth.test" {
			t.Errorf("unexpected issuer: %q", metadata.Issuer)
		}
		if metadata.AuthorizationEndpoint != "https://auth.test/authorize" {
			t.Errorf("unexpected authorization endpoint: %q", metadata.AuthorizationEndpoint)
		}
		if metadata.TokenEndpoint != "https://auth.test/token" {
			t.Errorf("unexpected token endpoint: %q", metadata.TokenEndpoint)
		}

		wantGrants := map[string]bool{"authorization_code": false, "refresh_token": false}
		for _, grant := range metadata.GrantTypesSupported {
			wantGrants[grant] = true
		}
		for grant, seen := range wantGrants {
			if !seen {
				t.Errorf("missing grant type %q", grant)
			}
		}
		if len(metadata.CodeChallengeMethodsSupported) != 1 || metadata.CodeChallengeMethodsSupported[0] != "S256" {
			t.Errorf("expected S256 only, got %v", metadata.CodeChallengeMethodsSupported)
		}
	})

	t.Run("falls back to request host", func(t *testing.T) {
		server, _ := testServer(t)
		server.config.Issuer = ""
		req := httptest.NewRequest(http.MethodGet, "http://auth.local/.well-known/oauth-authorization-server", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()
		server.handleMetadata(w, req)

		var metadata AuthorizationServerMetadata
		if err := json.Unmarshal(w.Body.Bytes(), &metadata); err != nil {
			t.Fatalf("decode metadata: %v", err)
		}
		if metadata.Issuer != "https://auth.local" {
			t.Errorf("unexpected issuer: %q", metadata.Issuer)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		server, _ := testServer(t)
		w := httptest.NewRecorder()
		server.handleMetadata(w, httptest.NewRequest(http.MethodPost, "/.well-known/oauth-authorization-server", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", w.Code)
		}
	})
}
