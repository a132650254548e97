package oauth

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfigFromEnv()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.AccessTokenTTL != 15*time.Minute {
			t.Errorf("unexpected access token ttl: %v", cfg.AccessTokenTTL)
		}
		if cfg.AuthorizationCodeTTL != 5*time.Minute {
			t.Errorf("unexpected code ttl: %v", cfg.AuthorizationCodeTTL)
		}
		if cfg.RefreshTokenTTL != 720*time.Hour {
			t.Errorf("unexpected refresh ttl: %v", cfg.RefreshTokenTTL)
		}
		if cfg.RefreshGraceWindow != 30*time.Second {
			t.Errorf("production grace window must default to 30s, got %v", cfg.RefreshGraceWindow)
		}
		if cfg.ClockSkew != 5*time.Second {
			t.Errorf("unexpected clock skew: %v", cfg.ClockSkew)
		}
		if cfg.ActiveKeyVersion != 1 {
			t.Errorf("unexpected active key version: %d", cfg.ActiveKeyVersion)
		}
	})

	t.Run("grace window is zero in test environments", func(t *testing.T) {
		for _, env := range []string{"test", "integration", "TEST"} {
			t.Setenv("LLMGATE_ENV", env)
			cfg, err := LoadConfigFromEnv()
			if err != nil {
				t.Fatalf("load config: %v", err)
			}
			if cfg.RefreshGraceWindow != 0 {
				t.Errorf("env %q: expected zero grace window, got %v", env, cfg.RefreshGraceWindow)
			}
		}
	})

	t.Run("explicit grace window wins", func(t *testing.T) {
		t.Setenv("LLMGATE_ENV", "test")
		t.Setenv("LLMGATE_OAUTH_REFRESH_GRACE", "45s")
		cfg, err := LoadConfigFromEnv()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.RefreshGraceWindow != 45*time.Second {
			t.Errorf("expected 45s, got %v", cfg.RefreshGraceWindow)
		}
	})

	t.Run("negative grace window is rejected", func(t *testing.T) {
		t.Setenv("LLMGATE_OAUTH_REFRESH_GRACE", "-1s")
		if _, err := LoadConfigFromEnv(); err == nil {
			t.Fatal("expected error for negative grace window")
		}
	})

	t.Run("token secrets", func(t *testing.T) {
		t.Setenv("LLMGATE_OAUTH_TOKEN_SECRETS", `{"1":"old-secret","2":"new-secret"}`)
		t.Setenv("LLMGATE_OAUTH_ACTIVE_KEY_VERSION", "2")
		cfg, err := LoadConfigFromEnv()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if len(cfg.TokenSecrets) != 2 {
			t.Fatalf("expected two secrets, got %d", len(cfg.TokenSecrets))
		}
		if string(cfg.TokenSecrets[1]) != "old-secret" || string(cfg.TokenSecrets[2]) != "new-secret" {
			t.Errorf("unexpected secrets: %v", cfg.TokenSecrets)
		}
	})

	t.Run("active version must have a secret", func(t *testing.T) {
		t.Setenv("LLMGATE_OAUTH_TOKEN_SECRETS", `{"1":"only-secret"}`)
		t.Setenv("LLMGATE_OAUTH_ACTIVE_KEY_VERSION", "3")
		if _, err := LoadConfigFromEnv(); err == nil {
			t.Fatal("expected error for missing active secret")
		}
	})

	t.Run("malformed token secrets", func(t *testing.T) {
		t.Setenv("LLMGATE_OAUTH_TOKEN_SECRETS", `{"one":"secret"}`)
		if _, err := LoadConfigFromEnv(); err == nil {
			t.Fatal("expected error for non-integer key version")
		}
	})

	t.Run("bootstrap apps", func(t *testing.T) {
		t.Setenv("LLMGATE_OAUTH_APPS", `[{"app_id":"proxy","redirect_uris":["https://proxy.example/cb"],"scopes":["llm:invoke"],"app_secret":"s"}]`)
		cfg, err := LoadConfigFromEnv()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if len(cfg.BootstrapApps) != 1 || cfg.BootstrapApps[0].ID != "proxy" {
			t.Fatalf("unexpected apps: %+v", cfg.BootstrapApps)
		}
	})
}
