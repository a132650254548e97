package oauth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/platform/config"
)

// Environments where the refresh grace window defaults to zero.
const (
	EnvironmentTest        = "test"
	EnvironmentIntegration = "integration"
)

const defaultRefreshGrace = 30 * time.Second

// Config describes the authorization engine configuration.
type Config struct {
	Issuer               string
	ResourceSecret       string
	Environment          string
	AccessTokenTTL       time.Duration
	AuthorizationCodeTTL time.Duration
	RefreshTokenTTL      time.Duration
	// RefreshGraceWindow bounds how long an archived refresh token is still
	// treated as a retried rotation instead of reuse. Zero disables replays.
	RefreshGraceWindow time.Duration
	ClockSkew          time.Duration
	TokenSecrets       map[int][]byte
	ActiveKeyVersion   int
	BootstrapApps      []BootstrapApp
}

// BootstrapApp seeds a registered application at startup.
type BootstrapApp struct {
	ID                      string   `json:"app_id"`
	Name                    string   `json:"app_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	Scopes                  []string `json:"scopes,omitempty"`
	Secret                  string   `json:"app_secret,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// oauthEnv holds raw env values for engine configuration.
type oauthEnv struct {
	Issuer               string        `env:"LLMGATE_OAUTH_ISSUER"`
	ResourceSecret       string        `env:"LLMGATE_OAUTH_RESOURCE_SECRET"`
	Environment          string        `env:"LLMGATE_ENV"                      envDefault:"production"`
	AccessTokenTTL       time.Duration `env:"LLMGATE_OAUTH_ACCESS_TOKEN_TTL"   envDefault:"15m"`
	AuthorizationCodeTTL time.Duration `env:"LLMGATE_OAUTH_CODE_TTL"           envDefault:"5m"`
	RefreshTokenTTL      time.Duration `env:"LLMGATE_OAUTH_REFRESH_TOKEN_TTL"  envDefault:"720h"`
	RefreshGrace         string        `env:"LLMGATE_OAUTH_REFRESH_GRACE"`
	ClockSkew            time.Duration `env:"LLMGATE_OAUTH_CLOCK_SKEW"         envDefault:"5s"`
	TokenSecretsJSON     string        `env:"LLMGATE_OAUTH_TOKEN_SECRETS"`
	ActiveKeyVersion     int           `env:"LLMGATE_OAUTH_ACTIVE_KEY_VERSION" envDefault:"1"`
	AppsJSON             string        `env:"LLMGATE_OAUTH_APPS"`
}

// LoadConfigFromEnv loads engine configuration from environment variables.
func LoadConfigFromEnv() (Config, error) {
	var raw oauthEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, err
	}

	environment := strings.ToLower(strings.TrimSpace(raw.Environment))

	grace, err := parseGraceWindow(raw.RefreshGrace, environment)
	if err != nil {
		return Config{}, err
	}

	secrets, err := parseTokenSecrets(raw.TokenSecretsJSON)
	if err != nil {
		return Config{}, err
	}
	if len(secrets) > 0 {
		if _, ok := secrets[raw.ActiveKeyVersion]; !ok {
			return Config{}, fmt.Errorf("active key version %d has no secret", raw.ActiveKeyVersion)
		}
	}

	var apps []BootstrapApp
	if strings.TrimSpace(raw.AppsJSON) != "" {
		if err := json.Unmarshal([]byte(raw.AppsJSON), &apps); err != nil {
			return Config{}, fmt.Errorf("parse LLMGATE_OAUTH_APPS: %w", err)
		}
	}

	return Config{
		Issuer:               strings.TrimSpace(raw.Issuer),
		ResourceSecret:       raw.ResourceSecret,
		Environment:          environment,
		AccessTokenTTL:       raw.AccessTokenTTL,
		AuthorizationCodeTTL: raw.AuthorizationCodeTTL,
		RefreshTokenTTL:      raw.RefreshTokenTTL,
		RefreshGraceWindow:   grace,
		ClockSkew:            raw.ClockSkew,
		TokenSecrets:         secrets,
		ActiveKeyVersion:     raw.ActiveKeyVersion,
		BootstrapApps:        apps,
	}, nil
}

// parseGraceWindow resolves the grace window, defaulting to zero in test and
// integration environments and to a short positive window otherwise.
func parseGraceWindow(value, environment string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if environment == EnvironmentTest || environment == EnvironmentIntegration {
			return 0, nil
		}
		return defaultRefreshGrace, nil
	}
	grace, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse LLMGATE_OAUTH_REFRESH_GRACE: %w", err)
	}
	if grace < 0 {
		return 0, fmt.Errorf("LLMGATE_OAUTH_REFRESH_GRACE must not be negative")
	}
	return grace, nil
}

// parseTokenSecrets decodes a JSON object of key version to secret.
func parseTokenSecrets(value string) (map[int][]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	var rawSecrets map[string]string
	if err := json.Unmarshal([]byte(value), &rawSecrets); err != nil {
		return nil, fmt.Errorf("parse LLMGATE_OAUTH_TOKEN_SECRETS: %w", err)
	}
	secrets := make(map[int][]byte, len(rawSecrets))
	for version, secret := range rawSecrets {
		parsed, err := strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("token secret key version %q is not an integer", version)
		}
		if secret == "" {
			return nil, fmt.Errorf("token secret for key version %d is empty", parsed)
		}
		secrets[parsed] = []byte(secret)
	}
	return secrets, nil
}
