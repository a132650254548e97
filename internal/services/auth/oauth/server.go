package oauth

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/llmgate/llmgate/internal/services/auth/permission"
	"github.com/llmgate/llmgate/internal/services/auth/storage"
	"github.com/llmgate/llmgate/internal/services/auth/token"
)

// Backends are the read-mostly stores owned by the surrounding product.
type Backends struct {
	Applications storage.ApplicationStore
	Memberships  permission.MembershipSource
	Referrals    storage.ReferralStore
	Outbox       storage.OutboxStore
}

// Server hosts the authorization, token, validation and permission endpoints.
type Server struct {
	config      Config
	store       *Store
	backends    Backends
	codec       *token.Codec
	permissions *permission.Evaluator
	clock       func() time.Time
	tracer      trace.Tracer
}

// NewServer builds a server bound to engine config and backing stores.
func NewServer(config Config, store *Store, backends Backends) *Server {
	codec := token.NewCodec(token.Config{
		Issuer:        config.Issuer,
		Secrets:       config.TokenSecrets,
		ActiveVersion: config.ActiveKeyVersion,
		TTL:           config.AccessTokenTTL,
		ClockSkew:     config.ClockSkew,
	})
	return &Server{
		config:      config,
		store:       store,
		backends:    backends,
		codec:       codec,
		permissions: permission.NewEvaluator(backends.Memberships),
		clock:       time.Now,
		tracer:      otel.Tracer("llmgate/oauth"),
	}
}

// Codec exposes the access token codec for callers that embed validation,
// such as the proxy middleware.
func (s *Server) Codec() *token.Codec {
	return s.codec
}

// withClock pins the server and codec clocks, for tests.
func (s *Server) withClock(clock func() time.Time) *Server {
	if clock != nil {
		s.clock = clock
		s.codec.WithClock(clock)
	}
	return s
}

// RegisterRoutes registers the engine's HTTP endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/validate", s.handleValidate)
	mux.HandleFunc("/permissions/check", s.handlePermissionCheck)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata)
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// BootstrapApplications seeds application records from configuration.
func (s *Server) BootstrapApplications(ctx context.Context) error {
	if s.backends.Applications == nil {
		return nil
	}
	for _, app := range s.config.BootstrapApps {
		record := storage.Application{
			ID:                      app.ID,
			Name:                    app.Name,
			Active:                  true,
			RedirectURIs:            app.RedirectURIs,
			Scopes:                  app.Scopes,
			TokenEndpointAuthMethod: app.TokenEndpointAuthMethod,
		}
		if app.Secret != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(app.Secret), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			record.SecretHash = string(hash)
			if record.TokenEndpointAuthMethod == "" {
				record.TokenEndpointAuthMethod = "client_secret_post"
			}
		}
		if record.TokenEndpointAuthMethod == "" {
			record.TokenEndpointAuthMethod = "none"
		}
		if err := s.backends.Applications.PutApplication(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// StartCleanup starts periodic expiry cleanup for codes and refresh tokens.
//
// This keeps short-lived authorization records from accumulating without
// requiring a separate maintenance process.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.store == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.store.CleanupExpired(ctx, s.clock().UTC())
			}
		}
	}()
}

// getApplication loads an application record for a client id.
func (s *Server) getApplication(ctx context.Context, appID string) (storage.Application, error) {
	if appID == "" || s.backends.Applications == nil {
		return storage.Application{}, storage.ErrNotFound
	}
	return s.backends.Applications.GetApplication(ctx, appID)
}

func logError(context string, err error) {
	if err != nil {
		log.Printf("oauth: %s: %v", context, err)
	}
}
