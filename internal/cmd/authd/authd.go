// Package authd wires flags and environment into the authorization engine
// server.
package authd

import (
	"context"
	"flag"
	"log"

	"github.com/llmgate/llmgate/internal/platform/config"
	"github.com/llmgate/llmgate/internal/platform/otel"
	server "github.com/llmgate/llmgate/internal/services/auth/app"
)

// Config holds authd command configuration.
type Config struct {
	Port     int
	HTTPAddr string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup config.EnvLookup) (Config, error) {
	cfg := Config{
		Port:     8083,
		HTTPAddr: config.EnvOrDefault(lookup, []string{"LLMGATE_AUTH_HTTP_ADDR"}, "localhost:8084"),
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "The engine gRPC health port")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The engine HTTP server address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the engine server with tracing configured.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "llmgate-authd")
	if err != nil {
		log.Printf("otel setup: %v", err)
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("otel shutdown: %v", err)
			}
		}()
	}
	return server.Run(ctx, cfg.Port, cfg.HTTPAddr)
}
