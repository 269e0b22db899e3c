package auth

import (
	"context"
	"errors"
	"strings"

	"log/slog"

	"github.com/barckcode/puyu-api/pkg/config"
	jwtpkg "github.com/barckcode/puyu-api/pkg/jwt"
)

var errTokenRequired = errors.New("token required")

// Principal identifies the caller behind a bearer token.
type Principal struct {
	Subject string
	Email   string
	Role    string
}

// Service verifies bearer tokens issued by the identity provider.
type Service struct {
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(logger *slog.Logger, cfg config.APIConfig) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{logger: logger, cfg: cfg}
}

// Authorize validates a bearer token and returns its principal.
func (s Service) Authorize(ctx context.Context, token string) (*Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errTokenRequired
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret, s.cfg.JWTAudience)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token subject missing")
	}
	return &Principal{Subject: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}
