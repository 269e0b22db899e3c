package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/barckcode/puyu-api/internal/service/auth"
)

type principalKey struct{}

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errMalformedBearer      = errors.New("authorization header is not a bearer token")
	errAuthorizerMissing    = errors.New("authorizer not configured")
)

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth rejects requests without a valid bearer token with 401 and stores the principal in the context.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		principal, err := r.authenticate(req)
		if err != nil {
			msg := "authentication failed"
			if errors.Is(err, errMissingAuthorization) || errors.Is(err, errMalformedBearer) {
				msg = "authentication required"
			}
			r.logger.Warn("request not authenticated", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		ctx := context.WithValue(req.Context(), principalKey{}, *principal)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

func (r *Router) authenticate(req *http.Request) (*auth.Principal, error) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	if r.auth == nil {
		return nil, errAuthorizerMissing
	}
	return r.auth.Authorize(req.Context(), token)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(auth.Principal)
	return principal, ok
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingAuthorization
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsAny(token, " \t") {
		return "", errMalformedBearer
	}
	return token, nil
}
