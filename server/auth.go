package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apogeefi/lendcore/observability/logging"
)

type callerContextKey struct{}

// AuthConfig describes how the HTTP API authenticates callers. Exactly one
// JWT signing key backs every bearer token; API tokens remain as a fallback
// for service-to-service callers that do not carry a JWT, mirroring the
// teacher's token-or-mTLS authenticator.
type AuthConfig struct {
	SigningKey string
	APITokens  []string
}

type authenticator struct {
	signingKey []byte
	apiTokens  map[string]struct{}
	logger     *slog.Logger
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	tokens := make(map[string]struct{}, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			continue
		}
		tokens[trimmed] = struct{}{}
	}
	return &authenticator{signingKey: []byte(cfg.SigningKey), apiTokens: tokens, logger: slog.Default()}
}

// Middleware authenticates every request carrying a bearer token, storing the
// resolved caller identity (the JWT subject, or the literal API token) in the
// request context for handlers to read with CallerFromContext.
func (a *authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
			return
		}
		caller, err := a.authenticate(token)
		if err != nil {
			a.logger.Warn("bearer token rejected", logging.MaskField("token", token), "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *authenticator) authenticate(token string) (string, error) {
	if _, ok := a.apiTokens[token]; ok {
		return token, nil
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return a.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		if err == nil {
			err = jwt.ErrTokenInvalidClaims
		}
		return "", err
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return subject, nil
}

func bearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// CallerFromContext returns the authenticated caller identity installed by
// authenticator.Middleware, or "" if the request was never authenticated.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerContextKey{}).(string)
	return caller
}
