package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/example/pos-billing/internal/auth"
	"github.com/example/pos-billing/internal/logging"
)

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// TokenVerifier returns the subject of a valid bearer token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// ExtractBearer returns the credential of an "Authorization: Bearer" header,
// or "" when the header is absent or uses another scheme.
func ExtractBearer(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type contextKey string

const principalContextKey contextKey = "principal"

// WithPrincipal attaches p to ctx unless a principal is already attached.
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	if _, ok := PrincipalFromContext(ctx); ok {
		return ctx
	}
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the authenticated principal of the request.
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*auth.Principal)
	return p, ok && p != nil
}

// Authenticate resolves the bearer token into a principal. It never rejects a
// request: a missing, invalid or expired token, or a subject the resolver no
// longer knows, leaves the request unauthenticated and RequireRole decides.
func Authenticate(tokens TokenVerifier, resolver auth.IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := PrincipalFromContext(ctx); ok {
				next.ServeHTTP(w, r)
				return
			}

			token := ExtractBearer(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := tokens.Verify(token)
			if err != nil {
				logging.FromCtx(ctx).Debug("bearer token rejected")
				next.ServeHTTP(w, r)
				return
			}

			p, err := resolver.Resolve(ctx, subject)
			if err != nil {
				logging.FromCtx(ctx).Warn("token subject not resolvable", "subject", subject, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			// the credential hash stays out of the request context
			principal := &auth.Principal{Identifier: p.Identifier, Role: p.Role}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// RequireRole rejects requests without a principal (401) or whose principal
// does not satisfy role (403).
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pos-billing"`)
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !p.Role.Satisfies(role) {
				respondError(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middlewares so that the first one listed runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
