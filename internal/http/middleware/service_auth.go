package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type claimsKey struct{}

// ServiceClaims identify a backend caller of the turn API. A non-empty
// OrgID scopes the caller to that org.
type ServiceClaims struct {
	OrgID string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// ServiceJWT requires an HMAC-signed bearer token with an expiry. With no
// secret every request is refused.
func ServiceJWT(secret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	key := func(*jwt.Token) (any, error) { return []byte(secret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "service auth disabled", http.StatusUnauthorized)
				return
			}
			raw, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			var claims ServiceClaims
			if _, err := parser.ParseWithClaims(raw, &claims, key); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func ServiceClaimsFromContext(ctx context.Context) (ServiceClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(ServiceClaims)
	return claims, ok
}

// OrgAllowed reports whether the caller in ctx may act for orgID. Requests
// that did not pass through ServiceJWT are allowed.
func OrgAllowed(ctx context.Context, orgID string) bool {
	claims, ok := ServiceClaimsFromContext(ctx)
	return !ok || claims.OrgID == "" || claims.OrgID == orgID
}
