package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures VerifyJWT. Tokens are HS256 signed with Secret.
type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// ParseJWT validates tokenString and returns its claims.
func (c JWTConfig) ParseJWT(tokenString string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if c.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.Audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(c.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// VerifyJWT is middleware that verifies HS256 bearer tokens and stores their
// claims in the request context. Like OIDCProvider.VerifyToken, it answers 401 for
// missing or foreign Authorization headers unless send401Unauthorized is
// false; invalid bearer tokens are always rejected.
func VerifyJWT(config JWTConfig, send401Unauthorized ...bool) func(http.Handler) http.Handler {
	send401 := true
	if len(send401Unauthorized) > 0 {
		send401 = send401Unauthorized[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "bearer ") {
				if send401 {
					httputil.Error(w, http.StatusUnauthorized, "bearer token required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			claims, err := config.ParseJWT(strings.TrimSpace(authHeader[7:]))
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), httputil.JWTClaimsCtxKey, map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
