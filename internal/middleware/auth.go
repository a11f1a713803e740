// Package middleware holds the HTTP middleware shared by the device API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in tokens, lowest privilege first.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var roleRank = map[string]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// TokenIssuer is the iss claim of every token the device accepts.
const TokenIssuer = "airbox"

type claimsKey struct{}

// Claims identifies the client holding a token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenAuth issues and verifies HS256 bearer tokens signed with a shared
// secret. The device and airboxctl hold the same secret.
type TokenAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenAuth returns a TokenAuth. Issued tokens expire after ttl.
func NewTokenAuth(secret string, ttl time.Duration) *TokenAuth {
	return &TokenAuth{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for subject with the given role.
func (a *TokenAuth) Issue(subject, role string) (string, error) {
	if _, ok := roleRank[role]; !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := a.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates raw and returns its claims.
func (a *TokenAuth) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Verify rejects requests without a valid bearer token and stores the
// token's claims in the request context.
func (a *TokenAuth) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			deny(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.Parse(raw)
		if err != nil {
			deny(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// RequireRole rejects tokens ranked below role. It must run after Verify.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if roleRank[claims.Role] < roleRank[role] {
				deny(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFrom returns the claims Verify stored in ctx, or nil.
func ClaimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("Missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", errors.New("Invalid authorization header format")
	}
	return token, nil
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
