package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type contextKey string

const (
	ContextUserID     contextKey = "userID"
	ContextRole       contextKey = "role"
	ContextCanReverse contextKey = "canReverse"
)

// Auth verifies bearer tokens and checks session revocation. Token
// issuance lives in a separate service; this layer only verifies. The
// Redis client is optional; without it every session counts as live.
type Auth struct {
	redis *redis.Client
}

func NewAuth(rdb *redis.Client) *Auth {
	return &Auth{redis: rdb}
}

// Claims carried by the bearer token.
type Claims struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	CanReverse bool   `json:"can_reverse"`
	jwt.RegisteredClaims
}

// Middleware validates the bearer token and stores the actor's identity,
// role and reversal capability on the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := validateToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		if a.revoked(r.Context(), claims.UserID) {
			http.Error(w, "Session revoked", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ContextUserID, claims.UserID)
		ctx = context.WithValue(ctx, ContextRole, claims.Role)
		ctx = context.WithValue(ctx, ContextCanReverse, claims.CanReverse)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

func (a *Auth) revoked(ctx context.Context, userID string) bool {
	if a.redis == nil {
		return false
	}
	n, err := a.redis.Exists(ctx, "session:revoked:"+userID).Result()
	return err == nil && n > 0
}

// UserID returns the authenticated actor's ID from the request context.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ContextUserID).(string)
	return id
}

// IsAdmin reports whether the request actor holds the admin role.
func IsAdmin(ctx context.Context) bool {
	role, _ := ctx.Value(ContextRole).(string)
	return role == "admin"
}

// CanReverse reports whether the actor may reverse transactions: admins
// always can, other actors need the explicit capability flag.
func CanReverse(ctx context.Context) bool {
	if IsAdmin(ctx) {
		return true
	}
	can, _ := ctx.Value(ContextCanReverse).(bool)
	return can
}

// RequireAdmin rejects non-admin actors.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			http.Error(w, "Admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireReversalCapability rejects actors without reversal rights.
func RequireReversalCapability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !CanReverse(r.Context()) {
			http.Error(w, "Reversal capability required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
