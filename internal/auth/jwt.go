package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/logger"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingSecret = errors.New("auth secret not configured")
)

type contextKey string

const userIDKey contextKey = "userId"

// Claims identifies the caller. The subject is the stable user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for userID valid for ttl.
func (a *Authenticator) Issue(userID domain.UserID, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrMissingSecret
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses tokenString and returns the user id it carries.
// An authenticator without a secret accepts nothing.
func (a *Authenticator) Verify(tokenString string) (domain.UserID, error) {
	if len(a.secret) == 0 {
		return "", ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return domain.UserID(claims.Subject), nil
}

// Middleware rejects requests without a valid bearer token and stores the user id in the context.
// WebSocket clients may pass the token as ?token= since browsers cannot set headers on upgrade.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeUnauthorized(w, "missing authorization")
			return
		}
		userID, err := a.Verify(token)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}
		ctx := WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithUserID stores an authenticated user id in ctx.
func WithUserID(ctx context.Context, userID domain.UserID) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return logger.WithUserID(ctx, string(userID))
}

// UserID extracts the authenticated user id from ctx.
func UserID(ctx context.Context) (domain.UserID, bool) {
	userID, ok := ctx.Value(userIDKey).(domain.UserID)
	return userID, ok && userID != ""
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": msg})
}
