package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type contextKey string

const userIDContextKey = contextKey("userID")

// TokenCookie is the cookie the web client stores its session token in.
const TokenCookie = "jwt"

// AppClaims are the claims carried by session tokens. Subject holds the
// user id.
type AppClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// AuthJWT validates the session token from the Authorization header or the
// jwt cookie and puts the user id into the request context.
func AuthJWT(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, problem := tokenFromRequest(r)
			if problem != "" {
				unauthorized(w, r, problem)
				return
			}

			claims, err := ParseToken(secret, tokenString)
			if err != nil {
				logrus.WithField("error", err).Debug("Rejected session token")
				unauthorized(w, r, "Invalid token")
				return
			}

			ctx := WithUserID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFromRequest returns the raw token, or a client-facing reason why
// there is none.
func tokenFromRequest(r *http.Request) (token, problem string) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", "Authorization header format must be Bearer {token}"
		}
		return parts[1], ""
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, ""
	}
	return "", "Unauthorized - No Token Provided"
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(secret []byte, tokenString string) (*AppClaims, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}

	claims := &AppClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// SignToken issues a token for userID. Only tests and tooling use it;
// login lives outside this service.
func SignToken(secret []byte, userID string, expires jwt.NumericDate) (string, error) {
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: &expires,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserID returns the authenticated user id, or "" outside AuthJWT.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{"error": msg})
}
