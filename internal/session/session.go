// Package session reads the signed session cookie set by the login flow.
// The cookie holds an HS256 JWT carrying the user's display name and the
// bearer token used to call the agent service on their behalf.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"agentchat-gateway/pkg/logging/logging"
)

const DefaultCookieName = "session"

// Session is the per-request view of the cookie.
type Session struct {
	Name        string
	AccessToken string
}

type claims struct {
	Name        string `json:"name,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a session token valid for ttl.
func Issue(secret []byte, name, accessToken string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("session: empty secret")
	}
	now := time.Now()
	c := claims{
		Name:        name,
		AccessToken: accessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

// Parse verifies token and returns the session it carries.
func Parse(secret []byte, token string) (Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("session: %w", err)
	}
	return Session{Name: c.Name, AccessToken: c.AccessToken}, nil
}

type ctxKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request's session, if any.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}

// Middleware attaches the session from cookieName to the request context.
// Requests without a valid cookie pass through with no session; handlers
// decide how to answer them.
func Middleware(secret []byte, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ck, err := r.Cookie(cookieName)
			if err != nil || ck.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			s, err := Parse(secret, ck.Value)
			if err != nil {
				logging.L(r.Context()).Info("ignoring invalid session cookie", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// Clear expires the session cookie.
func Clear(w http.ResponseWriter, cookieName string, secure bool) {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
