package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

type JwtManager struct {
	auth *jwtauth.JWTAuth
}

func NewJwtManager(secret []byte) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil)}
}

func (m *JwtManager) Verifier() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Verifier(m.auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		}))
	}
}

func (m *JwtManager) Authenticator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Authenticator(m.auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		}))
	}
}

const (
	userIdKey      = "user_id"
	shareInviteKey = "share_id"
)

func (m *JwtManager) createToken(key, value string, exp time.Duration) (string, error) {
	claims := map[string]interface{}{
		key:   value,
		"exp": time.Now().Add(exp),
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "error", err)
		return "", fmt.Errorf("error generating access token: %w", err)
	}
	return token, nil
}

func (m *JwtManager) CreateUserJwt(userId uuid.UUID) (string, error) {
	return m.createToken(userIdKey, userId.String(), 15*time.Minute)
}

// CreateShareInviteJwt mints a token embedding a pending share edge id, used
// for invite links that accept the share on first use.
func (m *JwtManager) CreateShareInviteJwt(shareId uuid.UUID, exp time.Duration) (string, error) {
	return m.createToken(shareInviteKey, shareId.String(), exp)
}

func (m *JwtManager) DecodeShareInviteJwt(token string) (uuid.UUID, error) {
	decoded, err := m.auth.Decode(token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid share invite token: %w", err)
	}

	valueUncasted, ok := decoded.Get(shareInviteKey)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid share invite token: missing %v claim", shareInviteKey)
	}

	value, ok := valueUncasted.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid share invite token: %v claim has invalid type", shareInviteKey)
	}

	return uuid.Parse(value)
}

func ValueFromContext(r *http.Request, key string) (string, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return "", fmt.Errorf("error retrieving auth claims: %w", err)
	}

	valueUncasted, ok := claims[key]
	if !ok {
		return "", fmt.Errorf("invalid token: unable to locate key %v in claims", key)
	}

	value, ok := valueUncasted.(string)
	if !ok {
		return "", fmt.Errorf("invalid token: value for key %v has invalid type", key)
	}

	return value, nil
}

func VerifyJwt(tokenStr string, secret []byte) error {
	auth := jwtauth.New("HS256", secret, nil)
	_, err := jwtauth.VerifyToken(auth, tokenStr)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	return nil
}

// ContextWithToken is used in tests to inject claims without a full request
// cycle.
func ContextWithToken(ctx context.Context, m *JwtManager, token string) (context.Context, error) {
	decoded, err := jwtauth.VerifyToken(m.auth, token)
	if err != nil {
		return ctx, err
	}
	return jwtauth.NewContext(ctx, decoded, nil), nil
}
