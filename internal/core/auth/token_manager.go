package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"delivery-tracker/internal/core/cache"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenKeyPrefix = "token:"

// Config holds the bearer credential settings.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Claims are the JWT claims carried by a bearer credential.
type Claims struct {
	jwt.RegisteredClaims
	IsAdmin bool `json:"is_admin"`
}

// TokenManager issues, verifies and revokes bearer credentials. A credential is
// only accepted while its id is present in the store.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	store  cache.Cache
	now    func() time.Time
}

// NewTokenManager creates a TokenManager backed by the given store.
func NewTokenManager(cfg Config, store cache.Cache) *TokenManager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		store:  store,
		now:    time.Now,
	}
}

// Issue signs a credential for the principal and records it in the store.
func (m *TokenManager) Issue(ctx context.Context, p Principal) (string, time.Time, error) {
	if p.ID == "" {
		return "", time.Time{}, errors.New("principal id is required")
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	jti := uuid.NewString()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    m.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IsAdmin: p.IsAdmin,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	if err := m.store.Set(ctx, tokenKeyPrefix+jti, []byte(p.ID), m.ttl); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify checks signature, expiry and revocation and returns the principal.
func (m *TokenManager) Verify(ctx context.Context, token string) (*Principal, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}

	live, err := m.store.Exists(ctx, tokenKeyPrefix+claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token store: %w", err)
	}
	if !live {
		return nil, ErrTokenRevoked
	}

	return &Principal{ID: claims.Subject, IsAdmin: claims.IsAdmin}, nil
}

// Revoke removes the credential from the store so it is rejected from now on.
func (m *TokenManager) Revoke(ctx context.Context, token string) error {
	claims, err := m.parse(token)
	if err != nil && !errors.Is(err, ErrExpiredToken) {
		return err
	}
	if claims == nil {
		return ErrInvalidToken
	}
	if err := m.store.Delete(ctx, tokenKeyPrefix+claims.ID); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// Resolve turns an Authorization header into a principal. An empty header is an
// anonymous caller (nil, nil); anything else must be a valid bearer credential.
func (m *TokenManager) Resolve(ctx context.Context, header string) (*Principal, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMalformedHeader
	}

	return m.Verify(ctx, parts[1])
}

func (m *TokenManager) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
