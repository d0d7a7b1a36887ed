package usertoken

import (
	"errors"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultTTL      = 7 * 24 * time.Hour
	defaultIssuer   = "lexai"
	defaultAudience = "lexai-api"
	defaultLeeway   = 30 * time.Second
	minSecretLength = 16
)

// ErrInvalidToken is returned for any token that cannot be trusted.
// Expired, malformed and mis-signed tokens are deliberately indistinguishable.
var ErrInvalidToken = errors.New("invalid token")

// Config configures user access-token signing and verification.
type Config struct {
	Secret   string
	TTL      time.Duration
	Issuer   string
	Audience string
	Leeway   time.Duration
	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// Claims is the payload carried by a user token.
type Claims struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and validates HS256 bearer tokens bound to a user id.
type Service struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewService creates a token service from a shared secret.
func NewService(cfg Config) (*Service, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("token service requires a secret")
	}
	if len(secret) < minSecretLength {
		return nil, errors.New("token secret must be at least 16 characters")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		secret:   []byte(secret),
		ttl:      ttl,
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
		now:      now,
	}, nil
}

// Issue signs a token for the user.
func (s *Service) Issue(userID uint64, username string) (string, error) {
	if userID == 0 {
		return "", errors.New("token subject required")
	}
	now := s.now().UTC()
	claims := Claims{
		ID:       userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate verifies signature and claims and returns the payload.
// Any failure yields ErrInvalidToken.
func (s *Service) Validate(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.ID == 0 || claims.Subject != strconv.FormatUint(claims.ID, 10) {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
