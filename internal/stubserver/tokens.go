package stubserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "juror-stub"
	tokenAudience = "juror-client"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 168 * time.Hour
)

// Token kinds carried in the typ claim.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errWrongTokenKind       = errors.New("token kind mismatch")
)

type tokenClaims struct {
	Kind string `json:"typ"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the stub's JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs and validates HS256 access and refresh tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with defaults for unset durations.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := &TokenIssuer{
		secret:     cfg.SigningSecret,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		clock:      cfg.Clock,
	}
	if issuer.accessTTL <= 0 {
		issuer.accessTTL = defaultAccessTTL
	}
	if issuer.refreshTTL <= 0 {
		issuer.refreshTTL = defaultRefreshTTL
	}
	if issuer.clock == nil {
		issuer.clock = time.Now
	}
	return issuer, nil
}

// Issue signs a token of the given kind for the juror subject.
func (i *TokenIssuer) Issue(kind, subject string) (string, error) {
	if subject == "" {
		return "", errMissingSubjectClaim
	}
	ttl := i.accessTTL
	if kind == TokenKindRefresh {
		ttl = i.refreshTTL
	}

	now := i.clock().UTC()
	claims := tokenClaims{
		Kind: kind,
		Role: roleJuror,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Validate checks signature, expiry and kind and returns the subject.
func (i *TokenIssuer) Validate(tokenString, kind string) (string, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Kind != kind {
		return "", fmt.Errorf("%w: want %s, got %s", errWrongTokenKind, kind, claims.Kind)
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
