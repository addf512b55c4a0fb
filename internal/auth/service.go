// Package auth verifies participant access tokens issued by the directory service.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	pkgerrors "redlight/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleParticipant = "participant"
	RoleAdmin       = "admin"

	accessTokenType = "access"
)

// Participant is the authenticated caller.
type Participant struct {
	ID string
	// TeamID defaults to ID for single-member teams.
	TeamID    string
	Role      string
	ExpiresAt time.Time
	// tokenHash identifies the presented token for revocation.
	tokenHash string
}

// TokenHash returns the digest under which the presented token can be revoked.
func (p Participant) TokenHash() string {
	return p.tokenHash
}

// Claims is the access token payload.
type Claims struct {
	Role      string `json:"role"`
	Team      string `json:"team,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Service authenticates bearer tokens.
type Service struct {
	jwtSecret []byte
	jwtIssuer string
	revoked   *RevocationList
}

// NewService creates an authenticator. revoked may be nil.
func NewService(jwtSecret, jwtIssuer string, revoked *RevocationList) *Service {
	return &Service{
		jwtSecret: []byte(jwtSecret),
		jwtIssuer: jwtIssuer,
		revoked:   revoked,
	}
}

// Authenticate validates raw and returns the participant it names.
func (s *Service) Authenticate(ctx context.Context, raw string) (Participant, error) {
	if raw == "" {
		return Participant{}, pkgerrors.New(pkgerrors.TokenMissing)
	}
	claims, err := s.parseToken(raw)
	if err != nil {
		return Participant{}, err
	}
	hash := hashToken(raw)
	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, hash)
		if err != nil {
			return Participant{}, pkgerrors.Wrap(err, pkgerrors.ServiceUnavailable)
		}
		if revoked {
			return Participant{}, pkgerrors.New(pkgerrors.TokenInvalid)
		}
	}

	p := Participant{
		ID:        claims.Subject,
		TeamID:    claims.Team,
		Role:      claims.Role,
		tokenHash: hash,
	}
	if p.TeamID == "" {
		p.TeamID = p.ID
	}
	if p.Role == "" {
		p.Role = RoleParticipant
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// Sign issues an access token for p. It exists for operators and tests; the
// directory service mints participant tokens in production.
func (s *Service) Sign(p Participant, ttl time.Duration) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Role:      p.Role,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    s.jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if p.TeamID != p.ID {
		claims.Team = p.TeamID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *Service) parseToken(raw string) (*Claims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if s.jwtIssuer != "" && claims.Issuer != s.jwtIssuer {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != accessTokenType {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.Subject == "" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
