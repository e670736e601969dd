package paylink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid or expired payment link")

const issuer = "collections-paylink"

type claims struct {
	DebtID string `json:"debt_id"`
	jwt.RegisteredClaims
}

// Signer mints and verifies HS256 tokens that identify the debt a payment link pays.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewSigner(secret, baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Mint returns a signed token for debtID.
func (s *Signer) Mint(debtID uuid.UUID) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		DebtID: debtID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   debtID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign payment link: %w", err)
	}
	return signed, nil
}

// URL returns the public payment link for debtID, or "" when no base URL is configured.
func (s *Signer) URL(debtID uuid.UUID) (string, error) {
	if s.baseURL == "" {
		return "", nil
	}
	token, err := s.Mint(debtID)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/pay/" + token, nil
}

// Verify parses tokenString and returns the debt it was minted for.
func (s *Signer) Verify(tokenString string) (uuid.UUID, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(c.DebtID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad debt id", ErrInvalidToken)
	}
	return id, nil
}
