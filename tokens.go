package authcore

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token settings
const (
	DefaultTokenTTL    = 24 * time.Hour
	DefaultTokenLeeway = 30 * time.Second
	DefaultTokenIssuer = "authcore"

	// MinSecretLength is the minimum HS256 signing secret size in bytes.
	MinSecretLength = 32
)

// TokenOptions tunes a TokenIssuer. Zero fields take the defaults above.
type TokenOptions struct {
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
	Now    func() time.Time
}

// TokenIssuer mints and verifies HS256 bearer tokens. It keeps no per-token
// state; a token is valid until it expires or the secret changes.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenIssuer builds an issuer around secret, which must be at least
// MinSecretLength bytes. Rotating the secret means building a new issuer.
func NewTokenIssuer(secret []byte, opts TokenOptions) (*TokenIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrConfig, MinSecretLength)
	}
	t := &TokenIssuer{
		secret: append([]byte(nil), secret...),
		issuer: opts.Issuer,
		ttl:    opts.TTL,
		leeway: opts.Leeway,
		now:    opts.Now,
	}
	if t.issuer == "" {
		t.issuer = DefaultTokenIssuer
	}
	if t.ttl <= 0 {
		t.ttl = DefaultTokenTTL
	}
	if t.leeway <= 0 {
		t.leeway = DefaultTokenLeeway
	}
	if t.now == nil {
		t.now = time.Now
	}
	t.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithLeeway(t.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	return t, nil
}

// TTL returns the lifetime of issued tokens.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue returns a signed token whose subject is accountID.
func (t *TokenIssuer) Issue(accountID string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// account id. Every failure is reported as ErrInvalidToken.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := t.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// GenerateSigningSecret returns MinSecretLength random bytes.
func GenerateSigningSecret() ([]byte, error) {
	b := make([]byte, MinSecretLength)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return b, nil
}
