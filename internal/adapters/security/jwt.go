package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/viralforge/newsletter-service/internal/domain"
)

// JWTSigner verifies RS256 operator tokens. It can also sign when built with a private key.
type JWTSigner struct {
	kid        string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewJWTVerifier builds a verify-only signer from a PEM public key.
func NewJWTVerifier(publicKeyPEM string) (*JWTSigner, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("jwt public key is required")
	}
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTSigner{publicKey: pub}, nil
}

// NewEphemeralJWTSigner creates an in-memory keypair for local runs and tests.
func NewEphemeralJWTSigner(kid string) (*JWTSigner, error) {
	if kid == "" {
		kid = "ephemeral-key-1"
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &JWTSigner{
		kid:        kid,
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
	}, nil
}

type operatorClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Sign issues a token for op valid for ttl.
func (s *JWTSigner) Sign(op domain.Operator, ttl time.Duration) (string, error) {
	if s.privateKey == nil {
		return "", errors.New("jwt signer has no private key")
	}
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, operatorClaims{
		Username: op.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	token.Header["kid"] = s.kid
	return token.SignedString(s.privateKey)
}

// ParseAndValidate checks the signature and expiry and returns the operator named by sub.
func (s *JWTSigner) ParseAndValidate(raw string) (domain.Operator, error) {
	parsed, err := jwt.ParseWithClaims(raw, &operatorClaims{}, func(token *jwt.Token) (any, error) {
		return s.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Operator{}, err
	}
	claims, ok := parsed.Claims.(*operatorClaims)
	if !ok || !parsed.Valid {
		return domain.Operator{}, errors.New("invalid token claims")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Operator{}, fmt.Errorf("parse sub: %w", err)
	}
	return domain.Operator{UserID: userID, Username: claims.Username}, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
