package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/viralforge/newsletter-service/internal/domain"
	"github.com/viralforge/newsletter-service/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the user does not exist so lookups for
// unknown and known usernames take similar time.
var dummyHash = sync.OnceValue(func() []byte {
	hashed, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	return hashed
})

// BasicVerifier checks Basic credentials against stored bcrypt hashes.
type BasicVerifier struct {
	users ports.UserRepository
}

func NewBasicVerifier(users ports.UserRepository) *BasicVerifier {
	return &BasicVerifier{users: users}
}

func (v *BasicVerifier) Verify(ctx context.Context, username, password string) (domain.Operator, error) {
	user, err := v.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
			return domain.Operator{}, fmt.Errorf("%w: unknown username", domain.ErrUnauthorized)
		}
		return domain.Operator{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.Operator{}, fmt.Errorf("%w: invalid password", domain.ErrUnauthorized)
	}
	return domain.Operator{UserID: user.UserID, Username: user.Username}, nil
}

// HashPassword produces a bcrypt hash suitable for the users table.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Resolver authenticates operators from either a Bearer token or Basic credentials.
// Either mechanism may be nil to disable it.
type Resolver struct {
	tokens *JWTSigner
	basic  *BasicVerifier
}

func NewResolver(tokens *JWTSigner, basic *BasicVerifier) *Resolver {
	return &Resolver{tokens: tokens, basic: basic}
}

var _ ports.IdentityResolver = (*Resolver)(nil)

func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (domain.Operator, error) {
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	switch {
	case header == "":
		return domain.Operator{}, fmt.Errorf("%w: missing authorization header", domain.ErrUnauthorized)
	case strings.HasPrefix(header, "Bearer "):
		if r.tokens == nil {
			break
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if raw == "" {
			return domain.Operator{}, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
		}
		op, err := r.tokens.ParseAndValidate(raw)
		if err != nil {
			return domain.Operator{}, fmt.Errorf("%w: %s", domain.ErrUnauthorized, err.Error())
		}
		return op, nil
	case strings.HasPrefix(header, "Basic "):
		if r.basic == nil {
			break
		}
		username, password, ok := req.BasicAuth()
		if !ok || username == "" {
			return domain.Operator{}, fmt.Errorf("%w: malformed basic credentials", domain.ErrUnauthorized)
		}
		return r.basic.Verify(ctx, username, password)
	}
	return domain.Operator{}, fmt.Errorf("%w: unsupported authorization scheme", domain.ErrUnauthorized)
}
