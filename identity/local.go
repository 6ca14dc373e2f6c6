package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are carried by tokens minted by LocalProvider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// LocalProvider signs users in locally and mints HS256 tokens. It stands in
// for a hosted identity provider during development and tests.
type LocalProvider struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Now    func() time.Time

	mu         sync.Mutex
	remembered *User
}

var (
	_ Provider = (*LocalProvider)(nil)
	_ Restorer = (*LocalProvider)(nil)
)

// NewLocalProvider builds a provider; ttl <= 0 falls back to five minutes.
func NewLocalProvider(secret, issuer string, ttl time.Duration) (*LocalProvider, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LocalProvider{Secret: secret, Issuer: issuer, TTL: ttl}, nil
}

// SignIn accepts an email address or a bare user name as hint.
func (p *LocalProvider) SignIn(_ context.Context, hint string) (User, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return User{}, errors.New("sign-in requires an email or user name")
	}
	u := UserFromHint(hint)
	p.mu.Lock()
	p.remembered = &u
	p.mu.Unlock()
	return u, nil
}

// SignOut forgets the remembered user.
func (p *LocalProvider) SignOut(_ context.Context, _ User) error {
	p.mu.Lock()
	p.remembered = nil
	p.mu.Unlock()
	return nil
}

// Restore returns the user remembered by an earlier SignIn.
func (p *LocalProvider) Restore(context.Context) (User, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remembered == nil {
		return User{}, false, nil
	}
	return *p.remembered, true, nil
}

// Token mints a new token for every call; each carries a unique jti.
func (p *LocalProvider) Token(_ context.Context, u User) (string, error) {
	if u.ID == "" {
		return "", ErrNotSignedIn
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    p.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
			ID:        uuid.NewString(),
		},
		Email: u.Email,
		Name:  u.DisplayName,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a token minted with secret and returns its user.
func ParseToken(secret, token string) (User, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return User{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return User{}, errors.New("invalid token")
	}
	return User{ID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}, nil
}

// UserFromHint derives a stable user from an email or name.
func UserFromHint(hint string) User {
	hint = strings.ToLower(strings.TrimSpace(hint))
	u := User{ID: uuid.NewSHA1(uuid.NameSpaceURL, []byte("studio:"+hint)).String()}
	if at := strings.Index(hint, "@"); at > 0 {
		u.Email = hint
		u.DisplayName = hint[:at]
	} else {
		u.DisplayName = hint
	}
	return u
}
