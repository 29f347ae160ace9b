// Package memory is an in-process identity provider for development and
// tests. Passwords are bcrypt hashed and ID tokens are HS256 JWTs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"billing/internal/identity"
)

const (
	issuer          = "billing-memory-identity"
	DefaultTokenTTL = time.Hour
)

type account struct {
	id    string
	email string
	hash  []byte
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Provider keeps accounts in memory. It is safe for concurrent use.
type Provider struct {
	mu       sync.RWMutex
	accounts map[string]*account // keyed by lowercased email
	refresh  map[string]string   // refresh token -> account id

	key  []byte
	ttl  time.Duration
	cost int
	now  func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithTokenTTL sets the ID token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithBcryptCost sets the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.cost = cost }
}

// New creates a provider that signs tokens with signingKey.
func New(signingKey string, opts ...Option) *Provider {
	p := &Provider{
		accounts: make(map[string]*account),
		refresh:  make(map[string]string),
		key:      []byte(signingKey),
		ttl:      DefaultTokenTTL,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ identity.Provider = (*Provider)(nil)

func (p *Provider) SignUp(_ context.Context, email, password string) (identity.Token, error) {
	if err := identity.CheckCredentials(email, password); err != nil {
		return identity.Token{}, err
	}
	email = strings.TrimSpace(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return identity.Token{}, identity.ErrWeakPassword
		}
		return identity.Token{}, fmt.Errorf("hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := strings.ToLower(email)
	if _, exists := p.accounts[key]; exists {
		return identity.Token{}, identity.ErrEmailExists
	}
	acc := &account{id: uuid.NewString(), email: email, hash: hash}
	p.accounts[key] = acc
	return p.issueLocked(acc)
}

func (p *Provider) SignIn(_ context.Context, email, password string) (identity.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return identity.Token{}, identity.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return identity.Token{}, identity.ErrInvalidCredentials
	}
	return p.issueLocked(acc)
}

func (p *Provider) Refresh(_ context.Context, refreshToken string) (identity.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.refresh[refreshToken]
	if !ok {
		return identity.Token{}, identity.ErrInvalidToken
	}
	acc := p.byIDLocked(id)
	if acc == nil {
		delete(p.refresh, refreshToken)
		return identity.Token{}, identity.ErrInvalidToken
	}
	tok, err := p.sign(acc)
	if err != nil {
		return identity.Token{}, err
	}
	tok.RefreshToken = refreshToken
	return tok, nil
}

func (p *Provider) Lookup(_ context.Context, idToken string) (identity.User, error) {
	c, err := p.parse(idToken)
	if err != nil {
		return identity.User{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	acc := p.byIDLocked(c.Subject)
	if acc == nil {
		return identity.User{}, identity.ErrUserNotFound
	}
	return identity.User{ID: acc.id, Email: acc.email}, nil
}

func (p *Provider) DeleteAccount(_ context.Context, idToken string) error {
	c, err := p.parse(idToken)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	acc := p.byIDLocked(c.Subject)
	if acc == nil {
		return identity.ErrUserNotFound
	}
	delete(p.accounts, strings.ToLower(acc.email))
	for rt, id := range p.refresh {
		if id == acc.id {
			delete(p.refresh, rt)
		}
	}
	return nil
}

// Len returns the number of registered accounts.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.accounts)
}

func (p *Provider) issueLocked(acc *account) (identity.Token, error) {
	tok, err := p.sign(acc)
	if err != nil {
		return identity.Token{}, err
	}
	tok.RefreshToken = uuid.NewString()
	p.refresh[tok.RefreshToken] = acc.id
	return tok, nil
}

func (p *Provider) sign(acc *account) (identity.Token, error) {
	now := p.now()
	expires := now.Add(p.ttl)
	c := claims{
		Email: acc.email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   acc.id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.key)
	if err != nil {
		return identity.Token{}, fmt.Errorf("sign token: %w", err)
	}
	return identity.Token{
		IDToken:   signed,
		UserID:    acc.id,
		Email:     acc.email,
		ExpiresAt: expires,
	}, nil
}

func (p *Provider) parse(idToken string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(idToken, c,
		func(*jwt.Token) (any, error) { return p.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrInvalidToken, err)
	}
	return c, nil
}

func (p *Provider) byIDLocked(id string) *account {
	for _, acc := range p.accounts {
		if acc.id == id {
			return acc
		}
	}
	return nil
}
