package jwt

import (
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goCred/timer"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the assertion algorithm.
type SigningMethod string

const (
	// MethodRS256 is used by Google service accounts.
	MethodRS256 SigningMethod = "rs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	// TokenAudience is the audience of jwt-bearer grant assertions.
	TokenAudience = "https://oauth2.googleapis.com/token"
	// CustomTokenAudience is the audience of Firebase custom tokens.
	CustomTokenAudience = "https://identitytoolkit.googleapis.com/google.identity.identitytoolkit.v1.IdentityToolkit"
	// DefaultScope is requested when a service account names no scopes.
	DefaultScope = "https://www.googleapis.com/auth/cloud-platform https://www.googleapis.com/auth/userinfo.email"

	maxAssertionTTL = time.Hour
)

var (
	// ErrBusy is returned by Begin while a previous signing is still in flight.
	ErrBusy = errors.New("signer busy")
	// ErrInvalidRequest is returned for requests with missing key or claims.
	ErrInvalidRequest = errors.New("invalid signing request")
)

// ServiceAccount carries the fields of a service-account key file the engine needs.
type ServiceAccount struct {
	ClientEmail  string
	PrivateKeyID string
	PrivateKey   []byte
	ProjectID    string
	Scopes       []string

	// UID and Claims are used only for custom tokens.
	UID    string
	Claims map[string]any
}

// AssertionClaims is the claim set of both assertion flavors.
type AssertionClaims struct {
	Scope  string         `json:"scope,omitempty"`
	UID    string         `json:"uid,omitempty"`
	Claims map[string]any `json:"claims,omitempty"`
	jwt.RegisteredClaims
}

// Request describes one assertion to sign.
type Request struct {
	Method SigningMethod
	Key    []byte
	KeyID  string
	Claims AssertionClaims
}

// AccessRequest builds the jwt-bearer grant assertion for sa.
func AccessRequest(sa ServiceAccount, now time.Time, ttl time.Duration) Request {
	scope := strings.Join(sa.Scopes, " ")
	if scope == "" {
		scope = DefaultScope
	}
	return Request{
		Method: MethodRS256,
		Key:    sa.PrivateKey,
		KeyID:  sa.PrivateKeyID,
		Claims: AssertionClaims{
			Scope: scope,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    sa.ClientEmail,
				Subject:   sa.ClientEmail,
				Audience:  jwt.ClaimStrings{TokenAudience},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(clampTTL(ttl))),
			},
		},
	}
}

// CustomTokenRequest builds a Firebase custom token for sa.UID.
func CustomTokenRequest(sa ServiceAccount, now time.Time, ttl time.Duration) Request {
	return Request{
		Method: MethodRS256,
		Key:    sa.PrivateKey,
		KeyID:  sa.PrivateKeyID,
		Claims: AssertionClaims{
			UID:    sa.UID,
			Claims: sa.Claims,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    sa.ClientEmail,
				Subject:   sa.ClientEmail,
				Audience:  jwt.ClaimStrings{CustomTokenAudience},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(clampTTL(ttl))),
			},
		},
	}
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > maxAssertionTTL {
		return maxAssertionTTL
	}
	return ttl
}

// Config tunes a Signer.
type Config struct {
	// Clock stamps StartedAt. Defaults to the wall clock.
	Clock timer.Clock
	// MaxFutureIAT bounds how far ahead of Clock an assertion may be issued.
	MaxFutureIAT time.Duration
}

// Signer signs assertions, either synchronously with Sign or in the background with Begin.
// It is safe for concurrent use.
type Signer struct {
	config Config

	mu        sync.Mutex
	busy      bool
	ready     bool
	token     string
	err       error
	startedAt time.Time
	gen       uint64
}

// NewSigner validates cfg and returns a Signer.
func NewSigner(cfg Config) (*Signer, error) {
	if cfg.Clock == nil {
		cfg.Clock = timer.SystemClock{}
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	return &Signer{config: cfg}, nil
}

// Sign produces the compact serialization of req.
func (s *Signer) Sign(req Request) (string, error) {
	if len(req.Key) == 0 {
		return "", fmt.Errorf("%w: missing key", ErrInvalidRequest)
	}
	if req.Claims.Issuer == "" {
		return "", fmt.Errorf("%w: missing issuer", ErrInvalidRequest)
	}
	if req.Claims.IssuedAt != nil && s.config.MaxFutureIAT > 0 {
		if req.Claims.IssuedAt.Time.After(s.config.Clock.Now().Add(s.config.MaxFutureIAT)) {
			return "", fmt.Errorf("%w: iat too far in the future", ErrInvalidRequest)
		}
	}

	method, key, err := signingKey(req.Method, req.Key)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(method, req.Claims)
	if kid := strings.TrimSpace(req.KeyID); kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(key)
}

// Begin starts signing req in the background. It returns ErrBusy while a previous Begin has
// not finished and has not been cleared.
func (s *Signer) Begin(req Request) error {
	if len(req.Key) == 0 {
		return fmt.Errorf("%w: missing key", ErrInvalidRequest)
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	s.ready = false
	s.token = ""
	s.err = nil
	s.startedAt = s.config.Clock.Now()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go func() {
		token, err := s.Sign(req)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return
		}
		s.busy = false
		s.token = token
		s.err = err
		s.ready = err == nil
	}()
	return nil
}

// Ready reports whether the last Begin finished successfully.
func (s *Signer) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Token returns the signed assertion once Ready.
func (s *Signer) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Err returns the failure of the last Begin, if it finished with one.
func (s *Signer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StartedAt returns when the last Begin was accepted, or the zero time.
func (s *Signer) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Clear discards the last result and abandons any in-flight signing.
func (s *Signer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.busy = false
	s.ready = false
	s.token = ""
	s.err = nil
	s.startedAt = time.Time{}
}

func signingKey(method SigningMethod, key []byte) (jwt.SigningMethod, interface{}, error) {
	switch method {
	case MethodRS256, "":
		k, err := parseRSAPrivateKey(key)
		if err != nil {
			return nil, nil, err
		}
		return jwt.SigningMethodRS256, k, nil
	case MethodHS256:
		return jwt.SigningMethodHS256, key, nil
	case MethodEd25519:
		k, err := parseEdPrivateKey(key)
		if err != nil {
			return nil, nil, err
		}
		return jwt.SigningMethodEdDSA, k, nil
	default:
		return nil, nil, errors.New("unsupported signing method")
	}
}

func parseRSAPrivateKey(key []byte) (*rsa.PrivateKey, error) {
	// Key files embedded in JSON often carry literal "\n" sequences.
	pem := strings.ReplaceAll(string(key), `\n`, "\n")
	k, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, errors.New("invalid rsa private key")
	}
	return k, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}
