package goCred

import (
	"strings"
	"time"

	"github.com/MrEthical07/goCred/jwt"
)

// CredentialKind tags which authentication strategy a Credential describes.
type CredentialKind uint8

const (
	// KindStaticLegacyToken is a fixed database secret sent as-is.
	KindStaticLegacyToken CredentialKind = iota
	// KindNoToken means requests are sent unauthenticated.
	KindNoToken
	// KindStaticIDToken is a caller-supplied ID token that is never refreshed.
	KindStaticIDToken
	// KindAccessToken is an OAuth2 access token with an optional refresh token.
	KindAccessToken
	// KindCustomToken is a custom token (or its refresh token) exchanged at the identity toolkit.
	KindCustomToken
	// KindServiceAccountAccess signs a jwt-bearer grant for an OAuth2 access token.
	KindServiceAccountAccess
	// KindServiceAccountCustom signs a custom token and exchanges it for an ID token.
	KindServiceAccountCustom
	// KindUserPassword signs in (or up) with email and password.
	KindUserPassword
	// KindUserIDToken carries a user's ID token for management tasks.
	KindUserIDToken
)

func (k CredentialKind) String() string {
	switch k {
	case KindStaticLegacyToken:
		return "legacy_token"
	case KindNoToken:
		return "no_token"
	case KindStaticIDToken:
		return "id_token"
	case KindAccessToken:
		return "access_token"
	case KindCustomToken:
		return "custom_token"
	case KindServiceAccountAccess:
		return "service_account_access"
	case KindServiceAccountCustom:
		return "service_account_custom"
	case KindUserPassword:
		return "user_password"
	case KindUserIDToken:
		return "user_id_token"
	default:
		return "unknown"
	}
}

// TaskKind is the account operation an interactive credential performs.
type TaskKind uint8

const (
	TaskUndefined TaskKind = iota
	TaskSignUp
	TaskResetPassword
	TaskSendVerifyEmail
	TaskDeleteUser
	TaskRefreshToken
)

func (t TaskKind) String() string {
	switch t {
	case TaskSignUp:
		return "sign_up"
	case TaskResetPassword:
		return "reset_password"
	case TaskSendVerifyEmail:
		return "send_verify_email"
	case TaskDeleteUser:
		return "delete_user"
	case TaskRefreshToken:
		return "refresh_token"
	default:
		return "undefined"
	}
}

// management tasks never carry a bearer token and run once.
func (t TaskKind) management() bool {
	return t == TaskResetPassword || t == TaskSendVerifyEmail || t == TaskDeleteUser
}

// Credential is a tagged union; only the fields relevant to Kind are read.
type Credential struct {
	Kind CredentialKind

	Token        string
	RefreshToken string

	ClientID     string
	ClientSecret string

	Email    string
	Password string

	ServiceAccount jwt.ServiceAccount

	// Expire caps the lifetime of acquired tokens. Zero means the configured default.
	Expire time.Duration

	session bool
}

// LegacyToken authenticates with a fixed database secret.
func LegacyToken(token string) Credential {
	return Credential{Kind: KindStaticLegacyToken, Token: token}
}

// NoToken sends every request unauthenticated.
func NoToken() Credential {
	return Credential{Kind: KindNoToken}
}

// IDToken uses a caller-managed ID token as-is.
func IDToken(token string) Credential {
	return Credential{Kind: KindStaticIDToken, Token: token}
}

// AccessToken uses an OAuth2 access token. With an empty token the engine refreshes
// immediately, which requires refresh, clientID and clientSecret.
func AccessToken(token, refresh, clientID, clientSecret string, expire time.Duration) Credential {
	return Credential{
		Kind:         KindAccessToken,
		Token:        token,
		RefreshToken: refresh,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Expire:       expire,
	}
}

// CustomToken exchanges a custom token for an ID token. A value that is not JWT-shaped is
// taken to be the refresh token of an earlier exchange.
func CustomToken(tokenOrRefresh string, expire time.Duration) Credential {
	c := Credential{Kind: KindCustomToken, Expire: expire}
	if looksLikeJWT(tokenOrRefresh) {
		c.Token = tokenOrRefresh
	} else {
		c.RefreshToken = tokenOrRefresh
	}
	return c
}

// CustomSession resumes a custom-token session from an ID token and its refresh token.
func CustomSession(idToken, refresh string, expire time.Duration) Credential {
	return Credential{
		Kind:         KindCustomToken,
		Token:        idToken,
		RefreshToken: refresh,
		Expire:       expire,
		session:      true,
	}
}

// ServiceAccountAccess signs a jwt-bearer grant and exchanges it for an access token.
func ServiceAccountAccess(sa jwt.ServiceAccount, expire time.Duration) Credential {
	return Credential{Kind: KindServiceAccountAccess, ServiceAccount: sa, Expire: expire}
}

// ServiceAccountCustom signs a custom token for sa.UID and exchanges it for an ID token.
func ServiceAccountCustom(sa jwt.ServiceAccount, expire time.Duration) Credential {
	return Credential{Kind: KindServiceAccountCustom, ServiceAccount: sa, Expire: expire}
}

// UserPassword signs in with email and password.
func UserPassword(email, password string) Credential {
	return Credential{Kind: KindUserPassword, Email: email, Password: password}
}

// UserIDToken carries a signed-in user's ID token.
func UserIDToken(idToken string, expire time.Duration) Credential {
	return Credential{Kind: KindUserIDToken, Token: idToken, Expire: expire}
}

func looksLikeJWT(s string) bool {
	return s != "" && strings.Count(s, ".") == 2
}

func (k CredentialKind) needsSigning() bool {
	return k == KindServiceAccountAccess || k == KindServiceAccountCustom
}

func (k CredentialKind) static() bool {
	return k == KindStaticLegacyToken || k == KindNoToken || k == KindStaticIDToken
}

// AuthData is the engine's normalized view of what it was asked to do.
type AuthData struct {
	Credential  Credential
	Task        TaskKind
	Initialized bool
	Anonymous   bool

	Signing          bool
	SigningStartedAt time.Time
}

// AppToken is the provider-agnostic bearer credential shared with downstream modules.
type AppToken struct {
	AccessToken   string
	RefreshToken  string
	UID           string
	TokenType     string
	Expire        time.Duration
	AcquiredAt    time.Time
	Authenticated bool
	Kind          CredentialKind
}

// ExpiresAt returns when the token stops being usable, or the zero time if it was never
// acquired.
func (t AppToken) ExpiresAt() time.Time {
	if t.AcquiredAt.IsZero() {
		return time.Time{}
	}
	return t.AcquiredAt.Add(t.Expire)
}

// State is the state machine's state.
type State uint8

const (
	StateUninitialized State = iota
	StateInitializing
	StateTokenSigning
	StateAuthenticating
	StateRequestSent
	StateResponseReceived
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateTokenSigning:
		return "token_signing"
	case StateAuthenticating:
		return "authenticating"
	case StateRequestSent:
		return "request_sent"
	case StateResponseReceived:
		return "response_received"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// TickOutcome is what one Tick reports to the host loop.
type TickOutcome uint8

const (
	// TickPending means work is still in progress (or the engine is idle).
	TickPending TickOutcome = iota
	// TickReady means a token is available and settled.
	TickReady
	// TickError means the last acquisition failed.
	TickError
)

func (o TickOutcome) String() string {
	switch o {
	case TickReady:
		return "ready"
	case TickError:
		return "error"
	default:
		return "pending"
	}
}

// Event is one observable state change.
type Event struct {
	State   State
	Code    int
	Message string
	Err     error
	At      time.Time
}
