package goCred

import (
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Default wire hosts.
const (
	DefaultIdentityToolkitHost = "identitytoolkit.googleapis.com"
	DefaultSecureTokenHost     = "securetoken.googleapis.com"
	DefaultOAuth2Host          = "oauth2.googleapis.com"
)

// Config defines a public type used by goCred APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	// APIKey is sent as the key query parameter to the identity toolkit and secure token APIs.
	APIKey string

	Timers  TimersConfig
	Retry   RetryConfig
	Hosts   HostsConfig
	Audit   AuditConfig
	Metrics MetricsConfig
	Store   StoreConfig
}

/*
====================================
TIMERS CONFIG
====================================
*/

// TimersConfig defines a public type used by goCred APIs.
//
// TimersConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TimersConfig struct {
	// DefaultTTL applies when neither the credential nor the provider names a lifetime.
	DefaultTTL time.Duration
	// ExpiryMargin is subtracted from every acquired lifetime so refresh starts early.
	ExpiryMargin time.Duration
	// MinTTL is the floor the margin may not push a lifetime below.
	MinTTL              time.Duration
	Backoff             time.Duration
	RequestTimeout      time.Duration
	ReadySettle         time.Duration
	SigningDiagInterval time.Duration
}

/*
====================================
RETRY CONFIG
====================================
*/

// RetryConfig defines a public type used by goCred APIs.
//
// RetryConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RetryConfig struct {
	// MaxRetries bounds consecutive failed acquisitions. Zero means retry forever.
	MaxRetries uint64
	// Exponential grows the cool-down from Timers.Backoff up to MaxBackoff.
	Exponential bool
	MaxBackoff  time.Duration
}

/*
====================================
HOSTS CONFIG
====================================
*/

// HostsConfig defines a public type used by goCred APIs.
//
// HostsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HostsConfig struct {
	IdentityToolkit string
	SecureToken     string
	OAuth2          string
}

/*
====================================
AUDIT / METRICS / STORE CONFIG
====================================
*/

// AuditConfig defines a public type used by goCred APIs.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by goCred APIs.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// StoreConfig controls Redis persistence of the acquired token.
type StoreConfig struct {
	Enabled bool
	Prefix  string
	// Key names this app's snapshot. Engines sharing a Redis must use distinct keys.
	Key             string
	WriteBufferSize int
	WriteTimeout    time.Duration
}

func defaultConfig() Config {
	return Config{
		Timers: TimersConfig{
			DefaultTTL:          3600 * time.Second,
			ExpiryMargin:        120 * time.Second,
			MinTTL:              60 * time.Second,
			Backoff:             5 * time.Second,
			RequestTimeout:      30 * time.Second,
			ReadySettle:         time.Second,
			SigningDiagInterval: 3 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:  0,
			Exponential: false,
			MaxBackoff:  5 * time.Minute,
		},
		Hosts: HostsConfig{
			IdentityToolkit: DefaultIdentityToolkitHost,
			SecureToken:     DefaultSecureTokenHost,
			OAuth2:          DefaultOAuth2Host,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Store: StoreConfig{
			Enabled:         false,
			Prefix:          "gc",
			WriteBufferSize: 16,
			WriteTimeout:    2 * time.Second,
		},
	}
}

// DefaultConfig returns the configuration Builder starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate reports every violation at once, aggregated with go-multierror.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(msg string) {
		result = multierror.Append(result, errors.New(msg))
	}

	// Timers
	if c.Timers.DefaultTTL < time.Second {
		add("Timers DefaultTTL must be >= 1s")
	}
	if c.Timers.ExpiryMargin < 0 {
		add("Timers ExpiryMargin must be >= 0")
	}
	if c.Timers.MinTTL < time.Second {
		add("Timers MinTTL must be >= 1s")
	}
	if c.Timers.MinTTL > c.Timers.DefaultTTL {
		add("Timers MinTTL must be <= DefaultTTL")
	}
	if c.Timers.Backoff <= 0 {
		add("Timers Backoff must be > 0")
	}
	if c.Timers.RequestTimeout <= 0 {
		add("Timers RequestTimeout must be > 0")
	}
	if c.Timers.ReadySettle < 0 {
		add("Timers ReadySettle must be >= 0")
	}
	if c.Timers.SigningDiagInterval <= 0 {
		add("Timers SigningDiagInterval must be > 0")
	}

	// Retry
	if c.Retry.Exponential && c.Retry.MaxBackoff < c.Timers.Backoff {
		add("Retry MaxBackoff must be >= Timers Backoff when Exponential is true")
	}

	// Hosts
	if strings.TrimSpace(c.Hosts.IdentityToolkit) == "" {
		add("Hosts IdentityToolkit must be set")
	}
	if strings.TrimSpace(c.Hosts.SecureToken) == "" {
		add("Hosts SecureToken must be set")
	}
	if strings.TrimSpace(c.Hosts.OAuth2) == "" {
		add("Hosts OAuth2 must be set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		add("Audit BufferSize must be > 0 when Audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		add("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Store
	if c.Store.Enabled {
		if strings.TrimSpace(c.Store.Key) == "" {
			add("Store Key must be set when Store is enabled")
		}
		if strings.TrimSpace(c.Store.Prefix) == "" {
			add("Store Prefix must be set when Store is enabled")
		}
		if c.Store.WriteBufferSize <= 0 {
			add("Store WriteBufferSize must be > 0 when Store is enabled")
		}
		if c.Store.WriteTimeout <= 0 {
			add("Store WriteTimeout must be > 0 when Store is enabled")
		}
	}

	return result.ErrorOrNil()
}
