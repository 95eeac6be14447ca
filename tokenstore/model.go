package tokenstore

import "time"

// Snapshot is the persisted form of an app token.
type Snapshot struct {
	SchemaVersion uint8

	Kind          uint8
	Authenticated bool
	AccessToken   string
	RefreshToken  string
	UID           string
	TokenType     string

	// Expire is the token lifetime as granted when it was acquired.
	Expire     time.Duration
	AcquiredAt int64
}

// ExpiresAt returns when the snapshot's token stops being usable.
func (s *Snapshot) ExpiresAt() time.Time {
	return time.Unix(s.AcquiredAt, 0).Add(s.Expire)
}

// Remaining returns the lifetime left at now, or zero.
func (s *Snapshot) Remaining(now time.Time) time.Duration {
	left := s.ExpiresAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
