package session

import (
	"context"
	"errors"
	"time"

	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/identity"
)

// Domain errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionInvalid  = errors.New("session invalid")
)

// Session is a signed-in console administrator. It is rehydrated on every
// console request without a backend call.
type Session struct {
	ID                string
	User              identity.User
	CapabilitiesKnown bool
	AccessToken       string
	RefreshToken      string
	AccessExpiresAt   *time.Time
	IPAddress         string
	UserAgent         string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	LastSeenAt        time.Time
}

// Role returns the embedded role, or nil.
func (s *Session) Role() *authz.Role {
	return s.User.Role
}

// Gate returns the capability gate for the session's principal.
func (s *Session) Gate() authz.Gate {
	return authz.NewGate(s.User.Role, s.CapabilitiesKnown)
}

// SignedIn reports whether the session still holds an access token.
func (s *Session) SignedIn() bool {
	return s.AccessToken != ""
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsIdle checks if the session has been idle for too long
func (s *Session) IsIdle(now time.Time, idleTimeout time.Duration) bool {
	return idleTimeout > 0 && now.Sub(s.LastSeenAt) > idleTimeout
}

// Record is the persisted form of a Session. Tokens are sealed.
type Record struct {
	ID                string
	UserID            string
	Email             string
	Name              string
	Role              *authz.Role
	CapabilitiesKnown bool
	SealedAccess      []byte
	SealedRefresh     []byte
	AccessExpiresAt   *time.Time
	IPAddress         string
	UserAgent         string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	LastSeenAt        time.Time
}

// Repository defines the interface for session persistence
type Repository interface {
	// Create stores a new session
	Create(ctx context.Context, rec *Record) error

	// Get retrieves a session by ID
	Get(ctx context.Context, sessionID string) (*Record, error)

	// Touch updates the last seen time
	Touch(ctx context.Context, sessionID string, lastSeen time.Time) error

	// UpdateTokens replaces the sealed token pair
	UpdateTokens(ctx context.Context, sessionID string, access, refresh []byte, accessExpiresAt *time.Time) error

	// UpdateRole replaces the embedded role and its known flag
	UpdateRole(ctx context.Context, sessionID string, role *authz.Role, known bool) error

	// Delete deletes a session
	Delete(ctx context.Context, sessionID string) error

	// DeleteByUserID deletes all sessions for a user
	DeleteByUserID(ctx context.Context, userID string) error

	// MarkUnknownByUserID clears the known flag of every session of a user
	MarkUnknownByUserID(ctx context.Context, userID string) (int64, error)

	// MarkUnknownByRoleID clears the known flag of every session embedding a role
	MarkUnknownByRoleID(ctx context.Context, roleID string) (int64, error)

	// DeleteExpired deletes sessions expired at now and returns the count
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
