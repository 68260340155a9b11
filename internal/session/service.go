// Copyright 2026 The TrialIQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/backend"
	"github.com/trialiq/console/internal/identity"
	"github.com/trialiq/console/internal/observability/logger"
)

// Config holds session lifetimes.
type Config struct {
	Lifetime    time.Duration
	IdleTimeout time.Duration
}

// Service manages console sessions.
type Service struct {
	repo   Repository
	sealer *Sealer
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a session service.
func NewService(repo Repository, sealer *Sealer, cfg Config) *Service {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 12 * time.Hour
	}
	return &Service{
		repo:   repo,
		sealer: sealer,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With(logger.Component("session")),
	}
}

// Create starts a session for a signed-in user.
func (s *Service) Create(ctx context.Context, user *identity.User, tokens backend.Tokens, ip, userAgent string) (*Session, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrSessionInvalid)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrSessionInvalid)
	}

	access, refresh, err := s.seal(tokens)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &Record{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		Email:             user.Email,
		Name:              user.Name,
		Role:              user.Role,
		CapabilitiesKnown: true,
		SealedAccess:      access,
		SealedRefresh:     refresh,
		AccessExpiresAt:   AccessExpiry(tokens.AccessToken),
		IPAddress:         ip,
		UserAgent:         userAgent,
		ExpiresAt:         now.Add(s.cfg.Lifetime),
		CreatedAt:         now,
		LastSeenAt:        now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.InfoContext(ctx, "session created",
		logger.SessionID(rec.ID),
		logger.UserID(user.ID),
		logger.RoleID(user.RoleID()),
	)
	return s.open(rec)
}

// Get rehydrates a live session. Expired and idle sessions are deleted.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	rec, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess, err := s.open(rec)
	if err != nil {
		_ = s.repo.Delete(ctx, sessionID)
		return nil, err
	}
	now := s.now()
	if sess.IsExpired(now) || sess.IsIdle(now, s.cfg.IdleTimeout) {
		if err := s.repo.Delete(ctx, sessionID); err != nil {
			s.logger.WarnContext(ctx, "failed to delete expired session", logger.SessionID(sessionID), logger.Error(err))
		}
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Touch records activity on the session.
func (s *Service) Touch(ctx context.Context, sessionID string) error {
	return s.repo.Touch(ctx, sessionID, s.now().UTC())
}

// Destroy deletes the session.
func (s *Service) Destroy(ctx context.Context, sessionID string) error {
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	s.logger.InfoContext(ctx, "session destroyed", logger.SessionID(sessionID))
	return nil
}

// DestroyUser deletes every session of a user.
func (s *Service) DestroyUser(ctx context.Context, userID string) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// UpdateTokens stores a refreshed token pair.
func (s *Service) UpdateTokens(ctx context.Context, sessionID string, tokens backend.Tokens) error {
	access, refresh, err := s.seal(tokens)
	if err != nil {
		return err
	}
	return s.repo.UpdateTokens(ctx, sessionID, access, refresh, AccessExpiry(tokens.AccessToken))
}

// ClearTokens drops the session's tokens. The session is signed out from
// then on.
func (s *Service) ClearTokens(ctx context.Context, sessionID string) error {
	return s.repo.UpdateTokens(ctx, sessionID, nil, nil, nil)
}

// ReplaceRole swaps the embedded role after a successful refetch.
func (s *Service) ReplaceRole(ctx context.Context, sessionID string, role *authz.Role) error {
	return s.repo.UpdateRole(ctx, sessionID, role, true)
}

// MarkCapabilitiesUnknown keeps the role but makes every gate fail closed
// until the next successful refetch.
func (s *Service) MarkCapabilitiesUnknown(ctx context.Context, sessionID string) error {
	rec, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.repo.UpdateRole(ctx, sessionID, rec.Role, false)
}

// InvalidateUser makes every session of a user fail closed until its next
// principal refetch. It follows an edit of the user's record or role binding.
func (s *Service) InvalidateUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkUnknownByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate sessions of user: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "sessions marked for role resync", logger.UserID(userID), logger.RowsAffected(n))
	}
	return n, nil
}

// InvalidateRole does the same for every session embedding the role. It
// follows an edit of the role, its permissions, or its deletion.
func (s *Service) InvalidateRole(ctx context.Context, roleID string) (int64, error) {
	n, err := s.repo.MarkUnknownByRoleID(ctx, roleID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate sessions of role: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "sessions marked for role resync", logger.RoleID(roleID), logger.RowsAffected(n))
	}
	return n, nil
}

// CleanupExpired deletes every expired session.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

// TokenStore returns the backend token store of a session.
func (s *Service) TokenStore(sessionID string) backend.TokenStore {
	return &tokenStore{svc: s, id: sessionID}
}

func (s *Service) seal(t backend.Tokens) ([]byte, []byte, error) {
	access, err := s.sealer.Seal(t.AccessToken)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.sealer.Seal(t.RefreshToken)
	if err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}

func (s *Service) open(rec *Record) (*Session, error) {
	access, err := s.sealer.Open(rec.SealedAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sealer.Open(rec.SealedRefresh)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID: rec.ID,
		User: identity.User{
			ID:    rec.UserID,
			Email: rec.Email,
			Name:  rec.Name,
			Role:  rec.Role,
		},
		CapabilitiesKnown: rec.CapabilitiesKnown,
		AccessToken:       access,
		RefreshToken:      refresh,
		AccessExpiresAt:   rec.AccessExpiresAt,
		IPAddress:         rec.IPAddress,
		UserAgent:         rec.UserAgent,
		ExpiresAt:         rec.ExpiresAt,
		CreatedAt:         rec.CreatedAt,
		LastSeenAt:        rec.LastSeenAt,
	}, nil
}

// AccessExpiry reads the exp claim of a JWT access token without verifying
// it; the backend is the verifier. Opaque tokens have no known expiry.
func AccessExpiry(token string) *time.Time {
	if token == "" {
		return nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	exp := claims.ExpiresAt.UTC()
	return &exp
}

type tokenStore struct {
	svc *Service
	id  string
}

func (t *tokenStore) Key() string { return t.id }

func (t *tokenStore) Tokens(ctx context.Context) (backend.Tokens, error) {
	rec, err := t.svc.repo.Get(ctx, t.id)
	if errors.Is(err, ErrSessionNotFound) {
		return backend.Tokens{}, nil
	}
	if err != nil {
		return backend.Tokens{}, err
	}
	sess, err := t.svc.open(rec)
	if err != nil {
		return backend.Tokens{}, err
	}
	return backend.Tokens{AccessToken: sess.AccessToken, RefreshToken: sess.RefreshToken}, nil
}

func (t *tokenStore) SetTokens(ctx context.Context, tokens backend.Tokens) error {
	return t.svc.UpdateTokens(ctx, t.id, tokens)
}

func (t *tokenStore) ClearTokens(ctx context.Context) error {
	t.svc.logger.WarnContext(ctx, "session signed out after refresh failure", logger.SessionID(t.id))
	return t.svc.ClearTokens(ctx, t.id)
}
