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

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/session"
)

// SessionRepository implements session.Repository
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, rec *session.Record) error {
	role, err := marshalRole(rec.Role)
	if err != nil {
		return err
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO console_sessions (
			id, user_id, email, name, role, capabilities_known,
			sealed_access, sealed_refresh, access_expires_at,
			ip_address, user_agent, expires_at, created_at, last_seen_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		rec.ID, rec.UserID, rec.Email, rec.Name, role, rec.CapabilitiesKnown,
		rec.SealedAccess, rec.SealedRefresh, rec.AccessExpiresAt,
		rec.IPAddress, rec.UserAgent, rec.ExpiresAt, rec.CreatedAt, rec.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Record, error) {
	var (
		rec  session.Record
		role []byte
	)

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, user_id, email, name, role, capabilities_known,
			sealed_access, sealed_refresh, access_expires_at,
			ip_address, user_agent, expires_at, created_at, last_seen_at
		FROM console_sessions
		WHERE id = $1
	`, sessionID).Scan(
		&rec.ID, &rec.UserID, &rec.Email, &rec.Name, &role, &rec.CapabilitiesKnown,
		&rec.SealedAccess, &rec.SealedRefresh, &rec.AccessExpiresAt,
		&rec.IPAddress, &rec.UserAgent, &rec.ExpiresAt, &rec.CreatedAt, &rec.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if len(role) > 0 {
		rec.Role = &authz.Role{}
		if err := json.Unmarshal(role, rec.Role); err != nil {
			return nil, fmt.Errorf("%w: stored role is corrupt", session.ErrSessionInvalid)
		}
	}

	return &rec, nil
}

// Touch updates session last seen time
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, lastSeen time.Time) error {
	return r.update(ctx, "touch", `
		UPDATE console_sessions SET last_seen_at = $2
		WHERE id = $1
	`, sessionID, lastSeen)
}

// UpdateTokens replaces the sealed token pair
func (r *SessionRepository) UpdateTokens(ctx context.Context, sessionID string, access, refresh []byte, accessExpiresAt *time.Time) error {
	return r.update(ctx, "update tokens of", `
		UPDATE console_sessions
		SET sealed_access = $2, sealed_refresh = $3, access_expires_at = $4
		WHERE id = $1
	`, sessionID, access, refresh, accessExpiresAt)
}

// UpdateRole replaces the embedded role
func (r *SessionRepository) UpdateRole(ctx context.Context, sessionID string, role *authz.Role, known bool) error {
	data, err := marshalRole(role)
	if err != nil {
		return err
	}
	return r.update(ctx, "update role of", `
		UPDATE console_sessions SET role = $2, capabilities_known = $3
		WHERE id = $1
	`, sessionID, data, known)
}

func (r *SessionRepository) update(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s session: %w", op, err)
	}

	if result.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}

	return nil
}

// Delete deletes a session
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM console_sessions WHERE id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// DeleteByUserID deletes all sessions for a user
func (r *SessionRepository) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM console_sessions WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	return nil
}

// MarkUnknownByUserID clears capabilities_known for every session of a user
func (r *SessionRepository) MarkUnknownByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE console_sessions SET capabilities_known = FALSE
		WHERE user_id = $1 AND capabilities_known
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate user sessions: %w", err)
	}

	return result.RowsAffected(), nil
}

// MarkUnknownByRoleID clears capabilities_known for every session whose
// embedded role has the given id
func (r *SessionRepository) MarkUnknownByRoleID(ctx context.Context, roleID string) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE console_sessions SET capabilities_known = FALSE
		WHERE role->>'id' = $1 AND capabilities_known
	`, roleID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate role sessions: %w", err)
	}

	return result.RowsAffected(), nil
}

// DeleteExpired deletes all expired sessions
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM console_sessions WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return result.RowsAffected(), nil
}

// DeleteAll signs every console administrator out.
func (r *SessionRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM console_sessions`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}

	return result.RowsAffected(), nil
}

func marshalRole(role *authz.Role) ([]byte, error) {
	if role == nil {
		return nil, nil
	}
	data, err := json.Marshal(role)
	if err != nil {
		return nil, fmt.Errorf("failed to encode role: %w", err)
	}
	return data, nil
}
