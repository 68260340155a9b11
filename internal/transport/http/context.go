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

package http

import (
	"context"

	"github.com/trialiq/console/internal/backend"
	"github.com/trialiq/console/internal/session"
)

type contextKey string

const (
	sessionKey contextKey = "session"
	apiKey     contextKey = "backend_api"
)

// GetSession retrieves the authenticated console session from context.
func GetSession(ctx context.Context) *session.Session {
	if val, ok := ctx.Value(sessionKey).(*session.Session); ok {
		return val
	}
	return nil
}

// GetUserID retrieves the authenticated User ID from context.
func GetUserID(ctx context.Context) string {
	if sess := GetSession(ctx); sess != nil {
		return sess.User.ID
	}
	return ""
}

// GetSessionID retrieves the Session ID from context.
func GetSessionID(ctx context.Context) string {
	if sess := GetSession(ctx); sess != nil {
		return sess.ID
	}
	return ""
}

// backendAPI retrieves the backend caller bound to the session's tokens.
func backendAPI(ctx context.Context) *backend.API {
	if val, ok := ctx.Value(apiKey).(*backend.API); ok {
		return val
	}
	return nil
}

func withPrincipal(ctx context.Context, sess *session.Session, api *backend.API) context.Context {
	ctx = context.WithValue(ctx, sessionKey, sess)
	return context.WithValue(ctx, apiKey, api)
}
