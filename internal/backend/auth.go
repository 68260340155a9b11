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

package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/identity"
	"github.com/trialiq/console/internal/observability/logger"
)

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn is the outcome of a successful login.
type SignIn struct {
	Tokens Tokens
	User   *identity.User
}

type wireLogin struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Token        string    `json:"token"`
	User         *wireUser `json:"user"`
}

// Login exchanges credentials for tokens and the signed-in user with the
// embedded role. It is a public call and never triggers a refresh.
func (c *Client) Login(ctx context.Context, cred Credentials) (*SignIn, error) {
	cred.Email = strings.TrimSpace(cred.Email)
	if cred.Email == "" {
		return nil, apperr.Validation("email", "email is required")
	}
	if cred.Password == "" {
		return nil, apperr.Validation("password", "password is required")
	}

	var w wireLogin
	req := request{method: http.MethodPost, path: pathLogin, body: cred, public: true}
	if err := (&API{c: c}).do(ctx, req, &w); err != nil {
		return nil, err
	}

	access := w.AccessToken
	if access == "" {
		access = w.Token
	}
	if access == "" {
		return nil, &apperr.DecodeError{Target: "login response", Err: errors.New("missing access_token")}
	}
	if w.User == nil {
		return nil, &apperr.DecodeError{Target: "login response", Err: errors.New("missing user")}
	}
	user, err := decodeUser("login response", *w.User)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "signed in against backend", logger.UserID(user.ID))
	return &SignIn{
		Tokens: Tokens{AccessToken: access, RefreshToken: w.RefreshToken},
		User:   user,
	}, nil
}

// Me fetches the signed-in user with a fresh copy of the embedded role.
func (a *API) Me(ctx context.Context) (*identity.User, error) {
	var w wireUser
	if err := a.do(ctx, request{method: http.MethodGet, path: "/auth/me"}, &w); err != nil {
		return nil, err
	}
	return decodeUser("me", w)
}

// Logout revokes the principal's tokens at the backend. Local tokens are
// cleared whatever the backend answers.
func (a *API) Logout(ctx context.Context) error {
	tokens, err := a.store.Tokens(ctx)
	if err != nil {
		return err
	}
	var backendErr error
	if tokens.AccessToken != "" {
		req := request{
			method:   http.MethodPost,
			path:     pathLogout,
			body:     map[string]string{"refresh_token": tokens.RefreshToken},
			raw:      true,
			optional: true,
		}
		backendErr = a.do(ctx, req, nil)
	}
	if err := a.store.ClearTokens(ctx); err != nil {
		return err
	}
	var authErr *apperr.AuthError
	if errors.As(backendErr, &authErr) {
		// already signed out at the backend
		return nil
	}
	return backendErr
}
