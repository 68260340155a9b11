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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/trialiq/console/internal/apperr"
)

const maxResponseBytes = 8 << 20

// decodeResponse maps the status to the error taxonomy and decodes a
// success body into out.
func decodeResponse(resp *http.Response, req request, out any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &apperr.NetworkError{Status: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if req.optional {
			return nil
		}
		return &apperr.DecodeError{Target: req.path, Err: fmt.Errorf("empty body")}
	}

	payload := body
	if !req.raw {
		payload = unwrapEnvelope(body)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &apperr.DecodeError{Target: req.path, Err: err}
	}
	return nil
}

// unwrapEnvelope returns the value of a top-level "data" member when the body
// is an object carrying one, and the body itself otherwise.
func unwrapEnvelope(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return body
	}
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return body
	}
	return env.Data
}

// errorBody covers the message fields the backend uses on failures.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

func backendMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	switch {
	case eb.Message != "":
		return eb.Message
	case eb.Error != "":
		return eb.Error
	}
	return eb.Detail
}

func statusError(status int, body []byte) error {
	msg := backendMessage(body)
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "the request was rejected"
		}
		return &apperr.ValidationError{Message: msg, Status: status}
	case http.StatusUnauthorized:
		if msg == "" {
			msg = "unauthorized"
		}
		return &apperr.AuthError{Message: msg}
	case http.StatusConflict:
		return &apperr.ConflictError{Message: msg}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &apperr.NetworkError{Status: status, Message: msg}
}
