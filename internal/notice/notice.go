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

// Package notice turns action outcomes into user-visible notifications.
package notice

import (
	"errors"
	"fmt"

	"github.com/trialiq/console/internal/apperr"
)

// Variant is the notification style.
type Variant string

const (
	VariantSuccess Variant = "success"
	VariantError   Variant = "error"
)

// GenericMessage is shown when a failure carries no usable text.
const GenericMessage = "Something went wrong"

// Notice is one notification.
type Notice struct {
	Variant Variant `json:"variant"`
	Title   string  `json:"title"`
	Message string  `json:"message"`
}

// Success builds a success notice.
func Success(title, message string) Notice {
	return Notice{Variant: VariantSuccess, Title: title, Message: message}
}

// Failure builds an error notice.
func Failure(title, message string) Notice {
	if message == "" {
		message = GenericMessage
	}
	return Notice{Variant: VariantError, Title: title, Message: message}
}

// FromResult reflects a backend-reported success flag. The title differs
// between the two outcomes.
func FromResult(success bool, message, subject string) Notice {
	if success {
		if message == "" {
			message = subject + " saved"
		}
		return Success("Success", message)
	}
	if message == "" {
		message = subject + " was not saved"
	}
	return Failure("Failed", message)
}

// FromError maps err to the notice shown at the boundary that initiated the
// action.
func FromError(err error) Notice {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return Failure("Invalid input", apperr.Message(err))
	case apperr.KindAuth:
		return Failure("Signed out", "Your session has expired. Please sign in again.")
	case apperr.KindConflict:
		msg := apperr.Message(err)
		if msg == "" {
			msg = "The item is still in use and cannot be changed."
		}
		return Failure("Action rejected", msg)
	case apperr.KindForbidden:
		var f *apperr.ForbiddenError
		if errors.As(err, &f) {
			return Failure("Not allowed", fmt.Sprintf("You do not have permission to %s %s.", f.Action, f.Module))
		}
		return Failure("Not allowed", "You do not have permission to do that.")
	case apperr.KindDecode:
		return Failure("Error", GenericMessage)
	}
	return Failure("Error", apperr.Message(err))
}
