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

// Package generation tags requests of a logical view with a monotonically
// increasing counter so that late responses can be recognised and dropped.
package generation

import (
	"errors"
	"sync"
)

// ErrStale is returned when a response belongs to a superseded generation.
var ErrStale = errors.New("stale response generation")

// Token identifies one request of one view.
type Token struct {
	View string
	Gen  uint64
}

// Tracker holds the latest generation of every view.
type Tracker struct {
	mu   sync.Mutex
	seq  uint64
	gens map[string]uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{gens: make(map[string]uint64)}
}

// Next starts a new generation for view, superseding all earlier tokens.
// Generations are drawn from one sequence so they never repeat.
func (t *Tracker) Next(view string) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.gens[view] = t.seq
	return Token{View: view, Gen: t.seq}
}

// IsCurrent reports whether tok is still the latest generation of its view.
func (t *Tracker) IsCurrent(tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gens[tok.View] == tok.Gen
}

// Apply runs fn only when tok is current, holding the tracker lock so that
// no newer generation can start between the check and the write.
func (t *Tracker) Apply(tok Token, fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gens[tok.View] != tok.Gen {
		return ErrStale
	}
	fn()
	return nil
}

// Forget drops the view's counter. Tokens issued before Forget become stale.
func (t *Tracker) Forget(view string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.gens, view)
}

// Release drops the view's counter only while tok is still its latest
// generation, so a newer request of the same view keeps its token.
func (t *Tracker) Release(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gens[tok.View] == tok.Gen {
		delete(t.gens, tok.View)
	}
}
