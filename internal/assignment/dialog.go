package assignment

import (
	"context"
	"errors"
	"sync"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/generation"
	"github.com/trialiq/console/internal/notice"
)

// ErrDialogClosed is returned when acting on a dialog that is not open.
var ErrDialogClosed = errors.New("assignment dialog is not open")

// Outcome is what a submission produced for the user.
type Outcome struct {
	Notice notice.Notice `json:"notice"`
	Result *Result       `json:"result,omitempty"`
	// Changed flips on every applied success; owners refetch when it does.
	Changed bool `json:"changed"`
	// Superseded is set when the dialog had moved on before the answer came.
	Superseded bool `json:"superseded,omitempty"`
}

// Dialog is the reusable assignment dialog. The selection is seeded from the
// target's linked set when the target changes or after a successful submit,
// and a response for a superseded target is not applied.
type Dialog struct {
	svc     *Service
	gens    *generation.Tracker
	view    string
	actorID string

	mu         sync.Mutex
	target     *Target
	tok        generation.Token
	selection  Selection
	canEdit    bool
	open       bool
	submitting bool
	changed    bool
}

// NewDialog creates a closed dialog. view scopes its generations in gens.
func NewDialog(svc *Service, gens *generation.Tracker, view, actorID string) *Dialog {
	if gens == nil {
		gens = generation.NewTracker()
	}
	return &Dialog{svc: svc, gens: gens, view: "assign:" + view, actorID: actorID}
}

// Open shows the dialog for t.
func (d *Dialog) Open(t Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.target == nil || !d.target.sameAs(t) {
		tt := t
		d.target = &tt
		d.selection = NewSelection(t.Linked...)
		d.canEdit = false
		d.tok = d.gens.Next(d.view)
	}
	d.open = true
}

// Close hides the dialog without touching the selection.
func (d *Dialog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
}

// Toggle flips one id. Single-select relations hold at most one id.
func (d *Dialog) Toggle(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrDialogClosed
	}
	if d.target.Relation.SingleSelect() && !d.selection.Has(id) {
		d.selection.Clear()
	}
	d.selection.Toggle(id)
	return nil
}

// Select makes ids the whole selection, one toggle per differing id.
func (d *Dialog) Select(ids []string) error {
	d.mu.Lock()
	want := NewSelection(ids...)
	var flips []string
	for _, id := range d.selection.IDs() {
		if !want.Has(id) {
			flips = append(flips, id)
		}
	}
	for _, id := range want.IDs() {
		if !d.selection.Has(id) {
			flips = append(flips, id)
		}
	}
	d.mu.Unlock()

	for _, id := range flips {
		if err := d.Toggle(id); err != nil {
			return err
		}
	}
	return nil
}

// SetCanEdit sets the can_edit flag of a sponsor-to-trial assignment.
func (d *Dialog) SetCanEdit(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canEdit = v
}

// Selected returns the current selection in ascending order.
func (d *Dialog) Selected() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selection.IDs()
}

// IsOpen reports whether the dialog is shown.
func (d *Dialog) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Changed is the refetch toggle of the owning list.
func (d *Dialog) Changed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changed
}

// Submit sends the entire selection. On success the selection is cleared,
// the changed toggle flips, the dialog closes and forgets its target so the
// next Open seeds from the freshly fetched linked set. On failure the dialog
// stays open with its selection so the administrator can retry.
//
// A response that arrives after the dialog moved to another target is not
// applied to the dialog. The backend's answer is still returned, marked
// Superseded; a completed write is never reported as a failure.
func (d *Dialog) Submit(ctx context.Context) (Outcome, error) {
	d.mu.Lock()
	if !d.open || d.target == nil {
		d.mu.Unlock()
		return Outcome{}, ErrDialogClosed
	}
	if d.submitting {
		d.mu.Unlock()
		return Outcome{}, apperr.Validation("", "a submission is already in progress")
	}
	d.submitting = true
	target := *d.target
	ids := d.selection.IDs()
	canEdit := d.canEdit
	tok := d.tok
	d.mu.Unlock()

	res, err := d.svc.submit(ctx, d.actorID, target, ids, canEdit)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitting = false

	var out Outcome
	staleErr := d.gens.Apply(tok, func() {
		if err != nil {
			out = Outcome{Notice: notice.FromError(err), Changed: d.changed}
			return
		}
		d.selection.Clear()
		d.changed = !d.changed
		d.open = false
		d.target = nil
		out = Outcome{
			Notice:  notice.FromResult(res.Success, res.Message, "Assignment"),
			Result:  &res,
			Changed: d.changed,
		}
	})
	if staleErr != nil {
		out = Outcome{Changed: d.changed, Superseded: true}
		if err != nil {
			out.Notice = notice.FromError(err)
			return out, err
		}
		out.Notice = notice.FromResult(res.Success, res.Message, "Assignment")
		out.Result = &res
		return out, nil
	}
	if err == nil {
		d.gens.Release(tok)
	}
	return out, err
}
