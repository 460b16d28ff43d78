// Package confirm models the three step confirmation that guards every
// cell edit. States are plain values and every transition is a pure
// function returning the next state; the caller owns the current one.
package confirm

import (
	"fmt"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// Step is the position in the confirmation flow.
type Step int

const (
	Idle Step = iota
	Confirm1
	Confirm2
	Commit
)

func (s Step) String() string {
	switch s {
	case Idle:
		return "idle"
	case Confirm1:
		return "confirm1"
	case Confirm2:
		return "confirm2"
	case Commit:
		return "commit"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Prompt is the dialog shown at a step.
type Prompt struct {
	Title   string
	Message string
}

var prompts = map[Step]Prompt{
	Confirm1: {Title: "Save Draft?", Message: "Do you want to save this change as a draft?"},
	Confirm2: {Title: "Are you sure?", Message: "You'll have 5 minutes to undo this change."},
	Commit:   {Title: "Commit Change", Message: "This will finalize the change. Proceed?"},
}

// Prompt returns the dialog of s. Idle has none.
func (s Step) Prompt() (Prompt, bool) {
	p, ok := prompts[s]
	return p, ok
}

// Edit is a proposed cell change.
type Edit struct {
	RecordID string
	Field    record.Field
	Value    any
	// Derived is the estimated units computed for weight edits.
	Derived *float64
}

// State is the flow state. The zero value is Idle.
type State struct {
	Step Step
	// Pending is meaningful when Step is not Idle.
	Pending Edit
	// Committing is set once the final affirmation handed the edit to the
	// commit pipeline and cleared by Complete.
	Committing bool
}

// Action tells the caller what to do after a transition.
type Action struct {
	Commit bool
	Edit   Edit
}

// Start opens the flow for e.
func Start(s State, e Edit) (State, error) {
	if s.Committing {
		return s, gerrors.ErrCommitInFlight
	}
	if s.Step != Idle {
		return s, gerrors.ErrFlowBusy
	}
	return State{Step: Confirm1, Pending: e}, nil
}

// Affirm advances the flow by one step. Affirming at Commit returns the
// commit action and marks the state as committing.
func Affirm(s State) (State, Action, error) {
	if s.Committing {
		return s, Action{}, gerrors.ErrCommitInFlight
	}
	switch s.Step {
	case Confirm1:
		s.Step = Confirm2
	case Confirm2:
		s.Step = Commit
	case Commit:
		s.Committing = true
		return s, Action{Commit: true, Edit: s.Pending}, nil
	default:
		return s, Action{}, gerrors.ErrNoPendingEdit
	}
	return s, Action{}, nil
}

// Cancel discards the pending edit.
func Cancel(s State) (State, error) {
	if s.Committing {
		return s, gerrors.ErrCommitInFlight
	}
	return State{}, nil
}

// Complete ends a commit, successful or not.
func Complete(State) State { return State{} }
