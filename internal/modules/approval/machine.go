package approval

import (
	"fmt"

	"github.com/aristath/scholar/internal/domain"
)

// State is the part of a request derived from its action log.
// An empty Level means the request reached a terminal status.
type State struct {
	Status  Status
	Level   domain.Level
	Overdue bool
}

// Terminal reports whether no further decisions can be made
func (s State) Terminal() bool {
	return s.Status != "" && s.Level == ""
}

// Apply returns the state reached by performing action in s under workflow w.
// It checks only the state machine; authority and comments are the caller's concern.
func Apply(w Workflow, s State, action Action) (State, error) {
	if action == ActionSubmit {
		if s.Status != "" {
			return s, fmt.Errorf("%w: request already submitted", ErrInvalidTransition)
		}
		return State{Status: StatusPending, Level: w.Levels[0]}, nil
	}

	if s.Status == "" {
		return s, fmt.Errorf("%w: %s before submit", ErrInvalidTransition, action)
	}
	if s.Terminal() {
		return s, fmt.Errorf("%w: %s on %s request", ErrInvalidTransition, action, s.Status)
	}

	idx := w.levelIndex(s.Level)
	if idx < 0 {
		return s, fmt.Errorf("%w: level %s is not part of workflow %s", ErrInvalidTransition, s.Level, w.ID)
	}

	switch action {
	case ActionApprove:
		next := State{Status: ApprovedStatus(s.Level)}
		if idx+1 < len(w.Levels) {
			next.Level = w.Levels[idx+1]
		}
		return next, nil

	case ActionReject:
		return State{Status: StatusRejected}, nil

	case ActionReturn:
		next := State{Status: StatusPending, Level: s.Level}
		if w.ReturnPolicy == ReturnRestart {
			next.Level = w.Levels[0]
		}
		return next, nil

	case ActionDelegate:
		return s, nil

	case ActionEscalate:
		if s.Overdue {
			return s, fmt.Errorf("%w: request already escalated", ErrInvalidTransition)
		}
		s.Overdue = true
		return s, nil
	}

	return s, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
}

// Replay folds an action log into the state it produces. Each record must
// agree with the state the machine computes for it.
func Replay(w Workflow, actions []ActionRecord) (State, error) {
	var s State
	for i, a := range actions {
		if a.Seq != i+1 {
			return s, fmt.Errorf("%w: action %s has seq %d, expected %d", ErrProjectionMismatch, a.ID, a.Seq, i+1)
		}

		next, err := Apply(w, s, a.Action)
		if err != nil {
			return s, fmt.Errorf("replay action %d: %w", a.Seq, err)
		}
		if next.Status != a.NewStatus || next.Level != a.NewLevel {
			return s, fmt.Errorf("%w: action %d recorded %s/%s, replay gives %s/%s",
				ErrProjectionMismatch, a.Seq, a.NewStatus, a.NewLevel, next.Status, next.Level)
		}
		s = next
	}
	return s, nil
}
