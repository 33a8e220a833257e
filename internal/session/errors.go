package session

import (
	"errors"
	"fmt"

	"studytrack-backend/internal/models"
)

// Topic is a precondition of Start; handing the manager an empty topic
// is a caller bug, not a recoverable state.
var (
	ErrTopicRequired = errors.New("topic is required")
	ErrTopicTooLong  = errors.New("topic too long (max 200 characters)")
)

// InvalidStateError reports an operation that is illegal for the
// current state, e.g. pause while Idle. Always recoverable.
type InvalidStateError struct {
	Op    string
	State models.SessionState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session - currently in %s state", e.Op, e.State)
}

// PersistenceError wraps a failed write to the session store. On start
// it aborts session creation; on stop it is surfaced alongside the
// in-memory summary.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session %s: persistence failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
