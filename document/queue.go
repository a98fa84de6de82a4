package document

import (
	"fmt"
	"strings"
)

// PendingDestroy is a deferred destroy of one child of the queue's owner.
// It names the child instead of holding it so the queue stays inspectable.
type PendingDestroy struct {
	Relation string
	ChildID  string
}

func (p PendingDestroy) String() string {
	return p.Relation + "/" + p.ChildID
}

// DestroyQueue holds destroys deferred until the owner's save succeeds.
// It lives for a single save attempt.
type DestroyQueue struct {
	pending []PendingDestroy
}

// Push appends an action.
func (q *DestroyQueue) Push(p PendingDestroy) {
	q.pending = append(q.pending, p)
}

// Pending returns the queued actions in enqueue order.
func (q *DestroyQueue) Pending() []PendingDestroy {
	out := make([]PendingDestroy, len(q.pending))
	copy(out, q.pending)
	return out
}

// Len returns the number of queued actions.
func (q *DestroyQueue) Len() int { return len(q.pending) }

// take empties the queue and returns what it held.
func (q *DestroyQueue) take() []PendingDestroy {
	out := q.pending
	q.pending = nil
	return out
}

// DrainError reports a drain that stopped at a failing action.
type DrainError struct {
	// Completed lists the actions that ran before the failure.
	Completed []PendingDestroy

	// Failed is the action that returned Err.
	Failed PendingDestroy

	// Skipped lists the actions that were not attempted.
	Skipped []PendingDestroy

	Err error
}

func (e *DrainError) Error() string {
	done := make([]string, len(e.Completed))
	for i, p := range e.Completed {
		done[i] = p.String()
	}
	return fmt.Sprintf("paranoia: destroy of %s failed after [%s], %d skipped: %v",
		e.Failed, strings.Join(done, ", "), len(e.Skipped), e.Err)
}

func (e *DrainError) Unwrap() error { return e.Err }
