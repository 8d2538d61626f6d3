package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcile recomputes balances and stock and reports drift.
	TaskReconcile = "bookkeeper:reconcile"
)

// Scope selects what a reconciliation run checks.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeLedgers Scope = "ledgers"
	ScopeItems   Scope = "items"
)

func (s Scope) valid() bool {
	switch s {
	case ScopeAll, ScopeLedgers, ScopeItems:
		return true
	}
	return false
}

// ReconcilePayload is the JSON body of a TaskReconcile task.
type ReconcilePayload struct {
	Scope Scope `json:"scope"`
}

// NewReconcileTask constructs an Asynq task.
func NewReconcileTask(scope Scope) (*asynq.Task, error) {
	if scope == "" {
		scope = ScopeAll
	}
	if !scope.valid() {
		return nil, fmt.Errorf("jobs: unknown reconcile scope %q", scope)
	}
	data, err := json.Marshal(ReconcilePayload{Scope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
