package payment

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TaskReconcile is the asynq task type for the periodic reconciliation sweep.
const TaskReconcile = "payment:reconcile"

type reconcilePayload struct {
	Limit int `json:"limit"`
}

// NewReconcileTask builds the periodic sweep task. Limit caps how many
// pending invoices one pass inspects.
func NewReconcileTask(limit int) (*asynq.Task, error) {
	payload, err := json.Marshal(reconcilePayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, payload), nil
}

// Reconciler runs the sweep as an asynq task handler.
type Reconciler struct {
	Svc *Service
}

// ProcessTask implements asynq.Handler.
func (r Reconciler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload reconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
	}
	res, err := r.Svc.Reconcile(ctx, payload.Limit)
	if err != nil {
		return err
	}
	r.Svc.Log.Info().
		Int("checked", res.Checked).
		Int("reconciled", res.Reconciled).
		Msg("reconciliation sweep complete")
	return nil
}
