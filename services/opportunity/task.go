package opportunity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"

	"github.com/czue/commcare-connect/pkg/taskname"
)

// AccrualRecomputePayload names the workers whose accrued totals should be
// recomputed off the request path.
type AccrualRecomputePayload struct {
	OpportunityID string   `json:"opportunity_id"`
	UserIDs       []string `json:"user_ids"`
}

// NewAccrualRecomputeTask builds the asynq task for a background accrual run.
func NewAccrualRecomputeTask(opportunityID string, userIDs []string) (*asynq.Task, error) {
	payload, err := json.Marshal(AccrualRecomputePayload{
		OpportunityID: opportunityID,
		UserIDs:       userIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal accrual recompute payload: %w", err)
	}
	return asynq.NewTask(taskname.AccrualRecompute, payload), nil
}

// HandleAccrualRecompute runs the accrual engine for the named workers.
func (s *Service) HandleAccrualRecompute(ctx context.Context, task *asynq.Task) error {
	var payload AccrualRecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal accrual recompute payload: %w", err)
	}
	return s.UpdatePaymentAccrued(ctx, payload.OpportunityID, payload.UserIDs)
}

func registerTaskHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.AccrualRecompute, s.HandleAccrualRecompute)
}

var TaskModule = fx.Module("opportunity.task",
	fx.Invoke(registerTaskHandlers),
)
