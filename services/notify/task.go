package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/czue/commcare-connect/pkg/taskname"
	"github.com/czue/commcare-connect/services/opportunity"
	"github.com/czue/commcare-connect/services/users"
)

// PaymentNotificationPayload carries the payments recorded by one bulk
// payment import.
type PaymentNotificationPayload struct {
	OpportunityID string   `json:"opportunity_id"`
	PaymentIDs    []string `json:"payment_ids"`
}

// NewPaymentNotificationTask builds the asynq task enqueued after a payment
// import commits.
func NewPaymentNotificationTask(opportunityID string, paymentIDs []string) (*asynq.Task, error) {
	payload, err := json.Marshal(PaymentNotificationPayload{
		OpportunityID: opportunityID,
		PaymentIDs:    paymentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment notification payload: %w", err)
	}
	return asynq.NewTask(taskname.PaymentNotify, payload), nil
}

type Task struct {
	db *gorm.DB
}

type TaskParams struct {
	fx.In
	DB *gorm.DB
}

func NewTask(p TaskParams) *Task {
	return &Task{db: p.DB}
}

// HandlePaymentNotification notifies each worker of the total amount credited
// to them by one import run.
func (t *Task) HandlePaymentNotification(ctx context.Context, task *asynq.Task) error {
	var payload PaymentNotificationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payment notification payload: %w", err)
	}

	var payments []opportunity.Payment
	if err := t.db.WithContext(ctx).
		Where("id IN ?", payload.PaymentIDs).
		Find(&payments).Error; err != nil {
		return err
	}

	totalByAccess := map[string]int64{}
	for _, p := range payments {
		totalByAccess[p.OpportunityAccessID] += p.Amount
	}
	if len(totalByAccess) == 0 {
		return nil
	}

	accessIDs := make([]string, 0, len(totalByAccess))
	for id := range totalByAccess {
		accessIDs = append(accessIDs, id)
	}

	var accesses []opportunity.OpportunityAccess
	if err := t.db.WithContext(ctx).
		Where("id IN ?", accessIDs).
		Find(&accesses).Error; err != nil {
		return err
	}

	for _, access := range accesses {
		var user users.User
		if err := t.db.WithContext(ctx).First(&user, "id = ?", access.UserID).Error; err != nil {
			zap.L().Warn("payment notification skipped, user not found",
				zap.String("user_id", access.UserID),
				zap.Error(err),
			)
			continue
		}

		zap.L().Info("payment notification sent",
			zap.String("opportunity_id", payload.OpportunityID),
			zap.String("username", user.Username),
			zap.Int64("amount", totalByAccess[access.ID]),
		)
	}

	return nil
}

func registerHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.PaymentNotify, t.HandlePaymentNotification)
}

var Module = fx.Module("notify.task",
	fx.Provide(NewTask),
	fx.Invoke(registerHandlers),
)
