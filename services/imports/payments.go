package imports

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/czue/commcare-connect/services/notify"
	"github.com/czue/commcare-connect/services/opportunity"
	"github.com/czue/commcare-connect/services/users"
)

type paymentPlan struct {
	usernames []string
	amounts   map[string]int64
}

// BulkUpdatePayments records externally made payments from a spreadsheet.
// Rows with a blank amount are skipped, duplicate usernames keep the last
// amount, and unknown or suspended workers are reported as missing. After the
// transaction commits, a notification task is enqueued for the recorded
// payments; enqueue failures are logged, not returned, since the money is
// already recorded.
func (s *Service) BulkUpdatePayments(ctx context.Context, opportunityID string, upload *Upload) (*ImportStatus, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	dataset, err := ReadDataset(upload)
	if err != nil {
		return nil, err
	}

	plan, err := planPaymentRows(dataset)
	if err != nil {
		return nil, err
	}

	status := &ImportStatus{}
	var paymentIDs []string

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := map[string]struct{}{}

		for chunk := range slices.Chunk(plan.usernames, importBatchSize) {
			var workers []users.User
			if err := tx.Where("username IN ?", chunk).Find(&workers).Error; err != nil {
				return err
			}
			if len(workers) == 0 {
				continue
			}

			usernameByUserID := make(map[string]string, len(workers))
			userIDs := make([]string, 0, len(workers))
			for _, w := range workers {
				usernameByUserID[w.ID] = w.Username
				userIDs = append(userIDs, w.ID)
			}

			var accesses []opportunity.OpportunityAccess
			if err := tx.
				Where("opportunity_id = ? AND user_id IN ? AND suspended = ?", opportunityID, userIDs, false).
				Find(&accesses).Error; err != nil {
				return err
			}

			for _, access := range accesses {
				username := usernameByUserID[access.UserID]
				payment := opportunity.Payment{
					ID:                  s.node.Generate().String(),
					OpportunityAccessID: access.ID,
					Amount:              plan.amounts[username],
				}
				if err := tx.Create(&payment).Error; err != nil {
					return err
				}
				paymentIDs = append(paymentIDs, payment.ID)
				seen[username] = struct{}{}
			}
		}

		for _, username := range plan.usernames {
			if _, ok := seen[username]; ok {
				status.Seen = append(status.Seen, username)
			} else {
				status.Missing = append(status.Missing, username)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(paymentIDs) > 0 {
		task, err := notify.NewPaymentNotificationTask(opportunityID, paymentIDs)
		if err != nil {
			zap.L().Error("failed to build payment notification task", zap.Error(err))
		} else if _, err := s.enqueuer.Enqueue(task); err != nil {
			zap.L().Error("failed to enqueue payment notification task",
				zap.String("opportunity_id", opportunityID),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("payment import applied",
		zap.String("opportunity_id", opportunityID),
		zap.Int("seen", status.SeenCount()),
		zap.Int("missing", status.MissingCount()),
	)
	return status, nil
}

func planPaymentRows(dataset *Dataset) (*paymentPlan, error) {
	cols, err := dataset.requiredColumns(usernameCol, amountCol)
	if err != nil {
		return nil, err
	}

	plan := &paymentPlan{amounts: map[string]int64{}}
	var rowErrors []RowError

	for i, row := range dataset.Rows {
		rowNum := i + 2

		raw := cell(row, cols[amountCol])
		if raw == "" {
			continue
		}

		username := cell(row, cols[usernameCol])
		if username == "" {
			rowErrors = append(rowErrors, RowError{
				Row:     rowNum,
				Message: "payment amount given without a username",
			})
			continue
		}

		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			rowErrors = append(rowErrors, RowError{
				Row:     rowNum,
				Message: fmt.Sprintf("payment amount must be an integer, got %q", raw),
			})
			continue
		}

		if _, dup := plan.amounts[username]; !dup {
			plan.usernames = append(plan.usernames, username)
		}
		plan.amounts[username] = amount
	}

	if len(rowErrors) > 0 {
		return nil, rowErrorsToError(rowErrors)
	}
	return plan, nil
}
