package imports

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/czue/commcare-connect/services/opportunity"
)

type workPlan struct {
	workIDs []string
	status  map[string]opportunity.CompletedWorkStatus
	reason  map[string]string
}

// BulkUpdateCompletedWorkStatus applies reviewed payment approvals to
// completed work records and recomputes accrual in the same transaction.
func (s *Service) BulkUpdateCompletedWorkStatus(ctx context.Context, opportunityID string, upload *Upload) (*ImportStatus, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	dataset, err := ReadDataset(upload)
	if err != nil {
		return nil, err
	}

	plan, err := planWorkRows(dataset)
	if err != nil {
		return nil, err
	}

	status := &ImportStatus{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := map[string]struct{}{}
		accessIDs := map[string]struct{}{}

		for chunk := range slices.Chunk(plan.workIDs, importBatchSize) {
			var works []opportunity.CompletedWork
			if err := tx.
				Joins("JOIN opportunity_accesses ON opportunity_accesses.id = completed_works.opportunity_access_id").
				Where("completed_works.id IN ? AND opportunity_accesses.opportunity_id = ?", chunk, opportunityID).
				Find(&works).Error; err != nil {
				return err
			}

			for i := range works {
				work := &works[i]
				seen[work.ID] = struct{}{}
				accessIDs[work.OpportunityAccessID] = struct{}{}

				target := plan.status[work.ID]
				if work.Status == target {
					continue
				}
				work.Status = target
				if target == opportunity.WorkRejected {
					if reason := plan.reason[work.ID]; reason != "" {
						work.Reason = reason
					}
				}
				if err := tx.Save(work).Error; err != nil {
					return err
				}
			}
		}

		for _, id := range plan.workIDs {
			if _, ok := seen[id]; ok {
				status.Seen = append(status.Seen, id)
			} else {
				status.Missing = append(status.Missing, id)
			}
		}

		userIDs, err := accessUserIDs(tx, setToSlice(accessIDs))
		if err != nil {
			return err
		}
		return s.accrual.UpdatePaymentAccruedTx(ctx, tx, opportunityID, userIDs)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("completed work status import applied",
		zap.String("opportunity_id", opportunityID),
		zap.Int("seen", status.SeenCount()),
		zap.Int("missing", status.MissingCount()),
	)
	return status, nil
}

func planWorkRows(dataset *Dataset) (*workPlan, error) {
	cols, err := dataset.requiredColumns(workIDCol, paymentApprovalCol)
	if err != nil {
		return nil, err
	}
	reasonIdx, hasReason := dataset.columnIndex(reasonCol)

	plan := &workPlan{
		status: map[string]opportunity.CompletedWorkStatus{},
		reason: map[string]string{},
	}
	var rowErrors []RowError

	for i, row := range dataset.Rows {
		rowNum := i + 2

		workID := cell(row, cols[workIDCol])
		if workID == "" {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Message: "instance id is required"})
			continue
		}

		parsed, err := opportunity.ParseCompletedWorkStatus(cell(row, cols[paymentApprovalCol]))
		if err != nil {
			rowErrors = append(rowErrors, RowError{
				Row:     rowNum,
				Message: fmt.Sprintf("completed work %s: %v", workID, err),
			})
			continue
		}

		if _, dup := plan.status[workID]; !dup {
			plan.workIDs = append(plan.workIDs, workID)
		}
		plan.status[workID] = parsed
		if parsed == opportunity.WorkRejected && hasReason {
			plan.reason[workID] = cell(row, reasonIdx)
		}
	}

	if len(rowErrors) > 0 {
		return nil, rowErrorsToError(rowErrors)
	}
	return plan, nil
}

func accessUserIDs(tx *gorm.DB, accessIDs []string) ([]string, error) {
	if len(accessIDs) == 0 {
		return nil, nil
	}
	var accesses []opportunity.OpportunityAccess
	if err := tx.Where("id IN ?", accessIDs).Find(&accesses).Error; err != nil {
		return nil, err
	}
	userIDs := make([]string, 0, len(accesses))
	for _, access := range accesses {
		userIDs = append(userIDs, access.UserID)
	}
	return userIDs, nil
}
