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

type visitPlan struct {
	visitIDs []string
	status   map[string]opportunity.VisitValidationStatus
	reason   map[string]string
}

// BulkUpdateVisitStatus applies reviewed visit statuses from a spreadsheet.
// Rows referencing visits outside the opportunity are reported as missing, not
// errors. Accrual is recomputed for every touched worker in the same
// transaction, so a failed import changes nothing.
func (s *Service) BulkUpdateVisitStatus(ctx context.Context, opportunityID string, upload *Upload) (*ImportStatus, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	dataset, err := ReadDataset(upload)
	if err != nil {
		return nil, err
	}

	plan, err := planVisitRows(dataset)
	if err != nil {
		return nil, err
	}

	status := &ImportStatus{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := map[string]struct{}{}
		userIDs := map[string]struct{}{}

		for chunk := range slices.Chunk(plan.visitIDs, importBatchSize) {
			var visits []opportunity.UserVisit
			if err := tx.
				Where("xform_id IN ? AND opportunity_id = ?", chunk, opportunityID).
				Find(&visits).Error; err != nil {
				return err
			}

			for i := range visits {
				visit := &visits[i]
				seen[visit.XFormID] = struct{}{}
				userIDs[visit.UserID] = struct{}{}

				target := plan.status[visit.XFormID]
				if visit.Status == target {
					continue
				}
				visit.Status = target
				if target == opportunity.VisitRejected {
					if reason := plan.reason[visit.XFormID]; reason != "" {
						visit.Reason = reason
					}
				}
				if err := tx.Save(visit).Error; err != nil {
					return err
				}
			}
		}

		for _, id := range plan.visitIDs {
			if _, ok := seen[id]; ok {
				status.Seen = append(status.Seen, id)
			} else {
				status.Missing = append(status.Missing, id)
			}
		}

		return s.accrual.UpdatePaymentAccruedTx(ctx, tx, opportunityID, setToSlice(userIDs))
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("visit status import applied",
		zap.String("opportunity_id", opportunityID),
		zap.Int("seen", status.SeenCount()),
		zap.Int("missing", status.MissingCount()),
	)
	return status, nil
}

func planVisitRows(dataset *Dataset) (*visitPlan, error) {
	cols, err := dataset.requiredColumns(visitIDCol, statusCol)
	if err != nil {
		return nil, err
	}
	reasonIdx, hasReason := dataset.columnIndex(reasonCol)

	plan := &visitPlan{
		status: map[string]opportunity.VisitValidationStatus{},
		reason: map[string]string{},
	}
	var rowErrors []RowError

	for i, row := range dataset.Rows {
		rowNum := i + 2

		visitID := cell(row, cols[visitIDCol])
		if visitID == "" {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Message: "visit id is required"})
			continue
		}

		parsed, err := opportunity.ParseVisitValidationStatus(cell(row, cols[statusCol]))
		if err != nil {
			rowErrors = append(rowErrors, RowError{
				Row:     rowNum,
				Message: fmt.Sprintf("visit %s: %v", visitID, err),
			})
			continue
		}

		if _, dup := plan.status[visitID]; !dup {
			plan.visitIDs = append(plan.visitIDs, visitID)
		}
		plan.status[visitID] = parsed
		if parsed == opportunity.VisitRejected && hasReason {
			plan.reason[visitID] = cell(row, reasonIdx)
		}
	}

	if len(rowErrors) > 0 {
		return nil, rowErrorsToError(rowErrors)
	}
	return plan, nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
