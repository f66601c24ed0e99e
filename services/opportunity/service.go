package opportunity

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service owns the payment accrual engine: it re-derives CompletedWork status
// from the underlying visits and recomputes each access's accrued total from
// zero, so repeated invocations are idempotent.
type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

// UpdatePaymentAccrued recomputes accrued payment for the given workers inside
// its own transaction.
func (s *Service) UpdatePaymentAccrued(ctx context.Context, opportunityID string, userIDs []string) error {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.UpdatePaymentAccruedTx(ctx, tx, opportunityID, userIDs)
	})
}

// UpdatePaymentAccruedTx runs the recomputation inside an existing transaction
// so callers (the bulk importers) can keep a single atomic commit boundary.
func (s *Service) UpdatePaymentAccruedTx(ctx context.Context, tx *gorm.DB, opportunityID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}

	var opp Opportunity
	if err := tx.WithContext(ctx).First(&opp, "id = ?", opportunityID).Error; err != nil {
		return err
	}

	var accesses []OpportunityAccess
	if err := tx.WithContext(ctx).
		Where("opportunity_id = ? AND user_id IN ? AND suspended = ?", opp.ID, userIDs, false).
		Find(&accesses).Error; err != nil {
		return err
	}

	unitAmounts := map[string]int64{}

	for i := range accesses {
		access := &accesses[i]

		var works []CompletedWork
		if err := tx.WithContext(ctx).
			Where("opportunity_access_id = ? AND status NOT IN ?",
				access.ID, []CompletedWorkStatus{WorkRejected, WorkOverLimit}).
			Find(&works).Error; err != nil {
			return err
		}

		var accrued int64
		for j := range works {
			work := &works[j]

			var visits []UserVisit
			if err := tx.WithContext(ctx).
				Where("completed_work_id = ?", work.ID).
				Find(&visits).Error; err != nil {
				return err
			}

			if len(visits) == 0 {
				continue
			}

			if opp.AutoApprovePayments {
				applyAutoApproval(work, visits)
			}

			approved := 0
			for _, v := range visits {
				if v.Status == VisitApproved {
					approved++
				}
			}
			if approved > 0 && work.Status == WorkApproved {
				amount, ok := unitAmounts[work.PaymentUnitID]
				if !ok {
					var unit PaymentUnit
					if err := tx.WithContext(ctx).First(&unit, "id = ?", work.PaymentUnitID).Error; err != nil {
						return err
					}
					amount = unit.Amount
					unitAmounts[unit.ID] = amount
				}
				accrued += int64(approved) * amount
			}

			if err := tx.WithContext(ctx).Save(work).Error; err != nil {
				return err
			}
		}

		access.PaymentAccrued = accrued
		if err := tx.WithContext(ctx).Save(access).Error; err != nil {
			return err
		}

		zap.L().Debug("payment accrual recomputed",
			zap.String("opportunity_id", opp.ID),
			zap.String("user_id", access.UserID),
			zap.Int64("payment_accrued", accrued),
		)
	}

	return nil
}

// applyAutoApproval forces the work status from the visit statuses: any
// rejected visit rejects the work with the joined reasons, a fully approved
// visit set approves it.
func applyAutoApproval(work *CompletedWork, visits []UserVisit) {
	anyRejected := false
	allApproved := true
	var reasons []string
	for _, v := range visits {
		if v.Status == VisitRejected {
			anyRejected = true
		}
		if v.Status != VisitApproved {
			allApproved = false
		}
		if v.Reason != "" {
			reasons = append(reasons, v.Reason)
		}
	}

	if anyRejected {
		work.Status = WorkRejected
		work.Reason = strings.Join(reasons, "\n")
	} else if allApproved {
		work.Status = WorkApproved
	}
}
