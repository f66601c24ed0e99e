package imports

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/czue/commcare-connect/pkg/errutil"
	"github.com/czue/commcare-connect/services/opportunity"
)

func TestBulkUpdateCompletedWorkStatus(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	require.NoError(t, db.Create(&opportunity.CompletedWork{
		ID: "work-1", OpportunityAccessID: f.access.ID, PaymentUnitID: f.unit.ID,
		Status: opportunity.WorkPending,
	}).Error)
	seedVisit(t, db, f, "x1", "work-1", opportunity.VisitApproved)

	status, err := svc.BulkUpdateCompletedWorkStatus(context.Background(), f.opp.ID, csvUpload(
		"instance id,payment approval",
		"work-1,approved",
		"work-9,rejected",
	))
	require.NoError(t, err)
	require.Equal(t, []string{"work-1"}, status.Seen)
	require.Equal(t, []string{"work-9"}, status.Missing)

	var work opportunity.CompletedWork
	require.NoError(t, db.First(&work, "id = ?", "work-1").Error)
	require.Equal(t, opportunity.WorkApproved, work.Status)

	var access opportunity.OpportunityAccess
	require.NoError(t, db.First(&access, "id = ?", f.access.ID).Error)
	require.EqualValues(t, 250, access.PaymentAccrued)
}

func TestBulkUpdateCompletedWorkStatus_RejectedReason(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	require.NoError(t, db.Create(&opportunity.CompletedWork{
		ID: "work-1", OpportunityAccessID: f.access.ID, PaymentUnitID: f.unit.ID,
		Status: opportunity.WorkPending,
	}).Error)
	require.NoError(t, db.Create(&opportunity.CompletedWork{
		ID: "work-2", OpportunityAccessID: f.access.ID, PaymentUnitID: f.unit.ID,
		Status: opportunity.WorkPending, Reason: "kept",
	}).Error)

	status, err := svc.BulkUpdateCompletedWorkStatus(context.Background(), f.opp.ID, csvUpload(
		"instance id,payment approval,rejected reason",
		"work-1,rejected,location mismatch",
		"work-2,approved,ignored for non-rejections",
	))
	require.NoError(t, err)
	require.Equal(t, []string{"work-1", "work-2"}, status.Seen)

	var rejected opportunity.CompletedWork
	require.NoError(t, db.First(&rejected, "id = ?", "work-1").Error)
	require.Equal(t, opportunity.WorkRejected, rejected.Status)
	require.Equal(t, "location mismatch", rejected.Reason)

	// a reason only lands alongside a rejection
	var approved opportunity.CompletedWork
	require.NoError(t, db.First(&approved, "id = ?", "work-2").Error)
	require.Equal(t, opportunity.WorkApproved, approved.Status)
	require.Equal(t, "kept", approved.Reason)
}

func TestBulkUpdateCompletedWorkStatus_InvalidApproval(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	require.NoError(t, db.Create(&opportunity.CompletedWork{
		ID: "work-1", OpportunityAccessID: f.access.ID, PaymentUnitID: f.unit.ID,
		Status: opportunity.WorkPending,
	}).Error)

	_, err := svc.BulkUpdateCompletedWorkStatus(context.Background(), f.opp.ID, csvUpload(
		"instance id,payment approval",
		"work-1,paid",
	))

	var base errutil.BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, errutil.StatusValidationFailed, base.Code)

	var work opportunity.CompletedWork
	require.NoError(t, db.First(&work, "id = ?", "work-1").Error)
	require.Equal(t, opportunity.WorkPending, work.Status)
}

func TestBulkUpdateCompletedWorkStatus_OtherOpportunityWorkIsMissing(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	other := opportunity.Opportunity{ID: "opp-2", Active: true}
	require.NoError(t, db.Create(&other).Error)
	require.NoError(t, db.Create(&opportunity.OpportunityAccess{
		ID: "access-other", UserID: f.user.ID, OpportunityID: other.ID,
	}).Error)
	require.NoError(t, db.Create(&opportunity.CompletedWork{
		ID: "work-foreign", OpportunityAccessID: "access-other", PaymentUnitID: f.unit.ID,
		Status: opportunity.WorkPending,
	}).Error)

	status, err := svc.BulkUpdateCompletedWorkStatus(context.Background(), f.opp.ID, csvUpload(
		"instance id,payment approval",
		"work-foreign,approved",
	))
	require.NoError(t, err)
	require.Empty(t, status.Seen)
	require.Equal(t, []string{"work-foreign"}, status.Missing)

	var work opportunity.CompletedWork
	require.NoError(t, db.First(&work, "id = ?", "work-foreign").Error)
	require.Equal(t, opportunity.WorkPending, work.Status)
}
