package imports

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/czue/commcare-connect/pkg/errutil"
	"github.com/czue/commcare-connect/services/opportunity"
)

func TestBulkUpdateCatchments_CreateScopedAndUnscoped(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	status, err := svc.BulkUpdateCatchments(context.Background(), f.opp.ID, csvUpload(
		"name,latitude,longitude,radius,active,username",
		"North clinic,12.5,77.6,1000,yes,worker1",
		"South clinic,-12.5,-77.6,500,no,",
	))
	require.NoError(t, err)
	require.Equal(t, []string{"North clinic", "South clinic"}, status.Seen)

	var scoped opportunity.CatchmentArea
	require.NoError(t, db.First(&scoped, "name = ?", "North clinic").Error)
	require.Equal(t, f.opp.ID, scoped.OpportunityID)
	require.Equal(t, f.access.ID, scoped.OpportunityAccessID)
	require.Equal(t, 1000, scoped.Radius)
	require.True(t, scoped.Active)

	var unscoped opportunity.CatchmentArea
	require.NoError(t, db.First(&unscoped, "name = ?", "South clinic").Error)
	require.Empty(t, unscoped.OpportunityAccessID)
	require.False(t, unscoped.Active)
}

func TestBulkUpdateCatchments_UpdateByCatchmentID(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	require.NoError(t, db.Create(&opportunity.CatchmentArea{
		ID: "area-1", OpportunityID: f.opp.ID, Name: "Old name",
		Latitude: 1, Longitude: 1, Radius: 100, Active: true,
	}).Error)

	status, err := svc.BulkUpdateCatchments(context.Background(), f.opp.ID, csvUpload(
		"name,latitude,longitude,radius,active,username,catchment id",
		"New name,2.5,3.5,200,no,worker1,area-1",
	))
	require.NoError(t, err)
	require.Equal(t, []string{"New name"}, status.Seen)

	var count int64
	require.NoError(t, db.Model(&opportunity.CatchmentArea{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var area opportunity.CatchmentArea
	require.NoError(t, db.First(&area, "id = ?", "area-1").Error)
	require.Equal(t, "New name", area.Name)
	require.Equal(t, 200, area.Radius)
	require.Equal(t, f.access.ID, area.OpportunityAccessID)
	require.False(t, area.Active)
}

func TestBulkUpdateCatchments_UnscopedRowIgnoresCatchmentID(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	require.NoError(t, db.Create(&opportunity.CatchmentArea{
		ID: "area-1", OpportunityID: f.opp.ID, Name: "Original",
		Latitude: 1, Longitude: 1, Radius: 100, Active: true,
	}).Error)

	status, err := svc.BulkUpdateCatchments(context.Background(), f.opp.ID, csvUpload(
		"name,latitude,longitude,radius,active,username,catchment id",
		"Fresh area,2.5,3.5,200,no,,area-1",
	))
	require.NoError(t, err)
	require.Equal(t, []string{"Fresh area"}, status.Seen)

	// a new unscoped area is inserted; the addressed one is untouched
	var count int64
	require.NoError(t, db.Model(&opportunity.CatchmentArea{}).Count(&count).Error)
	require.EqualValues(t, 2, count)

	var original opportunity.CatchmentArea
	require.NoError(t, db.First(&original, "id = ?", "area-1").Error)
	require.Equal(t, "Original", original.Name)
	require.Equal(t, 100, original.Radius)
	require.True(t, original.Active)
}

func TestBulkUpdateCatchments_InvalidLatitudeRejectsWholeFile(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	_, err := svc.BulkUpdateCatchments(context.Background(), f.opp.ID, csvUpload(
		"name,latitude,longitude,radius,active",
		"Good area,10,10,100,yes",
		"Bad area,95,10,100,yes",
	))

	var base errutil.BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, errutil.StatusValidationFailed, base.Code)
	require.Len(t, base.Details, 1)
	require.Equal(t, "row 3", base.Details[0].Field)

	// the valid row must not have been written either
	var count int64
	require.NoError(t, db.Model(&opportunity.CatchmentArea{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestBulkUpdateCatchments_UnknownUsername(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	_, err := svc.BulkUpdateCatchments(context.Background(), f.opp.ID, csvUpload(
		"name,latitude,longitude,radius,active,username",
		"Area,10,10,100,yes,ghost",
	))

	var base errutil.BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, errutil.StatusValidationFailed, base.Code)
}

func TestBulkUpdateCatchments_InvalidActiveToken(t *testing.T) {
	svc, db, _ := newImportService(t)
	f := seedImportFixtures(t, db)

	_, err := svc.BulkUpdateCatchments(context.Background(), f.opp.ID, csvUpload(
		"name,latitude,longitude,radius,active",
		"Area,10,10,100,maybe",
	))
	require.Error(t, err)
}
