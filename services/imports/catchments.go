package imports

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/czue/commcare-connect/services/opportunity"
	"github.com/czue/commcare-connect/services/users"
)

// BulkUpdateCatchments creates or updates catchment areas from a spreadsheet.
// The whole file is validated before anything is written: any invalid row
// rejects the entire import. Rows without a username always insert a fresh
// area scoped only to the opportunity; rows with a username must match a
// non-suspended worker and may address an existing area by catchment id.
func (s *Service) BulkUpdateCatchments(ctx context.Context, opportunityID string, upload *Upload) (*ImportStatus, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	dataset, err := ReadDataset(upload)
	if err != nil {
		return nil, err
	}

	cols, err := dataset.requiredColumns(latitudeCol, longitudeCol, radiusCol, areaNameCol, activeCol)
	if err != nil {
		return nil, err
	}
	usernameIdx, hasUsername := dataset.columnIndex(usernameCol)
	catchmentIDIdx, hasCatchmentID := dataset.columnIndex(catchmentIDCol)

	accessByUsername, err := s.loadAccessesByUsername(ctx, opportunityID)
	if err != nil {
		return nil, err
	}

	status := &ImportStatus{}
	var toCreate []opportunity.CatchmentArea
	var toUpdate []opportunity.CatchmentArea
	var rowErrors []RowError

	for i, row := range dataset.Rows {
		rowNum := i + 2

		area, err := parseCatchmentRow(row, cols)
		if err != nil {
			rowErrors = append(rowErrors, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		area.OpportunityID = opportunityID

		scoped := false
		if hasUsername {
			if username := cell(row, usernameIdx); username != "" {
				access, ok := accessByUsername[username]
				if !ok {
					rowErrors = append(rowErrors, RowError{
						Row:     rowNum,
						Message: fmt.Sprintf("no active worker with username %q in this opportunity", username),
					})
					continue
				}
				area.OpportunityAccessID = access.ID
				scoped = true
			}
		}

		// only worker-scoped rows can address an existing area by id;
		// unscoped rows always insert fresh
		catchmentID := ""
		if scoped && hasCatchmentID {
			catchmentID = cell(row, catchmentIDIdx)
		}

		if catchmentID == "" {
			area.ID = s.node.Generate().String()
			toCreate = append(toCreate, area)
			status.Seen = append(status.Seen, area.Name)
			continue
		}

		var existing opportunity.CatchmentArea
		err = s.db.WithContext(ctx).First(&existing, "id = ?", catchmentID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			area.ID = catchmentID
			toCreate = append(toCreate, area)
		case err != nil:
			return nil, err
		default:
			existing.OpportunityID = area.OpportunityID
			existing.OpportunityAccessID = area.OpportunityAccessID
			existing.Latitude = area.Latitude
			existing.Longitude = area.Longitude
			existing.Radius = area.Radius
			existing.Name = area.Name
			existing.Active = area.Active
			toUpdate = append(toUpdate, existing)
		}
		status.Seen = append(status.Seen, area.Name)
	}

	if len(rowErrors) > 0 {
		return nil, rowErrorsToError(rowErrors)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(toCreate) > 0 {
			if err := tx.Create(&toCreate).Error; err != nil {
				return err
			}
		}
		for i := range toUpdate {
			if err := tx.Save(&toUpdate[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("catchment area import applied",
		zap.String("opportunity_id", opportunityID),
		zap.Int("created", len(toCreate)),
		zap.Int("updated", len(toUpdate)),
	)
	return status, nil
}

func (s *Service) loadAccessesByUsername(ctx context.Context, opportunityID string) (map[string]opportunity.OpportunityAccess, error) {
	var accesses []opportunity.OpportunityAccess
	if err := s.db.WithContext(ctx).
		Where("opportunity_id = ? AND suspended = ?", opportunityID, false).
		Find(&accesses).Error; err != nil {
		return nil, err
	}
	if len(accesses) == 0 {
		return map[string]opportunity.OpportunityAccess{}, nil
	}

	userIDs := make([]string, 0, len(accesses))
	for _, access := range accesses {
		userIDs = append(userIDs, access.UserID)
	}

	var workers []users.User
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&workers).Error; err != nil {
		return nil, err
	}

	usernameByUserID := make(map[string]string, len(workers))
	for _, w := range workers {
		usernameByUserID[w.ID] = w.Username
	}

	byUsername := make(map[string]opportunity.OpportunityAccess, len(accesses))
	for _, access := range accesses {
		if username := usernameByUserID[access.UserID]; username != "" {
			byUsername[username] = access
		}
	}
	return byUsername, nil
}

func parseCatchmentRow(row []string, cols map[string]int) (opportunity.CatchmentArea, error) {
	var area opportunity.CatchmentArea

	lat, err := strconv.ParseFloat(cell(row, cols[latitudeCol]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return area, fmt.Errorf("latitude must be a number between -90 and 90, got %q", cell(row, cols[latitudeCol]))
	}

	lon, err := strconv.ParseFloat(cell(row, cols[longitudeCol]), 64)
	if err != nil || lon < -180 || lon > 180 {
		return area, fmt.Errorf("longitude must be a number between -180 and 180, got %q", cell(row, cols[longitudeCol]))
	}

	radius, err := strconv.Atoi(cell(row, cols[radiusCol]))
	if err != nil || radius <= 0 {
		return area, fmt.Errorf("radius must be a positive integer, got %q", cell(row, cols[radiusCol]))
	}

	name := cell(row, cols[areaNameCol])
	if name == "" {
		return area, errors.New("name is required")
	}

	var active bool
	switch normalizeYesNo(cell(row, cols[activeCol])) {
	case "yes":
		active = true
	case "no":
		active = false
	default:
		return area, fmt.Errorf("active must be 'yes' or 'no', got %q", cell(row, cols[activeCol]))
	}

	area.Latitude = lat
	area.Longitude = lon
	area.Radius = radius
	area.Name = name
	area.Active = active
	return area, nil
}
