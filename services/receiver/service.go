package receiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/czue/commcare-connect/pkg/errutil"
	"github.com/czue/commcare-connect/services/opportunity"
	"github.com/czue/commcare-connect/services/users"
)

// Service ingests form submissions from CommCare HQ: it classifies each one as
// a deliver or learn form and records visits, module completions and
// assessments. A whole submission is processed inside one transaction so a
// failure leaves no partial writes.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node}
}

// ProcessSubmission classifies and records one submission.
func (s *Service) ProcessSubmission(ctx context.Context, xform *XForm) error {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("xform_id", xform.ID),
		zap.String("domain", xform.Domain),
		zap.String("app_id", xform.AppID),
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		app, err := getApp(tx, xform.Domain, xform.AppID)
		if err != nil {
			return err
		}

		user, err := getUser(tx, xform)
		if err != nil {
			return err
		}

		handled, err := s.processDeliverForm(tx, user, xform)
		if err != nil {
			return err
		}
		if handled {
			zapLog.Info("deliver form recorded")
			return nil
		}

		opp, err := getOpportunityForLearnApp(tx, app)
		if err != nil {
			return err
		}

		return s.processLearnForm(tx, user, xform, app, opp)
	})
	if err != nil {
		zapLog.Warn("submission processing failed", zap.Error(err))
		return err
	}

	return nil
}

func getApp(tx *gorm.DB, domain, appID string) (*opportunity.CommCareApp, error) {
	var app opportunity.CommCareApp
	err := tx.Where("cc_domain = ? AND cc_app_id = ?", domain, appID).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound(fmt.Sprintf("CommCare app %s not found", appID))
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func getUser(tx *gorm.DB, xform *XForm) (*users.User, error) {
	username := xform.CommCareUsername()

	var user users.User
	err := tx.
		Joins("JOIN connect_id_user_links ON connect_id_user_links.user_id = users.id").
		Where("connect_id_user_links.commcare_username = ?", username).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound(fmt.Sprintf("CommCare user %s not found", username))
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func getOpportunityForLearnApp(tx *gorm.DB, app *opportunity.CommCareApp) (*opportunity.Opportunity, error) {
	var opps []opportunity.Opportunity
	if err := tx.
		Where("learn_app_id = ? AND active = ?", app.ID, true).
		Limit(2).
		Find(&opps).Error; err != nil {
		return nil, err
	}

	switch len(opps) {
	case 0:
		return nil, errutil.NotFound(fmt.Sprintf("no active opportunities found for CommCare app %s", app.AppID))
	case 1:
		return &opps[0], nil
	default:
		return nil, errutil.Conflict(fmt.Sprintf("multiple active opportunities found for CommCare app %s", app.AppID))
	}
}

// processDeliverForm routes the submission to the visit recorder when its
// namespace matches a configured deliver form. A submission is never both a
// deliver and a learn form.
func (s *Service) processDeliverForm(tx *gorm.DB, user *users.User, xform *XForm) (bool, error) {
	var forms []opportunity.DeliverForm
	if err := tx.
		Joins("JOIN commcare_apps ON commcare_apps.id = deliver_forms.app_id").
		Where("deliver_forms.xmlns = ? AND commcare_apps.cc_domain = ? AND commcare_apps.cc_app_id = ?",
			xform.XMLNS, xform.Domain, xform.AppID).
		Find(&forms).Error; err != nil {
		return false, err
	}

	switch len(forms) {
	case 0:
		return false, nil
	case 1:
		return true, s.createUserVisit(tx, user, xform, &forms[0])
	default:
		return false, errutil.Conflict(fmt.Sprintf(
			"multiple deliver forms found for this app and XMLNS: %s, %s", xform.AppID, xform.XMLNS))
	}
}

// createUserVisit records exactly one visit for the submission. Limit and
// end-date policies never reject a visit: they flag it "extra" instead, using
// counts that include the visit being written and the processing-time date.
func (s *Service) createUserVisit(tx *gorm.DB, user *users.User, xform *XForm, form *opportunity.DeliverForm) error {
	var existing int64
	if err := tx.Model(&opportunity.UserVisit{}).
		Where("user_id = ? AND xform_id = ?", user.ID, xform.ID).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return errutil.AlreadyProcessed("visit already recorded for this submission")
	}

	var opp opportunity.Opportunity
	if err := tx.First(&opp, "id = ?", form.OpportunityID).Error; err != nil {
		return err
	}

	status, err := visitStatus(tx, user, &opp, time.Now())
	if err != nil {
		return err
	}

	entityID, entityName := deliverEntity(xform)

	completedWorkID, err := s.resolveCompletedWork(tx, user, &opp, form, entityID, entityName)
	if err != nil {
		return err
	}

	visit := opportunity.UserVisit{
		ID:              s.node.Generate().String(),
		OpportunityID:   opp.ID,
		UserID:          user.ID,
		XFormID:         xform.ID,
		DeliverFormID:   form.ID,
		CompletedWorkID: completedWorkID,
		VisitDate:       xform.Metadata.TimeStart,
		EntityID:        entityID,
		EntityName:      entityName,
		Status:          status,
		AppBuildID:      xform.BuildID,
		AppBuildVersion: xform.Metadata.AppBuildVersion,
		FormJSON:        datatypes.JSON(xform.RawForm),
	}

	return tx.Create(&visit).Error
}

// visitStatus computes the initial validation status at write time. The counts
// include the visit being written; the end date is compared against "today"
// when the submission is processed, not the visit's declared timestamp.
func visitStatus(tx *gorm.DB, user *users.User, opp *opportunity.Opportunity, now time.Time) (opportunity.VisitValidationStatus, error) {
	var total int64
	if err := tx.Model(&opportunity.UserVisit{}).
		Where("user_id = ? AND opportunity_id = ?", user.ID, opp.ID).
		Count(&total).Error; err != nil {
		return "", err
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var daily int64
	if err := tx.Model(&opportunity.UserVisit{}).
		Where("user_id = ? AND opportunity_id = ? AND visit_date >= ? AND visit_date < ?",
			user.ID, opp.ID, dayStart, dayEnd).
		Count(&daily).Error; err != nil {
		return "", err
	}

	endOfProgram := time.Date(opp.EndDate.Year(), opp.EndDate.Month(), opp.EndDate.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case int(total)+1 > opp.MaxVisitsPerUser:
		return opportunity.VisitExtra, nil
	case int(daily)+1 > opp.DailyMaxVisitsPerUser:
		return opportunity.VisitExtra, nil
	case dayStart.After(endOfProgram):
		return opportunity.VisitExtra, nil
	default:
		return opportunity.VisitPending, nil
	}
}

// resolveCompletedWork links the visit into its payable aggregate, creating
// one if the worker has an access for the opportunity. Visits from workers
// without an access are still recorded, just not yet payable.
func (s *Service) resolveCompletedWork(tx *gorm.DB, user *users.User, opp *opportunity.Opportunity, form *opportunity.DeliverForm, entityID, entityName string) (string, error) {
	var access opportunity.OpportunityAccess
	err := tx.Where("user_id = ? AND opportunity_id = ?", user.ID, opp.ID).First(&access).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var work opportunity.CompletedWork
	err = tx.Where("opportunity_access_id = ? AND payment_unit_id = ? AND entity_id = ?",
		access.ID, form.PaymentUnitID, entityID).First(&work).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		work = opportunity.CompletedWork{
			ID:                  s.node.Generate().String(),
			OpportunityAccessID: access.ID,
			PaymentUnitID:       form.PaymentUnitID,
			EntityID:            entityID,
			EntityName:          entityName,
			Status:              opportunity.WorkPending,
		}
		if err := tx.Create(&work).Error; err != nil {
			return "", err
		}
		return work.ID, nil
	}
	if err != nil {
		return "", err
	}
	return work.ID, nil
}

// deliverEntity pulls the entity reference out of the embedded deliver block
// when one is present. Absence is fine.
func deliverEntity(xform *XForm) (string, string) {
	blocks, err := findLearnBlocks(xform.Form, "deliver", DeliverXMLNS)
	if err != nil || len(blocks) == 0 {
		return "", ""
	}
	return blockString(blocks[0], "entity_id"), blockString(blocks[0], "entity_name")
}

// processLearnForm extracts embedded learn blocks anywhere in the form body
// and dispatches modules and assessments independently. No blocks is a no-op.
func (s *Service) processLearnForm(tx *gorm.DB, user *users.User, xform *XForm, app *opportunity.CommCareApp, opp *opportunity.Opportunity) error {
	modules, err := findLearnBlocks(xform.Form, "module", LearnXMLNS)
	if err != nil {
		return err
	}
	assessments, err := findLearnBlocks(xform.Form, "assessment", LearnXMLNS)
	if err != nil {
		return err
	}

	if len(modules) > 0 {
		if err := s.processLearnModules(tx, user, xform, app, opp, modules); err != nil {
			return err
		}
	}
	if len(assessments) > 0 {
		if err := s.processAssessments(tx, user, xform, app, opp, assessments); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) processLearnModules(tx *gorm.DB, user *users.User, xform *XForm, app *opportunity.CommCareApp, opp *opportunity.Opportunity, blocks []map[string]any) error {
	for _, block := range blocks {
		module, err := s.getOrCreateLearnModule(tx, app, block)
		if err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&opportunity.CompletedModule{}).
			Where("user_id = ? AND module_id = ? AND opportunity_id = ? AND xform_id = ?",
				user.ID, module.ID, opp.ID, xform.ID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errutil.AlreadyProcessed("learn module is already completed")
		}

		completed := opportunity.CompletedModule{
			ID:              s.node.Generate().String(),
			UserID:          user.ID,
			ModuleID:        module.ID,
			OpportunityID:   opp.ID,
			XFormID:         xform.ID,
			Date:            xform.ReceivedOn,
			Duration:        xform.Metadata.Duration,
			AppBuildID:      xform.BuildID,
			AppBuildVersion: xform.Metadata.AppBuildVersion,
		}
		if err := tx.Create(&completed).Error; err != nil {
			return err
		}
	}

	return nil
}

// getOrCreateLearnModule resolves the module by slug, creating it on first
// sighting. First-seen name, description and time estimate win.
func (s *Service) getOrCreateLearnModule(tx *gorm.DB, app *opportunity.CommCareApp, block map[string]any) (*opportunity.LearnModule, error) {
	slug := blockString(block, "@id")
	if slug == "" {
		return nil, errutil.MalformedInput("learn module block is missing its @id")
	}

	var module opportunity.LearnModule
	err := tx.Where("app_id = ? AND slug = ?", app.ID, slug).First(&module).Error
	if err == nil {
		return &module, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	timeEstimate, err := blockInt(block, "time_estimate")
	if err != nil {
		timeEstimate = 0
	}

	module = opportunity.LearnModule{
		ID:           s.node.Generate().String(),
		AppID:        app.ID,
		Slug:         slug,
		Name:         blockString(block, "name"),
		Description:  blockString(block, "description"),
		TimeEstimate: timeEstimate,
	}
	if err := tx.Create(&module).Error; err != nil {
		return nil, err
	}
	return &module, nil
}

// processAssessments grades each assessment block against the app's current
// passing score. Duplicates raise the same way the module path does.
func (s *Service) processAssessments(tx *gorm.DB, user *users.User, xform *XForm, app *opportunity.CommCareApp, opp *opportunity.Opportunity, blocks []map[string]any) error {
	for _, block := range blocks {
		score, err := blockInt(block, "user_score")
		if err != nil {
			return errutil.MalformedInput("user score must be an integer")
		}

		var existing int64
		if err := tx.Model(&opportunity.Assessment{}).
			Where("user_id = ? AND app_id = ? AND opportunity_id = ? AND xform_id = ?",
				user.ID, app.ID, opp.ID, xform.ID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errutil.AlreadyProcessed("assessment is already completed")
		}

		passingScore := app.PassingScore
		assessment := opportunity.Assessment{
			ID:              s.node.Generate().String(),
			UserID:          user.ID,
			AppID:           app.ID,
			OpportunityID:   opp.ID,
			XFormID:         xform.ID,
			Date:            xform.ReceivedOn,
			Score:           score,
			PassingScore:    passingScore,
			Passed:          score >= passingScore,
			AppBuildID:      xform.BuildID,
			AppBuildVersion: xform.Metadata.AppBuildVersion,
		}
		if err := tx.Create(&assessment).Error; err != nil {
			return err
		}
	}

	return nil
}
