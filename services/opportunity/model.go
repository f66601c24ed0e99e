package opportunity

import (
	"time"

	"gorm.io/datatypes"
)

// CommCareApp is a configured source application on CommCare HQ, identified by
// (cc_domain, cc_app_id). Learn apps additionally carry a passing score used to
// grade assessments.
type CommCareApp struct {
	ID             string    `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
	Domain         string    `gorm:"column:cc_domain;uniqueIndex:idx_app_domain_app"`
	AppID          string    `gorm:"column:cc_app_id;uniqueIndex:idx_app_domain_app"`
	Name           string    `gorm:"column:name"`
	Description    string    `gorm:"column:description"`
	OrganizationID string    `gorm:"column:organization_id"`
	PassingScore   int       `gorm:"column:passing_score"`
}

func (CommCareApp) TableName() string { return "commcare_apps" }

// Opportunity pairs a learn app and a deliver app with the limits that govern
// visit flagging and payment approval.
type Opportunity struct {
	ID                    string    `gorm:"column:id;primaryKey"`
	CreatedAt             time.Time `gorm:"column:created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at"`
	OrganizationID        string    `gorm:"column:organization_id"`
	Name                  string    `gorm:"column:name"`
	Description           string    `gorm:"column:description"`
	Active                bool      `gorm:"column:active"`
	LearnAppID            string    `gorm:"column:learn_app_id;index"`
	DeliverAppID          string    `gorm:"column:deliver_app_id;index"`
	MaxVisitsPerUser      int       `gorm:"column:max_visits_per_user"`
	DailyMaxVisitsPerUser int       `gorm:"column:daily_max_visits_per_user"`
	EndDate               time.Time `gorm:"column:end_date"`
	AutoApprovePayments   bool      `gorm:"column:auto_approve_payments"`
	TotalBudget           int64     `gorm:"column:total_budget"`
	BudgetPerVisit        int64     `gorm:"column:budget_per_visit"`
}

// PaymentUnit is the payable unit of work an opportunity pays out per approved
// visit aggregate.
type PaymentUnit struct {
	ID            string    `gorm:"column:id;primaryKey"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	OpportunityID string    `gorm:"column:opportunity_id;index"`
	Name          string    `gorm:"column:name"`
	Amount        int64     `gorm:"column:amount"`
}

// DeliverForm recognizes delivery submissions: at most one row may exist per
// (app, xmlns) pair; two matches for one submission is a configuration error.
type DeliverForm struct {
	ID            string    `gorm:"column:id;primaryKey"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	AppID         string    `gorm:"column:app_id;uniqueIndex:idx_deliver_form_app_xmlns"`
	XMLNS         string    `gorm:"column:xmlns;uniqueIndex:idx_deliver_form_app_xmlns"`
	OpportunityID string    `gorm:"column:opportunity_id;index"`
	PaymentUnitID string    `gorm:"column:payment_unit_id"`
	Name          string    `gorm:"column:name"`
}

// LearnModule is a learning unit keyed by slug within an app. Rows are created
// lazily on first sighting; later submissions never overwrite the metadata.
type LearnModule struct {
	ID           string    `gorm:"column:id;primaryKey"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	AppID        string    `gorm:"column:app_id;uniqueIndex:idx_learn_module_app_slug"`
	Slug         string    `gorm:"column:slug;uniqueIndex:idx_learn_module_app_slug"`
	Name         string    `gorm:"column:name"`
	Description  string    `gorm:"column:description"`
	TimeEstimate int       `gorm:"column:time_estimate"`
}

// CompletedModule records one worker completing one learn module within one
// opportunity. The xform id makes the row idempotent: a second submission with
// the same id is a processing error, never an upsert.
type CompletedModule struct {
	ID              string    `gorm:"column:id;primaryKey"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UserID          string    `gorm:"column:user_id;uniqueIndex:idx_completed_module_key"`
	ModuleID        string    `gorm:"column:module_id;uniqueIndex:idx_completed_module_key"`
	OpportunityID   string    `gorm:"column:opportunity_id;uniqueIndex:idx_completed_module_key"`
	XFormID         string    `gorm:"column:xform_id;uniqueIndex:idx_completed_module_key"`
	Date            time.Time `gorm:"column:date"`
	Duration        int64     `gorm:"column:duration"`
	AppBuildID      string    `gorm:"column:app_build_id"`
	AppBuildVersion string    `gorm:"column:app_build_version"`
}

// Assessment records one scored quiz attempt. The passing score is snapshotted
// from the app at processing time.
type Assessment struct {
	ID              string    `gorm:"column:id;primaryKey"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UserID          string    `gorm:"column:user_id;uniqueIndex:idx_assessment_key"`
	AppID           string    `gorm:"column:app_id;uniqueIndex:idx_assessment_key"`
	OpportunityID   string    `gorm:"column:opportunity_id;uniqueIndex:idx_assessment_key"`
	XFormID         string    `gorm:"column:xform_id;uniqueIndex:idx_assessment_key"`
	Date            time.Time `gorm:"column:date"`
	Score           int       `gorm:"column:score"`
	PassingScore    int       `gorm:"column:passing_score"`
	Passed          bool      `gorm:"column:passed"`
	AppBuildID      string    `gorm:"column:app_build_id"`
	AppBuildVersion string    `gorm:"column:app_build_version"`
}

// UserVisit is one delivery submission converted into a billable visit.
type UserVisit struct {
	ID              string                `gorm:"column:id;primaryKey"`
	CreatedAt       time.Time             `gorm:"column:created_at"`
	UpdatedAt       time.Time             `gorm:"column:updated_at"`
	OpportunityID   string                `gorm:"column:opportunity_id;index"`
	UserID          string                `gorm:"column:user_id;uniqueIndex:idx_user_visit_xform"`
	XFormID         string                `gorm:"column:xform_id;uniqueIndex:idx_user_visit_xform"`
	DeliverFormID   string                `gorm:"column:deliver_form_id"`
	CompletedWorkID string                `gorm:"column:completed_work_id;index"`
	VisitDate       time.Time             `gorm:"column:visit_date"`
	EntityID        string                `gorm:"column:entity_id"`
	EntityName      string                `gorm:"column:entity_name"`
	Status          VisitValidationStatus `gorm:"column:status"`
	Reason          string                `gorm:"column:reason"`
	AppBuildID      string                `gorm:"column:app_build_id"`
	AppBuildVersion string                `gorm:"column:app_build_version"`
	FormJSON        datatypes.JSON        `gorm:"column:form_json"`
}

// CompletedWork aggregates visits toward one payable unit of work.
type CompletedWork struct {
	ID                  string              `gorm:"column:id;primaryKey"`
	CreatedAt           time.Time           `gorm:"column:created_at"`
	UpdatedAt           time.Time           `gorm:"column:updated_at"`
	OpportunityAccessID string              `gorm:"column:opportunity_access_id;index"`
	PaymentUnitID       string              `gorm:"column:payment_unit_id"`
	EntityID            string              `gorm:"column:entity_id"`
	EntityName          string              `gorm:"column:entity_name"`
	Status              CompletedWorkStatus `gorm:"column:status"`
	Reason              string              `gorm:"column:reason"`
}

// OpportunityAccess is the per-(worker, opportunity) state, including the
// accrued payment total the accrual engine recomputes.
type OpportunityAccess struct {
	ID             string    `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
	UserID         string    `gorm:"column:user_id;uniqueIndex:idx_access_user_opp"`
	OpportunityID  string    `gorm:"column:opportunity_id;uniqueIndex:idx_access_user_opp"`
	Accepted       bool      `gorm:"column:accepted"`
	Suspended      bool      `gorm:"column:suspended"`
	PaymentAccrued int64     `gorm:"column:payment_accrued"`
	InviteID       string    `gorm:"column:invite_id"`
}

func (OpportunityAccess) TableName() string { return "opportunity_accesses" }

// Payment is an append-only record of money credited to one access.
type Payment struct {
	ID                  string    `gorm:"column:id;primaryKey"`
	CreatedAt           time.Time `gorm:"column:created_at"`
	OpportunityAccessID string    `gorm:"column:opportunity_access_id;index"`
	Amount              int64     `gorm:"column:amount"`
}

// CatchmentArea is a named geofence, optionally bound to one access.
type CatchmentArea struct {
	ID                  string    `gorm:"column:id;primaryKey"`
	CreatedAt           time.Time `gorm:"column:created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
	OpportunityID       string    `gorm:"column:opportunity_id;index"`
	OpportunityAccessID string    `gorm:"column:opportunity_access_id"`
	Latitude            float64   `gorm:"column:latitude"`
	Longitude           float64   `gorm:"column:longitude"`
	Radius              int       `gorm:"column:radius"`
	Name                string    `gorm:"column:name"`
	Active              bool      `gorm:"column:active"`
}
