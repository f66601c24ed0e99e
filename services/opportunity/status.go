package opportunity

import (
	"fmt"
	"strings"
)

// VisitValidationStatus is the validation state of a single UserVisit.
type VisitValidationStatus string

const (
	VisitPending   VisitValidationStatus = "pending"
	VisitApproved  VisitValidationStatus = "approved"
	VisitRejected  VisitValidationStatus = "rejected"
	VisitOverLimit VisitValidationStatus = "over_limit"
	VisitDuplicate VisitValidationStatus = "duplicate"
	VisitTrial     VisitValidationStatus = "trial"
	VisitExtra     VisitValidationStatus = "extra"
)

var visitValidationStatuses = []VisitValidationStatus{
	VisitPending, VisitApproved, VisitRejected, VisitOverLimit,
	VisitDuplicate, VisitTrial, VisitExtra,
}

func (s VisitValidationStatus) String() string { return string(s) }

// CompletedWorkStatus is the payment state of a CompletedWork aggregate.
type CompletedWorkStatus string

const (
	WorkPending   CompletedWorkStatus = "pending"
	WorkApproved  CompletedWorkStatus = "approved"
	WorkRejected  CompletedWorkStatus = "rejected"
	WorkOverLimit CompletedWorkStatus = "over_limit"
)

var completedWorkStatuses = []CompletedWorkStatus{
	WorkPending, WorkApproved, WorkRejected, WorkOverLimit,
}

func (s CompletedWorkStatus) String() string { return string(s) }

// normalizeStatusToken lowercases, trims and converts spaces to underscores so
// spreadsheet values like " Over Limit " map onto the closed enums.
func normalizeStatusToken(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(raw)), " ", "_")
}

// ParseVisitValidationStatus maps a raw spreadsheet token to a
// VisitValidationStatus. Unknown tokens are rejected.
func ParseVisitValidationStatus(raw string) (VisitValidationStatus, error) {
	token := VisitValidationStatus(normalizeStatusToken(raw))
	for _, s := range visitValidationStatuses {
		if token == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("status must be one of %v", visitValidationStatuses)
}

// ParseCompletedWorkStatus maps a raw spreadsheet token to a
// CompletedWorkStatus. Unknown tokens are rejected.
func ParseCompletedWorkStatus(raw string) (CompletedWorkStatus, error) {
	token := CompletedWorkStatus(normalizeStatusToken(raw))
	for _, s := range completedWorkStatuses {
		if token == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("status must be one of %v", completedWorkStatuses)
}
