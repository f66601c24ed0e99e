package opportunity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVisitValidationStatus(t *testing.T) {
	cases := map[string]VisitValidationStatus{
		"approved":    VisitApproved,
		"Approved":    VisitApproved,
		"  REJECTED ": VisitRejected,
		"over limit":  VisitOverLimit,
		"Over Limit":  VisitOverLimit,
		"over_limit":  VisitOverLimit,
		"pending":     VisitPending,
		"duplicate":   VisitDuplicate,
		"trial":       VisitTrial,
		"extra":       VisitExtra,
	}
	for raw, want := range cases {
		got, err := ParseVisitValidationStatus(raw)
		require.NoError(t, err, "raw %q", raw)
		require.Equal(t, want, got, "raw %q", raw)
	}

	_, err := ParseVisitValidationStatus("confirmed")
	require.Error(t, err)
	_, err = ParseVisitValidationStatus("")
	require.Error(t, err)
}

func TestParseCompletedWorkStatus(t *testing.T) {
	cases := map[string]CompletedWorkStatus{
		"approved":   WorkApproved,
		"Rejected":   WorkRejected,
		"over limit": WorkOverLimit,
		"PENDING":    WorkPending,
	}
	for raw, want := range cases {
		got, err := ParseCompletedWorkStatus(raw)
		require.NoError(t, err, "raw %q", raw)
		require.Equal(t, want, got, "raw %q", raw)
	}

	_, err := ParseCompletedWorkStatus("paid")
	require.Error(t, err)
}
