package imports

import (
	"fmt"
	"strings"

	"github.com/czue/commcare-connect/pkg/errutil"
)

// missingMessageWidth is the line width used when wrapping the list of
// missing records for display.
const missingMessageWidth = 115

// RowError reports a validation failure on a single spreadsheet row.
// Row numbers are 1-based and include the header row, matching what a
// user sees in their spreadsheet program.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportStatus summarizes the outcome of a bulk import: which records from
// the file were matched and updated, and which could not be found.
type ImportStatus struct {
	Seen    []string `json:"seen"`
	Missing []string `json:"missing"`
}

// SeenCount returns the number of records matched by the import.
func (s *ImportStatus) SeenCount() int {
	return len(s.Seen)
}

// MissingCount returns the number of records the file referenced but the
// import could not find.
func (s *ImportStatus) MissingCount() int {
	return len(s.Missing)
}

// MissingMessage renders the missing records as a display message, wrapped
// to a fixed width with "<br>" line breaks. The noun describes the record
// kind, e.g. "visits were not found".
func (s *ImportStatus) MissingMessage(noun string) string {
	if len(s.Missing) == 0 {
		return ""
	}
	joined := strings.Join(s.Missing, ", ")
	lines := wrapText(joined, missingMessageWidth)
	return fmt.Sprintf("<br>%d %s:<br>%s", len(s.Missing), noun, strings.Join(lines, "<br>"))
}

// wrapText greedily wraps text at word boundaries. Words longer than the
// width are kept whole on their own line.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	line := words[0]
	for _, word := range words[1:] {
		if len(line)+1+len(word) > width {
			lines = append(lines, line)
			line = word
			continue
		}
		line += " " + word
	}
	return append(lines, line)
}

// rowErrorsToError converts collected row errors into a single validation
// error carrying per-row details.
func rowErrorsToError(rows []RowError) error {
	details := make([]errutil.Detail, 0, len(rows))
	for _, r := range rows {
		details = append(details, errutil.Detail{
			Field:   fmt.Sprintf("row %d", r.Row),
			Message: r.Message,
		})
	}
	return errutil.ValidationFailed(
		fmt.Sprintf("%d row(s) have errors", len(rows)),
		errutil.WithDetails(details...),
	)
}
