package imports

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/czue/commcare-connect/pkg/errutil"
)

func csvUpload(rows ...string) *Upload {
	return &Upload{
		Name:        "import.csv",
		ContentType: "text/csv",
		Reader:      strings.NewReader(strings.Join(rows, "\n")),
	}
}

func TestReadDataset_CSV(t *testing.T) {
	dataset, err := ReadDataset(csvUpload(
		"Visit ID,Status,Rejected Reason",
		"v1,approved,",
		"v2,rejected,blurry photo",
	))
	require.NoError(t, err)
	require.Equal(t, []string{"visit id", "status", "rejected reason"}, dataset.Headers)
	require.Len(t, dataset.Rows, 2)
	require.Equal(t, "blurry photo", dataset.Rows[1][2])
}

func TestReadDataset_FormatFromExtension(t *testing.T) {
	upload := &Upload{
		Name:   "import.CSV",
		Reader: strings.NewReader("visit id,status\nv1,approved"),
	}
	dataset, err := ReadDataset(upload)
	require.NoError(t, err)
	require.Len(t, dataset.Rows, 1)
}

func TestReadDataset_UnsupportedFormat(t *testing.T) {
	upload := &Upload{Name: "import.pdf", Reader: strings.NewReader("x")}
	_, err := ReadDataset(upload)

	var base errutil.BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, errutil.StatusUnsupportedMediaType, base.Code)
}

func TestRequiredColumns_CollectsAllMissing(t *testing.T) {
	dataset := &Dataset{Headers: []string{"visit id"}}

	_, err := dataset.requiredColumns(visitIDCol, statusCol, usernameCol)

	var base errutil.BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, errutil.StatusMissingColumn, base.Code)
	require.Len(t, base.Details, 2)
	require.Equal(t, statusCol, base.Details[0].Field)
	require.Equal(t, usernameCol, base.Details[1].Field)
}

func TestRequiredColumns_NoHeaders(t *testing.T) {
	dataset := &Dataset{}
	_, err := dataset.requiredColumns(visitIDCol)
	require.Error(t, err)
}

func TestCell_RaggedRows(t *testing.T) {
	row := []string{"v1", " approved "}
	require.Equal(t, "v1", cell(row, 0))
	require.Equal(t, "approved", cell(row, 1))
	require.Equal(t, "", cell(row, 2))
}

func TestWrapText(t *testing.T) {
	lines := wrapText("aaa bbb ccc ddd", 7)
	require.Equal(t, []string{"aaa bbb", "ccc ddd"}, lines)

	lines = wrapText("supercalifragilistic word", 5)
	require.Equal(t, []string{"supercalifragilistic", "word"}, lines)

	require.Nil(t, wrapText("   ", 10))
}

func TestMissingMessage(t *testing.T) {
	status := &ImportStatus{Missing: []string{"v1", "v2"}}
	msg := status.MissingMessage("visits were not found")
	require.Equal(t, "<br>2 visits were not found:<br>v1, v2", msg)

	require.Equal(t, "", (&ImportStatus{}).MissingMessage("visits were not found"))
}
