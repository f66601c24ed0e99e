package imports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/czue/commcare-connect/pkg/errutil"
)

// Spreadsheet column names, matched case-insensitively.
const (
	visitIDCol         = "visit id"
	statusCol          = "status"
	usernameCol        = "username"
	amountCol          = "payment amount"
	reasonCol          = "rejected reason"
	workIDCol          = "instance id"
	paymentApprovalCol = "payment approval"
	latitudeCol        = "latitude"
	longitudeCol       = "longitude"
	radiusCol          = "radius"
	areaNameCol        = "name"
	activeCol          = "active"
	catchmentIDCol     = "catchment id"
)

// Upload is an uploaded tabular file handed in by the web layer.
type Upload struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Dataset is a header-indexed row set parsed from an upload. Headers are
// lowercased; rows keep their original cell text.
type Dataset struct {
	Headers []string
	Rows    [][]string
}

// ReadDataset detects the upload format from the declared content type, then
// the filename extension, and parses it. Only CSV and XLSX are accepted.
func ReadDataset(upload *Upload) (*Dataset, error) {
	format := fileFormat(upload)
	switch format {
	case "csv":
		return readCSV(upload.Reader)
	case "xlsx":
		return readXLSX(upload.Reader)
	default:
		return nil, errutil.UnsupportedMediaType(fmt.Sprintf(
			"invalid file format, only 'CSV' and 'XLSX' are supported, got %q", format))
	}
}

func fileFormat(upload *Upload) string {
	switch upload.ContentType {
	case "text/csv":
		return "csv"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "xlsx"
	}
	parts := strings.Split(upload.Name, ".")
	return strings.ToLower(parts[len(parts)-1])
}

func readCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errutil.BadRequest("failed to parse CSV file", errutil.WithErr(err))
	}
	return newDataset(records), nil
}

func readXLSX(r io.Reader) (*Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errutil.BadRequest("failed to parse XLSX file", errutil.WithErr(err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errutil.BadRequest("the uploaded workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errutil.BadRequest("failed to read XLSX rows", errutil.WithErr(err))
	}
	return newDataset(rows), nil
}

func newDataset(records [][]string) *Dataset {
	d := &Dataset{}
	if len(records) == 0 {
		return d
	}
	for _, h := range records[0] {
		d.Headers = append(d.Headers, strings.ToLower(strings.TrimSpace(h)))
	}
	d.Rows = records[1:]
	return d
}

// columnIndex finds an optional column, reporting whether it exists.
func (d *Dataset) columnIndex(name string) (int, bool) {
	for i, h := range d.Headers {
		if h == name {
			return i, true
		}
	}
	return 0, false
}

// requiredColumns resolves the given columns, collecting every missing one
// rather than failing on the first.
func (d *Dataset) requiredColumns(names ...string) (map[string]int, error) {
	if len(d.Headers) == 0 {
		return nil, errutil.BadRequest("the uploaded file did not contain any headers")
	}

	indexes := make(map[string]int, len(names))
	var details []errutil.Detail
	for _, name := range names {
		idx, ok := d.columnIndex(name)
		if !ok {
			details = append(details, errutil.Detail{Field: name, Message: "required column is missing"})
			continue
		}
		indexes[name] = idx
	}

	if len(details) > 0 {
		var missing []string
		for _, det := range details {
			missing = append(missing, "'"+det.Field+"'")
		}
		return nil, errutil.MissingColumn(
			fmt.Sprintf("missing required column(s): %s", strings.Join(missing, ", ")),
			errutil.WithDetails(details...),
		)
	}
	return indexes, nil
}

// cell reads a cell by index, tolerating ragged rows.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func normalizeYesNo(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
