// Package export writes leads out as CSV or XLSX spreadsheets.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/metrics"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// SheetName is the worksheet written by WriteXLSX
const SheetName = "Leads"

// ErrNoLeads is returned when there is nothing to export
var ErrNoLeads = eris.New("no leads to export")

var (
	csvPriority = []string{
		lead.KeyID, lead.KeyName, lead.KeyTitle, lead.KeyCompany,
		lead.KeyLocation, lead.KeyEmail, lead.KeyEmails, lead.KeySourceURL,
	}
	xlsxPriority = []string{
		lead.KeyName, lead.KeyTitle, lead.KeyCompany, lead.KeyLocation,
		lead.KeyEmail, lead.KeyEmailValid, lead.KeyEmailScore, lead.KeySourceURL,
	}
)

// ParseFormat maps a user supplied name to a Format. "sheets" is accepted
// for XLSX.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv":
		return FormatCSV, nil
	case "xlsx", "sheets", "excel":
		return FormatXLSX, nil
	}
	return "", eris.Errorf("unknown export format %q", name)
}

// ContentType returns the MIME type of f
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Columns returns the header for leads: the priority keys present in any
// lead, in priority order, then every other key sorted by name.
func Columns(leads []lead.Lead, priority []string) []string {
	seen := make(map[string]bool)
	for _, l := range leads {
		for _, f := range l.Record() {
			seen[f.Key] = true
		}
	}

	cols := make([]string, 0, len(seen))
	first := make(map[string]bool, len(priority))
	for _, k := range priority {
		first[k] = true
		if seen[k] {
			cols = append(cols, k)
		}
	}

	var rest []string
	for k := range seen {
		if !first[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

// WriteCSV writes leads as CSV with a header row
func WriteCSV(w io.Writer, leads []lead.Lead) error {
	if len(leads) == 0 {
		return ErrNoLeads
	}

	cols := Columns(leads, csvPriority)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return eris.Wrap(err, "csv: write header")
	}

	row := make([]string, len(cols))
	for _, l := range leads {
		values := valueMap(l)
		for i, c := range cols {
			row[i] = Text(values[c])
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "csv: write lead %d", l.ID)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "csv: flush")
	}
	metrics.RecordExport(string(FormatCSV))
	return nil
}

// WriteXLSX writes leads as a single sheet workbook
func WriteXLSX(w io.Writer, leads []lead.Lead) error {
	if len(leads) == 0 {
		return ErrNoLeads
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	cols := Columns(leads, xlsxPriority)
	header := sheet.AddRow()
	for _, c := range cols {
		cell := header.AddCell()
		cell.SetString(c)
		cell.GetStyle().Font.Bold = true
	}

	for _, l := range leads {
		values := valueMap(l)
		row := sheet.AddRow()
		for _, c := range cols {
			setCell(row.AddCell(), values[c])
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	metrics.RecordExport(string(FormatXLSX))
	return nil
}

// Write dispatches on format
func Write(w io.Writer, format Format, leads []lead.Lead) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, leads)
	case FormatXLSX:
		return WriteXLSX(w, leads)
	}
	return eris.Errorf("unknown export format %q", format)
}

// WriteFile writes leads to path. The file is replaced only once the
// export has been fully written.
func WriteFile(path string, format Format, leads []lead.Lead) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, format, leads); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "rename to %s", path)
	}
	return nil
}

func valueMap(l lead.Lead) map[string]interface{} {
	rec := l.Record()
	m := make(map[string]interface{}, len(rec))
	for _, f := range rec {
		m[f.Key] = f.Value
	}
	return m
}

// Text renders a lead value as a single cell. Lists of strings are joined
// with ", "; structured values are written as JSON.
func Text(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.RawMessage:
		return rawText(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func rawText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, ", ")
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func setCell(cell *xlsx.Cell, v interface{}) {
	switch v := v.(type) {
	case int:
		cell.SetInt(v)
	case float64:
		cell.SetFloat(v)
	case bool:
		cell.SetBool(v)
	default:
		cell.SetString(Text(v))
	}
}
