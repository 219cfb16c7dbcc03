package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Roster column headers.
const (
	WorkerIDHdr        = "WorkerID"
	DisplayNameHdr     = "Display Name"
	EmailHdr           = "Email"
	PhoneHdr           = "Phone"
	RoleHdr            = "Role"
	HourlyRateHdr      = "Hourly Rate"
	PrimaryLanguageHdr = "Primary Language"
	W9StatusHdr        = "W9Status"
	AvailabilityHdr    = "Availability"
	AppAccessHdr       = "App Access"
)

// SourceRecord is one roster row keyed by header. Absent columns read as "".
type SourceRecord map[string]string

// Get returns the trimmed, NFC-normalized value of column, or "" when the row
// has no such column.
func (r SourceRecord) Get(column string) string {
	return norm.NFC.String(strings.TrimSpace(r[column]))
}

// ParseWarning is a non-fatal problem with one source row.
type ParseWarning struct {
	Row     int
	Message string
}

func (w ParseWarning) String() string {
	return fmt.Sprintf("row %d: %s", w.Row, w.Message)
}

// LoadSource reads the CSV roster at path.
func LoadSource(path string) ([]SourceRecord, []ParseWarning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, nil, fmt.Errorf("%w: reading %s: %v", ErrSourceParse, path, err)
	}
	records, warnings, err := ParseCSV(data)
	if err != nil {
		return nil, warnings, fmt.Errorf("%s: %w", path, err)
	}
	return records, warnings, nil
}

// ParseCSV parses roster bytes with a header row. Rows with too few cells are
// padded and rows with too many are truncated; both produce a warning. A row the
// CSV reader cannot parse is skipped with a warning.
func ParseCSV(data []byte) ([]SourceRecord, []ParseWarning, error) {
	decoded, _, err := decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSourceParse, err)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: empty file, no header row", ErrSourceParse)
		}
		return nil, nil, fmt.Errorf("%w: header row: %v", ErrSourceParse, err)
	}

	var (
		rows     []rawRow
		warnings []ParseWarning
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
			}
			warnings = append(warnings, ParseWarning{Row: line, Message: fmt.Sprintf("skipped: %v", err)})
			continue
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, rawRow{line: line, cells: row})
	}

	records, shapeWarnings := recordsFromRows(headers, rows, true)
	return records, append(warnings, shapeWarnings...), nil
}

// rawRow is a data row and the source line (or sheet row) it came from.
type rawRow struct {
	line  int
	cells []string
}

// recordsFromRows keys every row by headers. warnShort is false for sources that drop trailing empty cells
// as a matter of course.
func recordsFromRows(headers []string, rows []rawRow, warnShort bool) ([]SourceRecord, []ParseWarning) {
	hdrs := make([]string, len(headers))
	for i, h := range headers {
		hdrs[i] = norm.NFC.String(strings.TrimSpace(h))
	}

	records := make([]SourceRecord, 0, len(rows))
	var warnings []ParseWarning
	for _, r := range rows {
		row, rowNum := r.cells, r.line
		if len(row) < len(hdrs) && warnShort {
			warnings = append(warnings, ParseWarning{Row: rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d; padding with empty values", len(row), len(hdrs))})
		} else if len(row) > len(hdrs) {
			warnings = append(warnings, ParseWarning{Row: rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d; truncating extra columns", len(row), len(hdrs))})
		}

		rec := make(SourceRecord, len(hdrs))
		for j, h := range hdrs {
			if h == "" {
				continue
			}
			if j < len(row) {
				rec[h] = row[j]
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return records, warnings
}
