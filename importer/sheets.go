package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetSource reads the roster from a Google Sheet instead of an exported CSV.
type SheetSource struct {
	srv           *sheets.Service
	SpreadsheetID string
	Range         string
}

// CredentialsFromFile authenticates with the service-account key at path.
func CredentialsFromFile(ctx context.Context, path string) (option.ClientOption, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: credentials file %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("reading credentials %s: %w", path, err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials %s: %w", path, err)
	}
	return option.WithCredentials(creds), nil
}

func NewSheetSource(ctx context.Context, spreadsheetID, readRange string, opts ...option.ClientOption) (*SheetSource, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("%w: no spreadsheet id", ErrSourceNotFound)
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets client: %w", err)
	}
	return &SheetSource{srv: srv, SpreadsheetID: spreadsheetID, Range: readRange}, nil
}

// Load fetches Range, whose first row must be the header. The API drops
// trailing empty cells, so short rows are padded without a warning.
func (s *SheetSource) Load(ctx context.Context) ([]SourceRecord, []ParseWarning, error) {
	resp, err := s.srv.Spreadsheets.Values.
		Get(s.SpreadsheetID, s.Range).
		Context(ctx).
		Do()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sheet %s range %s: %v", ErrSourceParse, s.SpreadsheetID, s.Range, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil, fmt.Errorf("%w: sheet %s range %s is empty", ErrSourceParse, s.SpreadsheetID, s.Range)
	}

	headers := cellsToStrings(resp.Values[0])
	rows := make([]rawRow, 0, len(resp.Values)-1)
	for i, r := range resp.Values[1:] {
		rows = append(rows, rawRow{line: i + 2, cells: cellsToStrings(r)})
	}
	records, warnings := recordsFromRows(headers, rows, false)
	return records, warnings, nil
}

func cellsToStrings(cells []interface{}) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = fmt.Sprint(c)
	}
	return out
}
