// Package registry reads and writes lab records in the registry
// spreadsheet, the source of truth for lab configuration.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/labportal/portal/internal/domain/lab"
	"github.com/labportal/portal/internal/platform/sheets"
)

// DefaultTab is the registry tab used when none is configured.
const DefaultTab = "Labs"

// maxRows bounds the registry scan.
const maxRows = 5000

// Header is the registry's fixed column layout.
var Header = []string{"LabKey", "DriveFolderId", "LogSheetId", "LogoFileId", "Title", "Subtitle"}

var ErrInvalidRecord = errors.New("labKey, driveFolderId, logSheetId are required")

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	Action string `json:"action"`
	Row    int    `json:"row,omitempty"`
}

// column describes how to find one field in a row: by header name first,
// then by fixed position.
type column struct {
	names []string
	index int
}

var (
	colLabKey   = column{names: []string{"labkey"}, index: 0}
	colFolder   = column{names: []string{"drivefolderid", "drivefolder"}, index: 1}
	colLogSheet = column{names: []string{"logsheetid", "logsheet"}, index: 2}
	colLogo     = column{names: []string{"logofileid", "logo"}, index: 3}
	colTitle    = column{names: []string{"title"}, index: 4}
	colSubtitle = column{names: []string{"subtitle"}, index: 5}
)

// SheetStore is the registry backed by one spreadsheet tab.
type SheetStore struct {
	client        sheets.Client
	spreadsheetID string
	tab           string
}

// NewSheetStore returns a registry over spreadsheetID/tab. An empty tab
// uses DefaultTab.
func NewSheetStore(client sheets.Client, spreadsheetID, tab string) *SheetStore {
	if strings.TrimSpace(tab) == "" {
		tab = DefaultTab
	}
	return &SheetStore{client: client, spreadsheetID: spreadsheetID, tab: tab}
}

// Get returns the first row whose key matches labKey ignoring case and
// whitespace.
func (s *SheetStore) Get(ctx context.Context, labKey string) (*lab.Record, error) {
	labKey = strings.TrimSpace(labKey)
	if labKey == "" {
		return nil, lab.ErrMissingLab
	}

	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}

	idx, rec := find(rows, labKey)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", lab.ErrLabNotRegistered, labKey)
	}
	if rec.DriveFolderID == "" || rec.LogSheetID == "" {
		return nil, lab.ErrLabConfigIncomplete
	}
	return rec, nil
}

// Upsert overwrites the row for rec.LabKey in place, or appends a new row
// when the key is not present. Concurrent upserts of the same key race; the
// last write wins.
func (s *SheetStore) Upsert(ctx context.Context, rec lab.Record) (*UpsertResult, error) {
	rec = rec.Trimmed()
	if rec.LabKey == "" || rec.DriveFolderID == "" || rec.LogSheetID == "" {
		return nil, ErrInvalidRecord
	}

	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}

	values := [][]string{{rec.LabKey, rec.DriveFolderID, rec.LogSheetID, rec.LogoFileID, rec.Title, rec.Subtitle}}

	if idx, _ := find(rows, rec.LabKey); idx >= 0 {
		row := idx + 1
		if err := s.client.Update(ctx, s.spreadsheetID, sheets.RowRange(s.tab, row, len(Header)), values); err != nil {
			return nil, fmt.Errorf("update registry row %d: %w", row, err)
		}
		return &UpsertResult{Action: "updated", Row: row}, nil
	}

	if err := s.client.Append(ctx, s.spreadsheetID, sheets.ColumnsRange(s.tab, len(Header)), values); err != nil {
		return nil, fmt.Errorf("append registry row: %w", err)
	}
	return &UpsertResult{Action: "inserted"}, nil
}

// readAll returns the registry block, creating the tab and header row when
// the tab is missing or completely empty.
func (s *SheetStore) readAll(ctx context.Context) ([][]string, error) {
	rng := sheets.BlockRange(s.tab, len(Header), maxRows)
	rows, err := s.client.Get(ctx, s.spreadsheetID, rng)
	if errors.Is(err, sheets.ErrRangeNotFound) {
		if err := sheets.EnsureTab(ctx, s.client, s.spreadsheetID, s.tab, Header); err != nil {
			return nil, fmt.Errorf("create registry tab: %w", err)
		}
		return [][]string{Header}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(rows) == 0 {
		if err := s.client.Update(ctx, s.spreadsheetID, sheets.HeaderRange(s.tab, len(Header)), [][]string{Header}); err != nil {
			return nil, fmt.Errorf("write registry header: %w", err)
		}
		return [][]string{Header}, nil
	}
	return rows, nil
}

// find returns the 0-based row index and record of the first data row
// matching labKey, or -1.
func find(rows [][]string, labKey string) (int, *lab.Record) {
	if len(rows) == 0 {
		return -1, nil
	}
	headers := headerIndex(rows[0])
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		key := pick(row, headers, colLabKey)
		if key == "" || !lab.KeysEqual(key, labKey) {
			continue
		}
		return i, &lab.Record{
			LabKey:        key,
			DriveFolderID: pick(row, headers, colFolder),
			LogSheetID:    pick(row, headers, colLogSheet),
			LogoFileID:    pick(row, headers, colLogo),
			Title:         pick(row, headers, colTitle),
			Subtitle:      pick(row, headers, colSubtitle),
		}
	}
	return -1, nil
}

func headerIndex(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		k := strings.ToLower(strings.TrimSpace(h))
		if k == "" {
			continue
		}
		m[k] = i
	}
	return m
}

// pick returns the first non-empty trimmed cell found by header name, then
// by the column's fixed position.
func pick(row []string, headers map[string]int, col column) string {
	for _, name := range col.names {
		if idx, ok := headers[name]; ok && idx < len(row) {
			if v := strings.TrimSpace(row[idx]); v != "" {
				return v
			}
		}
	}
	if col.index < len(row) {
		return strings.TrimSpace(row[col.index])
	}
	return ""
}
