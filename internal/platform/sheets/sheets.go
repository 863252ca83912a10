// Package sheets is a narrow adapter over the Sheets v4 values API. Cells are
// exchanged as strings; the portal never writes formulas.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// ErrRangeNotFound is returned when a range refers to a tab that does not
// exist.
var ErrRangeNotFound = errors.New("range not found")

// Client is the subset of the Sheets API the portal uses.
type Client interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]string) error
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]string) error
	Tabs(ctx context.Context, spreadsheetID string) ([]string, error)
	AddTab(ctx context.Context, spreadsheetID, title string) error
}

// GoogleClient implements Client with the Sheets v4 API.
type GoogleClient struct {
	svc *sheetsapi.Service
}

// NewGoogleClient wraps an authenticated Sheets service.
func NewGoogleClient(svc *sheetsapi.Service) *GoogleClient {
	return &GoogleClient{svc: svc}
}

func (c *GoogleClient) Get(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err, rng)
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		row := make([]string, len(r))
		for j, v := range r {
			row[j] = fmt.Sprint(v)
		}
		rows[i] = row
	}
	return rows, nil
}

func (c *GoogleClient) Update(ctx context.Context, spreadsheetID, rng string, rows [][]string) error {
	_, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, rng, toValueRange(rows)).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return classify(err, rng)
	}
	return nil
}

func (c *GoogleClient) Append(ctx context.Context, spreadsheetID, rng string, rows [][]string) error {
	_, err := c.svc.Spreadsheets.Values.Append(spreadsheetID, rng, toValueRange(rows)).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return classify(err, rng)
	}
	return nil
}

func (c *GoogleClient) Tabs(ctx context.Context, spreadsheetID string) ([]string, error) {
	ss, err := c.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet %s: %w", spreadsheetID, err)
	}
	var titles []string
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

func (c *GoogleClient) AddTab(ctx context.Context, spreadsheetID, title string) error {
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: title},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add tab %q: %w", title, err)
	}
	return nil
}

func toValueRange(rows [][]string) *sheetsapi.ValueRange {
	values := make([][]interface{}, len(rows))
	for i, r := range rows {
		row := make([]interface{}, len(r))
		for j, v := range r {
			row[j] = v
		}
		values[i] = row
	}
	return &sheetsapi.ValueRange{Values: values}
}

func classify(err error, rng string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		if apiErr.Code == http.StatusNotFound ||
			(apiErr.Code == http.StatusBadRequest && strings.Contains(msg, "unable to parse range")) {
			return fmt.Errorf("%w: %s: %v", ErrRangeNotFound, rng, err)
		}
	}
	return fmt.Errorf("sheets %s: %w", rng, err)
}

// EnsureTab creates tab if it is missing and writes header into its first
// row if that row is empty.
func EnsureTab(ctx context.Context, c Client, spreadsheetID, tab string, header []string) error {
	tabs, err := c.Tabs(ctx, spreadsheetID)
	if err != nil {
		return err
	}
	exists := false
	for _, t := range tabs {
		if t == tab {
			exists = true
			break
		}
	}
	if !exists {
		if err := c.AddTab(ctx, spreadsheetID, tab); err != nil {
			return err
		}
	}

	headerRange := HeaderRange(tab, len(header))
	rows, err := c.Get(ctx, spreadsheetID, headerRange)
	if err != nil {
		return err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return c.Update(ctx, spreadsheetID, headerRange, [][]string{header})
	}
	return nil
}

// HeaderRange returns the A1 range of the first row spanning width columns.
func HeaderRange(tab string, width int) string {
	return RowRange(tab, 1, width)
}

// RowRange returns the A1 range of a single row spanning width columns.
func RowRange(tab string, row, width int) string {
	return fmt.Sprintf("%s!A%d:%s%d", QuoteTab(tab), row, ColumnName(width), row)
}

// ColumnsRange returns the A1 range of whole columns A..width.
func ColumnsRange(tab string, width int) string {
	return fmt.Sprintf("%s!A:%s", QuoteTab(tab), ColumnName(width))
}

// BlockRange returns the A1 range of the first rows rows spanning width
// columns.
func BlockRange(tab string, width, rows int) string {
	return fmt.Sprintf("%s!A1:%s%d", QuoteTab(tab), ColumnName(width), rows)
}

// QuoteTab quotes a tab name for use in A1 notation when it contains
// anything but letters, digits and underscores.
func QuoteTab(tab string) string {
	plain := true
	for _, r := range tab {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			plain = false
			break
		}
	}
	if plain && tab != "" {
		return tab
	}
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// ColumnName converts a 1-based column index to its letter name.
func ColumnName(n int) string {
	if n < 1 {
		n = 1
	}
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}
