// Package accesslog appends patient access events to the log tab of a
// lab's own spreadsheet.
package accesslog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/labportal/portal/internal/platform/metrics"
	"github.com/labportal/portal/internal/platform/sheets"
)

const (
	DefaultTab    = "Patient Lab Log"
	DefaultAction = "VIEW"
)

// Header is the log tab's first row.
var Header = []string{"DateTime", "PatientID", "FileName", "FileId", "Action", "UserAgent"}

// Entry is one access event.
type Entry struct {
	Timestamp time.Time
	PatientID string
	FileName  string
	FileID    string
	Action    string
	UserAgent string
}

// Row renders e in Header order. Timestamps are RFC 3339 UTC with
// milliseconds.
func (e Entry) Row() []string {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		action = DefaultAction
	}
	return []string{
		e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		e.PatientID,
		e.FileName,
		e.FileID,
		action,
		e.UserAgent,
	}
}

type Writer struct {
	client  sheets.Client
	tab     string
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewWriter returns a Writer appending to tab; an empty tab uses
// DefaultTab.
func NewWriter(client sheets.Client, tab string, logger zerolog.Logger, m *metrics.Metrics) *Writer {
	tab = strings.TrimSpace(tab)
	if tab == "" {
		tab = DefaultTab
	}
	return &Writer{client: client, tab: tab, now: time.Now, logger: logger, metrics: m}
}

// Tab returns the log tab name.
func (w *Writer) Tab() string {
	return w.tab
}

// Append writes e as one row of spreadsheetID. If the log tab does not
// exist yet it is created with its header row and the append is retried
// once.
func (w *Writer) Append(ctx context.Context, spreadsheetID string, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = w.now()
	}
	rng := sheets.ColumnsRange(w.tab, len(Header))
	values := [][]string{e.Row()}

	err := w.client.Append(ctx, spreadsheetID, rng, values)
	if errors.Is(err, sheets.ErrRangeNotFound) {
		w.logger.Info().Str("spreadsheet", spreadsheetID).Str("tab", w.tab).Msg("creating access log tab")
		if err := sheets.EnsureTab(ctx, w.client, spreadsheetID, w.tab, Header); err != nil {
			w.metrics.AccessLogWrite("error")
			return fmt.Errorf("create access log tab: %w", err)
		}
		err = w.client.Append(ctx, spreadsheetID, rng, values)
	}
	if err != nil {
		w.metrics.AccessLogWrite("error")
		return fmt.Errorf("append access log: %w", err)
	}
	w.metrics.AccessLogWrite("ok")
	return nil
}
