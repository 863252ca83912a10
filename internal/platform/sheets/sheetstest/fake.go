// Package sheetstest provides an in-memory sheets.Client for tests.
package sheetstest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/labportal/portal/internal/platform/sheets"
)

// Fake is an in-memory spreadsheet store keyed by spreadsheet id and tab.
type Fake struct {
	mu   sync.Mutex
	docs map[string]map[string][][]string

	Gets    int
	Updates int
	Appends int

	// GetErr, when set, is returned by every Get.
	GetErr error
	// AppendErr, when set, is returned by the next Append and then cleared.
	AppendErr error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{docs: make(map[string]map[string][][]string)}
}

// SetRows replaces the content of a tab, creating it if needed.
func (f *Fake) SetRows(spreadsheetID, tab string, rows [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc(spreadsheetID)[tab] = cloneRows(rows)
}

// Rows returns a copy of a tab's content and whether the tab exists.
func (f *Fake) Rows(spreadsheetID, tab string) ([][]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, ok := f.doc(spreadsheetID)[tab]
	return cloneRows(rows), ok
}

func (f *Fake) Get(_ context.Context, spreadsheetID, rng string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gets++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	tab, start, end, err := parseRange(rng)
	if err != nil {
		return nil, err
	}
	rows, ok := f.doc(spreadsheetID)[tab]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sheets.ErrRangeNotFound, rng)
	}
	if start < 1 {
		start = 1
	}
	if end <= 0 || end > len(rows) {
		end = len(rows)
	}
	if start > end {
		return nil, nil
	}
	return cloneRows(rows[start-1 : end]), nil
}

func (f *Fake) Update(_ context.Context, spreadsheetID, rng string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates++
	tab, start, _, err := parseRange(rng)
	if err != nil {
		return err
	}
	doc := f.doc(spreadsheetID)
	existing, ok := doc[tab]
	if !ok {
		return fmt.Errorf("%w: %s", sheets.ErrRangeNotFound, rng)
	}
	if start < 1 {
		start = 1
	}
	for len(existing) < start-1+len(rows) {
		existing = append(existing, nil)
	}
	for i, r := range rows {
		existing[start-1+i] = append([]string(nil), r...)
	}
	doc[tab] = existing
	return nil
}

func (f *Fake) Append(_ context.Context, spreadsheetID, rng string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Appends++
	if f.AppendErr != nil {
		err := f.AppendErr
		f.AppendErr = nil
		return err
	}
	tab, _, _, err := parseRange(rng)
	if err != nil {
		return err
	}
	doc := f.doc(spreadsheetID)
	existing, ok := doc[tab]
	if !ok {
		return fmt.Errorf("%w: %s", sheets.ErrRangeNotFound, rng)
	}
	for _, r := range rows {
		existing = append(existing, append([]string(nil), r...))
	}
	doc[tab] = existing
	return nil
}

func (f *Fake) Tabs(_ context.Context, spreadsheetID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var tabs []string
	for t := range f.doc(spreadsheetID) {
		tabs = append(tabs, t)
	}
	return tabs, nil
}

func (f *Fake) AddTab(_ context.Context, spreadsheetID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.doc(spreadsheetID)
	if _, ok := doc[title]; ok {
		return fmt.Errorf("tab %q already exists", title)
	}
	doc[title] = nil
	return nil
}

func (f *Fake) doc(id string) map[string][][]string {
	d, ok := f.docs[id]
	if !ok {
		d = make(map[string][][]string)
		f.docs[id] = d
	}
	return d
}

// parseRange understands the A1 forms the portal emits: Tab!A1:F5000,
// Tab!A7:F7 and Tab!A:F, with optionally quoted tab names.
func parseRange(rng string) (tab string, start, end int, err error) {
	i := strings.LastIndex(rng, "!")
	if i < 0 {
		return "", 0, 0, fmt.Errorf("bad range %q", rng)
	}
	tab = rng[:i]
	if strings.HasPrefix(tab, "'") && strings.HasSuffix(tab, "'") && len(tab) >= 2 {
		tab = strings.ReplaceAll(tab[1:len(tab)-1], "''", "'")
	}
	cells := strings.SplitN(rng[i+1:], ":", 2)
	start = rowOf(cells[0])
	if len(cells) == 2 {
		end = rowOf(cells[1])
	}
	return tab, start, end, nil
}

func rowOf(cell string) int {
	digits := strings.TrimLeft(cell, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	n, _ := strconv.Atoi(digits)
	return n
}

func cloneRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
