// Package lab defines the lab registry record shared by the registry adapter,
// the snapshot tier and the HTTP layer, together with the error kinds the
// config resolution layer reports.
package lab

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingLab          = errors.New("missing lab")
	ErrLabNotRegistered    = errors.New("lab not registered")
	ErrLabConfigIncomplete = errors.New("lab config incomplete (missing DriveFolderId or LogSheetId)")
	ErrRegistryIDsInvalid  = errors.New("registry ids invalid")
)

// Record is one lab's registry row.
type Record struct {
	LabKey        string `json:"labKey"`
	DriveFolderID string `json:"driveFolderId"`
	LogSheetID    string `json:"logSheetId"`
	LogoFileID    string `json:"logoFileId"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle"`
}

// Clone returns a copy so callers can't mutate cached entries.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// Trimmed returns a copy with every field trimmed of surrounding whitespace.
func (r Record) Trimmed() Record {
	return Record{
		LabKey:        strings.TrimSpace(r.LabKey),
		DriveFolderID: strings.TrimSpace(r.DriveFolderID),
		LogSheetID:    strings.TrimSpace(r.LogSheetID),
		LogoFileID:    strings.TrimSpace(r.LogoFileID),
		Title:         strings.TrimSpace(r.Title),
		Subtitle:      strings.TrimSpace(r.Subtitle),
	}
}

// Validate checks the record is usable for serving files. Presence is
// checked before shape so an empty id reports ErrLabConfigIncomplete.
func (r *Record) Validate() error {
	if r.DriveFolderID == "" || r.LogSheetID == "" {
		return ErrLabConfigIncomplete
	}
	if !LooksLikeID(r.DriveFolderID) {
		return fmt.Errorf("%w: driveFolderId %q is not an id", ErrRegistryIDsInvalid, r.DriveFolderID)
	}
	if !LooksLikeID(r.LogSheetID) {
		return fmt.Errorf("%w: logSheetId %q is not an id", ErrRegistryIDsInvalid, r.LogSheetID)
	}
	return nil
}

// reservedPrefixes are human-readable names operators tend to paste into id
// columns instead of the opaque id.
var reservedPrefixes = []string{
	"lab results",
	"results",
	"patient",
	"http",
}

// LooksLikeID reports whether s has the shape of an opaque Drive/Sheets id.
func LooksLikeID(s string) bool {
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, " \t\r\n/") {
		return false
	}
	lower := strings.ToLower(s)
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	return true
}

// CanonicalKey is the cache key for a lab: trimmed and upper-cased.
func CanonicalKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// KeysEqual compares two lab keys ignoring case, surrounding whitespace and
// runs of inner whitespace.
func KeysEqual(a, b string) bool {
	return foldKey(a) == foldKey(b)
}

func foldKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
