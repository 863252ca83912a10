package portal

import (
	"github.com/labportal/portal/internal/domain/registry"
	"github.com/labportal/portal/internal/platform/drive"
)

// Shown when a lab has not configured its own header text.
const (
	DefaultTitle    = "بوابة النتائج الذكية"
	DefaultSubtitle = "نتائج التحاليل الطبية"
)

// LabConfigResponse is the get-lab-config body.
type LabConfigResponse struct {
	LabKey        string `json:"labKey"`
	DriveFolderID string `json:"driveFolderId"`
	LogSheetID    string `json:"logSheetId"`
	LogoFileID    string `json:"logoFileId"`
	LogoURL       string `json:"logoUrl,omitempty"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle"`
}

// FilesResponse is the get-files body. The blocked fields are only set when
// a block marker was found, in which case Files is empty.
type FilesResponse struct {
	LabKey         string       `json:"labKey"`
	PatientID      string       `json:"patientId"`
	FolderID       string       `json:"folderId"`
	Blocked        bool         `json:"blocked,omitempty"`
	Amount         *int64       `json:"amount,omitempty"`
	MarkerFileID   string       `json:"markerFileId,omitempty"`
	MarkerFileName string       `json:"markerFileName,omitempty"`
	Files          []drive.File `json:"files"`
}

// LogAccessRequest is the log-access body. PatientID falls back to ID.
type LogAccessRequest struct {
	Lab       string `json:"lab"`
	PatientID string `json:"patientId"`
	ID        string `json:"id"`
	FileID    string `json:"fileId"`
	FileName  string `json:"fileName"`
	Action    string `json:"action"`
	UserAgent string `json:"userAgent"`
}

// RegisterLabRequest is the register-lab body.
type RegisterLabRequest struct {
	LabKey        string `json:"labKey"`
	DriveFolderID string `json:"driveFolderId"`
	LogSheetID    string `json:"logSheetId"`
	LogoFileID    string `json:"logoFileId"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle"`
}

type RegisterLabResponse struct {
	OK              bool                   `json:"ok"`
	Result          *registry.UpsertResult `json:"result"`
	SnapshotUpdated bool                   `json:"snapshotUpdated"`
}

// ErrorResponse is every non-2xx JSON body except the blocked payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// BlockedResponse is the 403 download-file body for a blocked patient.
type BlockedResponse struct {
	Error          string `json:"error"`
	Blocked        bool   `json:"blocked"`
	Amount         int64  `json:"amount"`
	MarkerFileID   string `json:"markerFileId"`
	MarkerFileName string `json:"markerFileName"`
}
