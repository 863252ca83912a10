// Package results locates a patient's result files in a lab's Drive folder
// and enforces the block-marker gate before anything is listed or served.
package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/labportal/portal/internal/platform/drive"
	"github.com/labportal/portal/internal/platform/metrics"
)

// MarkerPrefix starts the name of the sentinel file an external billing
// tool drops into a patient folder to suspend access, e.g.
// "__PORTAL_BLOCKED__150.txt".
const MarkerPrefix = "__PORTAL_BLOCKED__"

// MaxAncestorHops bounds the parent walk in IsDescendantOf.
const MaxAncestorHops = 25

var (
	ErrPatientFolderNotFound = errors.New("patient folder not found")
	ErrNotAllowed            = errors.New("file is not in the patient folder")
)

// BlockedError reports a block marker in a patient folder.
type BlockedError struct {
	Marker drive.File
	Amount int64
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("patient access blocked by %s (amount %d)", e.Marker.Name, e.Amount)
}

// Listing is a patient folder's content. When Blocked is set Files is
// empty.
type Listing struct {
	FolderID string
	Files    []drive.File
	Blocked  *BlockedError
}

type Service struct {
	files   drive.FileStore
	metrics *metrics.Metrics
}

func NewService(files drive.FileStore, m *metrics.Metrics) *Service {
	return &Service{files: files, metrics: m}
}

// FindPatientFolder returns the first non-trashed child folder of
// labFolderID named exactly patientID.
func (s *Service) FindPatientFolder(ctx context.Context, labFolderID, patientID string) (*drive.File, error) {
	folders, err := s.files.List(ctx, drive.ListOptions{
		Query:    drive.Query{}.InParents(labFolderID).NameEquals(patientID).Folders().NotTrashed(),
		Fields:   "id,name",
		PageSize: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("find patient folder: %w", err)
	}
	if len(folders) == 0 {
		return nil, ErrPatientFolderNotFound
	}
	return &folders[0], nil
}

// ListFiles lists the patient's files newest first. A block marker among
// them replaces the listing with a blocked result.
func (s *Service) ListFiles(ctx context.Context, labFolderID, patientID string) (*Listing, error) {
	folder, err := s.FindPatientFolder(ctx, labFolderID, patientID)
	if err != nil {
		return nil, err
	}

	files, err := s.files.List(ctx, drive.ListOptions{
		Query:    drive.Query{}.InParents(folder.ID).NotTrashed().Files(),
		Fields:   "id,name,mimeType,size,modifiedTime",
		OrderBy:  "modifiedTime desc",
		PageSize: 200,
	})
	if err != nil {
		return nil, fmt.Errorf("list patient files: %w", err)
	}

	for _, f := range files {
		if IsMarker(f.Name) {
			s.metrics.Blocked()
			return &Listing{
				FolderID: folder.ID,
				Files:    []drive.File{},
				Blocked:  &BlockedError{Marker: f, Amount: ExtractAmount(f.Name)},
			}, nil
		}
	}

	if files == nil {
		files = []drive.File{}
	}
	return &Listing{FolderID: folder.ID, Files: files}, nil
}

// FindMarker returns the block marker in folderID, or nil.
func (s *Service) FindMarker(ctx context.Context, folderID string) (*drive.File, error) {
	files, err := s.files.List(ctx, drive.ListOptions{
		Query:    drive.Query{}.InParents(folderID).NameContains(MarkerPrefix).NotTrashed().Files(),
		Fields:   "id,name",
		PageSize: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("find block marker: %w", err)
	}
	for i := range files {
		if IsMarker(files[i].Name) {
			return &files[i], nil
		}
	}
	return nil, nil
}

// Authorize checks that fileID may be served to patientID and returns its
// metadata. It fails with ErrPatientFolderNotFound, *BlockedError or
// ErrNotAllowed.
func (s *Service) Authorize(ctx context.Context, labFolderID, patientID, fileID string) (*drive.File, error) {
	folder, err := s.FindPatientFolder(ctx, labFolderID, patientID)
	if err != nil {
		return nil, err
	}

	marker, err := s.FindMarker(ctx, folder.ID)
	if err != nil {
		return nil, err
	}
	if marker != nil {
		s.metrics.Blocked()
		return nil, &BlockedError{Marker: *marker, Amount: ExtractAmount(marker.Name)}
	}

	ok, err := s.IsDescendantOf(ctx, fileID, folder.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAllowed
	}
	return s.files.Get(ctx, fileID)
}

// IsDescendantOf walks up the first-parent chain from fileID looking for
// ancestorID. The walk stops after MaxAncestorHops lookups or on a cycle.
func (s *Service) IsDescendantOf(ctx context.Context, fileID, ancestorID string) (bool, error) {
	visited := make(map[string]bool)
	cur := fileID
	for hops := 0; hops < MaxAncestorHops; hops++ {
		if visited[cur] {
			return false, nil
		}
		visited[cur] = true

		meta, err := s.files.Get(ctx, cur)
		if err != nil {
			return false, err
		}
		for _, p := range meta.Parents {
			if p == ancestorID {
				return true, nil
			}
		}
		if len(meta.Parents) == 0 {
			return false, nil
		}
		cur = meta.Parents[0]
	}
	return false, nil
}

// Meta returns a file's metadata.
func (s *Service) Meta(ctx context.Context, fileID string) (*drive.File, error) {
	return s.files.Get(ctx, fileID)
}

// Open streams a file's content.
func (s *Service) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return s.files.Open(ctx, fileID)
}

// IsMarker reports whether name is a block marker file name.
func IsMarker(name string) bool {
	return strings.HasPrefix(name, MarkerPrefix) && strings.HasSuffix(strings.ToLower(name), ".txt")
}

var digits = regexp.MustCompile(`\d+`)

// ExtractAmount returns the first run of digits after the marker prefix,
// or 0.
func ExtractAmount(name string) int64 {
	rest := strings.TrimPrefix(name, MarkerPrefix)
	m := digits.FindString(rest)
	if m == "" {
		return 0
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
