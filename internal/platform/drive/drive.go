// Package drive is the file-storage adapter: a narrow interface over the
// Drive v3 API covering listing, metadata and content download.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// FolderMimeType is the MIME type Drive assigns to folders.
const FolderMimeType = "application/vnd.google-apps.folder"

var ErrFileNotFound = errors.New("file not found")

// File is the subset of Drive file metadata the portal uses.
type File struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	Size         int64    `json:"size,omitempty"`
	ModifiedTime string   `json:"modifiedTime,omitempty"`
	Parents      []string `json:"-"`
	Trashed      bool     `json:"-"`
}

// IsFolder reports whether f is a folder.
func (f File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}

// ListOptions controls a single list call. Fields names the per-file
// fields to return, e.g. "id,name".
type ListOptions struct {
	Query    Query
	Fields   string
	OrderBy  string
	PageSize int64
}

// FileStore is the contract the portal needs from file storage.
type FileStore interface {
	List(ctx context.Context, opts ListOptions) ([]File, error)
	Get(ctx context.Context, fileID string) (*File, error)
	Open(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// GoogleStore implements FileStore on the Drive v3 API, including shared
// drives.
type GoogleStore struct {
	svc *driveapi.Service
}

// NewGoogleStore wraps an authenticated Drive service.
func NewGoogleStore(svc *driveapi.Service) *GoogleStore {
	return &GoogleStore{svc: svc}
}

// List runs one search and returns the first page of results.
func (s *GoogleStore) List(ctx context.Context, opts ListOptions) ([]File, error) {
	call := s.svc.Files.List().
		Q(opts.Query.String()).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx)
	if opts.Fields != "" {
		call = call.Fields(googleapi.Field("files(" + opts.Fields + ")"))
	}
	if opts.OrderBy != "" {
		call = call.OrderBy(opts.OrderBy)
	}
	if opts.PageSize > 0 {
		call = call.PageSize(opts.PageSize)
	}

	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("drive list: %w", err)
	}

	files := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		files = append(files, fromAPI(f))
	}
	return files, nil
}

// Get returns a file's metadata including its parents.
func (s *GoogleStore) Get(ctx context.Context, fileID string) (*File, error) {
	f, err := s.svc.Files.Get(fileID).
		Fields("id,name,mimeType,size,modifiedTime,parents").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapNotFound(err, fileID)
	}
	out := fromAPI(f)
	return &out, nil
}

// Open streams a file's content. The caller closes the reader.
func (s *GoogleStore) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := s.svc.Files.Get(fileID).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, wrapNotFound(err, fileID)
	}
	return resp.Body, nil
}

func fromAPI(f *driveapi.File) File {
	return File{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		ModifiedTime: f.ModifiedTime,
		Parents:      f.Parents,
		Trashed:      f.Trashed,
	}
}

func wrapNotFound(err error, fileID string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	return fmt.Errorf("drive get %s: %w", fileID, err)
}
