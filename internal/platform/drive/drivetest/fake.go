// Package drivetest provides an in-memory drive.FileStore for tests.
package drivetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/labportal/portal/internal/platform/drive"
)

// Fake holds files and their content in memory.
type Fake struct {
	mu      sync.Mutex
	files   map[string]drive.File
	content map[string][]byte
	order   []string

	Lists int
	Gets  int
	Opens int

	// ListErr, when set, is returned by every List.
	ListErr error
}

func New() *Fake {
	return &Fake{files: make(map[string]drive.File), content: make(map[string][]byte)}
}

// AddFolder adds a folder named name under parent and returns it.
func (f *Fake) AddFolder(id, name, parent string) drive.File {
	return f.Add(drive.File{ID: id, Name: name, MimeType: drive.FolderMimeType, Parents: parents(parent)}, nil)
}

// AddFile adds a regular file under parent.
func (f *Fake) AddFile(id, name, mimeType, parent, modified string, content []byte) drive.File {
	return f.Add(drive.File{
		ID:           id,
		Name:         name,
		MimeType:     mimeType,
		Size:         int64(len(content)),
		ModifiedTime: modified,
		Parents:      parents(parent),
	}, content)
}

// Add stores file as given.
func (f *Fake) Add(file drive.File, content []byte) drive.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[file.ID]; !ok {
		f.order = append(f.order, file.ID)
	}
	f.files[file.ID] = file
	f.content[file.ID] = content
	return file
}

func (f *Fake) List(_ context.Context, opts drive.ListOptions) ([]drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lists++
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	var out []drive.File
	for _, id := range f.order {
		file := f.files[id]
		if opts.Query.Matches(file) {
			out = append(out, file)
		}
	}
	if strings.HasPrefix(opts.OrderBy, "modifiedTime desc") {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ModifiedTime > out[j].ModifiedTime })
	}
	if opts.PageSize > 0 && int64(len(out)) > opts.PageSize {
		out = out[:opts.PageSize]
	}
	return out, nil
}

func (f *Fake) Get(_ context.Context, fileID string) (*drive.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gets++
	file, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", drive.ErrFileNotFound, fileID)
	}
	return &file, nil
}

func (f *Fake) Open(_ context.Context, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opens++
	if _, ok := f.files[fileID]; !ok {
		return nil, fmt.Errorf("%w: %s", drive.ErrFileNotFound, fileID)
	}
	return io.NopCloser(bytes.NewReader(f.content[fileID])), nil
}

func parents(p string) []string {
	if p == "" {
		return nil
	}
	return []string{p}
}
