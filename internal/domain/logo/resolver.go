// Package logo finds a lab's current logo in its Drive folder. Logos live
// in a "Lab Logo" subfolder and are uploaded with timestamped names so the
// name doubles as a cache-busting version.
package logo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/labportal/portal/internal/platform/cache"
	"github.com/labportal/portal/internal/platform/drive"
)

// DefaultTTL keeps resolved logos briefly so a new upload shows up quickly.
const DefaultTTL = 30 * time.Second

const (
	folderName      = "lab logo"
	defaultFileName = "Logo.png"
)

var ErrLogoNotFound = errors.New("logo not found")

var timestamped = regexp.MustCompile(`(?i)^logo_\d{8}_\d{6}\.png$`)

// Meta identifies a logo file.
type Meta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resolver caches hits per lab folder. Misses are not cached.
type Resolver struct {
	files drive.FileStore
	cache *cache.TTL[string, Meta]
}

func NewResolver(files drive.FileStore, ttl time.Duration, now cache.Clock) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{files: files, cache: cache.New[string, Meta](ttl, now)}
}

// StartCleanup drops expired cache entries every interval until ctx is done.
func (r *Resolver) StartCleanup(ctx context.Context, interval time.Duration) {
	r.cache.StartCleanup(ctx, interval)
}

// Resolve returns the logo under labFolderID or ErrLogoNotFound.
func (r *Resolver) Resolve(ctx context.Context, labFolderID string) (*Meta, error) {
	parent := strings.TrimSpace(labFolderID)
	if parent == "" {
		return nil, ErrLogoNotFound
	}
	if m, ok := r.cache.Get(parent); ok {
		return &m, nil
	}

	folderID, err := r.findFolder(ctx, parent)
	if err != nil {
		return nil, err
	}

	files, err := r.files.List(ctx, drive.ListOptions{
		Query:    drive.Query{}.InParents(folderID).NotTrashed().Files(),
		Fields:   "id,name,mimeType,modifiedTime",
		OrderBy:  "modifiedTime desc",
		PageSize: 50,
	})
	if err != nil {
		return nil, err
	}

	chosen := pick(files)
	if chosen == nil || chosen.ID == "" {
		return nil, ErrLogoNotFound
	}
	m := Meta{ID: chosen.ID, Name: chosen.Name}
	if m.Name == "" {
		m.Name = defaultFileName
	}
	r.cache.Set(parent, m)
	return &m, nil
}

func (r *Resolver) findFolder(ctx context.Context, parent string) (string, error) {
	folders, err := r.files.List(ctx, drive.ListOptions{
		Query:    drive.Query{}.InParents(parent).Folders().NotTrashed(),
		Fields:   "id,name",
		PageSize: 100,
	})
	if err != nil {
		return "", err
	}

	for _, f := range folders {
		if lower(f.Name) == folderName {
			return f.ID, nil
		}
	}
	for _, f := range folders {
		n := lower(f.Name)
		if strings.Contains(n, "lab") && strings.Contains(n, "logo") {
			return f.ID, nil
		}
	}
	return "", ErrLogoNotFound
}

// pick prefers a timestamped upload, then anything named logo*, then the
// newest file. files must be ordered newest first.
func pick(files []drive.File) *drive.File {
	if len(files) == 0 {
		return nil
	}
	for i := range files {
		if timestamped.MatchString(files[i].Name) {
			return &files[i]
		}
	}
	for i := range files {
		if strings.HasPrefix(lower(files[i].Name), "logo") {
			return &files[i]
		}
	}
	return &files[0]
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
