// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package correlator

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/tracearr/internal/models"
)

// ImportFolderLister fetches Shoko's configured import folders.
type ImportFolderLister interface {
	ImportFolders(ctx context.Context) ([]models.ShokoImportFolder, error)
}

const folderCacheTTL = 10 * time.Minute

// FolderResolver converts Shoko file events, which carry an import
// folder ID plus a folder-relative path, into absolute filesystem
// paths. Import folders change rarely, so the list is cached; a cache
// miss on an unknown folder ID forces one refresh in case a folder was
// just added.
type FolderResolver struct {
	lister ImportFolderLister
	group  singleflight.Group

	mu        sync.RWMutex
	folders   map[int64]models.ShokoImportFolder
	fetchedAt time.Time
}

// NewFolderResolver creates a FolderResolver backed by lister.
func NewFolderResolver(lister ImportFolderLister) *FolderResolver {
	return &FolderResolver{lister: lister}
}

// AbsolutePath joins the import folder's root with the event's relative
// path.
func (r *FolderResolver) AbsolutePath(ctx context.Context, folderID int64, relativePath string) (string, error) {
	folder, ok := r.lookup(folderID)
	if !ok {
		if err := r.refresh(ctx); err != nil {
			return "", err
		}
		folder, ok = r.lookup(folderID)
		if !ok {
			return "", fmt.Errorf("unknown shoko import folder %d", folderID)
		}
	}

	rel := strings.TrimPrefix(strings.ReplaceAll(relativePath, `\`, "/"), "/")
	return path.Join(folder.Path, rel), nil
}

func (r *FolderResolver) lookup(folderID int64) (models.ShokoImportFolder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.folders == nil || time.Since(r.fetchedAt) > folderCacheTTL {
		return models.ShokoImportFolder{}, false
	}
	f, ok := r.folders[folderID]
	return f, ok
}

// refresh reloads the folder list. Concurrent callers share one fetch.
func (r *FolderResolver) refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("import-folders", func() (interface{}, error) {
		folders, err := r.lister.ImportFolders(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list shoko import folders: %w", err)
		}
		byID := make(map[int64]models.ShokoImportFolder, len(folders))
		for _, f := range folders {
			byID[f.ID] = f
		}
		r.mu.Lock()
		r.folders = byID
		r.fetchedAt = time.Now()
		r.mu.Unlock()
		return nil, nil
	})
	return err
}
