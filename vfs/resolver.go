// Package vfs implements the components that sit between the WebDAV
// adapter and the Drive API Facade: the path resolver (C6) and the open
// file object (C7).
package vfs

import (
	"context"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"aliyundrive-webdav/aliyundrive"
	"aliyundrive-webdav/drivecache"
)

// Resolver is C6: turns a normalized path into an Entry by walking the
// directory cache and, on miss, falling back to get_by_path and then a
// segment-wise directory scan.
type Resolver struct {
	client *aliyundrive.Client
	dirs   *drivecache.DirCache
}

func NewResolver(client *aliyundrive.Client, dirs *drivecache.DirCache) *Resolver {
	return &Resolver{client: client, dirs: dirs}
}

// Resolve turns a request path into an Entry, preferring a cached hit,
// then a direct get_by_path, then a segment-wise walk from the root.
func (r *Resolver) Resolve(ctx context.Context, reqPath string) (*aliyundrive.Entry, error) {
	clean := normalize(reqPath)
	if clean == "/" {
		return aliyundrive.NewRoot(), nil
	}

	if entry := r.lookupCachedChild(clean); entry != nil {
		return entry, nil
	}

	if entry, err := r.client.GetByPath(ctx, clean); err == nil {
		return entry, nil
	}

	return r.walkSegments(ctx, clean)
}

// lookupCachedChild treats `path` as "the parent directory's cached child
// named basename" and returns it only on a cache hit; it never triggers
// network I/O.
func (r *Resolver) lookupCachedChild(clean string) *aliyundrive.Entry {
	parent, base := path.Split(clean)
	children := r.dirs.Get(strings.TrimSuffix(parent, "/"))
	if children == nil {
		if parent == "/" {
			children = r.dirs.Get("/")
		}
		if children == nil {
			return nil
		}
	}
	for _, e := range children {
		if e.Name == base {
			return e
		}
	}
	return nil
}

// walkSegments is the cold-cache fallback: readdir-and-cache one segment
// at a time from the root, searching for an exact name match.
func (r *Resolver) walkSegments(ctx context.Context, clean string) (*aliyundrive.Entry, error) {
	segments := strings.Split(strings.Trim(clean, "/"), "/")
	current := aliyundrive.NewRoot()
	currentPath := "/"
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		children, err := r.ReaddirAndCache(ctx, currentPath, current.ID)
		if err != nil {
			return nil, err
		}
		var next *aliyundrive.Entry
		for _, child := range children {
			if child.Name == seg {
				next = child
				break
			}
		}
		if next == nil {
			return nil, aliyundrive.ErrNotFound
		}
		current = next
		currentPath = normalize(path.Join(currentPath, seg))
	}
	return current, nil
}

// ReaddirAndCache lists a directory's children by file id and caches the
// result under its path, returning the children. Used by both the
// resolver's fallback walk and the WebDAV adapter's readdir operation.
func (r *Resolver) ReaddirAndCache(ctx context.Context, dirPath, dirFileID string) ([]*aliyundrive.Entry, error) {
	if cached := r.dirs.Get(dirPath); cached != nil {
		return cached, nil
	}
	entries, err := r.client.ListAll(ctx, dirFileID)
	if err != nil {
		return nil, err
	}
	r.dirs.Insert(dirPath, entries)
	logrus.WithField("path", dirPath).WithField("count", len(entries)).Debug("readdir cached")
	return entries, nil
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	return cleaned
}
