package drivecache

import (
	gocache "github.com/patrickmn/go-cache"

	"aliyundrive-webdav/aliyundrive"
)

// UploadIndex is C5: map from parent file-id to pending child entries, so
// a file mid-upload shows up in a directory listing before its multi-part
// upload commits. Entries have no TTL of their own; they live from
// open-for-write to flush and are removed explicitly.
type UploadIndex struct {
	// keyed by "parentFileID/name" so multiple pending uploads under the
	// same parent don't collide.
	cache *gocache.Cache
}

func NewUploadIndex() *UploadIndex {
	return &UploadIndex{cache: gocache.New(gocache.NoExpiration, gocache.NoExpiration)}
}

func key(parentFileID, name string) string { return parentFileID + "/" + name }

// Put records a placeholder entry for a file currently being uploaded.
func (u *UploadIndex) Put(parentFileID, name string, entry *aliyundrive.Entry) {
	u.cache.Set(key(parentFileID, name), entry, gocache.NoExpiration)
}

// Remove clears the placeholder once the upload has committed (flush) or
// been abandoned.
func (u *UploadIndex) Remove(parentFileID, name string) {
	u.cache.Delete(key(parentFileID, name))
}

// Children returns every pending upload entry for a given parent, for
// readdir to merge into the authoritative listing.
func (u *UploadIndex) Children(parentFileID string) []*aliyundrive.Entry {
	prefix := parentFileID + "/"
	var out []*aliyundrive.Entry
	for k, item := range u.cache.Items() {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			if e, ok := item.Object.(*aliyundrive.Entry); ok {
				out = append(out, e)
			}
		}
	}
	return out
}
