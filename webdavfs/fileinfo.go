package webdavfs

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/net/webdav"

	"aliyundrive-webdav/aliyundrive"
)

// checksumPropName is the only bespoke dead property served: the OwnCloud
// sync client's "checksums" property, under its own namespace.
var checksumPropName = xml.Name{Space: "http://owncloud.org/ns", Local: "checksums"}

// checksumProperty renders entry's server-reported SHA-1 as the OwnCloud
// <oc:checksum>sha1:<hex></oc:checksum> dead property blob. ok is false
// when the entry has no content hash (directories, placeholders still
// mid-upload), in which case the property falls through as not found.
func checksumProperty(entry *aliyundrive.Entry) (prop webdav.Property, ok bool) {
	if entry == nil || entry.ContentHash == "" {
		return webdav.Property{}, false
	}
	return webdav.Property{
		XMLName:  checksumPropName,
		InnerXML: []byte(fmt.Sprintf("<oc:checksum>sha1:%s</oc:checksum>", strings.ToLower(entry.ContentHash))),
	}, true
}

// fileInfo adapts an Entry to os.FileInfo, the shape golang.org/x/net/webdav
// needs from Stat and Readdir.
type fileInfo struct {
	entry *aliyundrive.Entry
}

func (fi fileInfo) Name() string { return fi.entry.Name }

func (fi fileInfo) Size() int64 { return int64(fi.entry.Size) }

func (fi fileInfo) Mode() os.FileMode {
	if fi.entry.IsDir() {
		return os.ModeDir | 0755
	}
	return 0644
}

func (fi fileInfo) ModTime() time.Time {
	if fi.entry.UpdatedAt.IsZero() {
		return fi.entry.CreatedAt
	}
	return fi.entry.UpdatedAt
}

func (fi fileInfo) IsDir() bool { return fi.entry.IsDir() }

func (fi fileInfo) Sys() any { return fi.entry }
