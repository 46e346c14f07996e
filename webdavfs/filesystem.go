// Package webdavfs adapts the resolver, cache and open file object to
// golang.org/x/net/webdav's FileSystem/File contract, so the protocol
// parsing and XML serialization stay entirely inside that library.
package webdavfs

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/webdav"

	"aliyundrive-webdav/aliyundrive"
	"aliyundrive-webdav/drivecache"
	"aliyundrive-webdav/vfs"
)

// checksumContextKey carries the WebDAV client's caller-supplied checksum
// (the OC-Checksum request header, read by a middleware ahead of the
// golang.org/x/net/webdav.Handler) through to OpenFile, which has no other
// way to see request headers.
type checksumContextKey struct{}

// WithChecksum returns a context carrying value for OpenFile to read back
// with ChecksumFromContext when opening a file for write.
func WithChecksum(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, checksumContextKey{}, value)
}

// ChecksumFromContext reads back the value stored by WithChecksum, or ""
// if none was set.
func ChecksumFromContext(ctx context.Context) string {
	v, _ := ctx.Value(checksumContextKey{}).(string)
	return v
}

// FileSystem implements webdav.FileSystem over the Aliyun Drive Open API.
type FileSystem struct {
	client           *aliyundrive.Client
	resolver         *vfs.Resolver
	dirs             *drivecache.DirCache
	uploads          *drivecache.UploadIndex
	uploadBufferSize int64
	skipSameSize     bool
	noTrash          bool
	readBufferSize   int64
}

// SetReadBufferSize configures the chunk size each regularFile requests
// from the upstream Range GET, rather
// than deferring entirely to the caller's io.Read buffer size.
func (fs *FileSystem) SetReadBufferSize(n int64) {
	fs.readBufferSize = n
}

func New(client *aliyundrive.Client, dirs *drivecache.DirCache, uploads *drivecache.UploadIndex, uploadBufferSize int64, skipSameSize bool, noTrash bool) *FileSystem {
	return &FileSystem{
		client:           client,
		resolver:         vfs.NewResolver(client, dirs),
		dirs:             dirs,
		uploads:          uploads,
		uploadBufferSize: uploadBufferSize,
		skipSameSize:     skipSameSize,
		noTrash:          noTrash,
	}
}

func split(name string) (dir, base string) {
	clean := "/" + strings.Trim(name, "/")
	dir, base = path.Split(clean)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "/"
	}
	return dir, base
}

// Mkdir implements MKCOL handling: resolve the parent,
// create the child folder, invalidate the parent's cached listing.
func (fs *FileSystem) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	dir, base := split(name)
	if base == "" {
		return os.ErrInvalid
	}
	parent, err := fs.resolver.Resolve(ctx, dir)
	if err != nil {
		return translate(err)
	}
	if err := fs.client.CreateFolder(ctx, parent.ID, base); err != nil {
		return translate(err)
	}
	fs.dirs.Invalidate(dir)
	return nil
}

// OpenFile is the single most load-bearing method: it distinguishes
// read-only opens (which resolve an existing entry) from write opens
// (O_CREATE/O_WRONLY/O_RDWR/O_TRUNC), which defer all remote work to the
// returned File's Write/Close.
func (fs *FileSystem) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	dir, base := split(name)

	wantsWrite := flag&(os.O_WRONLY|os.O_RDWR|os.O_TRUNC) != 0 || flag&os.O_CREATE != 0

	entry, err := fs.resolver.Resolve(ctx, name)
	if err != nil && !aliyundrive.NotFound(err) {
		return nil, translate(err)
	}

	if !wantsWrite {
		if err != nil {
			return nil, translate(err)
		}
		if entry.IsDir() {
			return fs.openDir(ctx, name, entry)
		}
		return &regularFile{of: vfs.NewReadFile(fs.client, entry), info: fileInfo{entry}, chunkSize: fs.readBufferSize}, nil
	}

	if vfs.IsSpecialUploadReject(base) {
		return nil, os.ErrPermission
	}

	parent, perr := fs.resolver.Resolve(ctx, dir)
	if perr != nil {
		return nil, translate(perr)
	}

	var existing *aliyundrive.Entry
	if err == nil {
		existing = entry
	}

	opts := vfs.WriteOptions{
		DeclaredSHA1:       vfs.DeclaredSHA1FromOption(ChecksumFromContext(ctx)),
		SkipUploadSameSize: fs.skipSameSize,
		UploadBufferSize:   fs.uploadBufferSize,
	}
	// The placeholder has no real Drive file id yet (the upload hasn't been
	// created upstream), but Stat/Readdir callers still need a stable,
	// unique identifier for the duration of the upload, so a scratch id is
	// minted here rather than left empty.
	placeholder := &aliyundrive.Entry{Name: base, Type: aliyundrive.TypeFile, ID: "pending-" + uuid.New().String()}
	fs.uploads.Put(parent.ID, base, placeholder)

	of := vfs.NewWriteFile(fs.client, fs.dirs, fs.uploads, parent.ID, dir, base, existing, opts)
	return &writeFile{of: of, info: fileInfo{placeholder}}, nil
}

func (fs *FileSystem) openDir(ctx context.Context, name string, entry *aliyundrive.Entry) (webdav.File, error) {
	clean := "/" + strings.Trim(name, "/")
	children, err := fs.resolver.ReaddirAndCache(ctx, clean, entry.ID)
	if err != nil {
		return nil, translate(err)
	}
	merged := append([]*aliyundrive.Entry(nil), children...)
	merged = append(merged, fs.uploads.Children(entry.ID)...)
	return &dirFile{entry: entry, children: merged}, nil
}

// RemoveAll implements DELETE/RMCOL: resolve, trash (idempotent on
// already-gone), invalidate the parent listing.
func (fs *FileSystem) RemoveAll(ctx context.Context, name string) error {
	dir, _ := split(name)
	entry, err := fs.resolver.Resolve(ctx, name)
	if err != nil {
		if aliyundrive.NotFound(err) {
			return nil
		}
		return translate(err)
	}
	if fs.noTrash {
		err = fs.client.Delete(ctx, entry.ID)
	} else {
		err = fs.client.Trash(ctx, entry.ID)
	}
	if err != nil {
		return translate(err)
	}
	fs.dirs.Invalidate(dir)
	return nil
}

// Rename implements MOVE: renaming in place is a plain rename; crossing
// directories is a move, optionally carrying the new basename along.
func (fs *FileSystem) Rename(ctx context.Context, oldName, newName string) error {
	entry, err := fs.resolver.Resolve(ctx, oldName)
	if err != nil {
		return translate(err)
	}
	oldDir, _ := split(oldName)
	newDir, newBase := split(newName)

	if oldDir == newDir {
		if err := fs.client.Rename(ctx, entry.ID, newBase); err != nil {
			return translate(err)
		}
		fs.dirs.Invalidate(oldDir)
	} else {
		newParent, err := fs.resolver.Resolve(ctx, newDir)
		if err != nil {
			return translate(err)
		}
		name := &newBase
		if entry.Name == newBase {
			name = nil
		}
		if err := fs.client.Move(ctx, entry.ID, newParent.ID, name); err != nil {
			return translate(err)
		}
		fs.dirs.Invalidate(oldDir)
		fs.dirs.Invalidate(newDir)
	}
	return nil
}

func (fs *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	entry, err := fs.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, translate(err)
	}
	return fileInfo{entry}, nil
}

// DownloadURL resolves name to a fresh presigned download URL, for the
// optional redirect-to-origin GET path. Returns
// os.ErrInvalid for directories and .livp containers, neither of which
// has a single URL a client could be redirected to.
func (fs *FileSystem) DownloadURL(ctx context.Context, name string) (string, error) {
	entry, err := fs.resolver.Resolve(ctx, name)
	if err != nil {
		return "", translate(err)
	}
	if entry.IsDir() {
		return "", os.ErrInvalid
	}
	url, streams, err := fs.client.GetDownloadURL(ctx, entry.ID)
	if err != nil {
		return "", translate(err)
	}
	if url == "" || len(streams) > 0 {
		return "", os.ErrInvalid
	}
	return url, nil
}

// Quota exposes the Drive API's used/total bytes for clients that probe
// free space before a large upload (e.g. macOS Finder).
func (fs *FileSystem) Quota(ctx context.Context) (used, total int64, err error) {
	u, t, err := fs.client.Quota(ctx)
	if err != nil {
		return 0, 0, translate(err)
	}
	return int64(u), int64(t), nil
}

// FlushDirectoryCache drops every cached directory listing; wired to
// SIGHUP.
func (fs *FileSystem) FlushDirectoryCache() {
	fs.dirs.InvalidateAll()
	logrus.Info("directory cache flushed")
}

// translate maps the facade's error taxonomy onto the stdlib sentinel
// errors golang.org/x/net/webdav already knows how to turn into HTTP
// status codes, so no separate status-mapping table is needed here.
func translate(err error) error {
	switch {
	case aliyundrive.NotFound(err):
		return os.ErrNotExist
	case aliyundrive.Forbidden(err):
		return os.ErrPermission
	default:
		return err
	}
}
