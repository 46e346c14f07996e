package webdavfs

import (
	"context"
	"encoding/xml"
	"io"
	"io/fs"
	"net/http"
	"os"

	"golang.org/x/net/webdav"

	"aliyundrive-webdav/aliyundrive"
	"aliyundrive-webdav/vfs"
)

// rejectPropPatch answers every PROPPATCH attempt with 403: none of the
// dead properties served here (just the server-computed checksum) are
// client-settable.
func rejectPropPatch(patches []webdav.Proppatch) ([]webdav.Propstat, error) {
	propstats := make([]webdav.Propstat, 0, len(patches))
	for _, patch := range patches {
		propstats = append(propstats, webdav.Propstat{Props: patch.Props, Status: http.StatusForbidden})
	}
	return propstats, nil
}

// dirFile backs a directory open: its children are fetched once at open
// time, so Readdir never performs I/O itself.
type dirFile struct {
	entry    *aliyundrive.Entry
	children []*aliyundrive.Entry
	offset   int
}

func (d *dirFile) Close() error { return nil }

func (d *dirFile) Read([]byte) (int, error) { return 0, io.EOF }

func (d *dirFile) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekStart {
		d.offset = 0
		return 0, nil
	}
	return 0, os.ErrInvalid
}

func (d *dirFile) Readdir(count int) ([]fs.FileInfo, error) {
	if d.offset >= len(d.children) && count > 0 {
		return nil, io.EOF
	}
	var slice []*aliyundrive.Entry
	if count <= 0 {
		slice = d.children[d.offset:]
		d.offset = len(d.children)
	} else {
		end := d.offset + count
		if end > len(d.children) {
			end = len(d.children)
		}
		slice = d.children[d.offset:end]
		d.offset = end
	}
	out := make([]fs.FileInfo, len(slice))
	for i, e := range slice {
		out[i] = fileInfo{e}
	}
	return out, nil
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return fileInfo{d.entry}, nil }

func (d *dirFile) Write([]byte) (int, error) { return 0, os.ErrPermission }

// DeadProps implements webdav.DeadPropsHolder. Directories have no
// content hash, so this always reports no properties.
func (d *dirFile) DeadProps() (map[xml.Name]webdav.Property, error) {
	return nil, nil
}

func (d *dirFile) Patch(patches []webdav.Proppatch) ([]webdav.Propstat, error) {
	return rejectPropPatch(patches)
}

// regularFile backs a read-only open of an existing file. Reads are
// served out of an internal chunk fetched in chunkSize-sized Range GETs,
// independent of whatever buffer size the WebDAV library's io.Copy passes
// in, so the "read_buffer_size" option actually controls upstream request
// granularity rather than just being plumbed in and ignored.
type regularFile struct {
	of        *vfs.OpenFile
	info      fileInfo
	chunkSize int64

	chunk    []byte
	chunkPos int
}

func (r *regularFile) Close() error { return nil }

func (r *regularFile) Read(p []byte) (int, error) {
	if r.chunkPos >= len(r.chunk) {
		n := int(r.chunkSize)
		if n <= 0 {
			n = len(p)
		}
		if n < len(p) {
			n = len(p)
		}
		b, err := r.of.ReadBytes(context.Background(), n)
		if err != nil {
			return 0, err
		}
		if len(b) == 0 {
			return 0, io.EOF
		}
		r.chunk = b
		r.chunkPos = 0
	}
	n := copy(p, r.chunk[r.chunkPos:])
	r.chunkPos += n
	return n, nil
}

func (r *regularFile) Seek(offset int64, whence int) (int64, error) {
	r.chunk = nil
	r.chunkPos = 0
	return r.of.Seek(offset, whence)
}

func (r *regularFile) Readdir(int) ([]fs.FileInfo, error) {
	return nil, os.ErrInvalid
}

func (r *regularFile) Stat() (fs.FileInfo, error) { return r.info, nil }

func (r *regularFile) Write([]byte) (int, error) { return 0, os.ErrPermission }

// DeadProps implements webdav.DeadPropsHolder, serving the OwnCloud
// "checksums" property clients probe after a PUT to verify integrity.
func (r *regularFile) DeadProps() (map[xml.Name]webdav.Property, error) {
	prop, ok := checksumProperty(r.info.entry)
	if !ok {
		return nil, nil
	}
	return map[xml.Name]webdav.Property{checksumPropName: prop}, nil
}

func (r *regularFile) Patch(patches []webdav.Proppatch) ([]webdav.Propstat, error) {
	return rejectPropPatch(patches)
}

// writeFile backs a create/truncate open; every byte is staged through
// the Open File Object's multi-part upload state machine,
// committing only on Close.
type writeFile struct {
	of   *vfs.OpenFile
	info fileInfo
}

func (w *writeFile) Close() error {
	return w.of.Flush(context.Background())
}

func (w *writeFile) Read([]byte) (int, error) { return 0, os.ErrPermission }

func (w *writeFile) Seek(int64, int) (int64, error) { return 0, os.ErrInvalid }

func (w *writeFile) Readdir(int) ([]fs.FileInfo, error) { return nil, os.ErrInvalid }

func (w *writeFile) Stat() (fs.FileInfo, error) {
	if m := w.of.Metadata(); m != nil {
		return fileInfo{m}, nil
	}
	return w.info, nil
}

func (w *writeFile) Write(p []byte) (int, error) {
	if err := w.of.WriteBytes(context.Background(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}
