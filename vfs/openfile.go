package vfs

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"aliyundrive-webdav/aliyundrive"
	"aliyundrive-webdav/drivecache"
)

// DefaultUploadBufferSize is the default multi-part upload chunk size.
const DefaultUploadBufferSize = 16 << 20

// expirySkew is the lookahead applied to a cached download URL: it is
// considered expired once x-oss-expires is within this many
// seconds of now.
const expirySkew = 60 * time.Second

// WriteOptions carries what the WebDAV adapter's open(path, options) case
// needs to seed a write-mode OpenFile.
type WriteOptions struct {
	DeclaredSHA1       string // from the caller-supplied "sha1:<hex>" checksum option
	SkipUploadSameSize bool
	UploadBufferSize   int64
}

// OpenFile is C7: the per-open byte-level state machine. A single handle
// is either in Reading or Writing state; the two never coexist.
type OpenFile struct {
	client *aliyundrive.Client
	dirs   *drivecache.DirCache
	index  *drivecache.UploadIndex

	mu sync.Mutex

	entry      *aliyundrive.Entry
	parentID   string
	parentPath string
	name       string

	// read state
	currentPos int64

	// write state
	writing      bool
	opts         WriteOptions
	buffer       []byte
	chunkCount   int64
	nextChunk    int64
	uploadID     string
	fileID       string // empty until create_file_with_proof succeeds
	uploadURLs   []string
	prepared     bool
	rapidDone    bool
	totalWritten uint64
}

// NewReadFile builds a read-mode OpenFile over an already-resolved entry.
func NewReadFile(client *aliyundrive.Client, entry *aliyundrive.Entry) *OpenFile {
	return &OpenFile{client: client, entry: entry}
}

// NewWriteFile builds a write-mode OpenFile for a path that may or may
// not already exist; parentID is the destination folder's file id and
// name is the new file's basename. The placeholder entry (empty ID) is
// registered in the in-progress upload index by the caller (webdavfs),
// which owns the parent-path bookkeeping.
func NewWriteFile(client *aliyundrive.Client, dirs *drivecache.DirCache, index *drivecache.UploadIndex, parentID, parentPath, name string, existing *aliyundrive.Entry, opts WriteOptions) *OpenFile {
	of := &OpenFile{
		client:     client,
		dirs:       dirs,
		index:      index,
		parentID:   parentID,
		parentPath: parentPath,
		name:       name,
		writing:    true,
		opts:       opts,
		entry:      existing,
	}
	if opts.UploadBufferSize <= 0 {
		of.opts.UploadBufferSize = DefaultUploadBufferSize
	}
	return of
}

// Metadata returns the entry as currently known (placeholder while
// writing, authoritative once opened for read).
func (f *OpenFile) Metadata() *aliyundrive.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entry
}

// --- read path ---------------------------------------------------------

// ReadBytes serves the next count bytes from the current position,
// refreshing an expired presigned URL first and assembling a .livp
// container on demand when the entry has no single download URL.
func (f *OpenFile) ReadBytes(ctx context.Context, count int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.entry.ID == "" {
		return nil, aliyundrive.ErrNotFound
	}

	if f.entry.DownloadURL == "" || urlExpired(f.entry.DownloadURL) {
		fresh, err := f.client.GetByID(ctx, f.entry.ID)
		if err != nil {
			return nil, err
		}
		f.entry = fresh
		if f.entry.DownloadURL == "" {
			newURL, streams, err := f.client.GetDownloadURL(ctx, f.entry.ID)
			if err != nil {
				return nil, err
			}
			f.entry.DownloadURL = newURL
			if len(streams) > 0 {
				f.entry.StreamsURL = streams
			}
		}
	}

	if f.entry.DownloadURL == "" && len(f.entry.StreamsURL) > 0 {
		content, err := assembleLivp(ctx, f.client, f.entry.Name, f.entry.StreamsURL)
		if err != nil {
			return nil, err
		}
		if f.currentPos >= int64(len(content)) {
			return nil, io.EOF
		}
		end := f.currentPos + int64(count)
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		chunk := content[f.currentPos:end]
		f.currentPos += int64(len(chunk))
		return chunk, nil
	}

	content, err := f.client.Download(ctx, f.entry.DownloadURL, f.currentPos, count)
	if err != nil {
		return nil, err
	}
	f.currentPos += int64(len(content))
	return content, nil
}

// urlExpired reports whether a presigned URL's x-oss-expires query
// parameter is at or before now+60s. A URL with no such parameter is
// treated as non-expiring.
func urlExpired(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	exp := u.Query().Get("x-oss-expires")
	if exp == "" {
		return false
	}
	sec, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return true
	}
	return time.Unix(sec, 0).Before(time.Now().Add(expirySkew)) || time.Unix(sec, 0).Equal(time.Now().Add(expirySkew))
}

// Seek implements pure arithmetic on current_pos; SeekEnd uses size+d,
// matching POSIX.
func (f *OpenFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.currentPos + offset
	case io.SeekEnd:
		newPos = int64(f.entry.Size) + offset
	default:
		return 0, fmt.Errorf("vfs: invalid whence %d", whence)
	}
	f.currentPos = newPos
	return newPos, nil
}

// --- write path ---------------------------------------------------------

// IsSpecialUploadReject reports whether basename is one of the macOS
// metadata files refuses at open-for-write.
func IsSpecialUploadReject(name string) bool {
	return name == ".DS_Store" || strings.HasPrefix(name, "._")
}

// WriteBytes appends to the internal buffer. The upload session itself
// isn't created until Flush: golang.org/x/net/webdav.FileSystem.OpenFile
// carries no size hint, so the total byte count this write will amount to
// (and therefore the chunk count CreateFileWithProof needs) isn't known
// until the caller closes the file.
func (f *OpenFile) WriteBytes(ctx context.Context, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffer = append(f.buffer, p...)
	f.totalWritten += uint64(len(p))
	return nil
}

// rapidUploadMin/Max bound the file sizes eligible for the pre-hash
// shortcut: too small and the hash gives no meaningful speedup, too
// large and the 1024-byte prefix hash risks a false positive.
const (
	rapidUploadMin = 150 << 10
	rapidUploadMax = 1 << 30
)

// prepareForUpload runs once, from Flush, once f.totalWritten holds the
// file's real final size.
func (f *OpenFile) prepareForUpload(ctx context.Context) error {
	f.prepared = true
	size := f.totalWritten

	if f.entry != nil && f.entry.ID != "" {
		skip := false
		if f.opts.DeclaredSHA1 != "" && strings.EqualFold(f.entry.ContentHash, f.opts.DeclaredSHA1) {
			skip = true
		}
		if f.opts.SkipUploadSameSize && f.entry.Size == size {
			skip = true
		}
		if skip {
			f.fileID = f.entry.ID
			f.rapidDone = true
			logrus.WithField("name", f.name).Debug("skip_upload_same_size/sha1 matched, skipping re-upload")
			return nil
		}
		if err := f.client.Trash(ctx, f.entry.ID); err != nil {
			return err
		}
	}

	buf := f.opts.UploadBufferSize
	if buf <= 0 {
		buf = DefaultUploadBufferSize
	}
	var chunkCount int64
	if size > 0 {
		chunkCount = int64((size + uint64(buf) - 1) / uint64(buf))
	}
	f.chunkCount = chunkCount

	if chunkCount == 0 {
		// Zero-byte file: skip all PUTs and go straight to complete.
		// CreateFileWithProof's "empty upload_url slice means failure"
		// guard doesn't apply here, so this goes through the dedicated
		// zero-byte path instead.
		fileID, uploadID, err := f.createZeroByteFile(ctx)
		if err != nil {
			return err
		}
		f.fileID = fileID
		f.uploadID = uploadID
		return nil
	}

	preHash := f.rapidUploadPreHash(size)
	fileID, uploadID, urls, err := f.client.CreateFileWithProof(ctx, f.name, f.parentID, size, chunkCount, preHash)
	if err != nil {
		if preHash != "" {
			if existing, ok := rapidUploadHit(err); ok {
				logrus.WithField("name", f.name).Info("rapid upload: identical content already on server")
				f.fileID = existing
				f.rapidDone = true
				return nil
			}
			// Pre-hash guess didn't short-circuit; fall back to a plain
			// create without it rather than failing the whole upload.
			fileID, uploadID, urls, err = f.client.CreateFileWithProof(ctx, f.name, f.parentID, size, chunkCount, "")
		}
		if err != nil {
			return err
		}
	}
	f.fileID = fileID
	f.uploadID = uploadID
	f.uploadURLs = urls
	return nil
}

// rapidUploadPreHash returns the SHA1 hex of the buffered first KiB when
// size (the total bytes written) makes the file eligible for the rapid-upload
// shortcut and the caller hasn't already supplied its own checksum hint,
// which takes precedence.
func (f *OpenFile) rapidUploadPreHash(size uint64) string {
	if f.opts.DeclaredSHA1 != "" {
		return ""
	}
	if size < rapidUploadMin || size > rapidUploadMax {
		return ""
	}
	n := len(f.buffer)
	if n > 1024 {
		n = 1024
	}
	if n == 0 {
		return ""
	}
	return sha1Hex(f.buffer[:n])
}

// rapidUploadHit reports whether err is the service's 409 "identical
// content already exists" response to a pre-hash create, extracting the
// existing file's id from the error body with gjson since the field name
// varies across API versions.
func rapidUploadHit(err error) (fileID string, ok bool) {
	e, isErr := err.(*aliyundrive.Error)
	if !isErr || e.Kind != aliyundrive.KindUpstream || e.Status != 409 {
		return "", false
	}
	id := gjson.Get(e.Detail, "file_id").String()
	if id == "" {
		id = gjson.Get(e.Detail, "fileId").String()
	}
	if id == "" {
		return "", false
	}
	return id, true
}

// createZeroByteFile handles CreateFileWithProof's empty-upload-url-list
// guard not applying: a zero-byte file legitimately has zero chunks.
func (f *OpenFile) createZeroByteFile(ctx context.Context) (fileID, uploadID string, err error) {
	return f.client.CreateZeroByteFile(ctx, f.name, f.parentID)
}

// maybeUploadChunk pulls full (or, if remaining, whatever's left) chunks
// out of the buffer and PUTs each to its presigned URL, re-issuing all
// URLs once if the service reports one as expired.
func (f *OpenFile) maybeUploadChunk(ctx context.Context, remaining bool) error {
	if f.rapidDone {
		f.buffer = nil
		return nil
	}
	bufSize := f.opts.UploadBufferSize
	if bufSize <= 0 {
		bufSize = DefaultUploadBufferSize
	}
	for {
		if remaining {
			if len(f.buffer) == 0 {
				return nil
			}
		} else if int64(len(f.buffer)) < bufSize {
			return nil
		}
		n := bufSize
		if int64(len(f.buffer)) < n {
			n = int64(len(f.buffer))
		}
		chunk := f.buffer[:n]
		f.buffer = f.buffer[n:]

		if f.nextChunk >= int64(len(f.uploadURLs)) {
			return fmt.Errorf("vfs: no upload url for chunk %d", f.nextChunk)
		}
		uploadURL := f.uploadURLs[f.nextChunk]
		if err := f.putChunkWithRetry(ctx, uploadURL, chunk); err != nil {
			return err
		}
		f.nextChunk++
	}
}

func (f *OpenFile) putChunkWithRetry(ctx context.Context, uploadURL string, chunk []byte) error {
	err := f.client.UploadPart(ctx, uploadURL, chunk)
	if err == nil {
		return nil
	}
	var e *aliyundrive.Error
	if as, ok := err.(*aliyundrive.Error); ok {
		e = as
	}
	if e == nil || e.Kind != aliyundrive.KindUpstream || !aliyundrive.UploadExpired(e.Detail) {
		return err
	}
	logrus.WithField("name", f.name).Info("upload url expired mid-transfer, renewing")
	urls, rerr := f.client.GetUploadURL(ctx, f.fileID, f.uploadID, f.chunkCount)
	if rerr != nil {
		return rerr
	}
	f.uploadURLs = urls
	return f.client.UploadPart(ctx, f.uploadURLs[f.nextChunk], chunk)
}

// Flush implements flush(): drain the tail, complete the
// upload, clear the in-progress index entry, invalidate the parent
// directory cache.
func (f *OpenFile) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.prepared {
		if err := f.prepareForUpload(ctx); err != nil {
			return err
		}
	}
	if err := f.maybeUploadChunk(ctx, true); err != nil {
		return err
	}
	if !f.rapidDone && f.uploadID != "" {
		if err := f.client.CompleteFileUpload(ctx, f.fileID, f.uploadID); err != nil {
			return err
		}
	}
	if f.index != nil {
		f.index.Remove(f.parentID, f.name)
	}
	if f.dirs != nil {
		f.dirs.Invalidate(f.parentPath)
	}
	f.entry = &aliyundrive.Entry{Name: f.name, ID: f.fileID, Type: aliyundrive.TypeFile, Size: f.totalWritten}
	return nil
}

// DeclaredSHA1FromOption parses a WebDAV "checksum" option of the form
// "sha1:<hex>"; returns "" if the option isn't in that
// form.
func DeclaredSHA1FromOption(checksum string) string {
	const prefix = "sha1:"
	if strings.HasPrefix(strings.ToLower(checksum), prefix) {
		return checksum[len(prefix):]
	}
	return ""
}

// sha1Hex is a small helper for the rapid-upload pre-hash computation,
// hashing the first KiB of the body with crypto/sha1.
func sha1Hex(b []byte) string {
	h := sha1.Sum(b)
	return hex.EncodeToString(h[:])
}
