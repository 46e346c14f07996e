package aliyundrive

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Client is C3, the Drive API Facade: one typed method per remote
// endpoint, composing a request, delegating to Transport (C2), and
// decoding a typed response. It owns the TokenManager (C1) so every
// facade method can attach a fresh bearer token and hand the requester a
// reactive-refresh callback.
type Client struct {
	transport *Transport
	tokens    *TokenManager
}

func NewClient(transport *Transport, tokens *TokenManager) *Client {
	return &Client{transport: transport, tokens: tokens}
}

func (c *Client) driveID() string { return c.tokens.DriveID() }

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return err
	}
	return c.transport.postJSON(ctx, token, path, reqBody, respBody, c.tokens.RefreshNow)
}

// GetByID fetches a single entry by its opaque file id. For .livp
// containers the service returns a streams_info mapping instead of a
// single download URL; size is recomputed as the size of the ZIP that
// would contain those streams.
func (c *Client) GetByID(ctx context.Context, fileID string) (*Entry, error) {
	if fileID == RootID {
		return NewRoot(), nil
	}
	req := getFileRequest{DriveID: c.driveID(), FileID: fileID}
	var resp wireFile
	if err := c.post(ctx, "/adrive/v1.0/openFile/get", req, &resp); err != nil {
		if NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry := decodeWireFile(resp)
	if len(entry.StreamsSize) > 0 {
		entry.Size = livpZipSize(entry.Name, entry.StreamsSize)
	}
	return entry, nil
}

// GetByPath resolves a full path directly. Some path forms fail
// server-side (whitespace at certain positions); callers fall back to a
// segment-wise scan via List when this returns ErrNotFound.
func (c *Client) GetByPath(ctx context.Context, path string) (*Entry, error) {
	if path == "" || path == "/" {
		return NewRoot(), nil
	}
	req := getFileByPathRequest{DriveID: c.driveID(), FilePath: path}
	var resp wireFile
	if err := c.post(ctx, "/adrive/v1.0/openFile/get_by_path", req, &resp); err != nil {
		return nil, ErrNotFound
	}
	if resp.FileID == "" {
		return nil, ErrNotFound
	}
	return decodeWireFile(resp), nil
}

// List performs one page of the remote listing (limit 200, newest
// updated_at first).
func (c *Client) List(ctx context.Context, parentFileID, marker string) (entries []*Entry, nextMarker string, err error) {
	req := listFileRequest{
		DriveID:        c.driveID(),
		ParentFileID:   parentFileID,
		Limit:          200,
		Fields:         "*",
		OrderBy:        "updated_at",
		OrderDirection: "DESC",
		Marker:         marker,
	}
	var resp listFileResponse
	if err := c.post(ctx, "/adrive/v1.0/openFile/list", req, &resp); err != nil {
		return nil, "", err
	}
	out := make([]*Entry, 0, len(resp.Items))
	for _, wf := range resp.Items {
		out = append(out, decodeWireFile(wf))
	}
	return out, resp.NextMarker, nil
}

// ListAll loops List until next_marker is empty.
func (c *Client) ListAll(ctx context.Context, parentFileID string) ([]*Entry, error) {
	var all []*Entry
	marker := ""
	for {
		page, next, err := c.List(ctx, parentFileID, marker)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		marker = next
	}
}

// GetDownloadURL asks for a fresh presigned download URL. The caller must
// treat the x-oss-expires query parameter as authoritative over
// Expiration.
func (c *Client) GetDownloadURL(ctx context.Context, fileID string) (url string, streamsURL map[string]string, err error) {
	req := getDownloadURLRequest{DriveID: c.driveID(), FileID: fileID, ExpireSec: 14400}
	var resp getDownloadURLResponse
	if err := c.post(ctx, "/adrive/v1.0/openFile/getDownloadUrl", req, &resp); err != nil {
		return "", nil, err
	}
	return resp.URL, resp.StreamsURL, nil
}

// Download issues a GET, optionally ranged, against a presigned URL.
func (c *Client) Download(ctx context.Context, url string, rangeStart int64, rangeLen int) ([]byte, error) {
	return c.transport.Download(ctx, url, rangeStart, rangeLen)
}

// Trash moves a file to the recycle bin. Idempotent: 400/404 are success.
func (c *Client) Trash(ctx context.Context, fileID string) error {
	req := fileIDRequest{DriveID: c.driveID(), FileID: fileID}
	err := c.post(ctx, "/adrive/v1.0/openFile/recyclebin/trash", req, nil)
	return ignoreIdempotentDelete(err)
}

// Delete permanently removes a file. Idempotent: 400/404 are success.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	req := fileIDRequest{DriveID: c.driveID(), FileID: fileID}
	err := c.post(ctx, "/adrive/v1.0/openFile/delete", req, nil)
	return ignoreIdempotentDelete(err)
}

func ignoreIdempotentDelete(err error) error {
	if err == nil {
		return nil
	}
	if NotFound(err) {
		return nil
	}
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		if e.Kind == KindUpstream && e.Status == 400 {
			return nil
		}
	}
	return err
}

// CreateFolder creates a folder; check_name_mode=refuse means a name
// collision is reported as an error rather than silently renamed.
func (c *Client) CreateFolder(ctx context.Context, parentFileID, name string) error {
	req := createFolderRequest{
		CheckNameMode: "refuse",
		DriveID:       c.driveID(),
		Name:          name,
		ParentFileID:  parentFileID,
		Type:          "folder",
	}
	return c.post(ctx, "/adrive/v1.0/openFile/create", req, nil)
}

func (c *Client) Rename(ctx context.Context, fileID, name string) error {
	req := renameFileRequest{DriveID: c.driveID(), FileID: fileID, Name: name}
	return c.post(ctx, "/adrive/v1.0/openFile/update", req, nil)
}

func (c *Client) Move(ctx context.Context, fileID, toParentFileID string, newName *string) error {
	req := moveFileRequest{DriveID: c.driveID(), FileID: fileID, ToParentFileID: toParentFileID, NewName: newName}
	return c.post(ctx, "/adrive/v1.0/openFile/move", req, nil)
}

func (c *Client) Copy(ctx context.Context, fileID, toParentFileID string) error {
	req := copyFileRequest{DriveID: c.driveID(), FileID: fileID, ToParentFileID: toParentFileID, AutoRename: false}
	return c.post(ctx, "/adrive/v1.0/openFile/copy", req, nil)
}

// CreateFileWithProof begins a multi-part upload. content_hash_name is
// pinned to "none" (content_hash empty, proof_version v1) unless a
// pre-hash rapid-upload attempt is in progress, in
// which case preHash carries the SHA1 of the first KiB.
func (c *Client) CreateFileWithProof(ctx context.Context, name, parentFileID string, size uint64, chunkCount int64, preHash string) (fileID, uploadID string, uploadURLs []string, err error) {
	parts := make([]uploadPartInfo, chunkCount)
	for i := range parts {
		parts[i] = uploadPartInfo{PartNumber: int64(i + 1)}
	}
	req := createFileWithProofRequest{
		CheckNameMode:   "refuse",
		ContentHash:     "",
		ContentHashName: "none",
		DriveID:         c.driveID(),
		Name:            name,
		ParentFileID:    parentFileID,
		ProofCode:       "",
		ProofVersion:    "v1",
		Size:            size,
		PartInfoList:    parts,
		Type:            "file",
		PreHash:         preHash,
	}
	var resp createFileWithProofResponse
	if err := c.post(ctx, "/adrive/v1.0/openFile/create", req, &resp); err != nil {
		return "", "", nil, err
	}
	urls := make([]string, len(resp.PartInfoList))
	for i, p := range resp.PartInfoList {
		urls[i] = p.UploadURL
	}
	if len(urls) == 0 || resp.UploadID == "" {
		return "", "", nil, newErr(KindGeneralFailure, fmt.Errorf("create_file_with_proof: missing upload_id or upload urls"))
	}
	return resp.FileID, resp.UploadID, urls, nil
}

// CreateZeroByteFile begins an upload for an empty file, where
// part_info_list and upload_url are legitimately empty rather than
// indicating failure. The caller still commits it with CompleteFileUpload
// when an upload id is returned.
func (c *Client) CreateZeroByteFile(ctx context.Context, name, parentFileID string) (fileID, uploadID string, err error) {
	req := createFileWithProofRequest{
		CheckNameMode:   "refuse",
		ContentHash:     "",
		ContentHashName: "none",
		DriveID:         c.driveID(),
		Name:            name,
		ParentFileID:    parentFileID,
		ProofCode:       "",
		ProofVersion:    "v1",
		Size:            0,
		PartInfoList:    nil,
		Type:            "file",
	}
	var resp createFileWithProofResponse
	if err := c.post(ctx, "/adrive/v1.0/openFile/create", req, &resp); err != nil {
		return "", "", err
	}
	if resp.FileID == "" {
		return "", "", newErr(KindGeneralFailure, fmt.Errorf("create_file_with_proof: missing file_id for zero-byte file"))
	}
	return resp.FileID, resp.UploadID, nil
}

// GetUploadURL re-issues expired upload URLs mid-transfer.
func (c *Client) GetUploadURL(ctx context.Context, fileID, uploadID string, chunkCount int64) ([]string, error) {
	parts := make([]uploadPartInfo, chunkCount)
	for i := range parts {
		parts[i] = uploadPartInfo{PartNumber: int64(i + 1)}
	}
	req := getUploadURLRequest{DriveID: c.driveID(), FileID: fileID, UploadID: uploadID, PartInfoList: parts}
	var resp createFileWithProofResponse
	if err := c.post(ctx, "/adrive/v1.0/openFile/getUploadUrl", req, &resp); err != nil {
		return nil, err
	}
	urls := make([]string, len(resp.PartInfoList))
	for i, p := range resp.PartInfoList {
		urls[i] = p.UploadURL
	}
	return urls, nil
}

// UploadPart PUTs one chunk's bytes to its presigned URL.
func (c *Client) UploadPart(ctx context.Context, url string, chunk []byte) error {
	status, body, err := c.transport.PutUpload(ctx, url, chunk)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return upstreamErr(status, body)
	}
	return nil
}

// UploadExpired reports whether a PUT's response body carries the
// "expired" marker the service uses for a stale presigned upload URL.
func UploadExpired(body string) bool {
	return strings.Contains(strings.ToLower(body), "expired")
}

func (c *Client) CompleteFileUpload(ctx context.Context, fileID, uploadID string) error {
	req := completeUploadRequest{DriveID: c.driveID(), FileID: fileID, UploadID: uploadID}
	return c.post(ctx, "/adrive/v1.0/openFile/complete", req, nil)
}

// Quota returns (used, total) bytes.
func (c *Client) Quota(ctx context.Context) (used, total uint64, err error) {
	req := struct {
		DriveID string `json:"drive_id"`
	}{DriveID: c.driveID()}
	var resp getSpaceInfoResponse
	if err := c.post(ctx, "/adrive/v1.0/user/getSpaceInfo", req, &resp); err != nil {
		return 0, 0, err
	}
	return resp.PersonalSpaceInfo.UsedSize, resp.PersonalSpaceInfo.TotalSize, nil
}

func decodeWireFile(wf wireFile) *Entry {
	e := &Entry{
		Name:        wf.Name,
		ID:          wf.FileID,
		Type:        wf.Type,
		Size:        wf.Size,
		ContentHash: wf.ContentHash,
	}
	if t, err := time.Parse(time.RFC3339, wf.CreatedAt); err == nil {
		e.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, wf.UpdatedAt); err == nil {
		e.UpdatedAt = t
	}
	// Image entries' server-returned url is unreliable and must be
	// discarded during decoding; non-image url passes through unchanged.
	if wf.Category != "image" {
		e.DownloadURL = wf.URL
	}
	if len(wf.StreamsInfo) > 0 {
		e.StreamsSize = make(map[string]uint64, len(wf.StreamsInfo))
		for name, info := range wf.StreamsInfo {
			e.StreamsSize[name] = info.Size
		}
	}
	return e
}
