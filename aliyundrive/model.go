package aliyundrive

import "time"

// FileType distinguishes a folder from a regular file, the only two kinds
// the service reports.
type FileType string

const (
	TypeFolder FileType = "folder"
	TypeFile   FileType = "file"
)

// RootID is the synthetic identifier for the drive root; it is never
// fetched from the remote service.
const RootID = "root"

// Entry is the abstract remote object: Data Model.
type Entry struct {
	Name        string
	ID          string
	Type        FileType
	Size        uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DownloadURL string // optional, cached presigned URL, may be expired
	ContentHash string // optional SHA-1 hex, as reported by the service

	// StreamsSize holds the per-stream byte sizes for a .livp Live Photo
	// container (typically keys "heic" and "mov"), as reported by
	// get_by_id's streams_info. Used to recompute Size as the size of
	// the ZIP that would contain those streams.
	StreamsSize map[string]uint64

	// StreamsURL holds the per-stream presigned download URLs, fetched
	// lazily from get_download_url's streams_url when the primary
	// DownloadURL is empty. Populated by the Open File Object at read
	// time, not at decode time.
	StreamsURL map[string]string
}

// IsDir reports whether the entry is a folder.
func (e *Entry) IsDir() bool { return e.Type == TypeFolder }

// NewRoot synthesizes the local root entry so that resolving "/" never
// performs a network call.
func NewRoot() *Entry {
	now := time.Now()
	return &Entry{
		Name:      "/",
		ID:        RootID,
		Type:      TypeFolder,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- wire types -------------------------------------------------------
//
// Field names and casing are load-bearing: they must match the Aliyun
// Drive Open API exactly. Every request and response this package sends
// or decodes is an explicit struct (rather than map[string]interface{});
// the one loosely-typed body, the 409 rapid-upload response, is probed
// with gjson in vfs/openfile.go — see DESIGN.md.

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type refreshTokenResponse struct {
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	ExpiresIn      int64  `json:"expires_in"`
	TokenType      string `json:"token_type"`
	UserID         string `json:"user_id"`
	NickName       string `json:"nick_name"`
	DefaultDriveID string `json:"default_drive_id"`
}

type getDriveInfoResponse struct {
	DefaultDriveID  string `json:"default_drive_id"`
	ResourceDriveID string `json:"resource_drive_id,omitempty"`
	BackupDriveID   string `json:"backup_drive_id,omitempty"`
}

type getFileRequest struct {
	DriveID string `json:"drive_id"`
	FileID  string `json:"file_id"`
}

type getFileByPathRequest struct {
	DriveID  string `json:"drive_id"`
	FilePath string `json:"file_path"`
}

type listFileRequest struct {
	DriveID        string `json:"drive_id"`
	ParentFileID   string `json:"parent_file_id"`
	Limit          int    `json:"limit"`
	Fields         string `json:"fields"`
	OrderBy        string `json:"order_by"`
	OrderDirection string `json:"order_direction"`
	Marker         string `json:"marker,omitempty"`
}

type wireFile struct {
	Name          string            `json:"name"`
	FileID        string            `json:"file_id"`
	Type          FileType          `json:"type"`
	Size          uint64            `json:"size"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
	URL           string            `json:"url"`
	ContentHash   string            `json:"content_hash"`
	StreamsInfo   map[string]struct {
		Size uint64 `json:"size"`
	} `json:"streams_info,omitempty"`
	Category string `json:"category,omitempty"`
}

type listFileResponse struct {
	Items      []wireFile `json:"items"`
	NextMarker string     `json:"next_marker"`
}

type getDownloadURLRequest struct {
	DriveID   string `json:"drive_id"`
	FileID    string `json:"file_id"`
	ExpireSec int64  `json:"expire_sec"`
}

type getDownloadURLResponse struct {
	URL        string `json:"url"`
	Size       uint64 `json:"size"`
	Expiration string `json:"expiration"`
	StreamsURL map[string]string `json:"streams_url,omitempty"`
}

type fileIDRequest struct {
	DriveID string `json:"drive_id"`
	FileID  string `json:"file_id"`
}

type createFolderRequest struct {
	CheckNameMode string `json:"check_name_mode"`
	DriveID       string `json:"drive_id"`
	Name          string `json:"name"`
	ParentFileID  string `json:"parent_file_id"`
	Type          string `json:"type"`
}

type renameFileRequest struct {
	DriveID string `json:"drive_id"`
	FileID  string `json:"file_id"`
	Name    string `json:"name"`
}

type moveFileRequest struct {
	DriveID        string  `json:"drive_id"`
	FileID         string  `json:"file_id"`
	ToParentFileID string  `json:"to_parent_file_id"`
	NewName        *string `json:"new_name,omitempty"`
}

type copyFileRequest struct {
	DriveID        string `json:"drive_id"`
	FileID         string `json:"file_id"`
	ToParentFileID string `json:"to_parent_file_id"`
	AutoRename     bool   `json:"auto_rename"`
}

type uploadPartInfo struct {
	PartNumber int64  `json:"part_number"`
	UploadURL  string `json:"upload_url,omitempty"`
}

type createFileWithProofRequest struct {
	CheckNameMode   string           `json:"check_name_mode"`
	ContentHash     string           `json:"content_hash"`
	ContentHashName string           `json:"content_hash_name"`
	DriveID         string           `json:"drive_id"`
	Name            string           `json:"name"`
	ParentFileID    string           `json:"parent_file_id"`
	ProofCode       string           `json:"proof_code"`
	ProofVersion    string           `json:"proof_version"`
	Size            uint64           `json:"size"`
	PartInfoList    []uploadPartInfo `json:"part_info_list"`
	Type            string           `json:"type"`
	PreHash         string           `json:"pre_hash,omitempty"`
}

type createFileWithProofResponse struct {
	PartInfoList []uploadPartInfo `json:"part_info_list"`
	FileID       string           `json:"file_id"`
	UploadID     string           `json:"upload_id"`
	FileName     string           `json:"file_name"`
}

type completeUploadRequest struct {
	DriveID  string `json:"drive_id"`
	FileID   string `json:"file_id"`
	UploadID string `json:"upload_id"`
}

type getUploadURLRequest struct {
	DriveID      string           `json:"drive_id"`
	FileID       string           `json:"file_id"`
	UploadID     string           `json:"upload_id"`
	PartInfoList []uploadPartInfo `json:"part_info_list"`
}

type getSpaceInfoResponse struct {
	PersonalSpaceInfo struct {
		UsedSize  uint64 `json:"used_size"`
		TotalSize uint64 `json:"total_size"`
	} `json:"personal_space_info"`
}
