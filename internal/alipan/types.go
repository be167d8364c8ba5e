package alipan

import "time"

// Item type strings used by the API.
const (
	TypeFile   = "file"
	TypeFolder = "folder"
)

// RootFileID addresses the root folder of a drive.
const RootFileID = "root"

// Session holds the credentials and identity for one account. All fields
// come from the token endpoint; AccessToken and ExpiresAt change on
// every refresh and RefreshToken rotates with them.
type Session struct {
	RefreshToken string    `json:"refresh_token"`
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	Nickname     string    `json:"nick_name"`
	DeviceID     string    `json:"device_id"`
	DriveID      string    `json:"default_drive_id"`
}

// File is a drive item, file or folder.
type File struct {
	DriveID      string    `json:"drive_id"`
	FileID       string    `json:"file_id"`
	ParentFileID string    `json:"parent_file_id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Size         int64     `json:"size"`
	ContentHash  string    `json:"content_hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Path is the drive-relative path. The list endpoints do not return
	// it; ListRecursive and GetByPath fill it in.
	Path string `json:"-"`
}

// IsDir reports whether the item is a folder.
func (f *File) IsDir() bool {
	return f.Type == TypeFolder
}

// DownloadURL is a short-lived pre-signed URL for one file's content.
type DownloadURL struct {
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expiration"`
}

// Expired reports whether the URL is past its validity window. A zero
// ExpiresAt means the server sent no expiration and the URL is treated
// as live.
func (d *DownloadURL) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

// UploadPart is one pre-signed part URL of an upload session. Parts are
// uploaded in ascending PartNumber order.
type UploadPart struct {
	PartNumber int    `json:"part_number"`
	UploadURL  string `json:"upload_url"`
}

// UploadSession is the server's answer to CreateFile. Either RapidUpload
// is true and FileID references the deduplicated content, or Parts holds
// one pre-signed URL per part to be uploaded and completed.
type UploadSession struct {
	FileID      string       `json:"file_id"`
	UploadID    string       `json:"upload_id"`
	FileName    string       `json:"file_name"`
	RapidUpload bool         `json:"rapid_upload"`
	Parts       []UploadPart `json:"part_info_list"`
}

// CreateFileRequest describes a file to be created on the drive.
//
// For a plain chunked upload set PartCount only. For a rapid-upload
// probe set PreHash (SHA-1 of the first KiB); when the server answers
// ErrPreHashMatched, retry with ContentHash and ProofCode filled in.
type CreateFileRequest struct {
	ParentFileID string
	Name         string
	Size         int64
	PartCount    int
	PreHash      string
	ContentHash  string
	ProofCode    string
}

// SharedLink is a published share of one or more files.
type SharedLink struct {
	ShareID    string    `json:"share_id"`
	ShareURL   string    `json:"share_url"`
	ShareName  string    `json:"share_name"`
	SharePwd   string    `json:"share_pwd"`
	Expiration time.Time `json:"expiration"`
	CreatedAt  time.Time `json:"created_at"`
	FileIDs    []string  `json:"file_id_list"`
}

// Space reports drive quota usage.
type Space struct {
	UsedSize  int64 `json:"used_size"`
	TotalSize int64 `json:"total_size"`
}
