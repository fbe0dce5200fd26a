package driveapi

import "time"

// PartInfo is one part of a multi-part upload plan, both in the request
// (part_number only) and the response (part_number + upload_url), spec §6.
type PartInfo struct {
	PartNumber int    `json:"part_number"`
	UploadURL  string `json:"upload_url,omitempty"`
}

// createFileRequest is the wire body for create-file / create-folder (same
// endpoint, distinguished by Type), spec §6.
type createFileRequest struct {
	DriveID         string     `json:"drive_id"`
	ParentFileID    string     `json:"parent_file_id"`
	Name            string     `json:"name"`
	Type            string     `json:"type"` // "file" | "folder"
	CheckNameMode   string     `json:"check_name_mode"`
	Size            int64      `json:"size,omitempty"`
	PartInfoList    []PartInfo `json:"part_info_list,omitempty"`
	PreHash         string     `json:"pre_hash,omitempty"`
	ContentHash     string     `json:"content_hash,omitempty"`
	ContentHashName string     `json:"content_hash_name,omitempty"`
	ProofVersion    string     `json:"proof_version,omitempty"`
	ProofCode       string     `json:"proof_code,omitempty"`
}

// CreateFileResult is the parsed response from create-file / create-folder.
type CreateFileResult struct {
	DriveID      string     `json:"drive_id"`
	FileID       string     `json:"file_id"`
	UploadID     string     `json:"upload_id"`
	RapidUpload  bool       `json:"rapid_upload"`
	PartInfoList []PartInfo `json:"part_info_list"`
}

// CreateFileParams bundles create-file's many optional fields so its
// constructors don't grow unwieldy positional argument lists.
type CreateFileParams struct {
	Parent       string
	Name         string
	Size         int64
	Parts        int // number of 16 MiB parts; ignored when PreHash or ContentHash is set
	PreHash      string
	ContentHash  string // full SHA-1, sent with ProofCode for rapid-upload commitment
	ProofCode    string
}

// Entry is one remote file or folder as returned by list/search/get.
type Entry struct {
	FileID      string    `json:"file_id"`
	ParentID    string    `json:"parent_file_id"`
	Name        string    `json:"name"`
	IsFolder    bool      `json:"is_folder"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListResult is one page of a directory listing.
type ListResult struct {
	Entries    []Entry `json:"items"`
	NextMarker string  `json:"next_marker"`
}

// SpaceInfo reports the drive's total/used capacity.
type SpaceInfo struct {
	TotalSize int64 `json:"total_size"`
	UsedSize  int64 `json:"used_size"`
}

// VIPInfo reports the account's subscription tier, surfaced for `status`.
type VIPInfo struct {
	Identity string `json:"identity"`
	Level    int    `json:"level"`
}

// DriveInfo reports the drive's own identity.
type DriveInfo struct {
	DriveID   string `json:"drive_id"`
	DriveName string `json:"drive_name"`
}

// tokenExchangeResponse is the wire body of a refresh-token POST, spec §6.
type tokenExchangeResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// apiErrorBody is the shape of a non-2xx JSON error body, spec §6: "error
// bodies may include a code field."
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
