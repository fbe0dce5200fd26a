package driveapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
)

// checkNameModeRefuse matches spec §6's create-file request field exactly.
const checkNameModeRefuse = "refuse"

// SpaceInfo returns the drive's total/used capacity.
func (c *Client) SpaceInfo(ctx context.Context) (*SpaceInfo, error) {
	var out SpaceInfo
	if err := c.doJSON(ctx, http.MethodPost, "/drive/getSpaceInfo", map[string]string{"drive_id": c.driveID}, &out, false); err != nil {
		return nil, err
	}

	return &out, nil
}

// VIPInfo returns the account's subscription tier.
func (c *Client) VIPInfo(ctx context.Context) (*VIPInfo, error) {
	var out VIPInfo
	if err := c.doJSON(ctx, http.MethodPost, "/drive/getVipInfo", map[string]string{"drive_id": c.driveID}, &out, false); err != nil {
		return nil, err
	}

	return &out, nil
}

// DriveInfo returns the drive's own identity.
func (c *Client) DriveInfo(ctx context.Context) (*DriveInfo, error) {
	var out DriveInfo
	if err := c.doJSON(ctx, http.MethodPost, "/drive/getDriveInfo", map[string]string{"drive_id": c.driveID}, &out, false); err != nil {
		return nil, err
	}

	return &out, nil
}

// List enumerates the children of parent, spec §4.1 list(parent, limit,
// marker, order). Paced at the job's list/search rate (spec §5, §8 prop 8).
func (c *Client) List(ctx context.Context, parent string, limit int, marker, order string) (*ListResult, error) {
	req := map[string]any{
		"drive_id":      c.driveID,
		"parent_file_id": parent,
		"limit":         limit,
		"marker":        marker,
		"order_by":      order,
	}

	var out ListResult
	if err := c.doJSON(ctx, http.MethodPost, "/file/list", req, &out, true); err != nil {
		return nil, err
	}

	return &out, nil
}

// Search runs a query across the drive. Paced like List.
func (c *Client) Search(ctx context.Context, query string) (*ListResult, error) {
	req := map[string]string{"drive_id": c.driveID, "query": query}

	var out ListResult
	if err := c.doJSON(ctx, http.MethodPost, "/file/search", req, &out, true); err != nil {
		return nil, err
	}

	return &out, nil
}

// Get fetches one entry's metadata by id. A NotFound Kind is returned
// as-is for the caller to treat as absence, per spec §4.1.
func (c *Client) Get(ctx context.Context, fileID string) (*Entry, error) {
	req := map[string]string{"drive_id": c.driveID, "file_id": fileID}

	var out Entry
	if err := c.doJSON(ctx, http.MethodPost, "/file/get", req, &out, false); err != nil {
		return nil, err
	}

	return &out, nil
}

// Exist reports whether an entry named name exists under parent, using Get
// semantics: a NotFound error means false, not a propagated error.
func (c *Client) Exist(ctx context.Context, parent, name string, isFolder bool) (bool, *Entry, error) {
	req := map[string]any{"drive_id": c.driveID, "parent_file_id": parent, "name": name, "is_folder": isFolder}

	var out Entry
	err := c.doJSON(ctx, http.MethodPost, "/file/getByName", req, &out, false)

	switch {
	case err == nil:
		return true, &out, nil
	case IsKind(err, KindNotFound):
		return false, nil, nil
	default:
		return false, nil, err
	}
}

// CreateFolder creates a folder under parent, spec §4.1/§6 ("Folder create
// uses the same endpoint with type: folder").
func (c *Client) CreateFolder(ctx context.Context, parent, name string) (*CreateFileResult, error) {
	req := createFileRequest{
		DriveID:       c.driveID,
		ParentFileID:  parent,
		Name:          name,
		Type:          "folder",
		CheckNameMode: checkNameModeRefuse,
	}

	var out CreateFileResult
	if err := c.doJSON(ctx, http.MethodPost, "/file/create", req, &out, false); err != nil {
		return nil, err
	}

	return &out, nil
}

// CreateFile negotiates a file's creation: the part plan for a direct
// upload, or a rapid-upload probe/commitment when PreHash or ContentHash is
// set (spec §4.1, §4.9, §6). A PreHashMatched response is returned as the
// *APIError directly — callers branch on errors.Is(err, driveapi.ErrPreHashMatched).
func (c *Client) CreateFile(ctx context.Context, p CreateFileParams) (*CreateFileResult, error) {
	req := createFileRequest{
		DriveID:       c.driveID,
		ParentFileID:  p.Parent,
		Name:          p.Name,
		Type:          "file",
		CheckNameMode: checkNameModeRefuse,
		Size:          p.Size,
	}

	switch {
	case p.PreHash != "":
		req.PreHash = p.PreHash
	case p.ContentHash != "":
		req.ContentHash = p.ContentHash
		req.ContentHashName = "sha1"
		req.ProofVersion = "v1"
		req.ProofCode = p.ProofCode
	default:
		parts := make([]PartInfo, p.Parts)
		for i := range parts {
			parts[i] = PartInfo{PartNumber: i + 1}
		}

		req.PartInfoList = parts
	}

	var out CreateFileResult
	if err := c.doJSON(ctx, http.MethodPost, "/file/create", req, &out, false); err != nil {
		return nil, err
	}

	return &out, nil
}

// CompleteUpload finalizes a multi-part upload, spec §6.
func (c *Client) CompleteUpload(ctx context.Context, fileID, uploadID string) (*Entry, error) {
	req := map[string]string{"drive_id": c.driveID, "file_id": fileID, "upload_id": uploadID}

	var out Entry
	if err := c.doJSON(ctx, http.MethodPost, "/file/complete", req, &out, false); err != nil {
		return nil, err
	}

	return &out, nil
}

// GetDownloadURL fetches a signed, time-limited URL for a file's content.
func (c *Client) GetDownloadURL(ctx context.Context, fileID string) (string, error) {
	req := map[string]string{"drive_id": c.driveID, "file_id": fileID}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/file/getDownloadUrl", req, &out, false); err != nil {
		return "", err
	}

	return out.URL, nil
}

// Rename renames a file or folder in place.
func (c *Client) Rename(ctx context.Context, fileID, newName string) (*Entry, error) {
	req := map[string]string{"drive_id": c.driveID, "file_id": fileID, "name": newName, "check_name_mode": checkNameModeRefuse}

	var out Entry
	if err := c.doJSON(ctx, http.MethodPost, "/file/update", req, &out, false); err != nil {
		return nil, err
	}

	return &out, nil
}

// Move relocates a file or folder to a new parent, optionally renaming it.
func (c *Client) Move(ctx context.Context, fileID, newParent, newName string) (*Entry, error) {
	req := map[string]string{"drive_id": c.driveID, "file_id": fileID, "to_parent_file_id": newParent}
	if newName != "" {
		req["new_name"] = newName
	}

	var out Entry
	if err := c.doJSON(ctx, http.MethodPost, "/file/move", req, &out, false); err != nil {
		return nil, err
	}

	return &out, nil
}

// Delete removes a file or folder, routing through the recycle bin when
// recycle is true (spec §4.8, §4.12). A NotFound result is not an error to
// the caller, per spec §7 ("NotFound on delete/rename -> treated as
// success"); Delete returns nil in that case.
func (c *Client) Delete(ctx context.Context, fileID string, recycle bool) error {
	path := "/file/delete"
	if recycle {
		path = "/recyclebin/trash"
	}

	req := map[string]string{"drive_id": c.driveID, "file_id": fileID}

	err := c.doJSON(ctx, http.MethodPost, path, req, nil, false)
	if IsKind(err, KindNotFound) {
		return nil
	}

	return err
}

// PutPart PUTs the raw bytes of one upload part to its pre-authenticated
// URL (spec §6 "Part PUT: raw bytes of that part, no headers beyond content
// length"). Retried by the caller (Uploader), not here — a part PUT failure
// is surfaced as PartUploadFailed so the 3x/5^n-second retry lives in the
// component that owns the part plan.
func (c *Client) PutPart(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("driveapi: creating part PUT request: %w", err)
	}

	req.ContentLength = int64(len(data))
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("driveapi: %w: %v", ErrPartUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, code := readErrorBody(resp)
		return &APIError{StatusCode: resp.StatusCode, Code: code, Message: body, Kind: KindPartUploadFailed}
	}

	return nil
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}

	return false
}
