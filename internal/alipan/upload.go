package alipan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// CreateFile opens an upload session for a new file, or deduplicates it
// server-side when a matching content hash is already known.
//
// Three outcomes:
//   - req.PreHash set and recognized: ErrPreHashMatched, caller retries
//     with ContentHash and ProofCode.
//   - req.ContentHash set and accepted: session with RapidUpload true
//     and no parts, no bytes need to be transferred.
//   - otherwise: session with one pre-signed URL per part.
func (c *Client) CreateFile(ctx context.Context, req *CreateFileRequest) (*UploadSession, error) {
	partCount := req.PartCount
	if partCount < 1 {
		partCount = 1
	}

	parts := make([]map[string]any, partCount)
	for i := range parts {
		parts[i] = map[string]any{"part_number": i + 1}
	}

	body := map[string]any{
		"drive_id":        c.DriveID(),
		"parent_file_id":  req.ParentFileID,
		"name":            req.Name,
		"type":            TypeFile,
		"size":            req.Size,
		"part_info_list":  parts,
		"check_name_mode": "overwrite",
	}

	switch {
	case req.ContentHash != "":
		body["content_hash"] = req.ContentHash
		body["content_hash_name"] = "sha1"
		body["proof_code"] = req.ProofCode
		body["proof_version"] = "v1"
	case req.PreHash != "":
		body["pre_hash"] = req.PreHash
	}

	var session UploadSession
	if err := c.post(ctx, "/adrive/v2/file/createWithFolders", body, &session); err != nil {
		if errors.Is(err, ErrPreHashMatched) {
			return nil, ErrPreHashMatched
		}

		return nil, fmt.Errorf("creating file %q: %w", req.Name, err)
	}

	return &session, nil
}

// UploadPart streams one part's bytes to its pre-signed URL. The URL is
// already authorized, so no bearer token is attached; the request is a
// raw PUT with no Content-Type.
func (c *Client) UploadPart(ctx context.Context, part UploadPart, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, part.UploadURL, r)
	if err != nil {
		return fmt.Errorf("creating part %d request: %w", part.PartNumber, err)
	}

	req.ContentLength = size
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading part %d: %w", part.PartNumber, err)
	}

	body, readErr := readBody(resp)
	if readErr != nil {
		return fmt.Errorf("uploading part %d: reading response: %w", part.PartNumber, readErr)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		// OSS answers 403 when the pre-signed URL's window has passed.
		return fmt.Errorf("uploading part %d: %w", part.PartNumber, ErrURLExpired)
	case resp.StatusCode != http.StatusOK:
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Err:        classify("", resp.StatusCode),
		}
	}

	return nil
}

// RefreshUploadParts re-requests pre-signed URLs for the given part
// numbers of an open session. Used when an upload outlives the URLs
// issued at session creation.
func (c *Client) RefreshUploadParts(ctx context.Context, fileID, uploadID string, partNumbers []int) ([]UploadPart, error) {
	parts := make([]map[string]any, len(partNumbers))
	for i, n := range partNumbers {
		parts[i] = map[string]any{"part_number": n}
	}

	req := map[string]any{
		"drive_id":       c.DriveID(),
		"file_id":        fileID,
		"upload_id":      uploadID,
		"part_info_list": parts,
	}

	var resp struct {
		Parts []UploadPart `json:"part_info_list"`
	}

	if err := c.post(ctx, "/v2/file/get_upload_url", req, &resp); err != nil {
		return nil, fmt.Errorf("refreshing upload URLs: %w", err)
	}

	return resp.Parts, nil
}

// CompleteUpload closes an upload session after every part has been
// uploaded, making the file visible on the drive.
func (c *Client) CompleteUpload(ctx context.Context, fileID, uploadID string) (*File, error) {
	req := map[string]any{
		"drive_id":  c.DriveID(),
		"file_id":   fileID,
		"upload_id": uploadID,
	}

	var f File
	if err := c.post(ctx, "/v2/file/complete", req, &f); err != nil {
		return nil, fmt.Errorf("completing upload %s: %w", uploadID, err)
	}

	return &f, nil
}
