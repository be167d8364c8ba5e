package alipan

import (
	"context"
	"fmt"
)

// GetDownloadURL returns a fresh pre-signed URL for a file's content.
// The URL is range addressable and expires after a server-chosen window
// (typically some minutes); callers re-request on ErrURLExpired.
func (c *Client) GetDownloadURL(ctx context.Context, fileID string) (*DownloadURL, error) {
	req := map[string]any{
		"drive_id": c.DriveID(),
		"file_id":  fileID,
	}

	var d DownloadURL
	if err := c.post(ctx, "/v2/file/get_download_url", req, &d); err != nil {
		return nil, fmt.Errorf("fetching download URL for %s: %w", fileID, err)
	}

	if d.URL == "" {
		return nil, fmt.Errorf("fetching download URL for %s: empty URL in response", fileID)
	}

	return &d, nil
}
