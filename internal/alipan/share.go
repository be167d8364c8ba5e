package alipan

import (
	"context"
	"fmt"
	"time"
)

// CreateShare publishes a share link for the given files. password may
// be empty for an open link; a zero expiration means the link never
// expires.
func (c *Client) CreateShare(ctx context.Context, fileIDs []string, password string, expiration time.Time) (*SharedLink, error) {
	req := map[string]any{
		"drive_id":     c.DriveID(),
		"file_id_list": fileIDs,
		"share_pwd":    password,
	}

	if !expiration.IsZero() {
		req["expiration"] = expiration.UTC().Format(time.RFC3339)
	} else {
		req["expiration"] = ""
	}

	var link SharedLink
	if err := c.post(ctx, "/adrive/v2/share_link/create", req, &link); err != nil {
		return nil, fmt.Errorf("creating share: %w", err)
	}

	link.FileIDs = fileIDs

	return &link, nil
}

// ListShares returns the account's published share links.
func (c *Client) ListShares(ctx context.Context) ([]*SharedLink, error) {
	var (
		links  []*SharedLink
		marker string
	)

	for {
		req := map[string]any{
			"limit":           listLimit,
			"creator":         c.Session().UserID,
			"include_deleted": false,
		}
		if marker != "" {
			req["marker"] = marker
		}

		var page struct {
			Items      []*SharedLink `json:"items"`
			NextMarker string        `json:"next_marker"`
		}

		if err := c.post(ctx, "/adrive/v3/share_link/list", req, &page); err != nil {
			return nil, fmt.Errorf("listing shares: %w", err)
		}

		links = append(links, page.Items...)

		if page.NextMarker == "" {
			return links, nil
		}

		marker = page.NextMarker
	}
}

// CancelShare revokes a published share link.
func (c *Client) CancelShare(ctx context.Context, shareID string) error {
	req := map[string]any{
		"share_id": shareID,
	}

	if err := c.post(ctx, "/adrive/v2/share_link/cancel", req, nil); err != nil {
		return fmt.Errorf("canceling share %s: %w", shareID, err)
	}

	return nil
}
