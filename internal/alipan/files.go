package alipan

import (
	"context"
	"fmt"
	"path"
	"strings"
)

const listLimit = 200

// GetFile fetches metadata for one item by file ID.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	req := map[string]any{
		"drive_id": c.DriveID(),
		"file_id":  fileID,
	}

	var f File
	if err := c.post(ctx, "/v2/file/get", req, &f); err != nil {
		return nil, err
	}

	return &f, nil
}

// GetByPath fetches metadata for one item by drive-absolute path, for
// example "/docs/report.pdf". The root folder is "/".
func (c *Client) GetByPath(ctx context.Context, filePath string) (*File, error) {
	filePath = path.Clean("/" + strings.TrimPrefix(filePath, "/"))

	if filePath == "/" {
		return &File{
			DriveID: c.DriveID(),
			FileID:  RootFileID,
			Type:    TypeFolder,
			Path:    "/",
		}, nil
	}

	req := map[string]any{
		"drive_id":  c.DriveID(),
		"file_path": filePath,
	}

	var f File
	if err := c.post(ctx, "/adrive/v3/file/get_by_path", req, &f); err != nil {
		return nil, err
	}

	f.Path = filePath

	return &f, nil
}

// List returns the direct children of a folder, following the server's
// pagination markers until the listing is complete.
func (c *Client) List(ctx context.Context, parentFileID string) ([]*File, error) {
	var (
		items  []*File
		marker string
	)

	for {
		req := map[string]any{
			"drive_id":       c.DriveID(),
			"parent_file_id": parentFileID,
			"limit":          listLimit,
		}
		if marker != "" {
			req["marker"] = marker
		}

		var page struct {
			Items      []*File `json:"items"`
			NextMarker string  `json:"next_marker"`
		}

		if err := c.post(ctx, "/adrive/v3/file/list", req, &page); err != nil {
			return nil, fmt.Errorf("listing folder %s: %w", parentFileID, err)
		}

		items = append(items, page.Items...)

		if page.NextMarker == "" {
			return items, nil
		}

		marker = page.NextMarker
	}
}

// ListRecursive walks a folder depth-first and returns every descendant
// with Path filled in relative to the given folder (leading slash, folder
// itself excluded). Children of a folder are visited before its siblings.
func (c *Client) ListRecursive(ctx context.Context, folderFileID string) ([]*File, error) {
	var out []*File

	var walk func(fileID, prefix string) error
	walk = func(fileID, prefix string) error {
		children, err := c.List(ctx, fileID)
		if err != nil {
			return err
		}

		for _, child := range children {
			child.Path = prefix + "/" + child.Name
			out = append(out, child)

			if child.IsDir() {
				if err := walk(child.FileID, child.Path); err != nil {
					return err
				}
			}
		}

		return nil
	}

	if err := walk(folderFileID, ""); err != nil {
		return nil, err
	}

	return out, nil
}

// Makedir creates one folder under the given parent. Creating a folder
// that already exists returns the existing folder, not an error.
func (c *Client) Makedir(ctx context.Context, parentFileID, name string) (*File, error) {
	req := map[string]any{
		"drive_id":        c.DriveID(),
		"parent_file_id":  parentFileID,
		"name":            name,
		"type":            TypeFolder,
		"check_name_mode": "refuse",
	}

	var f File
	if err := c.post(ctx, "/adrive/v2/file/createWithFolders", req, &f); err != nil {
		return nil, fmt.Errorf("creating folder %q: %w", name, err)
	}

	if f.Type == "" {
		f.Type = TypeFolder
	}
	f.Name = name
	f.ParentFileID = parentFileID

	return &f, nil
}

// MakedirPath creates a folder hierarchy, making each missing component
// in turn, and returns the leaf folder.
func (c *Client) MakedirPath(ctx context.Context, dirPath string) (*File, error) {
	dirPath = path.Clean("/" + strings.TrimPrefix(dirPath, "/"))

	cur := &File{FileID: RootFileID, Type: TypeFolder, Path: "/"}
	if dirPath == "/" {
		return cur, nil
	}

	for _, part := range strings.Split(strings.TrimPrefix(dirPath, "/"), "/") {
		next, err := c.Makedir(ctx, cur.FileID, part)
		if err != nil {
			return nil, err
		}

		next.Path = strings.TrimSuffix(cur.Path, "/") + "/" + part
		cur = next
	}

	return cur, nil
}

// Remove moves items to the recycle bin.
func (c *Client) Remove(ctx context.Context, fileIDs ...string) error {
	for _, id := range fileIDs {
		req := map[string]any{
			"drive_id": c.DriveID(),
			"file_id":  id,
		}

		if err := c.post(ctx, "/v2/recyclebin/trash", req, nil); err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
	}

	return nil
}

// Rename changes an item's name in place.
func (c *Client) Rename(ctx context.Context, fileID, newName string) (*File, error) {
	req := map[string]any{
		"drive_id":        c.DriveID(),
		"file_id":         fileID,
		"name":            newName,
		"check_name_mode": "refuse",
	}

	var f File
	if err := c.post(ctx, "/v3/file/update", req, &f); err != nil {
		return nil, fmt.Errorf("renaming %s: %w", fileID, err)
	}

	return &f, nil
}

// GetSpace reports the drive's quota usage.
func (c *Client) GetSpace(ctx context.Context) (*Space, error) {
	var resp struct {
		PersonalSpaceInfo Space `json:"personal_space_info"`
	}

	if err := c.post(ctx, "/adrive/v1/user/driveCapacityDetails", map[string]any{}, &resp); err != nil {
		return nil, err
	}

	return &resp.PersonalSpaceInfo, nil
}
