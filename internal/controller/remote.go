package controller

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cloudkeep/drivesync/internal/catalogue"
	"github.com/cloudkeep/drivesync/internal/driveapi"
)

// listPageSize bounds each driveapi.List call while walking the remote
// tree; paging continues via ListResult.NextMarker until exhausted.
const listPageSize = 200

// populateRemoteTree resets cat's remote maps and re-walks the drive from
// its root down through saveRoot, recording every folder and file under
// it. The Uploader's ensureFolder/Transfer only ever consult the
// Catalogue's cached remote entries — never the API — so a run that
// skipped this would blindly recreate every ancestor folder and treat
// every remote file as absent. Grounded on driveapi.Client's List/Exist
// operations and the PutRemoteFile/PutRemoteFolder idiom already
// established by internal/uploader.
func populateRemoteTree(ctx context.Context, client *driveapi.Client, cat *catalogue.Catalogue, saveRoot string) error {
	cat.ResetRemote()

	saveRoot = path.Clean(toSlashPath(saveRoot))
	if saveRoot == "." || saveRoot == "" {
		return walkRemote(ctx, client, cat, "", "")
	}

	parentID := ""
	pathKey := ""

	for _, segment := range strings.Split(saveRoot, "/") {
		if segment == "" {
			continue
		}

		found, entry, err := client.Exist(ctx, parentID, segment, true)
		if err != nil {
			return fmt.Errorf("controller: resolving save-root segment %q: %w", segment, err)
		}

		if pathKey != "" {
			pathKey = pathKey + "/" + segment
		} else {
			pathKey = segment
		}

		if !found {
			result, err := client.CreateFolder(ctx, parentID, segment)
			if err != nil {
				return fmt.Errorf("controller: creating save-root segment %q: %w", segment, err)
			}

			cat.PutRemoteFolder(pathKey, catalogue.RemoteEntry{FileID: result.FileID, ParentID: parentID, Name: segment, IsFolder: true, PathKey: pathKey})
			parentID = result.FileID

			continue
		}

		cat.PutRemoteFolder(pathKey, catalogue.RemoteEntry{FileID: entry.FileID, ParentID: parentID, Name: entry.Name, IsFolder: true, Size: entry.Size, CreatedAt: entry.CreatedAt, UpdatedAt: entry.UpdatedAt, PathKey: pathKey})
		parentID = entry.FileID
	}

	return walkRemote(ctx, client, cat, parentID, pathKey)
}

// walkRemote recurses depth-first from parentID (whose path-key is
// parentKey), recording every child under cat.
func walkRemote(ctx context.Context, client *driveapi.Client, cat *catalogue.Catalogue, parentID, parentKey string) error {
	marker := ""

	for {
		result, err := client.List(ctx, parentID, listPageSize, marker, "")
		if err != nil {
			return fmt.Errorf("controller: listing %q: %w", parentKey, err)
		}

		for _, entry := range result.Entries {
			pathKey := entry.Name
			if parentKey != "" {
				pathKey = parentKey + "/" + entry.Name
			}

			if entry.IsFolder {
				cat.PutRemoteFolder(pathKey, catalogue.RemoteEntry{
					FileID: entry.FileID, ParentID: parentID, Name: entry.Name, IsFolder: true,
					Size: entry.Size, CreatedAt: entry.CreatedAt, UpdatedAt: entry.UpdatedAt, PathKey: pathKey,
				})

				if err := walkRemote(ctx, client, cat, entry.FileID, pathKey); err != nil {
					return err
				}

				continue
			}

			cat.PutRemoteFile(pathKey, catalogue.RemoteEntry{
				FileID: entry.FileID, ParentID: parentID, Name: entry.Name,
				Size: entry.Size, ContentHash: entry.ContentHash,
				CreatedAt: entry.CreatedAt, UpdatedAt: entry.UpdatedAt, PathKey: pathKey,
			})
		}

		if result.NextMarker == "" {
			return nil
		}

		marker = result.NextMarker
	}
}

func toSlashPath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
