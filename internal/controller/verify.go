package controller

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/cloudkeep/drivesync/internal/catalogue"
	"github.com/cloudkeep/drivesync/internal/config"
	"github.com/cloudkeep/drivesync/internal/driveapi"
	"github.com/cloudkeep/drivesync/internal/planner"
)

// Totals is the FileCount/FolderCount/TotalSize triple spec §4.11's
// verification phase records into a job's metadata after each run.
type Totals struct {
	FileCount   int
	FolderCount int
	TotalSize   int64
}

// verify reconciles the remote tree against the local-entries snapshot
// after an upload pass, per spec §4.11: depending on mode it deletes
// remote-only entries (mirror), downloads them (two-way, files only), or
// leaves them alone (one-way). It returns the resulting Totals.
func verify(ctx context.Context, cat *catalogue.Catalogue, client *driveapi.Client, download download, job config.Job) (Totals, error) {
	if err := populateRemoteTree(ctx, client, cat, job.SaveRoot); err != nil {
		return Totals{}, fmt.Errorf("controller: verify: refreshing remote tree: %w", err)
	}

	expected := make(map[string]bool)

	cat.RangeLocal(func(_ string, e catalogue.LocalEntry) bool {
		if e.IsFile {
			expected[path.Join(toSlashPath(job.SaveRoot), e.RelativeKey)] = true
		}

		return true
	})

	var remoteOnly []string

	cat.RangeRemoteFiles(func(pathKey string, _ catalogue.RemoteEntry) bool {
		if !expected[pathKey] {
			remoteOnly = append(remoteOnly, pathKey)
		}

		return true
	})

	for _, pathKey := range remoteOnly {
		entry, ok := cat.GetRemoteFile(pathKey)
		if !ok {
			continue
		}

		switch job.Mode {
		case config.ModeMirror:
			if err := client.Delete(ctx, entry.FileID, job.UseRecycleBin); err != nil {
				return Totals{}, fmt.Errorf("controller: verify: pruning remote-only %q: %w", pathKey, err)
			}

			cat.DeleteRemoteFile(pathKey)

		case config.ModeTwoWay:
			relKey := trimSaveRoot(pathKey, job.SaveRoot)
			localPath := localPathUnderRoots(relKey, job.SourceRoots)

			action := planner.Action{
				RelativeKey: relKey,
				Source:      pathKey,
				Target:      localPath,
				Direction:   planner.TargetToSource,
			}

			if err := download.Transfer(ctx, action); err != nil {
				return Totals{}, fmt.Errorf("controller: verify: downloading remote-only %q: %w", pathKey, err)
			}

		case config.ModeOneWay:
			// remote-only entries are left in place; one-way never deletes
			// or pulls from the target.
		}
	}

	var totals Totals

	cat.RangeRemoteFiles(func(_ string, e catalogue.RemoteEntry) bool {
		totals.FileCount++
		totals.TotalSize += e.Size

		return true
	})

	cat.RangeRemoteFolders(func(_ string, _ catalogue.RemoteEntry) bool {
		totals.FolderCount++

		return true
	})

	return totals, nil
}

// download is the subset of executor.Transferer the verification phase
// needs to pull a remote-only file down in two-way mode.
type download interface {
	Transfer(ctx context.Context, a planner.Action) error
}

func trimSaveRoot(pathKey, saveRoot string) string {
	if saveRoot == "" {
		return pathKey
	}

	prefix := saveRoot + "/"
	if len(pathKey) > len(prefix) && pathKey[:len(prefix)] == prefix {
		return pathKey[len(prefix):]
	}

	return pathKey
}

func localPathUnderRoots(relKey string, sourceRoots []string) string {
	for i := 0; i < len(relKey); i++ {
		if relKey[i] == '/' {
			rootName := relKey[:i]
			for _, root := range sourceRoots {
				if path.Base(toSlashPath(root)) == rootName {
					return filepath.Join(root, filepath.FromSlash(relKey[i+1:]))
				}
			}

			break
		}
	}

	if len(sourceRoots) > 0 {
		return filepath.Join(sourceRoots[0], filepath.FromSlash(relKey))
	}

	return relKey
}
