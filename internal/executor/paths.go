package executor

import (
	"fmt"
	"os"
	"path"
)

// splitParentKey splits a path-key into its parent path-key and final
// segment, e.g. "backup/docs/sub" -> ("backup/docs", "sub").
func splitParentKey(pathKey string) (parentKey, name string) {
	dir := path.Dir(pathKey)
	if dir == "." {
		return "", path.Base(pathKey)
	}

	return dir, path.Base(pathKey)
}

// createLocalDir materializes a directory created by a two-way
// TargetToSource CreateDirectory action.
func createLocalDir(absPath string) error {
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return fmt.Errorf("executor: creating local directory %q: %w", absPath, err)
	}

	return nil
}
