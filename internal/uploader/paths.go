package uploader

import "path"

// pathSplit splits a path-key into its parent path-key and final segment,
// e.g. "backup/docs/sub" -> ("backup/docs", "sub").
func pathSplit(pathKey string) (parentKey, name string) {
	dir := path.Dir(pathKey)
	if dir == "." {
		return "", path.Base(pathKey)
	}

	return dir, path.Base(pathKey)
}
