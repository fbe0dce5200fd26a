package catalogue

import (
	"sync"
)

// keyLocks hands out per-key mutexes from a small pool guarded by one
// top-level lock, mirroring internal/tokencache's per-drive locking
// pattern — cheap, and the registry never grows unbounded in practice
// since path-keys churn with the scanned tree, not per-request.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]

	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}

	k.mu.Unlock()

	l.Lock()

	return l.Unlock
}

// Catalogue holds the three path-keyed maps plus the path_is_dir set
// (spec §4.3). All three entry maps use sync.Map for lock-free reads;
// keyLocks serializes the occasional read-modify-write sequence (e.g. a
// watcher event that must check path_is_dir and an entry map together).
type Catalogue struct {
	localEntries  sync.Map // path-key -> LocalEntry
	remoteFiles   sync.Map // path-key -> RemoteEntry
	remoteFolders sync.Map // path-key -> RemoteEntry
	pathIsDir     sync.Map // path-key -> bool (reverse index for watcher classification)
	persisted     sync.Map // path-key -> LocalEntry, last snapshot written to the Store

	keys *keyLocks
}

// New returns an empty Catalogue.
func New() *Catalogue {
	return &Catalogue{keys: newKeyLocks()}
}

// --- local entries ---

// PutLocal inserts or replaces a local entry under its path-key.
func (c *Catalogue) PutLocal(pathKey string, e LocalEntry) {
	unlock := c.keys.lock(pathKey)
	defer unlock()

	c.localEntries.Store(pathKey, e)
	c.pathIsDir.Store(pathKey, !e.IsFile)
}

// GetLocal returns the local entry at a path-key, if present.
func (c *Catalogue) GetLocal(pathKey string) (LocalEntry, bool) {
	v, ok := c.localEntries.Load(pathKey)
	if !ok {
		return LocalEntry{}, false
	}

	return v.(LocalEntry), true
}

// DeleteLocal removes a local entry (watcher delete event, or absent on
// next scan per spec §3's LocalEntry lifecycle).
func (c *Catalogue) DeleteLocal(pathKey string) {
	unlock := c.keys.lock(pathKey)
	defer unlock()

	c.localEntries.Delete(pathKey)
	c.pathIsDir.Delete(pathKey)
}

// RangeLocal iterates every local entry; fn returning false stops iteration.
// A lock-free snapshot per spec §4.3 ("reads are lock-free snapshots").
func (c *Catalogue) RangeLocal(fn func(pathKey string, e LocalEntry) bool) {
	c.localEntries.Range(func(k, v any) bool {
		return fn(k.(string), v.(LocalEntry))
	})
}

// IsDir answers the reverse path_is_dir index for watcher classification.
func (c *Catalogue) IsDir(pathKey string) (isDir bool, known bool) {
	v, ok := c.pathIsDir.Load(pathKey)
	if !ok {
		return false, false
	}

	return v.(bool), true
}

// --- remote entries ---

// PutRemoteFile inserts or replaces a remote file entry.
func (c *Catalogue) PutRemoteFile(pathKey string, e RemoteEntry) {
	e.PathKey = pathKey
	c.remoteFiles.Store(pathKey, e)
}

// GetRemoteFile returns the remote file entry at a path-key, if present.
func (c *Catalogue) GetRemoteFile(pathKey string) (RemoteEntry, bool) {
	v, ok := c.remoteFiles.Load(pathKey)
	if !ok {
		return RemoteEntry{}, false
	}

	return v.(RemoteEntry), true
}

// DeleteRemoteFile removes a remote file entry.
func (c *Catalogue) DeleteRemoteFile(pathKey string) {
	c.remoteFiles.Delete(pathKey)
}

// RangeRemoteFiles iterates every remote file entry.
func (c *Catalogue) RangeRemoteFiles(fn func(pathKey string, e RemoteEntry) bool) {
	c.remoteFiles.Range(func(k, v any) bool {
		return fn(k.(string), v.(RemoteEntry))
	})
}

// PutRemoteFolder inserts or replaces a remote folder entry.
func (c *Catalogue) PutRemoteFolder(pathKey string, e RemoteEntry) {
	e.PathKey = pathKey
	e.IsFolder = true
	c.remoteFolders.Store(pathKey, e)
}

// GetRemoteFolder returns the remote folder entry at a path-key, if present.
func (c *Catalogue) GetRemoteFolder(pathKey string) (RemoteEntry, bool) {
	v, ok := c.remoteFolders.Load(pathKey)
	if !ok {
		return RemoteEntry{}, false
	}

	return v.(RemoteEntry), true
}

// DeleteRemoteFolder removes a remote folder entry.
func (c *Catalogue) DeleteRemoteFolder(pathKey string) {
	c.remoteFolders.Delete(pathKey)
}

// RangeRemoteFolders iterates every remote folder entry.
func (c *Catalogue) RangeRemoteFolders(fn func(pathKey string, e RemoteEntry) bool) {
	c.remoteFolders.Range(func(k, v any) bool {
		return fn(k.(string), v.(RemoteEntry))
	})
}

// ResetRemote clears both remote maps — called at the start of every run
// since "remote maps are not persisted — they are rebuilt from a fresh
// listing on every run" (spec §4.3).
func (c *Catalogue) ResetRemote() {
	c.remoteFiles.Range(func(k, _ any) bool {
		c.remoteFiles.Delete(k)
		return true
	})
	c.remoteFolders.Range(func(k, _ any) bool {
		c.remoteFolders.Delete(k)
		return true
	})
}

// LocalCount returns the number of local entries currently catalogued.
func (c *Catalogue) LocalCount() int {
	n := 0

	c.localEntries.Range(func(_, _ any) bool {
		n++
		return true
	})

	return n
}
