package mount

import (
	"context"
	"path"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/cloudkeep/drivesync/internal/catalogue"
)

// Node is one entry in the mounted drive tree, grounded on the
// jstaf-onedriver Inode pattern (go-fuse/v2/fs.Inode embedding plus
// domain data behind a RWMutex) but backed directly by the job's
// Catalogue instead of an in-memory item graph: the Catalogue is
// already the authoritative, continuously-refreshed view of the remote
// tree that internal/controller maintains, so the mount adapter reads
// through it rather than keeping its own copy.
type Node struct {
	fs.Inode

	fsys *FS

	mu      sync.RWMutex
	pathKey string // "" for the mount root
	isDir   bool
}

var (
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeReader    = (*Node)(nil)
	_ fs.NodeWriter    = (*Node)(nil)
	_ fs.NodeFlusher   = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
	_ fs.NodeStatfser  = (*Node)(nil)
)

func (n *Node) childKey(name string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.pathKey == "" {
		return name
	}

	return path.Join(n.pathKey, name)
}

func (n *Node) newChild(ctx context.Context, pathKey string, isDir bool) *fs.Inode {
	child := &Node{fsys: n.fsys, pathKey: pathKey, isDir: isDir}

	mode := uint32(fuse.S_IFREG)
	if isDir {
		mode = fuse.S_IFDIR
	}

	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode})
}

// Lookup resolves name under n, consulting the Catalogue's remote maps
// the way internal/controller's verify/populateRemoteTree populate them.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	key := n.childKey(name)

	if folder, ok := n.fsys.cat.GetRemoteFolder(key); ok {
		fillAttr(&out.Attr, folder, true)
		return n.newChild(ctx, key, true), 0
	}

	if file, ok := n.fsys.cat.GetRemoteFile(key); ok {
		fillAttr(&out.Attr, file, false)
		return n.newChild(ctx, key, false), 0
	}

	return nil, syscall.ENOENT
}

// Readdir lists every Catalogue entry whose parent path-key is n's,
// i.e. whose own path-key has exactly one more path segment than n's.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.mu.RLock()
	parent := n.pathKey
	n.mu.RUnlock()

	var dirEntries []fuse.DirEntry

	n.fsys.cat.RangeRemoteFolders(func(key string, e catalogue.RemoteEntry) bool {
		if path.Dir(key) == parent || (parent == "" && !isNested(key)) {
			dirEntries = append(dirEntries, fuse.DirEntry{Name: e.Name, Mode: fuse.S_IFDIR})
		}

		return true
	})

	n.fsys.cat.RangeRemoteFiles(func(key string, e catalogue.RemoteEntry) bool {
		if path.Dir(key) == parent || (parent == "" && !isNested(key)) {
			dirEntries = append(dirEntries, fuse.DirEntry{Name: e.Name, Mode: fuse.S_IFREG})
		}

		return true
	})

	return fs.NewListDirStream(dirEntries), 0
}

func isNested(key string) bool {
	return path.Dir(key) != "."
}

// Getattr reports size/mode/mtime from the Catalogue entry for files and
// a synthetic 4 KiB directory entry otherwise, the way jstaf-onedriver's
// Inode.Size() treats folders as a fixed 4096 bytes.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.mu.RLock()
	key, isDir := n.pathKey, n.isDir
	n.mu.RUnlock()

	if isDir {
		if folder, ok := n.fsys.cat.GetRemoteFolder(key); ok {
			fillAttr(&out.Attr, folder, true)
			return 0
		}

		out.Attr.Mode = fuse.S_IFDIR | 0o755
		out.Attr.Size = 4096

		return 0
	}

	file, ok := n.fsys.cat.GetRemoteFile(key)
	if !ok {
		return syscall.ENOENT
	}

	fillAttr(&out.Attr, file, false)

	return 0
}

func fillAttr(attr *fuse.Attr, e catalogue.RemoteEntry, isDir bool) {
	if isDir {
		attr.Mode = fuse.S_IFDIR | 0o755
		attr.Size = 4096
	} else {
		attr.Mode = fuse.S_IFREG | 0o644
		attr.Size = uint64(e.Size)
	}

	mtime := e.UpdatedAt
	if mtime.IsZero() {
		mtime = e.CreatedAt
	}

	attr.Mtime = uint64(mtime.Unix())
	attr.Atime = attr.Mtime
	attr.Ctime = attr.Mtime
}

// Setattr handles truncate/SetEndOfFile: any requested size, zero
// included, opens (or replaces) a writeSession sized for that many bytes, per spec
// §4.12's "SetEndOfFile(length) pre-allocates a part upload plan".
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	size, hasSize := in.GetSize()
	if !hasSize {
		return n.Getattr(ctx, f, out)
	}

	n.mu.RLock()
	key := n.pathKey
	n.mu.RUnlock()

	parentKey, name := path.Dir(key), path.Base(key)
	if parentKey == "." {
		parentKey = ""
	}

	parentID := ""
	if parentKey != "" {
		if folder, ok := n.fsys.cat.GetRemoteFolder(parentKey); ok {
			parentID = folder.FileID
		}
	}

	session, err := n.fsys.beginWrite(ctx, parentID, name, int64(size))
	if err != nil {
		n.fsys.logger.Error("mount: setattr failed to allocate upload", "path", key, "error", err)
		return syscall.EIO
	}

	n.fsys.registerSession(key, session)

	return n.Getattr(ctx, f, out)
}

// Open is a no-op: reads and writes both go straight through the
// Catalogue/Downloader/writeSession rather than staging whole-file
// content in memory.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, 0, 0
}

// Read serves a byte range via the Downloader, through the 64 KiB/5-min
// TTL cache keyed by (file ID, content hash, offset, length).
func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n.mu.RLock()
	key := n.pathKey
	n.mu.RUnlock()

	file, ok := n.fsys.cat.GetRemoteFile(key)
	if !ok {
		return nil, syscall.ENOENT
	}

	if off >= file.Size {
		return fuse.ReadResultData(nil), 0
	}

	length := int64(len(dest))
	if off+length > file.Size {
		length = file.Size - off
	}

	data, errno := n.fsys.readRange(ctx, file.FileID, file.ContentHash, off, length)
	if errno != 0 {
		return nil, errno
	}

	return fuse.ReadResultData(data), 0
}

// Write buffers into the file's writeSession, starting one on first
// write if Setattr(SetEndOfFile) was never called (e.g. an O_APPEND
// writer).
func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n.mu.RLock()
	key := n.pathKey
	n.mu.RUnlock()

	session := n.fsys.lookupSession(key)
	if session == nil {
		parentKey, name := path.Dir(key), path.Base(key)
		if parentKey == "." {
			parentKey = ""
		}

		parentID := ""
		if folder, ok := n.fsys.cat.GetRemoteFolder(parentKey); ok {
			parentID = folder.FileID
		}

		needed := off + int64(len(data))

		s, err := n.fsys.beginWrite(ctx, parentID, name, needed)
		if err != nil {
			return 0, syscall.EIO
		}

		n.fsys.registerSession(key, s)
		session = s
	}

	if err := session.writeAt(ctx, data, off); err != nil {
		n.fsys.logger.Error("mount: write failed", "path", key, "error", err)
		return 0, syscall.EIO
	}

	return uint32(len(data)), 0
}

// Flush completes any in-flight writeSession for this file, committing
// it to the remote and updating the Catalogue so subsequent reads and
// Readdir calls see the new content immediately.
func (n *Node) Flush(ctx context.Context, f fs.FileHandle) syscall.Errno {
	n.mu.RLock()
	key := n.pathKey
	n.mu.RUnlock()

	session := n.fsys.takeSession(key)
	if session == nil {
		return 0
	}

	entry, err := session.close(ctx)
	if err != nil {
		n.fsys.logger.Error("mount: flush failed to complete upload", "path", key, "error", err)
		return syscall.EIO
	}

	n.fsys.cat.PutRemoteFile(key, catalogue.RemoteEntry{
		FileID: entry.FileID, ParentID: entry.ParentID, Name: entry.Name,
		Size: entry.Size, ContentHash: entry.ContentHash,
		CreatedAt: entry.CreatedAt, UpdatedAt: entry.UpdatedAt, PathKey: key,
	})
	n.fsys.readCache.invalidate(entry.FileID)

	return 0
}

// Create makes a new, initially empty remote file and opens a
// writeSession for it immediately.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	n.mu.RLock()
	parent := n.pathKey
	n.mu.RUnlock()

	parentID := ""
	if parent != "" {
		if folder, ok := n.fsys.cat.GetRemoteFolder(parent); ok {
			parentID = folder.FileID
		}
	}

	key := n.childKey(name)

	session, err := n.fsys.beginWrite(ctx, parentID, name, 0)
	if err != nil {
		return nil, nil, 0, syscall.EIO
	}

	n.fsys.registerSession(key, session)

	out.Attr.Mode = fuse.S_IFREG | 0o644

	return n.newChild(ctx, key, false), nil, 0, 0
}

// Mkdir creates a remote folder under n.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.mu.RLock()
	parent := n.pathKey
	n.mu.RUnlock()

	parentID := ""
	if parent != "" {
		if folder, ok := n.fsys.cat.GetRemoteFolder(parent); ok {
			parentID = folder.FileID
		}
	}

	result, err := n.fsys.client.CreateFolder(ctx, parentID, name)
	if err != nil {
		n.fsys.logger.Error("mount: mkdir failed", "name", name, "error", err)
		return nil, syscall.EIO
	}

	key := n.childKey(name)

	n.fsys.cat.PutRemoteFolder(key, catalogue.RemoteEntry{FileID: result.FileID, ParentID: parentID, Name: name, IsFolder: true, PathKey: key})

	out.Attr.Mode = fuse.S_IFDIR | 0o755

	return n.newChild(ctx, key, true), 0
}

// Unlink deletes a child file, honoring the job's recycle-bin setting.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	key := n.childKey(name)

	file, ok := n.fsys.cat.GetRemoteFile(key)
	if !ok {
		return syscall.ENOENT
	}

	if err := n.fsys.client.Delete(ctx, file.FileID, n.fsys.useRecycleBin); err != nil {
		n.fsys.logger.Error("mount: unlink failed", "path", key, "error", err)
		return syscall.EIO
	}

	n.fsys.cat.DeleteRemoteFile(key)
	n.fsys.readCache.invalidate(file.FileID)

	return 0
}

// Rmdir deletes a child folder. Non-empty-directory rejection is left to
// the remote API's own delete semantics.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	key := n.childKey(name)

	folder, ok := n.fsys.cat.GetRemoteFolder(key)
	if !ok {
		return syscall.ENOENT
	}

	if err := n.fsys.client.Delete(ctx, folder.FileID, n.fsys.useRecycleBin); err != nil {
		n.fsys.logger.Error("mount: rmdir failed", "path", key, "error", err)
		return syscall.EIO
	}

	n.fsys.cat.DeleteRemoteFolder(key)

	return 0
}

// Rename moves/renames a child, reusing the remote Rename/Move calls and
// re-keying the Catalogue entry (and, for a directory, every descendant
// under it) so the mounted view stays consistent without a full rescan.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dest, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}

	oldKey := n.childKey(name)
	dest.mu.RLock()
	destParentKey := dest.pathKey
	dest.mu.RUnlock()

	newKey := newName
	if destParentKey != "" {
		newKey = path.Join(destParentKey, newName)
	}

	if folder, ok := n.fsys.cat.GetRemoteFolder(oldKey); ok {
		return n.renameFolder(ctx, folder, oldKey, destParentKey, newKey, newName)
	}

	file, ok := n.fsys.cat.GetRemoteFile(oldKey)
	if !ok {
		return syscall.ENOENT
	}

	if err := n.renameRemote(ctx, file.FileID, file.ParentID, destParentKey, newName); err != nil {
		return err
	}

	n.fsys.cat.DeleteRemoteFile(oldKey)
	file.Name, file.PathKey = newName, newKey
	n.fsys.cat.PutRemoteFile(newKey, file)

	return 0
}

func (n *Node) renameFolder(ctx context.Context, folder catalogue.RemoteEntry, oldKey, destParentKey, newKey, newName string) syscall.Errno {
	if err := n.renameRemote(ctx, folder.FileID, folder.ParentID, destParentKey, newName); err != nil {
		return err
	}

	n.fsys.cat.DeleteRemoteFolder(oldKey)
	folder.Name, folder.PathKey = newName, newKey
	n.fsys.cat.PutRemoteFolder(newKey, folder)

	prefix := oldKey + "/"

	var movedFiles, movedFolders []catalogue.RemoteEntry

	n.fsys.cat.RangeRemoteFiles(func(key string, e catalogue.RemoteEntry) bool {
		if hasPrefix(key, prefix) {
			e.PathKey = newKey + key[len(oldKey):]
			movedFiles = append(movedFiles, e)
		}

		return true
	})

	n.fsys.cat.RangeRemoteFolders(func(key string, e catalogue.RemoteEntry) bool {
		if hasPrefix(key, prefix) {
			e.PathKey = newKey + key[len(oldKey):]
			movedFolders = append(movedFolders, e)
		}

		return true
	})

	for _, e := range movedFiles {
		n.fsys.cat.DeleteRemoteFile(oldKey + e.PathKey[len(newKey):])
		n.fsys.cat.PutRemoteFile(e.PathKey, e)
	}

	for _, e := range movedFolders {
		n.fsys.cat.DeleteRemoteFolder(oldKey + e.PathKey[len(newKey):])
		n.fsys.cat.PutRemoteFolder(e.PathKey, e)
	}

	return 0
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (n *Node) renameRemote(ctx context.Context, fileID, oldParentID, newParentKey, newName string) syscall.Errno {
	newParentID := ""
	if newParentKey != "" {
		if folder, ok := n.fsys.cat.GetRemoteFolder(newParentKey); ok {
			newParentID = folder.FileID
		}
	}

	if newParentID != oldParentID {
		if _, err := n.fsys.client.Move(ctx, fileID, newParentID, newName); err != nil {
			n.fsys.logger.Error("mount: move failed", "file_id", fileID, "error", err)
			return syscall.EIO
		}

		return 0
	}

	if _, err := n.fsys.client.Rename(ctx, fileID, newName); err != nil {
		n.fsys.logger.Error("mount: rename failed", "file_id", fileID, "error", err)
		return syscall.EIO
	}

	return 0
}

// Statfs reports the drive's total/used space for df/volume-info
// queries, per spec §4.12.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	const blockSize = 4096

	info, err := n.fsys.client.SpaceInfo(ctx)
	if err != nil {
		n.fsys.logger.Warn("mount: statfs failed to reach remote, reporting zero", "error", err)
		return 0
	}

	out.Bsize = blockSize
	out.Blocks = uint64(info.TotalSize) / blockSize
	free := info.TotalSize - info.UsedSize
	if free < 0 {
		free = 0
	}
	out.Bfree = uint64(free) / blockSize
	out.Bavail = out.Bfree

	return 0
}
