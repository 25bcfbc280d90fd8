// Package mount presents the remote media tree as a FUSE filesystem.
// Directory contents come from enumerators, file contents from the provider's
// local copies, and mkdir/unlink/rmdir go to the store.
package mount

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/config"
	"github.com/brettbedarf/mediafs/enumerate"
	"github.com/brettbedarf/mediafs/internal/util"
	"github.com/brettbedarf/mediafs/provider"
	"github.com/brettbedarf/mediafs/request"
)

// Remote is the mutating part of the media client. Implemented by *client.Client.
type Remote interface {
	CreateDirectory(p mediafs.Path, done func(error)) (*request.Request, error)
	Remove(p mediafs.Path, done func(error)) (*request.Request, error)
}

// MediaFS holds what every node of a mount shares
type MediaFS struct {
	provider     *provider.Provider
	remote       Remote
	attrTimeout  time.Duration
	entryTimeout time.Duration
	uid, gid     uint32
	mountedAt    time.Time
	logger       zerolog.Logger
}

func NewMediaFS(cfg *config.Config, p *provider.Provider, remote Remote) *MediaFS {
	return &MediaFS{
		provider:     p,
		remote:       remote,
		attrTimeout:  seconds(cfg.AttrTimeout),
		entryTimeout: seconds(cfg.EntryTimeout),
		uid:          uint32(os.Getuid()),
		gid:          uint32(os.Getgid()),
		mountedAt:    time.Now(),
		logger:       util.GetLogger("MediaFS"),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Root returns the node to mount
func (m *MediaFS) Root() fs.InodeEmbedder {
	return &node{mfs: m, item: mediafs.RootItem}
}

// list enumerates the container id and waits for the result
func (m *MediaFS) list(ctx context.Context, id mediafs.Identifier) ([]mediafs.Item, error) {
	e, err := m.provider.EnumeratorFor(id)
	if err != nil {
		return nil, err
	}
	obs := &listing{done: make(chan struct{})}
	e.EnumerateItems(obs, enumerate.InitialPage)
	select {
	case <-obs.done:
		return obs.items, obs.err
	case <-ctx.Done():
		e.Invalidate()
		return nil, ctx.Err()
	}
}

// await starts an operation and waits for its completion, cancelling it with ctx
func await(ctx context.Context, start func(done func(error)) (*request.Request, error)) error {
	ch := make(chan error, 1)
	r, err := start(func(err error) { ch <- err })
	if err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		if r != nil {
			r.Cancel()
		}
		return ctx.Err()
	}
}

// listing collects one enumeration
type listing struct {
	items []mediafs.Item
	err   error
	done  chan struct{}
}

func (l *listing) DidEnumerate(items []mediafs.Item) { l.items = append(l.items, items...) }
func (l *listing) FinishEnumerating(enumerate.Page) { close(l.done) }
func (l *listing) FinishWithError(err error) {
	l.err = err
	close(l.done)
}

func (m *MediaFS) fillAttr(item mediafs.Item, out *fuse.Attr) {
	if item.IsDirectory() {
		out.Mode = syscall.S_IFDIR | 0o755
	} else {
		out.Mode = syscall.S_IFREG | 0o644
		if item.Size != nil {
			out.Size = uint64(*item.Size)
		}
	}
	out.Nlink = 1
	out.Uid = m.uid
	out.Gid = m.gid
	mtime := m.mountedAt
	out.SetTimes(nil, &mtime, &mtime)
	if item.LastUsedAt != nil {
		atime := *item.LastUsedAt
		out.SetTimes(&atime, nil, nil)
	}
}

// toErrno maps domain errors to the closest errno
func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	case errors.Is(err, mediafs.ErrNoSuchItem), errors.Is(err, mediafs.ErrMalformedIdentifier):
		return syscall.ENOENT
	case errors.Is(err, mediafs.ErrUnsupported):
		return syscall.ENOTSUP
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	}
	var te *mediafs.TransportError
	if errors.As(err, &te) {
		return syscall.EHOSTUNREACH
	}
	switch mediafs.StatusCode(err) {
	case 0:
		return syscall.EIO
	case 403:
		return syscall.EACCES
	case 404:
		return syscall.ENOENT
	case 409:
		return syscall.EEXIST
	default:
		return syscall.EIO
	}
}

// node is a file or directory of the mounted tree
type node struct {
	fs.Inode

	mfs  *MediaFS
	item mediafs.Item
}

var (
	_ fs.InodeEmbedder = (*node)(nil)
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeUnlinker  = (*node)(nil)
	_ fs.NodeRmdirer   = (*node)(nil)
)

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.mfs.fillAttr(n.item, &out.Attr)
	out.SetTimeout(n.mfs.attrTimeout)
	return 0
}

// child finds name among the current children
func (n *node) child(ctx context.Context, name string) (mediafs.Item, error) {
	items, err := n.mfs.list(ctx, n.item.Identifier())
	if err != nil {
		return mediafs.Item{}, err
	}
	for _, it := range items {
		if it.Name == name {
			return it, nil
		}
	}
	return mediafs.Item{}, mediafs.ErrNoSuchItem
}

func (n *node) newChild(ctx context.Context, item mediafs.Item, out *fuse.EntryOut) *fs.Inode {
	n.mfs.fillAttr(item, &out.Attr)
	out.SetEntryTimeout(n.mfs.entryTimeout)
	out.SetAttrTimeout(n.mfs.attrTimeout)
	child := &node{mfs: n.mfs, item: item}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode & syscall.S_IFMT})
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if !n.item.IsDirectory() {
		return nil, syscall.ENOTDIR
	}
	item, err := n.child(ctx, name)
	if err != nil {
		return nil, toErrno(err)
	}
	return n.newChild(ctx, item, out), 0
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	items, err := n.mfs.list(ctx, n.item.Identifier())
	if err != nil {
		n.mfs.logger.Debug().Err(err).Str("dir", n.item.Filename()).Msg("Readdir failed")
		return nil, toErrno(err)
	}
	return fs.NewListDirStream(dirEntries(items)), 0
}

func dirEntries(items []mediafs.Item) []fuse.DirEntry {
	entries := make([]fuse.DirEntry, 0, len(items))
	for _, it := range items {
		mode := uint32(syscall.S_IFREG)
		if it.IsDirectory() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: it.Name, Mode: mode})
	}
	return entries
}

// Open provides the local copy, downloading it first if needed. Files are read-only.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.item.IsDirectory() {
		return nil, 0, syscall.EISDIR
	}
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	local, err := n.mfs.provider.URLForItem(n.item.Identifier())
	if err != nil {
		return nil, 0, toErrno(err)
	}
	err = await(ctx, func(done func(error)) (*request.Request, error) {
		return n.mfs.provider.StartProviding(local, done)
	})
	if err != nil {
		n.mfs.logger.Error().Err(err).Str("file", n.item.Path().String()).Msg("Failed to provide file")
		return nil, 0, toErrno(err)
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &fileHandle{f: f}, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	item, errno := n.mkdir(ctx, name)
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, item, out), 0
}

func (n *node) mkdir(ctx context.Context, name string) (mediafs.Item, syscall.Errno) {
	if !mediafs.IsDirectoryName(name) {
		// a dotted name would read back as a file
		return mediafs.Item{}, syscall.EINVAL
	}
	item := mediafs.Item{Name: name, Parent: n.item.Path()}
	err := await(ctx, func(done func(error)) (*request.Request, error) {
		return n.mfs.remote.CreateDirectory(item.Path(), done)
	})
	if err != nil {
		return mediafs.Item{}, toErrno(err)
	}
	n.mfs.logger.Debug().Str("path", item.Path().String()).Msg("Created directory")
	return item, 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	if mediafs.IsDirectoryName(name) {
		return syscall.EISDIR
	}
	item := mediafs.Item{Name: name, Parent: n.item.Path()}
	if errno := n.remove(ctx, item); errno != 0 {
		return errno
	}
	if local, err := n.mfs.provider.URLForItem(item.Identifier()); err == nil {
		if err := n.mfs.provider.StopProviding(local); err != nil {
			n.mfs.logger.Warn().Err(err).Str("local", local).Msg("Failed to drop local copy")
		}
	}
	return 0
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	if !mediafs.IsDirectoryName(name) {
		return syscall.ENOTDIR
	}
	return n.remove(ctx, mediafs.Item{Name: name, Parent: n.item.Path()})
}

func (n *node) remove(ctx context.Context, item mediafs.Item) syscall.Errno {
	err := await(ctx, func(done func(error)) (*request.Request, error) {
		return n.mfs.remote.Remove(item.Path(), done)
	})
	if err != nil {
		return toErrno(err)
	}
	n.mfs.logger.Debug().Str("path", item.Path().String()).Msg("Removed item")
	return 0
}

// fileHandle reads a provided local copy
type fileHandle struct {
	f *os.File
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.f.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.f.Close(); err != nil {
		return syscall.EIO
	}
	return 0
}
