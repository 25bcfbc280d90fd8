// Package provider maps identifiers to items and local storage, and drives the
// remote store on behalf of a file presentation host.
//
// Local copies follow the layout <storageRoot>/<identifier>/<filename>, so the
// identifier of any provided file is the name of its parent directory.
package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/enumerate"
	"github.com/brettbedarf/mediafs/internal/util"
	"github.com/brettbedarf/mediafs/progress"
	"github.com/brettbedarf/mediafs/request"
)

// Remote is the part of the media client the provider drives. Implemented by *client.Client.
type Remote interface {
	enumerate.Lister
	Download(p mediafs.Path, dest string, done func(error)) (*request.Request, error)
	Upload(data []byte, p mediafs.Path, done func(error)) (*request.Request, error)
	FetchPreview(p mediafs.Path, done func([]byte, error)) (*request.Request, error)
}

type Provider struct {
	remote      Remote
	storageRoot string
	logger      zerolog.Logger
}

func New(remote Remote, storageRoot string) *Provider {
	return &Provider{
		remote:      remote,
		storageRoot: filepath.Clean(storageRoot),
		logger:      util.GetLogger("Provider"),
	}
}

func (p *Provider) StorageRoot() string { return p.storageRoot }

// Item resolves id without contacting the store. Identifiers that do not decode
// return [mediafs.ErrNoSuchItem].
func (p *Provider) Item(id mediafs.Identifier) (mediafs.Item, error) {
	if id.IsRoot() {
		return mediafs.RootItem, nil
	}
	path, err := mediafs.Decode(id)
	if err != nil {
		return mediafs.Item{}, fmt.Errorf("%w: %w", mediafs.ErrNoSuchItem, err)
	}
	return mediafs.Item{Name: path.Name(), Parent: path.Parent()}, nil
}

// URLForItem returns where the local copy of id lives
func (p *Provider) URLForItem(id mediafs.Identifier) (string, error) {
	item, err := p.Item(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.storageRoot, string(id), item.Filename()), nil
}

// IdentifierForURL recovers the identifier from a local copy path, the inverse of [Provider.URLForItem]
func (p *Provider) IdentifierForURL(localPath string) (mediafs.Identifier, error) {
	rel, err := filepath.Rel(p.storageRoot, filepath.Clean(localPath))
	if err != nil {
		return "", fmt.Errorf("%w: %v", mediafs.ErrNoSuchItem, err)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || parts[0] == ".." || parts[0] == "." {
		return "", fmt.Errorf("%w: %q is not <storage>/<identifier>/<filename>", mediafs.ErrNoSuchItem, localPath)
	}
	return mediafs.Identifier(parts[len(parts)-2]), nil
}

// EnumeratorFor returns an enumerator for a container. Files fail with [mediafs.ErrUnsupported].
func (p *Provider) EnumeratorFor(id mediafs.Identifier) (*enumerate.Enumerator, error) {
	item, err := p.Item(id)
	if err != nil {
		return nil, err
	}
	if !item.IsDirectory() {
		return nil, fmt.Errorf("enumerate %q: %w", item.Filename(), mediafs.ErrUnsupported)
	}
	return enumerate.New(id, p.remote), nil
}

// StartProviding makes sure the local copy at localPath exists, downloading it if
// missing. done runs on the dispatcher. The returned request is nil when no
// download was needed.
func (p *Provider) StartProviding(localPath string, done func(error)) (*request.Request, error) {
	id, err := p.IdentifierForURL(localPath)
	if err != nil {
		return nil, err
	}
	path, err := mediafs.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mediafs.ErrNoSuchItem, err)
	}

	if _, err := os.Stat(localPath); err == nil {
		p.logger.Trace().Str("path", localPath).Msg("Already provided")
		p.dispatch(func() { done(nil) })
		return nil, nil
	}
	p.logger.Debug().Stringer("remote", path).Str("local", localPath).Msg("Downloading item")
	return p.remote.Download(path, localPath, done)
}

// StopProviding removes the local copy. A missing copy is not an error.
func (p *Provider) StopProviding(localPath string) error {
	if _, err := p.IdentifierForURL(localPath); err != nil {
		return err
	}
	if err := os.Remove(localPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	p.logger.Debug().Str("path", localPath).Msg("Stopped providing item")
	return nil
}

// ImportDocument uploads the local file into the container parent under a
// fresh <uuid>.<ext> name. The new item is returned right away; done reports
// the upload result on the dispatcher.
func (p *Provider) ImportDocument(localFile string, parent mediafs.Identifier, done func(error)) (mediafs.Item, error) {
	parentItem, err := p.Item(parent)
	if err != nil {
		return mediafs.Item{}, err
	}
	if !parentItem.IsDirectory() {
		return mediafs.Item{}, fmt.Errorf("import into %q: %w", parentItem.Filename(), mediafs.ErrUnsupported)
	}

	data, err := os.ReadFile(localFile)
	if err != nil {
		return mediafs.Item{}, fmt.Errorf("%w: %w", mediafs.ErrNoSuchItem, err)
	}

	size := int64(len(data))
	item := mediafs.Item{
		Name:   importName(filepath.Base(localFile)),
		Parent: parentItem.Path(),
		Size:   &size,
	}
	if _, err := p.remote.Upload(data, item.Path(), func(err error) {
		if err != nil {
			p.logger.Error().Err(err).Str("name", item.Name).Msg("Failed to upload imported document")
		}
		done(err)
	}); err != nil {
		return mediafs.Item{}, err
	}
	p.logger.Debug().Str("source", localFile).Stringer("remote", item.Path()).Msg("Importing document")
	return item, nil
}

// importName keeps the source extension, or the whole name when it has none
func importName(name string) string {
	ext := name[strings.LastIndex(name, ".")+1:]
	return uuid.NewString() + "." + ext
}

// SetLastUsed returns the item for id stamped with t
func (p *Provider) SetLastUsed(id mediafs.Identifier, t *time.Time) (mediafs.Item, error) {
	item, err := p.Item(id)
	if err != nil {
		return mediafs.Item{}, err
	}
	item.LastUsedAt = t
	return item, nil
}

func (p *Provider) dispatch(fn func()) {
	if !p.remote.Dispatcher().Dispatch(fn) {
		p.logger.Warn().Msg("Dispatcher closed, dropping callback")
	}
}
