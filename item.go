package mediafs

import (
	"encoding/binary"
	"strings"
	"time"
)

// Capabilities is a bit set of operations the host may perform on an item
type Capabilities uint32

const (
	AllowsReading Capabilities = 1 << iota
	AllowsWriting
	AllowsReparenting
	AllowsRenaming
	AllowsTrashing
	AllowsDeleting
	AllowsAddingSubItems
	AllowsContentEnumerating

	AllowsAll = AllowsReading | AllowsWriting | AllowsReparenting | AllowsRenaming |
		AllowsTrashing | AllowsDeleting | AllowsAddingSubItems | AllowsContentEnumerating
)

func (c Capabilities) Has(o Capabilities) bool {
	return c&o == o
}

// Content types reported by [Item.ContentType]
const (
	ContentTypeFolder  = "inode/directory"
	ContentTypePNG     = "image/png"
	ContentTypeJPEG    = "image/jpeg"
	ContentTypeImage   = "image/*" // any other extension; the store only holds media
	ContentTypeUnknown = "application/octet-stream"
)

// Item is the metadata record of a remote tree node.
// Its identity is derived from Parent + Name; see [Item.Identifier].
type Item struct {
	Name       string
	Parent     Path       // nil when the item lives in the root
	Size       *int64     // nil when unknown
	IsTrashed  bool
	LastUsedAt *time.Time
}

// RootItem describes the tree root
var RootItem = Item{}

func (i Item) IsRoot() bool {
	return i.Name == "" && i.Parent.IsRoot()
}

// Path returns the item's full path from the root
func (i Item) Path() Path {
	if i.IsRoot() {
		return nil
	}
	return i.Parent.Child(i.Name)
}

// Identifier returns the encoded full path, or [RootIdentifier] for the root
func (i Item) Identifier() Identifier {
	return IdentifierFor(i.Path())
}

func (i Item) ParentIdentifier() Identifier {
	return IdentifierFor(i.Parent)
}

// Filename is the name presented to the host; the root is "/"
func (i Item) Filename() string {
	if i.IsRoot() {
		return PathDelimiter
	}
	return i.Name
}

// IsDirectory is purely syntactic: a name without an extension separator.
// The server is never consulted.
func (i Item) IsDirectory() bool {
	return IsDirectoryName(i.Name)
}

// IsDirectoryName reports whether name has no "." and so denotes a directory
func IsDirectoryName(name string) bool {
	return !strings.Contains(name, ".")
}

func (i Item) Capabilities() Capabilities {
	return AllowsAll
}

// ContentType classifies the item by its extension
func (i Item) ContentType() string {
	if i.IsDirectory() {
		return ContentTypeFolder
	}
	ext := i.Name[strings.LastIndex(i.Name, ".")+1:]
	switch strings.ToLower(ext) {
	case "":
		return ContentTypeUnknown
	case "png":
		return ContentTypePNG
	case "jpg", "jpeg":
		return ContentTypeJPEG
	default:
		return ContentTypeImage
	}
}

// VersionIdentifier is constant; the store has no versioning
func (i Item) VersionIdentifier() []byte {
	return binary.LittleEndian.AppendUint64(nil, 1)
}
