// Package mediafs contains core domain types for presenting a remote media store
// as a local tree: paths, opaque identifiers, items and the error taxonomy
package mediafs

import (
	"fmt"
	"slices"
	"strings"
)

// PathDelimiter separates path segments. It is never valid inside a segment
const PathDelimiter = "/"

// Path is an ordered list of segment names identifying a node in the remote tree.
// A nil or empty Path is the root.
type Path []string

// ParsePath splits a slash separated string into a Path.
// Leading and trailing slashes are ignored so "a/b", "/a/b" and "a/b/" are equivalent.
// "" and "/" return the root.
func ParsePath(s string) (Path, error) {
	s = strings.Trim(strings.TrimSpace(s), PathDelimiter)
	if s == "" {
		return nil, nil
	}
	p := Path(strings.Split(s, PathDelimiter))
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate reports whether every segment is non-empty and free of the delimiter
func (p Path) Validate() error {
	for i, seg := range p {
		if seg == "" {
			return fmt.Errorf("empty segment at index %d", i)
		}
		if strings.Contains(seg, PathDelimiter) {
			return fmt.Errorf("segment %q contains %q", seg, PathDelimiter)
		}
	}
	return nil
}

func (p Path) IsRoot() bool {
	return len(p) == 0
}

// String joins the segments with the delimiter; the root is ""
func (p Path) String() string {
	return strings.Join(p, PathDelimiter)
}

// Name returns the last segment or "" for the root
func (p Path) Name() string {
	if p.IsRoot() {
		return ""
	}
	return p[len(p)-1]
}

// Parent returns the path without its last segment. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p) <= 1 {
		return nil
	}
	return slices.Clone(p[:len(p)-1])
}

// Split returns (leading segments, last segment)
func (p Path) Split() (Path, string) {
	return p.Parent(), p.Name()
}

// Child returns a new Path with name appended. p is not modified.
func (p Path) Child(name string) Path {
	child := make(Path, 0, len(p)+1)
	child = append(child, p...)
	return append(child, name)
}

func (p Path) Equal(other Path) bool {
	return slices.Equal(p, other)
}
