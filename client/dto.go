package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/brettbedarf/mediafs"
)

// EntryDTO is the JSON representation of one listing entry.
//
// Servers send either an object or, in the minimal variant, a bare name:
//
//	[{"name": "cat.png", "size": 1024}, "albums"]
type EntryDTO struct {
	Name string `json:"name"`
	Size *int64 `json:"size,omitempty"` // Optional size in bytes if known
}

func (e *EntryDTO) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*e = EntryDTO{}
		return json.Unmarshal(data, &e.Name)
	}
	// alias drops the method set to avoid recursing
	type entry EntryDTO
	var v entry
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*e = EntryDTO(v)
	return nil
}

func (e EntryDTO) validate() error {
	if e.Name == "" {
		return fmt.Errorf("entry without name")
	}
	if strings.Contains(e.Name, mediafs.PathDelimiter) {
		return fmt.Errorf("entry name %q contains %q", e.Name, mediafs.PathDelimiter)
	}
	return nil
}

// ErrorDTO is the body servers send alongside a status >= 400
type ErrorDTO struct {
	Error *string `json:"error"`
}

// decodeListing parses a listing body into Items under parent.
// An empty body is an empty listing.
func decodeListing(data []byte, parent mediafs.Path) ([]mediafs.Item, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []mediafs.Item{}, nil
	}
	var entries []EntryDTO
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &mediafs.DecodeError{Err: err}
	}
	parent = slices.Clone(parent)
	items := make([]mediafs.Item, 0, len(entries))
	for _, e := range entries {
		if err := e.validate(); err != nil {
			return nil, &mediafs.DecodeError{Err: err}
		}
		items = append(items, mediafs.Item{
			Name:   e.Name,
			Parent: parent,
			Size:   e.Size,
		})
	}
	return items, nil
}
