package enumerate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/brettbedarf/mediafs"
)

// SyncAnchor marks a point in a container's history. It carries the listing it
// was taken from, so changes are computed without any state kept between calls.
type SyncAnchor []byte

// ChangeObserver receives the result of [Enumerator.EnumerateChanges].
// DidUpdate and DidDelete are each called once, possibly with an empty set,
// then FinishEnumeratingChanges. Failures end with FinishWithError instead.
type ChangeObserver interface {
	DidUpdate(items []mediafs.Item)
	DidDelete(ids []mediafs.Identifier)
	FinishEnumeratingChanges(anchor SyncAnchor, moreComing bool)
	FinishWithError(err error)
}

type snapshotEntry struct {
	Name string `json:"n"`
	Size *int64 `json:"s,omitempty"`
}

func (s snapshotEntry) sameAs(o snapshotEntry) bool {
	if s.Size == nil || o.Size == nil {
		return s.Size == nil && o.Size == nil
	}
	return *s.Size == *o.Size
}

func snapshotOf(items []mediafs.Item) []snapshotEntry {
	snap := make([]snapshotEntry, 0, len(items))
	for _, it := range items {
		snap = append(snap, snapshotEntry{Name: it.Name, Size: it.Size})
	}
	slices.SortFunc(snap, func(a, b snapshotEntry) int { return strings.Compare(a.Name, b.Name) })
	return snap
}

var anchorEncoding = base64.RawURLEncoding

func encodeAnchor(snap []snapshotEntry) (SyncAnchor, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return SyncAnchor(anchorEncoding.EncodeToString(data)), nil
}

func decodeAnchor(a SyncAnchor) ([]snapshotEntry, error) {
	data, err := anchorEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mediafs.ErrSyncAnchorExpired, err)
	}
	var snap []snapshotEntry
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", mediafs.ErrSyncAnchorExpired, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: not a listing", mediafs.ErrSyncAnchorExpired)
	}
	return snap, nil
}

// diff returns items new or resized since old and names no longer present
func diff(old []snapshotEntry, items []mediafs.Item) (updated []mediafs.Item, deleted []string) {
	prev := make(map[string]snapshotEntry, len(old))
	for _, e := range old {
		prev[e.Name] = e
	}
	updated = []mediafs.Item{}
	for _, it := range items {
		e, ok := prev[it.Name]
		if !ok || !e.sameAs(snapshotEntry{Name: it.Name, Size: it.Size}) {
			updated = append(updated, it)
		}
		delete(prev, it.Name)
	}
	deleted = []string{}
	for name := range prev {
		deleted = append(deleted, name)
	}
	slices.Sort(deleted)
	return updated, deleted
}

// CurrentSyncAnchor lists the container and returns an anchor for its present state
func (e *Enumerator) CurrentSyncAnchor(done func(SyncAnchor, error)) {
	e.list(func(err error) { done(nil, err) }, func(items []mediafs.Item) {
		anchor, err := encodeAnchor(snapshotOf(items))
		done(anchor, err)
	})
}

// EnumerateChanges reports what changed in the container since anchor.
// With nothing changed the deltas are empty and the same anchor is returned.
// An anchor this enumerator cannot read fails with [mediafs.ErrSyncAnchorExpired].
func (e *Enumerator) EnumerateChanges(observer ChangeObserver, anchor SyncAnchor) {
	if e.err != nil {
		e.dispatch(func() { observer.FinishWithError(e.err) })
		return
	}
	old, err := decodeAnchor(anchor)
	if err != nil {
		e.logger.Debug().Err(err).Msg("Rejecting sync anchor")
		e.dispatch(func() { observer.FinishWithError(err) })
		return
	}

	e.list(observer.FinishWithError, func(items []mediafs.Item) {
		updated, deletedNames := diff(old, items)
		deleted := make([]mediafs.Identifier, 0, len(deletedNames))
		for _, name := range deletedNames {
			deleted = append(deleted, mediafs.IdentifierFor(e.path.Child(name)))
		}

		next := anchor
		if len(updated) > 0 || len(deleted) > 0 {
			fresh, err := encodeAnchor(snapshotOf(items))
			if err != nil {
				observer.FinishWithError(err)
				return
			}
			next = fresh
		}
		e.logger.Debug().Int("updated", len(updated)).Int("deleted", len(deleted)).Msg("Enumerated changes")

		observer.DidUpdate(updated)
		observer.DidDelete(deleted)
		observer.FinishEnumeratingChanges(next, false)
	})
}
