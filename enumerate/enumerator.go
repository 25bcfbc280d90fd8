// Package enumerate presents the children of one container identifier to an
// observer, either as a listing or as changes since a [SyncAnchor].
package enumerate

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/internal/util"
	"github.com/brettbedarf/mediafs/request"
)

// Lister fetches the children of a path. Implemented by *client.Client.
type Lister interface {
	ListChildren(p mediafs.Path, done func([]mediafs.Item, error)) (*request.Request, error)
	// Dispatcher is the context ListChildren completions run on
	Dispatcher() *request.Dispatcher
}

// Page is an opaque continuation token. Listings are a single page, so the
// only page ever produced is nil.
type Page []byte

// InitialPage starts an enumeration from the beginning
var InitialPage Page

// Observer receives the result of [Enumerator.EnumerateItems].
// Exactly one of FinishEnumerating or FinishWithError ends an enumeration.
type Observer interface {
	DidEnumerate(items []mediafs.Item)
	FinishEnumerating(next Page)
	FinishWithError(err error)
}

// Enumerator lists one container. Observer callbacks run on the lister's dispatcher.
type Enumerator struct {
	id     mediafs.Identifier
	path   mediafs.Path
	err    error // set when id cannot be enumerated
	lister Lister
	logger zerolog.Logger

	mu       sync.Mutex
	inFlight map[*request.Request]struct{}
}

// New creates an enumerator for the container id. Identifiers that do not name
// a container are accepted here and fail when enumerated.
func New(id mediafs.Identifier, lister Lister) *Enumerator {
	e := &Enumerator{
		id:       id,
		lister:   lister,
		logger:   util.GetLogger("Enumerator").With().Str("identifier", string(id)).Logger(),
		inFlight: make(map[*request.Request]struct{}),
	}
	e.path, e.err = resolve(id)
	e.logger.Debug().Stringer("path", e.path).Err(e.err).Msg("Created enumerator")
	return e
}

// resolve maps id to the container path it enumerates
func resolve(id mediafs.Identifier) (mediafs.Path, error) {
	if id.IsRoot() {
		return nil, nil
	}
	p, err := mediafs.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate %q: %w", id, err)
	}
	if !mediafs.IsDirectoryName(p.Name()) {
		return nil, fmt.Errorf("cannot enumerate file %q: %w", p, mediafs.ErrUnsupported)
	}
	return p, nil
}

func (e *Enumerator) Identifier() mediafs.Identifier { return e.id }

// Path is the enumerated container, nil for the root
func (e *Enumerator) Path() mediafs.Path { return e.path }

// Err reports why the identifier cannot be enumerated, if it can't
func (e *Enumerator) Err() error { return e.err }

// EnumerateItems reports the container's children as one batch followed by
// FinishEnumerating(nil). Errors from the lister are forwarded unchanged.
func (e *Enumerator) EnumerateItems(observer Observer, page Page) {
	e.logger.Trace().Int("page", len(page)).Msg("Enumerating items")
	e.list(observer.FinishWithError, func(items []mediafs.Item) {
		observer.DidEnumerate(items)
		observer.FinishEnumerating(nil)
	})
}

// list fetches the children and calls exactly one of fail or ok on the dispatcher.
// Unenumerable identifiers fail without touching the network.
func (e *Enumerator) list(fail func(error), ok func([]mediafs.Item)) {
	if e.err != nil {
		e.dispatch(func() { fail(e.err) })
		return
	}

	var r *request.Request
	var err error
	e.mu.Lock()
	r, err = e.lister.ListChildren(e.path, func(items []mediafs.Item, err error) {
		e.mu.Lock()
		delete(e.inFlight, r)
		e.mu.Unlock()

		if err != nil {
			e.logger.Debug().Err(err).Msg("Enumeration failed")
			fail(err)
			return
		}
		e.logger.Debug().Int("count", len(items)).Msg("Enumerated items")
		ok(items)
	})
	if err == nil {
		e.inFlight[r] = struct{}{}
	}
	e.mu.Unlock()

	if err != nil {
		e.dispatch(func() { fail(err) })
	}
}

func (e *Enumerator) dispatch(fn func()) {
	if !e.lister.Dispatcher().Dispatch(fn) {
		e.logger.Warn().Msg("Dispatcher closed, dropping observer callback")
	}
}

// Invalidate cancels outstanding listings. Their observers are not called.
func (e *Enumerator) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for r := range e.inFlight {
		r.Cancel()
	}
	clear(e.inFlight)
}
