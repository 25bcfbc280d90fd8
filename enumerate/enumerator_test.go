package enumerate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/config"
	"github.com/brettbedarf/mediafs/client"
	"github.com/brettbedarf/mediafs/internal/mocks"
	"github.com/brettbedarf/mediafs/internal/util"
)

// recorder is an Observer and ChangeObserver that keeps every call
type recorder struct {
	batches  [][]mediafs.Item
	next     Page
	finished bool
	err      error

	updated    [][]mediafs.Item
	deleted    [][]mediafs.Identifier
	anchor     SyncAnchor
	moreComing bool

	done chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) DidEnumerate(items []mediafs.Item) { r.batches = append(r.batches, items) }
func (r *recorder) FinishEnumerating(next Page) {
	r.finished = true
	r.next = next
	close(r.done)
}

func (r *recorder) FinishWithError(err error) {
	r.err = err
	close(r.done)
}
func (r *recorder) DidUpdate(items []mediafs.Item)      { r.updated = append(r.updated, items) }
func (r *recorder) DidDelete(ids []mediafs.Identifier) { r.deleted = append(r.deleted, ids) }
func (r *recorder) FinishEnumeratingChanges(anchor SyncAnchor, moreComing bool) {
	r.finished = true
	r.anchor = anchor
	r.moreComing = moreComing
	close(r.done)
}

func (r *recorder) wait(t *testing.T) *recorder {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("observer not finished")
	}
	return r
}

func newLister(t *testing.T) *mocks.MockLister {
	t.Helper()
	l := mocks.NewMockLister()
	t.Cleanup(l.D.Close)
	return l
}

func mustEncode(t *testing.T, p mediafs.Path) mediafs.Identifier {
	t.Helper()
	id, err := mediafs.Encode(p)
	require.NoError(t, err)
	return id
}

func size(n int64) *int64 { return &n }

func TestEnumerator_Root(t *testing.T) {
	t.Parallel()
	lister := newLister(t)
	items := []mediafs.Item{{Name: "photo.png", Size: size(100)}, {Name: "albums"}}
	lister.On("ListChildren", mediafs.Path(nil)).Return(items, nil, nil).Once()

	e := New(mediafs.RootIdentifier, lister)
	assert.NoError(t, e.Err())
	assert.True(t, e.Path().IsRoot())

	obs := newRecorder()
	e.EnumerateItems(obs, InitialPage)
	obs.wait(t)

	require.NoError(t, obs.err)
	assert.True(t, obs.finished)
	assert.Nil(t, obs.next)
	require.Len(t, obs.batches, 1)
	assert.Equal(t, items, obs.batches[0])
	lister.AssertExpectations(t)
}

func TestEnumerator_Directory(t *testing.T) {
	t.Parallel()
	lister := newLister(t)
	dir := mediafs.Path{"albums", "2024"}
	lister.On("ListChildren", dir).Return(func(p mediafs.Path) []mediafs.Item {
		return []mediafs.Item{{Name: "cat.png", Parent: p}}
	}, nil, nil)

	e := New(mustEncode(t, dir), lister)
	obs := newRecorder()
	e.EnumerateItems(obs, InitialPage)
	obs.wait(t)

	require.NoError(t, obs.err)
	require.Len(t, obs.batches, 1)
	require.Len(t, obs.batches[0], 1)
	assert.Equal(t, mustEncode(t, mediafs.Path{"albums", "2024", "cat.png"}), obs.batches[0][0].Identifier())
}

func TestEnumerator_EmptyListing(t *testing.T) {
	t.Parallel()
	lister := newLister(t)
	lister.On("ListChildren", mock.Anything).Return([]mediafs.Item{}, nil, nil)

	obs := newRecorder()
	New(mediafs.RootIdentifier, lister).EnumerateItems(obs, InitialPage)
	obs.wait(t)

	assert.True(t, obs.finished)
	require.Len(t, obs.batches, 1, "an empty page is still reported")
	assert.Empty(t, obs.batches[0])
}

func TestEnumerator_LeafUnsupported(t *testing.T) {
	t.Parallel()
	lister := newLister(t)

	e := New(mustEncode(t, mediafs.Path{"albums", "cat.png"}), lister)
	assert.ErrorIs(t, e.Err(), mediafs.ErrUnsupported)

	obs := newRecorder()
	e.EnumerateItems(obs, InitialPage)
	obs.wait(t)

	assert.ErrorIs(t, obs.err, mediafs.ErrUnsupported)
	assert.Empty(t, obs.batches)
	lister.AssertNotCalled(t, "ListChildren", mock.Anything)
}

func TestEnumerator_MalformedIdentifier(t *testing.T) {
	t.Parallel()

	for _, id := range []mediafs.Identifier{"", "!!!", "YS8vYg"} {
		t.Run(string(id), func(t *testing.T) {
			t.Parallel()
			lister := newLister(t)

			obs := newRecorder()
			New(id, lister).EnumerateItems(obs, InitialPage)
			obs.wait(t)

			assert.ErrorIs(t, obs.err, mediafs.ErrMalformedIdentifier)
			lister.AssertNotCalled(t, "ListChildren", mock.Anything)
		})
	}
}

func TestEnumerator_ForwardsErrors(t *testing.T) {
	t.Parallel()

	t.Run("async", func(t *testing.T) {
		t.Parallel()
		lister := newLister(t)
		want := &mediafs.ResponseError{Code: 404, Message: "not found"}
		lister.On("ListChildren", mock.Anything).Return(nil, want, nil)

		obs := newRecorder()
		New(mediafs.RootIdentifier, lister).EnumerateItems(obs, InitialPage)
		obs.wait(t)

		assert.Same(t, want, obs.err)
		assert.Empty(t, obs.batches)
	})

	t.Run("submit", func(t *testing.T) {
		t.Parallel()
		lister := newLister(t)
		want := errors.New("queue closed")
		lister.On("ListChildren", mock.Anything).Return(nil, nil, want)

		obs := newRecorder()
		New(mediafs.RootIdentifier, lister).EnumerateItems(obs, InitialPage)
		obs.wait(t)

		assert.Equal(t, want, obs.err)
	})
}

func TestEnumerator_InvalidateCancelsListing(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddFile("a.png", []byte("x"))
	cfg := config.NewConfig(&config.ConfigOverride{BaseURL: util.Pointer(srv.URL)})
	c, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	e := New(mediafs.RootIdentifier, c)
	obs := newRecorder()
	e.EnumerateItems(obs, InitialPage)
	e.Invalidate()

	// either it finished before invalidation or nothing is reported
	marker := make(chan struct{})
	require.Eventually(t, func() bool { return c.InFlight() == 0 }, 5*time.Second, 5*time.Millisecond)
	c.Dispatcher().Dispatch(func() { close(marker) })
	<-marker
	select {
	case <-obs.done:
		assert.NoError(t, obs.err)
	default:
		assert.Empty(t, obs.batches)
	}
}

func TestEnumerator_AgainstClient(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddFile("albums/cat.png", []byte("meow"))
	srv.AddDir("albums/2024")
	cfg := config.NewConfig(&config.ConfigOverride{BaseURL: util.Pointer(srv.URL)})
	c, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	obs := newRecorder()
	New(mustEncode(t, mediafs.Path{"albums"}), c).EnumerateItems(obs, InitialPage)
	obs.wait(t)

	require.NoError(t, obs.err)
	require.Len(t, obs.batches, 1)
	names := []string{}
	for _, it := range obs.batches[0] {
		names = append(names, it.Name)
		assert.Equal(t, mediafs.Path{"albums"}, it.Parent)
	}
	assert.Equal(t, []string{"2024", "cat.png"}, names)
}
