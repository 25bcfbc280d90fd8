package client

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/config"
	"github.com/brettbedarf/mediafs/internal/mocks"
	"github.com/brettbedarf/mediafs/internal/util"
	"github.com/brettbedarf/mediafs/request"
)

const waitTimeout = 5 * time.Second

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := config.NewConfig(&config.ConfigOverride{
		BaseURL: util.Pointer(baseURL),
		Workers: util.Pointer(2),
	})
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// await waits for a callback result
func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

type listResult struct {
	items []mediafs.Item
	err   error
}

func list(t *testing.T, c *Client, p mediafs.Path) listResult {
	t.Helper()
	ch := make(chan listResult, 1)
	_, err := c.ListChildren(p, func(items []mediafs.Item, err error) {
		ch <- listResult{items, err}
	})
	require.NoError(t, err)
	return await(t, ch)
}

func errCallback() (func(error), chan error) {
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc string
		url  string
	}{
		{"empty", ""},
		{"unsupported scheme", "ftp://media.local"},
		{"unparseable", "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			t.Parallel()
			cfg := config.NewConfig(&config.ConfigOverride{BaseURL: util.Pointer(tt.url)})
			c, err := New(cfg)
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestClient_ContentURL(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "http://localhost:8080/")

	tests := []struct {
		desc     string
		path     mediafs.Path
		preview  bool
		wantPath string
		wantID   string
		wantDir  *string
	}{
		{"nested file", mediafs.Path{"a", "b", "c.png"}, false, "/file", "c.png", util.Pointer("a/b")},
		{"top level file", mediafs.Path{"c.png"}, false, "/file", "c.png", nil},
		{"preview", mediafs.Path{"albums", "cat.jpg"}, true, "/preview", "cat.jpg", util.Pointer("albums")},
		{"reserved characters", mediafs.Path{"a&b", "x=y+z.png"}, false, "/file", "x=y+z.png", util.Pointer("a&b")},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			t.Parallel()
			u, err := c.ContentURL(tt.path, tt.preview)
			require.NoError(t, err)

			assert.Equal(t, "localhost:8080", u.Host)
			assert.Equal(t, tt.wantPath, u.Path)
			q := u.Query()
			assert.Equal(t, tt.wantID, q.Get("id"))
			if tt.wantDir == nil {
				assert.False(t, q.Has("path"), "path param must be omitted")
			} else {
				assert.Equal(t, *tt.wantDir, q.Get("path"))
			}
		})
	}

	t.Run("root", func(t *testing.T) {
		t.Parallel()
		_, err := c.ContentURL(nil, false)
		assert.ErrorIs(t, err, mediafs.ErrNoSuchItem)
	})
	t.Run("invalid segment", func(t *testing.T) {
		t.Parallel()
		_, err := c.ContentURL(mediafs.Path{"a", ""}, false)
		assert.Error(t, err)
	})
}

func TestClient_ListChildren_Root(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/media", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		_, _ = io.WriteString(w, `[{"name":"photo.png","size":100}]`)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL)

	res := list(t, c, nil)

	require.NoError(t, res.err)
	require.Len(t, res.items, 1)
	item := res.items[0]
	assert.Equal(t, "photo.png", item.Name)
	require.NotNil(t, item.Size)
	assert.EqualValues(t, 100, *item.Size)
	assert.True(t, item.Parent.IsRoot())
	assert.False(t, item.IsDirectory())
}

func TestClient_ListChildren_Nested(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddFile("albums/2024/cat.png", []byte("meow"))
	srv.AddDir("albums/2024/summer")
	c := newTestClient(t, srv.URL)

	res := list(t, c, mediafs.Path{"albums", "2024"})

	require.NoError(t, res.err)
	require.Len(t, res.items, 2)
	assert.Equal(t, "cat.png", res.items[0].Name)
	assert.EqualValues(t, 4, *res.items[0].Size)
	assert.Equal(t, "summer", res.items[1].Name)
	assert.Nil(t, res.items[1].Size)
	assert.True(t, res.items[1].IsDirectory())
	for _, item := range res.items {
		assert.Equal(t, mediafs.Path{"albums", "2024"}, item.Parent)
	}

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "albums/2024", reqs[0].Query.Get("path"))
}

func TestClient_ListChildren_PlainNames(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddFile("a.png", nil)
	srv.AddDir("b")
	srv.UsePlainNames(true)
	c := newTestClient(t, srv.URL)

	res := list(t, c, nil)

	require.NoError(t, res.err)
	require.Len(t, res.items, 2)
	assert.Equal(t, "a.png", res.items[0].Name)
	assert.Nil(t, res.items[0].Size)
	assert.Equal(t, "b", res.items[1].Name)
}

func TestClient_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc   string
		status int
		body   string
		check  func(t *testing.T, res listResult)
	}{
		{
			desc:   "error document",
			status: http.StatusNotFound,
			body:   `{"error":"not found"}`,
			check: func(t *testing.T, res listResult) {
				var re *mediafs.ResponseError
				require.ErrorAs(t, res.err, &re)
				assert.Equal(t, http.StatusNotFound, re.Code)
				assert.Equal(t, "not found", re.Message)
			},
		},
		{
			desc:   "unparseable error body",
			status: http.StatusInternalServerError,
			body:   "<html>oops</html>",
			check: func(t *testing.T, res listResult) {
				var se *mediafs.ServerError
				require.ErrorAs(t, res.err, &se)
				assert.Equal(t, http.StatusInternalServerError, se.Code)
			},
		},
		{
			desc:   "JSON error body without message",
			status: http.StatusBadGateway,
			body:   `{"detail":"x"}`,
			check: func(t *testing.T, res listResult) {
				assert.Equal(t, http.StatusBadGateway, mediafs.StatusCode(res.err))
				var se *mediafs.ServerError
				assert.ErrorAs(t, res.err, &se)
			},
		},
		{
			desc:   "empty success body",
			status: http.StatusOK,
			body:   "",
			check: func(t *testing.T, res listResult) {
				require.NoError(t, res.err)
				assert.NotNil(t, res.items)
				assert.Empty(t, res.items)
			},
		},
		{
			desc:   "undecodable success body",
			status: http.StatusOK,
			body:   `{"name":"not an array"}`,
			check: func(t *testing.T, res listResult) {
				var de *mediafs.DecodeError
				assert.ErrorAs(t, res.err, &de)
				assert.Nil(t, res.items)
			},
		},
		{
			desc:   "entry with delimiter",
			status: http.StatusOK,
			body:   `["a/b"]`,
			check: func(t *testing.T, res listResult) {
				var de *mediafs.DecodeError
				assert.ErrorAs(t, res.err, &de)
			},
		},
		{
			desc:   "entry without name",
			status: http.StatusOK,
			body:   `[{"size":3}]`,
			check: func(t *testing.T, res listResult) {
				var de *mediafs.DecodeError
				assert.ErrorAs(t, res.err, &de)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			t.Cleanup(srv.Close)
			c := newTestClient(t, srv.URL)

			tt.check(t, list(t, c, nil))
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	c := newTestClient(t, addr)

	res := list(t, c, nil)

	var te *mediafs.TransportError
	assert.ErrorAs(t, res.err, &te)
}

func TestClient_CreateDirectory(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddDir("albums")
	c := newTestClient(t, srv.URL)

	done, ch := errCallback()
	_, err := c.CreateDirectory(mediafs.Path{"albums", "new dir"}, done)
	require.NoError(t, err)
	require.NoError(t, await(t, ch))
	assert.True(t, srv.HasDir("albums/new dir"))

	req := srv.Requests()[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", req.ContentType)
	assert.Equal(t, "path=albums%2Fnew%20dir", string(req.Body))

	t.Run("conflict", func(t *testing.T) {
		done, ch := errCallback()
		_, err := c.CreateDirectory(mediafs.Path{"albums"}, done)
		require.NoError(t, err)
		var re *mediafs.ResponseError
		require.ErrorAs(t, await(t, ch), &re)
		assert.Equal(t, http.StatusConflict, re.Code)
	})

	t.Run("root", func(t *testing.T) {
		_, err := c.CreateDirectory(nil, func(error) { t.Error("callback must not run") })
		assert.ErrorIs(t, err, mediafs.ErrUnsupported)
	})
}

func TestClient_Remove(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddFile("albums/cat.png", []byte("meow"))
	c := newTestClient(t, srv.URL)

	done, ch := errCallback()
	_, err := c.Remove(mediafs.Path{"albums", "cat.png"}, done)
	require.NoError(t, err)
	require.NoError(t, await(t, ch))

	_, ok := srv.File("albums/cat.png")
	assert.False(t, ok)
	req := srv.Requests()[0]
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "albums/cat.png", req.Query.Get("path"))

	done, ch = errCallback()
	_, err = c.Remove(mediafs.Path{"albums", "cat.png"}, done)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, mediafs.StatusCode(await(t, ch)))
}

func TestClient_Upload(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddDir("albums")
	c := newTestClient(t, srv.URL)

	done, ch := errCallback()
	_, err := c.Upload([]byte("pixels"), mediafs.Path{"albums", "dog.png"}, done)
	require.NoError(t, err)
	require.NoError(t, await(t, ch))

	data, ok := srv.File("albums/dog.png")
	require.True(t, ok)
	assert.Equal(t, "pixels", string(data))

	req := srv.Requests()[0]
	assert.Equal(t, "/file", req.Path)
	assert.Equal(t, "application/octet-stream", req.ContentType)
	assert.Equal(t, "dog.png", req.Query.Get("id"))
	assert.Equal(t, "albums", req.Query.Get("path"))
}

func TestClient_Download(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddFile("albums/cat.png", []byte("meow"))
	c := newTestClient(t, srv.URL)

	t.Run("writes destination", func(t *testing.T) {
		t.Parallel()
		dest := filepath.Join(t.TempDir(), "nested", "cat.png")
		done, ch := errCallback()
		_, err := c.Download(mediafs.Path{"albums", "cat.png"}, dest, done)
		require.NoError(t, err)
		require.NoError(t, await(t, ch))

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "meow", string(data))
		entries, err := os.ReadDir(filepath.Dir(dest))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp file must not be left behind")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		dest := filepath.Join(t.TempDir(), "gone.png")
		done, ch := errCallback()
		_, err := c.Download(mediafs.Path{"gone.png"}, dest, done)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, mediafs.StatusCode(await(t, ch)))
		assert.NoFileExists(t, dest)
	})

	t.Run("copy failure", func(t *testing.T) {
		t.Parallel()
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, nil, 0o600))
		done, ch := errCallback()
		// parent of dest is a regular file
		_, err := c.Download(mediafs.Path{"albums", "cat.png"}, filepath.Join(blocker, "cat.png"), done)
		require.NoError(t, err)
		err = await(t, ch)
		require.Error(t, err)
		assert.Zero(t, mediafs.StatusCode(err))
	})
}

func TestClient_FetchPreview(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddFile("cat.png", []byte("meow"))
	c := newTestClient(t, srv.URL)

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	_, err := c.FetchPreview(mediafs.Path{"cat.png"}, func(data []byte, err error) { ch <- result{data, err} })
	require.NoError(t, err)

	res := await(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, mocks.PreviewPrefix+"meow", string(res.data))
	assert.Equal(t, "/preview", srv.Requests()[0].Path)
}

func TestClient_CancelSuppressesCallback(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	c := newTestClient(t, srv.URL)

	called := make(chan struct{}, 1)
	r, err := c.ListChildren(nil, func([]mediafs.Item, error) { called <- struct{}{} })
	require.NoError(t, err)
	r.Cancel()

	select {
	case <-r.Done():
	case <-time.After(waitTimeout):
		t.Fatal("request did not finish")
	}
	// a queued callback would run before this marker
	marker := make(chan struct{})
	c.Dispatcher().Dispatch(func() { close(marker) })
	<-marker
	assert.Empty(t, called)
}

func TestClient_ClosedRejectsOperations(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	c := newTestClient(t, srv.URL)
	c.Close()

	_, err := c.ListChildren(nil, func([]mediafs.Item, error) {})
	assert.ErrorIs(t, err, request.ErrQueueClosed)
}
