package provider

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/client"
	"github.com/brettbedarf/mediafs/config"
	"github.com/brettbedarf/mediafs/internal/mocks"
	"github.com/brettbedarf/mediafs/internal/util"
)

const waitTimeout = 5 * time.Second

func newTestProvider(t *testing.T, baseURL string) (*Provider, *client.Client) {
	t.Helper()
	cfg := config.NewConfig(&config.ConfigOverride{BaseURL: util.Pointer(baseURL)})
	c, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return New(c, t.TempDir()), c
}

func id(t *testing.T, segs ...string) mediafs.Identifier {
	t.Helper()
	out, err := mediafs.Encode(mediafs.Path(segs))
	require.NoError(t, err)
	return out
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}

func TestProvider_Item(t *testing.T) {
	t.Parallel()
	p, _ := newTestProvider(t, "http://localhost:8080")

	root, err := p.Item(mediafs.RootIdentifier)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	item, err := p.Item(id(t, "albums", "cat.png"))
	require.NoError(t, err)
	assert.Equal(t, "cat.png", item.Name)
	assert.Equal(t, mediafs.Path{"albums"}, item.Parent)
	assert.Equal(t, id(t, "albums", "cat.png"), item.Identifier())

	_, err = p.Item("!!not-base64")
	assert.ErrorIs(t, err, mediafs.ErrNoSuchItem)
	assert.ErrorIs(t, err, mediafs.ErrMalformedIdentifier)
}

func TestProvider_StorageLayout(t *testing.T) {
	t.Parallel()
	p, _ := newTestProvider(t, "http://localhost:8080")
	fileID := id(t, "albums", "cat.png")

	local, err := p.URLForItem(fileID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.StorageRoot(), string(fileID), "cat.png"), local)

	got, err := p.IdentifierForURL(local)
	require.NoError(t, err)
	assert.Equal(t, fileID, got)

	for _, bad := range []string{
		p.StorageRoot(),
		filepath.Join(p.StorageRoot(), "only-one"),
		filepath.Join(p.StorageRoot(), "a", "b", "c"),
		filepath.Join(filepath.Dir(p.StorageRoot()), "elsewhere", "x.png"),
	} {
		_, err := p.IdentifierForURL(bad)
		assert.ErrorIs(t, err, mediafs.ErrNoSuchItem, bad)
	}
}

func TestProvider_EnumeratorFor(t *testing.T) {
	t.Parallel()
	p, _ := newTestProvider(t, "http://localhost:8080")

	e, err := p.EnumeratorFor(mediafs.RootIdentifier)
	require.NoError(t, err)
	assert.True(t, e.Path().IsRoot())

	e, err = p.EnumeratorFor(id(t, "albums"))
	require.NoError(t, err)
	assert.Equal(t, mediafs.Path{"albums"}, e.Path())

	_, err = p.EnumeratorFor(id(t, "albums", "cat.png"))
	assert.ErrorIs(t, err, mediafs.ErrUnsupported)

	_, err = p.EnumeratorFor("%%%")
	assert.ErrorIs(t, err, mediafs.ErrNoSuchItem)
}

func TestProvider_StartStopProviding(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddFile("albums/cat.png", []byte("meow"))
	p, _ := newTestProvider(t, srv.URL)

	local, err := p.URLForItem(id(t, "albums", "cat.png"))
	require.NoError(t, err)

	ch := make(chan error, 1)
	r, err := p.StartProviding(local, func(err error) { ch <- err })
	require.NoError(t, err)
	require.NotNil(t, r)
	require.NoError(t, waitErr(t, ch))

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))
	assert.Len(t, srv.Requests(), 1)

	// already present, no download
	r, err = p.StartProviding(local, func(err error) { ch <- err })
	require.NoError(t, err)
	assert.Nil(t, r)
	require.NoError(t, waitErr(t, ch))
	assert.Len(t, srv.Requests(), 1)

	require.NoError(t, p.StopProviding(local))
	assert.NoFileExists(t, local)
	require.NoError(t, p.StopProviding(local), "missing copy is fine")
	assert.Error(t, p.StopProviding("/etc/passwd"))
}

func TestProvider_StartProviding_DownloadFailure(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	p, _ := newTestProvider(t, srv.URL)

	local, err := p.URLForItem(id(t, "missing.png"))
	require.NoError(t, err)

	ch := make(chan error, 1)
	_, err = p.StartProviding(local, func(err error) { ch <- err })
	require.NoError(t, err)
	assert.Equal(t, 404, mediafs.StatusCode(waitErr(t, ch)))
	assert.NoFileExists(t, local)
}

func TestProvider_ImportDocument(t *testing.T) {
	t.Parallel()
	srv := mocks.NewMediaServer(t)
	srv.AddDir("albums")
	p, _ := newTestProvider(t, srv.URL)

	src := filepath.Join(t.TempDir(), "holiday.jpeg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg bytes"), 0o600))

	ch := make(chan error, 1)
	item, err := p.ImportDocument(src, id(t, "albums"), func(err error) { ch <- err })
	require.NoError(t, err)
	require.NoError(t, waitErr(t, ch))

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f-]{36}\.jpeg$`), item.Name)
	assert.Equal(t, mediafs.Path{"albums"}, item.Parent)
	require.NotNil(t, item.Size)
	assert.EqualValues(t, 10, *item.Size)
	assert.Equal(t, mediafs.ContentTypeJPEG, item.ContentType())

	data, ok := srv.File("albums/" + item.Name)
	require.True(t, ok)
	assert.Equal(t, "jpeg bytes", string(data))

	t.Run("root parent", func(t *testing.T) {
		ch := make(chan error, 1)
		item, err := p.ImportDocument(src, mediafs.RootIdentifier, func(err error) { ch <- err })
		require.NoError(t, err)
		require.NoError(t, waitErr(t, ch))
		assert.True(t, item.Parent.IsRoot())
		_, ok := srv.File(item.Name)
		assert.True(t, ok)
	})

	t.Run("file parent", func(t *testing.T) {
		_, err := p.ImportDocument(src, id(t, "albums", "cat.png"), func(error) {})
		assert.ErrorIs(t, err, mediafs.ErrUnsupported)
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := p.ImportDocument(filepath.Join(t.TempDir(), "nope.png"), mediafs.RootIdentifier, func(error) {})
		assert.ErrorIs(t, err, mediafs.ErrNoSuchItem)
	})

	t.Run("upload failure reported", func(t *testing.T) {
		ch := make(chan error, 1)
		_, err := p.ImportDocument(src, id(t, "no-such-dir"), func(err error) { ch <- err })
		require.NoError(t, err)
		assert.Equal(t, 404, mediafs.StatusCode(waitErr(t, ch)))
	})
}

func TestImportName(t *testing.T) {
	t.Parallel()
	assert.Regexp(t, `^[0-9a-f-]{36}\.png$`, importName("a.b.png"))
	assert.Regexp(t, `^[0-9a-f-]{36}\.README$`, importName("README"))
	assert.NotEqual(t, importName("x.png"), importName("x.png"))
}

func TestProvider_SetLastUsed(t *testing.T) {
	t.Parallel()
	p, _ := newTestProvider(t, "http://localhost:8080")
	now := time.Now()

	item, err := p.SetLastUsed(id(t, "cat.png"), &now)
	require.NoError(t, err)
	require.NotNil(t, item.LastUsedAt)
	assert.True(t, now.Equal(*item.LastUsedAt))

	_, err = p.SetLastUsed("!!", &now)
	assert.ErrorIs(t, err, mediafs.ErrNoSuchItem)
}
