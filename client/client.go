// Package client talks to the remote media store. Every operation runs as a
// [request.Request] on the client's queue and reports back on its dispatcher,
// so callbacks from one Client never run concurrently.
package client

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/config"
	"github.com/brettbedarf/mediafs/internal/util"
	"github.com/brettbedarf/mediafs/request"
)

// Endpoints relative to the base url
const (
	MediaEndpoint   = "media"
	FileEndpoint    = "file"
	PreviewEndpoint = "preview"
)

type Client struct {
	base       *url.URL
	http       *http.Client
	chunkSize  int
	queue      *request.Queue
	dispatcher *request.Dispatcher
	logger     zerolog.Logger
}

// New starts a client for the store at cfg.BaseURL along with its request
// queue and dispatcher. Call [Client.Close] to release them.
func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", base.Scheme)
	}

	c := &Client{
		base:       base,
		http:       &http.Client{Timeout: cfg.Timeout()},
		chunkSize:  cfg.ChunkSize,
		queue:      request.NewQueue(cfg.QueueName, cfg.Workers),
		dispatcher: request.NewDispatcher(),
		logger:     util.GetLogger("Client"),
	}
	c.logger.Debug().Str("base", base.String()).Msg("Client created")
	return c, nil
}

// Dispatcher is the context every completion runs on
func (c *Client) Dispatcher() *request.Dispatcher {
	return c.dispatcher
}

// InFlight returns the number of operations still running
func (c *Client) InFlight() int {
	return c.queue.InFlight()
}

// Close cancels outstanding operations and waits for already queued callbacks
func (c *Client) Close() {
	c.queue.Close()
	c.dispatcher.Close()
}

func (c *Client) endpoint(name string) string {
	return c.base.String() + "/" + name
}

// contentQuery splits p into id=<last> and, when non-empty, path=<leading>
func contentQuery(p mediafs.Path) (request.Params, error) {
	if p.IsRoot() {
		return nil, fmt.Errorf("root has no content: %w", mediafs.ErrNoSuchItem)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	leading, last := p.Split()
	q := request.Params{}.Add("id", last)
	if !leading.IsRoot() {
		q = q.Add("path", leading.String())
	}
	return q, nil
}

// ContentURL returns the url serving the bytes of p, or its preview
func (c *Client) ContentURL(p mediafs.Path, preview bool) (*url.URL, error) {
	q, err := contentQuery(p)
	if err != nil {
		return nil, err
	}
	endpoint := FileEndpoint
	if preview {
		endpoint = PreviewEndpoint
	}
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + endpoint
	u.RawQuery = q.Encode(request.QueryAllowed)
	return &u, nil
}

// prepared bundles the configuration applied to every request
type prepared struct {
	query request.Params
	form  request.Params
	body  []byte
}

// submit builds a request, wires classification and queues it. deliver runs on
// the dispatcher, unless the request is cancelled.
// onFinished, if set, runs on the worker before delivery and may replace the result.
func (c *Client) submit(method request.Method, endpoint string, p prepared, onFinished func(Result) Result, deliver func(Result)) (*request.Request, error) {
	r := request.New(method, c.endpoint(endpoint))
	err := errors.Join(
		r.SetClient(c.http),
		r.SetChunkSize(c.chunkSize),
		r.SetQuery(p.query),
	)
	if p.form != nil {
		err = errors.Join(err, r.SetForm(p.form))
	}
	if p.body != nil {
		err = errors.Join(err, r.SetBody(p.body, "application/octet-stream"))
	}
	err = errors.Join(err, r.OnComplete(func(r *request.Request) {
		res := classify(r)
		if res.Err == nil && onFinished != nil {
			res = onFinished(res)
		}
		if res.Err != nil {
			c.logger.Debug().Err(res.Err).Str("method", method).Str("url", r.URL()).Msg("Operation failed")
		}
		c.dispatcher.Dispatch(func() { deliver(res) })
	}))
	if err != nil {
		return nil, err
	}
	if err := c.queue.Submit(r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListChildren fetches the direct children of p. Items carry Parent = p.
//
// done runs on the dispatcher and is never called if the returned request is cancelled.
func (c *Client) ListChildren(p mediafs.Path, done func([]mediafs.Item, error)) (*request.Request, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var q request.Params
	if !p.IsRoot() {
		q = q.Add("path", p.String())
	}
	var items []mediafs.Item
	return c.submit(request.MethodGet, MediaEndpoint, prepared{query: q},
		func(res Result) Result {
			items, res.Err = decodeListing(res.Body, p)
			return res
		},
		func(res Result) {
			if res.Err != nil {
				done(nil, res.Err)
				return
			}
			done(items, nil)
		})
}

// CreateDirectory creates the directory p on the store
func (c *Client) CreateDirectory(p mediafs.Path, done func(error)) (*request.Request, error) {
	if p.IsRoot() {
		return nil, fmt.Errorf("cannot create root: %w", mediafs.ErrUnsupported)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	form := request.Params{}.Add("path", p.String())
	return c.submit(request.MethodPost, MediaEndpoint, prepared{form: form}, nil,
		func(res Result) { done(res.Err) })
}

// Remove deletes p from the store
func (c *Client) Remove(p mediafs.Path, done func(error)) (*request.Request, error) {
	if p.IsRoot() {
		return nil, fmt.Errorf("cannot remove root: %w", mediafs.ErrUnsupported)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	q := request.Params{}.Add("path", p.String())
	return c.submit(request.MethodDelete, MediaEndpoint, prepared{query: q}, nil,
		func(res Result) { done(res.Err) })
}

// Upload stores data as the file p
func (c *Client) Upload(data []byte, p mediafs.Path, done func(error)) (*request.Request, error) {
	q, err := contentQuery(p)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return c.submit(request.MethodPost, FileEndpoint, prepared{query: q, body: data}, nil,
		func(res Result) { done(res.Err) })
}

// Download fetches the file p into dest. The payload is written beside dest and
// renamed into place, so dest is either complete or untouched.
func (c *Client) Download(p mediafs.Path, dest string, done func(error)) (*request.Request, error) {
	q, err := contentQuery(p)
	if err != nil {
		return nil, err
	}
	return c.submit(request.MethodGet, FileEndpoint, prepared{query: q},
		func(res Result) Result {
			res.Err = writeFileAtomic(dest, res.Body)
			return res
		},
		func(res Result) { done(res.Err) })
}

// FetchPreview fetches the preview image bytes for p
func (c *Client) FetchPreview(p mediafs.Path, done func([]byte, error)) (*request.Request, error) {
	q, err := contentQuery(p)
	if err != nil {
		return nil, err
	}
	return c.submit(request.MethodGet, PreviewEndpoint, prepared{query: q}, nil,
		func(res Result) {
			if res.Err != nil {
				done(nil, res.Err)
				return
			}
			done(bytes.Clone(res.Body), nil)
		})
}

func writeFileAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}
