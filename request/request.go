// Package request implements an asynchronous HTTP unit of work with an explicit
// lifecycle, a queue to run many of them and a dispatcher to deliver their
// continuations on a single callback context.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/internal/util"
)

type Method = string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// State is the lifecycle position of a [Request]
type State int32

const (
	StateReady State = iota
	StateExecuting
	StateFinished // terminal
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrStarted is returned when mutating a request that already left [StateReady]
var ErrStarted = errors.New("request already started")

// DefaultChunkSize is the read size used while streaming the response body
const DefaultChunkSize = 32 * 1024

// Request is one HTTP exchange. It is configured while ready, run once with
// [Request.Start] and ends in [StateFinished] exactly once, either by transport
// completion or by [Request.Cancel].
//
// The completion callback runs on the goroutine that finished the request and is
// never invoked for a cancelled request.
type Request struct {
	id     string
	method Method
	url    string
	logger zerolog.Logger

	// Guarded by mu. Configuration fields are frozen once the request leaves ready.
	mu          sync.Mutex
	state       State
	cancelled   bool
	cancelFn    context.CancelFunc
	client      *http.Client
	allowed     CharSet
	header      http.Header
	query       Params
	jsonParams  Params
	formParams  Params
	body        []byte
	contentType string
	listeners   []func(from, to State)
	onComplete  func(*Request)
	chunkSize   int

	// Results; read via accessors
	finalURL   string
	statusCode int
	data       bytes.Buffer
	err        error

	done chan struct{}
}

// New creates a ready request for method and url
func New(method Method, url string) *Request {
	id := uuid.NewString()
	return &Request{
		id:        id,
		method:    method,
		url:       url,
		logger:    util.GetLogger("Request").With().Str("id", id).Str("method", method).Logger(),
		client:    http.DefaultClient,
		allowed:   QueryAllowed,
		header:    make(http.Header),
		chunkSize: DefaultChunkSize,
		done:      make(chan struct{}),
	}
}

func (r *Request) ID() string     { return r.id }
func (r *Request) Method() Method { return r.method }

// URL returns the url including the encoded query once started; before that the base url
func (r *Request) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalURL != "" {
		return r.finalURL
	}
	return r.url
}

// mutate applies fn while the request is still ready
func (r *Request) mutate(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReady || r.cancelled {
		return ErrStarted
	}
	fn()
	return nil
}

// SetClient replaces the transport. Defaults to http.DefaultClient.
func (r *Request) SetClient(c *http.Client) error {
	return r.mutate(func() { r.client = c })
}

// SetCharSet sets the characters left unescaped in query and form parameters.
// Defaults to [QueryAllowed].
func (r *Request) SetCharSet(cs CharSet) error {
	return r.mutate(func() { r.allowed = cs })
}

func (r *Request) SetHeader(key, value string) error {
	return r.mutate(func() { r.header.Set(key, value) })
}

// SetQuery sets the parameters appended to the url on start
func (r *Request) SetQuery(p Params) error {
	return r.mutate(func() { r.query = p })
}

// SetJSON sets a JSON object body. Takes priority over form and raw bodies.
func (r *Request) SetJSON(p Params) error {
	return r.mutate(func() { r.jsonParams = p })
}

// SetForm sets a url-form-encoded body, used when no JSON params are set
func (r *Request) SetForm(p Params) error {
	return r.mutate(func() { r.formParams = p })
}

// SetBody sets a raw body, used when neither JSON nor form params are set.
// An empty contentType defaults to application/octet-stream.
func (r *Request) SetBody(data []byte, contentType string) error {
	return r.mutate(func() {
		r.body = data
		r.contentType = contentType
	})
}

// SetChunkSize sets the read buffer size for the streamed response
func (r *Request) SetChunkSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid chunk size %d", n)
	}
	return r.mutate(func() { r.chunkSize = n })
}

// OnStateChange registers a listener for every transition.
// Listeners run on whichever goroutine performs the transition.
func (r *Request) OnStateChange(fn func(from, to State)) error {
	return r.mutate(func() { r.listeners = append(r.listeners, fn) })
}

// OnComplete sets the callback run once when the request finishes without being cancelled
func (r *Request) OnComplete(fn func(*Request)) error {
	return r.mutate(func() { r.onComplete = fn })
}

// State returns the current lifecycle state
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Request) IsCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Done is closed when the request reaches [StateFinished]
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// StatusCode is the HTTP status, or 0 when no response was received
func (r *Request) StatusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusCode
}

// Data returns the accumulated body. It must not be modified.
func (r *Request) Data() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.Bytes()
}

// Err returns the recorded [mediafs.TransportError], if any
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// transition moves to state "to" unless already finished. Returns whether it moved.
func (r *Request) transition(to State) bool {
	r.mu.Lock()
	from := r.state
	if from == StateFinished || from == to {
		r.mu.Unlock()
		return false
	}
	r.state = to
	listeners := r.listeners
	var complete func(*Request)
	if to == StateFinished {
		close(r.done)
		if !r.cancelled {
			complete = r.onComplete
		}
	}
	r.mu.Unlock()

	r.logger.Trace().Stringer("from", from).Stringer("to", to).Msg("State changed")
	for _, fn := range listeners {
		fn(from, to)
	}
	if complete != nil {
		complete(r)
	}
	return true
}

// Cancel stops the transport and finishes the request. Idempotent; whichever of
// Cancel or transport completion comes first determines the outcome.
func (r *Request) Cancel() {
	r.mu.Lock()
	if r.state == StateFinished || r.cancelled {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	if r.cancelFn != nil {
		r.cancelFn()
	}
	r.mu.Unlock()

	r.logger.Debug().Msg("Request cancelled")
	r.transition(StateFinished)
}

// Start runs the exchange on the calling goroutine and returns once finished.
// A cancelled request finishes immediately without touching the network.
// Start is a no-op if the request already left ready.
func (r *Request) Start(ctx context.Context) {
	r.mu.Lock()
	if r.state != StateReady {
		r.mu.Unlock()
		return
	}
	if r.cancelled {
		r.mu.Unlock()
		r.transition(StateFinished)
		return
	}
	r.finalURL = r.buildURL()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancelFn = cancel
	client := r.client
	chunkSize := r.chunkSize
	r.mu.Unlock()

	if !r.transition(StateExecuting) {
		return
	}

	req, err := r.newHTTPRequest(ctx)
	if err != nil {
		r.fail(err)
		return
	}
	r.logger.Debug().Str("url", r.finalURL).Msg("Sending request")

	resp, err := client.Do(req)
	if err != nil {
		r.fail(err)
		return
	}
	defer resp.Body.Close()

	if !r.setStatus(resp.StatusCode) {
		return
	}
	r.logger.Debug().Int("status", resp.StatusCode).Msg("Received response")

	if resp.StatusCode == http.StatusNoContent {
		r.logger.Debug().Msg("Stopping transport on 204 response")
		cancel()
		r.transition(StateFinished)
		return
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 && !r.appendChunk(buf[:n]) {
			return
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.fail(err)
			return
		}
	}

	r.logger.Trace().Int("bytes", r.dataLen()).Msg("Request succeeded")
	r.transition(StateFinished)
}

// buildURL appends the encoded query. Caller holds mu.
func (r *Request) buildURL() string {
	if len(r.query) == 0 {
		return r.url
	}
	sep := "?"
	if strings.Contains(r.url, "?") {
		sep = "&"
	}
	return r.url + sep + r.query.Encode(r.allowed)
}

func (r *Request) newHTTPRequest(ctx context.Context) (*http.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var body io.Reader
	contentType := ""
	switch {
	case len(r.jsonParams) > 0:
		b, err := json.Marshal(r.jsonParams)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
		r.logger.Trace().RawJSON("body", b).Msg("JSON body")
	case len(r.formParams) > 0:
		form := r.formParams.Encode(r.allowed)
		body = strings.NewReader(form)
		contentType = "application/x-www-form-urlencoded"
		r.logger.Trace().Str("body", form).Msg("Form body")
	case r.body != nil:
		body = bytes.NewReader(r.body)
		contentType = r.contentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.finalURL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range r.header {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// fail records a transport error and finishes, unless cancelled first
func (r *Request) fail(err error) {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return
	}
	r.err = &mediafs.TransportError{Err: err}
	r.mu.Unlock()

	r.logger.Debug().Err(err).Msg("Request failed")
	r.transition(StateFinished)
}

func (r *Request) setStatus(code int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return false
	}
	r.statusCode = code
	return true
}

// appendChunk adds data to the buffer. Returns false once cancelled.
func (r *Request) appendChunk(p []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return false
	}
	r.data.Write(p)
	return true
}

func (r *Request) dataLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.Len()
}
