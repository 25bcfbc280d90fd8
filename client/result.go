package client

import (
	"encoding/json"
	"net/http"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/request"
)

// Result is a finished request reduced to what domain operations need
type Result struct {
	StatusCode int
	Body       []byte
	Err        error // nil on success; one of the mediafs error types otherwise
}

// classify maps a finished request to a [Result].
//
//   - transport failure: [mediafs.TransportError]
//   - status >= 400 with {"error": "..."}: [mediafs.ResponseError]
//   - any other status >= 400: [mediafs.ServerError]
func classify(r *request.Request) Result {
	res := Result{StatusCode: r.StatusCode(), Body: r.Data()}
	if err := r.Err(); err != nil {
		res.Err = err
		return res
	}
	if res.StatusCode < http.StatusBadRequest {
		return res
	}

	var body ErrorDTO
	if err := json.Unmarshal(res.Body, &body); err == nil && body.Error != nil {
		res.Err = &mediafs.ResponseError{Code: res.StatusCode, Message: *body.Error}
	} else {
		res.Err = &mediafs.ServerError{Code: res.StatusCode}
	}
	return res
}
