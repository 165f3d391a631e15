package rest

import (
	"fmt"
	"net/http"

	"github.com/defra/pafs-backend/codec"
	"github.com/defra/pafs-backend/ioutils"
)

// Response wraps the raw HTTP response returned by Client.Execute.
type Response struct {
	raw    *http.Response
	client *Client
}

// IsSuccess determines if the response is a success response.
func (r *Response) IsSuccess() bool {
	return r.raw.StatusCode >= 200 && r.raw.StatusCode <= 204
}

// GetError gets the error with status code and value.
func (r *Response) GetError() (err error) {
	if !r.IsSuccess() {
		err = fmt.Errorf("server responded with status code %d and status text %s",
			r.raw.StatusCode, r.raw.Status)
	}
	return
}

// Decode decodes the response body into v. The format is determined by the
// response's Content-Type header.
func (r *Response) Decode(v interface{}) (err error) {
	var c codec.Codec
	if r.IsSuccess() {
		defer ioutils.CloserFunc(r.raw.Body)
		contentType := r.raw.Header.Get(ContentTypeHeader)
		c, err = codec.Get(contentType, r.client.options.codecOptions)
		if err == nil {
			err = c.Read(r.raw.Body, v)
		}
	} else {
		err = r.GetError()
	}
	return
}

// Status provides the status text of the http response.
func (r *Response) Status() string {
	return r.Raw().Status
}

// StatusCode provides the status code of the response.
func (r *Response) StatusCode() int {
	return r.Raw().StatusCode
}

// Raw provides the backend raw response.
func (r *Response) Raw() *http.Response {
	return r.raw
}
