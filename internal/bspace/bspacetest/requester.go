// Package bspacetest provides an in-memory Requester for tests of the
// content tree and the download driver.
package bspacetest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing/iotest"

	"bmirror/internal/transport"
)

// Requester serves canned bodies by exact URL and counts requests.
// Unknown URLs answer 404.
type Requester struct {
	Bodies map[string]string
	Status map[string]int
	Errors map[string]error
	// BodyErrors end the body of a URL with an error instead of EOF.
	BodyErrors map[string]error
	Calls      map[string]int
}

func New() *Requester {
	return &Requester{
		Bodies: map[string]string{},
		Status: map[string]int{},
		Errors:     map[string]error{},
		BodyErrors: map[string]error{},
		Calls:      map[string]int{},
	}
}

// Serve registers body for rawURL with status 200.
func (r *Requester) Serve(rawURL, body string) *Requester {
	r.Bodies[rawURL] = body
	return r
}

// Fail makes requests for rawURL return err.
func (r *Requester) Fail(rawURL string, err error) *Requester {
	r.Errors[rawURL] = err
	return r
}

// Truncate serves body for rawURL and then fails the read with err.
func (r *Requester) Truncate(rawURL, body string, err error) *Requester {
	r.Bodies[rawURL] = body
	r.BodyErrors[rawURL] = err
	return r
}

// Total returns the number of requests issued so far.
func (r *Requester) Total() int {
	n := 0
	for _, c := range r.Calls {
		n += c
	}
	return n
}

func (r *Requester) Get(ctx context.Context, rawURL string, params url.Values) (*transport.Response, error) {
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}
	r.Calls[rawURL]++
	if err := r.Errors[rawURL]; err != nil {
		return nil, &transport.Error{Method: http.MethodGet, URL: rawURL, Err: err}
	}
	body, ok := r.Bodies[rawURL]
	code := http.StatusOK
	if s, set := r.Status[rawURL]; set {
		code = s
	} else if !ok {
		code = http.StatusNotFound
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	var rd io.Reader = strings.NewReader(body)
	if berr := r.BodyErrors[rawURL]; berr != nil {
		rd = io.MultiReader(rd, iotest.ErrReader(berr))
	}
	return &transport.Response{Response: &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     http.Header{},
		Body:       io.NopCloser(rd),
		Request:    req,
	}}, nil
}
