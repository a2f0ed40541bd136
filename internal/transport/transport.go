package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

const defaultMaxRedirects = 10

// ErrTooManyRedirects is wrapped in an *Error when a redirect chain is longer
// than Options.MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// Error is a failure to complete an HTTP exchange (connection refused, reset,
// cancelled context, broken redirect). It is never retried here.
type Error struct {
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Options struct {
	// Logger receives one debug record per outgoing request. Default: slog.Default().
	Logger *slog.Logger
	// MaxRedirects bounds a single redirect chain. Default: 10.
	MaxRedirects int
	// RoundTripper overrides http.DefaultTransport (tests, proxies).
	RoundTripper http.RoundTripper
}

// Client issues HTTP requests through a cookie jar and follows redirects
// itself so that every intermediate response stays visible to the caller.
type Client struct {
	jarred       *http.Client
	rt           http.RoundTripper
	jar          http.CookieJar
	log          *slog.Logger
	maxRedirects int
}

func New(opts Options) (*Client, error) {
	jar, err := NewJar()
	if err != nil {
		return nil, err
	}
	rt := opts.RoundTripper
	if rt == nil {
		rt = http.DefaultTransport
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	limit := opts.MaxRedirects
	if limit <= 0 {
		limit = defaultMaxRedirects
	}
	stop := func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &Client{
		jarred:       &http.Client{Transport: rt, Jar: jar, CheckRedirect: stop},
		rt:           rt,
		jar:          jar,
		log:          log,
		maxRedirects: limit,
	}, nil
}

// NewJar returns an empty cookie jar that scopes cookies by registrable
// domain.
func NewJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return jar, nil
}

// Jar returns the cookie jar bound to the client.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// Request describes one logical request; redirects are followed internally.
type Request struct {
	Method string
	URL    string
	// Params are merged into the query string of the first hop.
	Params url.Values
	// Form is sent urlencoded as the body.
	Form url.Values
	// Jar, when non-nil, replaces the client jar for this request. Each hop
	// gets only the cookies Jar holds for that hop's URL, and cookies set
	// along the chain land in Jar.
	Jar http.CookieJar
}

// Response is the last response of a redirect chain. History holds the
// earlier responses, oldest first, with their bodies already closed.
type Response struct {
	*http.Response
	History []*http.Response
}

// Do sends r and follows redirects. The caller must close the body of the
// returned response.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	target, err := withParams(r.URL, r.Params)
	if err != nil {
		return nil, &Error{Method: method, URL: r.URL, Err: err}
	}
	hc := c.jarred
	if r.Jar != nil {
		hc = &http.Client{Transport: c.rt, Jar: r.Jar, CheckRedirect: c.jarred.CheckRedirect}
	}

	form := r.Form
	var history []*http.Response
	for hop := 0; ; hop++ {
		req, err := newRequest(ctx, method, target, form)
		if err != nil {
			return nil, &Error{Method: method, URL: target, Err: err}
		}
		c.log.Debug("http request", slog.String("method", method), slog.String("url", target))
		resp, err := hc.Do(req)
		if err != nil {
			var ue *url.Error
			if errors.As(err, &ue) {
				err = ue.Err
			}
			return nil, &Error{Method: method, URL: target, Err: err}
		}
		loc, ok := redirectTarget(resp)
		if !ok {
			return &Response{Response: resp, History: history}, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		history = append(history, resp)
		if hop+1 > c.maxRedirects {
			return nil, &Error{Method: method, URL: target, Err: ErrTooManyRedirects}
		}

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
			if method != http.MethodGet && method != http.MethodHead {
				method = http.MethodGet
				form = nil
			}
		}
		target = loc
	}
}

func redirectTarget(resp *http.Response) (string, bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return "", false
	}
	loc, err := resp.Location()
	if err != nil {
		return "", false
	}
	return loc.String(), true
}

func newRequest(ctx context.Context, method, target string, form url.Values) (*http.Request, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

func withParams(raw string, params url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
