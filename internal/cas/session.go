package cas

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"bmirror/internal/transport"
)

// Session is an authenticated request surface. Its cookie set is fixed at
// Login; there is no refresh or re-login. A cookie is only sent to the
// service host, or to the hosts its Domain attribute names.
type Session struct {
	client  *transport.Client
	service *url.URL
	cookies []*http.Cookie
}

// NewSession wraps an already known cookie set issued for serviceURL, e.g.
// one restored by a caller.
func NewSession(client *transport.Client, serviceURL string, cookies []*http.Cookie) (*Session, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("cas: service url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("cas: service url %q has no host", serviceURL)
	}
	return &Session{client: client, service: u, cookies: append([]*http.Cookie(nil), cookies...)}, nil
}

// Cookies returns a copy of the session's cookie set.
func (s *Session) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, len(s.cookies))
	for i, c := range s.cookies {
		cp := *c
		out[i] = &cp
	}
	return out
}

// Do sends method to rawURL with the session cookies. params go to the query
// string, form (if non-nil) is sent as an urlencoded body. Cookies set by
// the server along a redirect chain apply to the rest of that chain only.
func (s *Session) Do(ctx context.Context, method, rawURL string, params, form url.Values) (*transport.Response, error) {
	jar, err := s.jar()
	if err != nil {
		return nil, &transport.Error{Method: method, URL: rawURL, Err: err}
	}
	return s.client.Do(ctx, transport.Request{
		Method: method,
		URL:    rawURL,
		Params: params,
		Form:   form,
		Jar:    jar,
	})
}

// jar seeds a fresh jar with the session cookies. Host-only cookies are
// scoped to the service host; every cookie applies to all paths.
func (s *Session) jar() (http.CookieJar, error) {
	jar, err := transport.NewJar()
	if err != nil {
		return nil, err
	}
	for _, c := range s.cookies {
		ck := *c
		ck.Path = "/"
		u := &url.URL{Scheme: s.service.Scheme, Host: s.service.Host, Path: "/"}
		if d := strings.TrimPrefix(ck.Domain, "."); d != "" {
			u.Host = d
		}
		jar.SetCookies(u, []*http.Cookie{&ck})
	}
	return jar, nil
}

func (s *Session) Get(ctx context.Context, rawURL string, params url.Values) (*transport.Response, error) {
	return s.Do(ctx, http.MethodGet, rawURL, params, nil)
}

func (s *Session) Post(ctx context.Context, rawURL string, params, form url.Values) (*transport.Response, error) {
	return s.Do(ctx, http.MethodPost, rawURL, params, form)
}

func (s *Session) Put(ctx context.Context, rawURL string, params, form url.Values) (*transport.Response, error) {
	return s.Do(ctx, http.MethodPut, rawURL, params, form)
}

func (s *Session) Delete(ctx context.Context, rawURL string, params url.Values) (*transport.Response, error) {
	return s.Do(ctx, http.MethodDelete, rawURL, params, nil)
}

func (s *Session) Head(ctx context.Context, rawURL string, params url.Values) (*transport.Response, error) {
	return s.Do(ctx, http.MethodHead, rawURL, params, nil)
}

func (s *Session) Options(ctx context.Context, rawURL string, params url.Values) (*transport.Response, error) {
	return s.Do(ctx, http.MethodOptions, rawURL, params, nil)
}

// ExpectOK turns a non-2xx response into an ErrProtocol error. The body is
// drained and closed in that case.
func ExpectOK(resp *transport.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.Request == nil {
		return fmt.Errorf("%w: status %d", ErrProtocol, resp.StatusCode)
	}
	return fmt.Errorf("%w: %s %s: status %d", ErrProtocol, resp.Request.Method, resp.Request.URL, resp.StatusCode)
}
