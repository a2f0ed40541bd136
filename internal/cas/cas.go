// Package cas logs into a service through the Central Authentication Service
// ticket handshake and exposes the resulting cookie-authenticated session.
package cas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"bmirror/internal/transport"
)

var (
	// ErrAuth means the handshake finished without a usable cookie set,
	// usually because the credentials were rejected.
	ErrAuth = errors.New("cas: authentication failed")

	// ErrProtocol means a response did not have the expected shape, which
	// points at a changed remote interface rather than bad input.
	ErrProtocol = errors.New("cas: unexpected response")
)

// Credentials are submitted once during Login and not retained.
type Credentials struct {
	Username string
	Password string
}

// Login performs the ticket handshake against loginURL for serviceURL.
//
// The login form is fetched to obtain the single-use "lt" token, then the
// credentials are posted with it. Cookies are taken from the final response
// of the POST or, when it set none, from the most recent redirect in the
// chain that did.
func Login(ctx context.Context, client *transport.Client, loginURL, serviceURL string, creds Credentials) (*Session, error) {
	params := url.Values{"service": {serviceURL}}

	page, err := client.Do(ctx, transport.Request{Method: http.MethodGet, URL: loginURL, Params: params})
	if err != nil {
		return nil, err
	}
	lt, err := loginTicket(page.Body)
	_ = page.Body.Close()
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"username": {creds.Username},
		"password": {creds.Password},
		"lt":       {lt},
		"_eventId": {"submit"},
	}
	resp, err := client.Do(ctx, transport.Request{Method: http.MethodPost, URL: loginURL, Params: params, Form: form})
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	cookies := sessionCookies(resp)
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: no cookies in login response chain (status %d)", ErrAuth, resp.StatusCode)
	}
	return NewSession(client, serviceURL, cookies)
}

// sessionCookies applies the cookie resolution order: the final response
// first, then the redirect history from newest to oldest.
func sessionCookies(resp *transport.Response) []*http.Cookie {
	if cs := resp.Cookies(); len(cs) > 0 {
		return cs
	}
	for i := len(resp.History) - 1; i >= 0; i-- {
		if cs := resp.History[i].Cookies(); len(cs) > 0 {
			return cs
		}
	}
	return nil
}

func loginTicket(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("%w: login page: %v", ErrProtocol, err)
	}
	in := findInput(doc, "lt")
	if in == nil {
		return "", fmt.Errorf("%w: login form has no lt field", ErrProtocol)
	}
	v, ok := attr(in, "value")
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: login form lt field is empty", ErrProtocol)
	}
	return v, nil
}

func findInput(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Input {
		if v, _ := attr(n, "name"); v == name {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findInput(c, name); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
