package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"bmirror/internal/bspace"
	"bmirror/internal/cas"
	"bmirror/internal/transport"
)

// connect logs in and returns the root of the content tree.
func (a *app) connect(ctx context.Context) (*bspace.Client, error) {
	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}
	client, err := transport.New(transport.Options{Logger: a.log, MaxRedirects: a.cfg.MaxRedirects})
	if err != nil {
		return nil, err
	}
	sess, err := cas.Login(ctx, client, a.cfg.CASLogin, a.cfg.Service, creds)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	a.log.Debug("logged in", "user", creds.Username, "cookies", len(sess.Cookies()))
	return bspace.New(sess, bspace.DefaultEndpoints(a.cfg.Base),
		bspace.WithLogger(a.log),
		bspace.WithMaxDepth(a.cfg.MaxDepth),
	), nil
}

// credentials returns the configured credentials and prompts for the
// missing ones. The password is read without echo on a terminal.
func (a *app) credentials() (cas.Credentials, error) {
	creds := cas.Credentials{Username: a.cfg.Username, Password: a.cfg.Password}
	in := bufio.NewReader(a.stdin)
	if creds.Username == "" {
		fmt.Fprint(a.stderr, "CalNet ID: ")
		line, err := readLine(in)
		if err != nil {
			return creds, fmt.Errorf("read username: %w", err)
		}
		creds.Username = line
	}
	if creds.Password == "" {
		fmt.Fprint(a.stderr, "Passphrase: ")
		if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(a.stderr)
			if err != nil {
				return creds, fmt.Errorf("read password: %w", err)
			}
			creds.Password = string(b)
		} else {
			line, err := readLine(in)
			if err != nil {
				return creds, fmt.Errorf("read password: %w", err)
			}
			creds.Password = line
		}
	}
	if creds.Username == "" || creds.Password == "" {
		return creds, errors.New("username and password are required")
	}
	return creds, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
