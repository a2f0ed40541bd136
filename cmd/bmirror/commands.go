package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"bmirror/internal/auth"
	"bmirror/internal/bspace"
	"bmirror/internal/httpserver"
	"bmirror/internal/mirror"
	"bmirror/internal/output"
)

func sitesCmd(a *app) *cobra.Command {
	var attrs []string
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "List sites (index, id, title)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			sites, err := c.Sites(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, output.SiteTable(sites, output.TableOptions{Pretty: !a.plain, Attrs: attrs}))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&attrs, "attr", nil, "extra site attributes to show")
	return cmd
}

func treeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <site>",
		Short: "Render the remote tree of one site",
		Long:  "Render the remote tree of one site. <site> is a list index, a site id or an exact title.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			sites, err := c.Sites(ctx)
			if err != nil {
				return err
			}
			site, err := bspace.Select(sites, args[0])
			if err != nil {
				return err
			}
			out, err := output.SiteTree(ctx, site)
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, out)
			return nil
		},
	}
}

func downloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download [site...]",
		Short: "Mirror the given sites (all when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			sites, err := c.Sites(ctx)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				picked := make([]*bspace.Site, 0, len(args))
				for _, sel := range args {
					s, err := bspace.Select(sites, sel)
					if err != nil {
						return err
					}
					picked = append(picked, s)
				}
				sites = picked
			}
			return a.download(ctx, c, sites)
		},
	}
}

func (a *app) download(ctx context.Context, c *bspace.Client, sites []*bspace.Site) error {
	root := a.cfg.OutputDir
	if err := os.MkdirAll(root, 0o755); err != nil {
		return &mirror.FSError{Op: "mkdir", Path: root, Err: err}
	}
	manifest, err := mirror.LoadManifest(root)
	if err != nil {
		return err
	}
	r := output.New(a.stdout, !a.plain)
	var (
		files  int
		bytes  int64
		failed int
	)
	d := mirror.New(c.Requester(), root,
		mirror.WithLogger(a.log),
		mirror.WithManifest(manifest),
		mirror.WithProgress(func(p mirror.Progress) {
			files++
			bytes += p.Size
			r.Written(p)
		}),
	)
	for _, s := range sites {
		err := d.Site(ctx, s)
		if serr := manifest.Save(); serr != nil {
			return serr
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			failed++
			a.log.Error("site failed", slog.String("site", s.String()), slog.Any("error", err))
			r.Failed(s.String(), err)
		}
	}
	r.Summary(files, bytes, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d sites failed", failed, len(sites))
	}
	return nil
}

func verifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check mirrored files against the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mirror.LoadManifest(a.cfg.OutputDir)
			if err != nil {
				return err
			}
			if m.Len() == 0 {
				return fmt.Errorf("no manifest entries in %s", a.cfg.OutputDir)
			}
			results, err := m.Verify(cmd.Context())
			if err != nil {
				return err
			}
			if n := output.New(a.stdout, !a.plain).Verified(results); n > 0 {
				return fmt.Errorf("%d files failed verification", n)
			}
			return nil
		},
	}
}

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the output directory read-only over HTTP and WebDAV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Serve.Addr
			}
			s, err := httpserver.New(httpserver.Options{
				Root:   a.cfg.OutputDir,
				Users:  a.cfg.Serve.Users,
				Logger: a.log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           s.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			a.log.Info("serving mirror", slog.String("addr", addr), slog.String("root", a.cfg.OutputDir), slog.Bool("auth", len(a.cfg.Serve.Users) > 0))

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func passwdCmd(a *app) *cobra.Command {
	var (
		password string
		cost     int
	)
	cmd := &cobra.Command{
		Use:         "passwd",
		Short:       "Print a bcrypt hash for serve.users",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, h)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (required)")
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
