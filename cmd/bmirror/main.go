// Command bmirror logs into a CAS-protected Sakai installation and mirrors
// site assignments and resources to local disk.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bmirror/internal/config"
)

const skipConfig = "skip-config"

// app holds what every command shares once flags and config are parsed.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	cfgPath string
	dotenv  string
	outDir  string
	debug   bool
	plain   bool

	cfg config.Config
	log *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	a.plain = !isTerminal(os.Stdout)
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "bmirror",
		Short:         "Mirror bSpace sites to local disk",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				a.log = newLogger(a.stderr, a.debug)
				return nil
			}
			return a.setup()
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	f := root.PersistentFlags()
	f.StringVar(&a.cfgPath, "config", "", "path to config json (optional)")
	f.StringVar(&a.dotenv, "env", ".env", "dotenv file loaded before environment overrides")
	f.StringVar(&a.outDir, "out", "", "output directory (overrides config)")
	f.BoolVar(&a.debug, "debug", false, "log every HTTP request")
	f.BoolVar(&a.plain, "plain", a.plain, "plain output without colors or borders")

	root.AddCommand(
		sitesCmd(a),
		treeCmd(a),
		downloadCmd(a),
		verifyCmd(a),
		serveCmd(a),
		passwdCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.cfgPath, a.dotenv)
	if err != nil {
		return err
	}
	if a.outDir != "" {
		cfg.OutputDir = a.outDir
	}
	abs, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return err
	}
	cfg.OutputDir = abs
	a.cfg = cfg
	a.log = newLogger(a.stderr, a.debug || cfg.DebugRequests)
	return nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
