// Package main is the lspsession command: it opens one file against its
// configured language server and prints hover, completions and
// diagnostics.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/lspsession/internal/config"
	"github.com/dshills/lspsession/internal/logging"
	"github.com/dshills/lspsession/internal/lsp"
	"github.com/dshills/lspsession/internal/watch"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, errHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if opts.ShowVersion {
		fmt.Fprintf(stdout, "lspsession %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load config: %v\n", err)
		return 1
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.Log.File = opts.LogFile
	}

	log, closeLog, err := openLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := lsp.NewManager(cfg.ServerConfigs(),
		lsp.WithRequestTimeout(cfg.Request.Timeout.Std()),
		lsp.WithShutdownTimeout(cfg.Shutdown.Timeout.Std()),
		lsp.WithRootPath(opts.Workspace),
		lsp.WithLogger(log),
	)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Shutdown.Timeout.Std())
		defer cancel()
		if err := mgr.ShutdownAll(sctx); err != nil {
			log.Warn("shutdown: %v", err)
		}
	}()

	p := newPrinter(stdout)
	if err := inspect(ctx, mgr, opts, p, log); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func openLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, func(), error) {
	out := stderr
	closeFn := func() {}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}
	log := logging.New(logging.Config{
		Level:  cfg.LogLevel(),
		Output: out,
		Prefix: config.AppName,
	})
	return log, closeFn, nil
}

// inspect opens opts.File and prints whatever was asked for.
func inspect(ctx context.Context, mgr *lsp.Manager, opts options, p *printer, log *logging.Logger) error {
	text, err := os.ReadFile(opts.File)
	if err != nil {
		return err
	}

	session, err := mgr.SessionFor(ctx, opts.File)
	if err != nil {
		return err
	}
	if info := session.ServerInfo(); info != nil {
		log.Info("connected to %s %s", info.Name, info.Version)
	}

	if err := session.DidOpen(ctx, opts.File, "", string(text)); err != nil {
		return err
	}

	if opts.Hover != nil {
		pos := lsp.PositionFromRunes(string(text), opts.Hover.Line, opts.Hover.Character)
		hover, err := session.Hover(ctx, opts.File, pos.Line, pos.Character)
		if err != nil {
			return fmt.Errorf("hover: %w", err)
		}
		p.Hover(hover)
	}

	if opts.Complete != nil {
		pos := lsp.PositionFromRunes(string(text), opts.Complete.Line, opts.Complete.Character)
		list, err := session.RequestCompletion(ctx, opts.File, pos.Line, pos.Character)
		if err != nil {
			return fmt.Errorf("completion: %w", err)
		}
		p.Completions(list)
	}

	diags := waitDiagnostics(ctx, session, opts.File, opts.DiagnosticsWait)
	p.Diagnostics(opts.File, string(text), diags)

	if !opts.Watch {
		return nil
	}
	return watchLoop(ctx, session, opts, p, log)
}

// waitDiagnostics returns the diagnostics already published for path, or
// waits up to wait for the first set.
func waitDiagnostics(ctx context.Context, session *lsp.Session, path string, wait time.Duration) *lsp.PublishedDiagnostics {
	if diags, ok := session.FileDiagnostics(ctx, path); ok || wait <= 0 {
		return diags
	}

	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	diags, err := session.WaitForDiagnostics(wctx, path)
	if err != nil {
		return nil
	}
	return diags
}

// watchLoop forwards workspace file events to the server, resyncs the
// opened file when it changes on disk, and reprints its diagnostics until
// ctx is cancelled.
func watchLoop(ctx context.Context, session *lsp.Session, opts options, p *printer, log *logging.Logger) error {
	target := lsp.FilePathToURI(opts.File)

	notifier := watch.NotifierFunc(func(ctx context.Context, events []lsp.FileEvent) error {
		if err := session.DidChangeWatchedFiles(ctx, events); err != nil {
			return err
		}
		for _, ev := range events {
			if ev.URI != target || ev.Type == lsp.FileDeleted {
				continue
			}
			text, err := os.ReadFile(opts.File)
			if err != nil {
				return err
			}
			if err := session.DidChange(ctx, opts.File, string(text)); err != nil {
				return err
			}
		}
		return nil
	})

	w, err := watch.New(notifier, watch.WithLogger(log))
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.AddRecursive(opts.Workspace); err != nil {
		return err
	}

	unsubscribe := session.Router().Subscribe("textDocument/publishDiagnostics", func(n *lsp.ServerNotification) error {
		if lsp.DocumentURI(gjson.GetBytes(n.Params, "uri").String()) != target {
			return nil
		}
		text, err := os.ReadFile(opts.File)
		if err != nil {
			return err
		}
		if diags, ok := session.Diagnostics().Get(target); ok {
			p.Diagnostics(opts.File, string(text), diags)
		}
		return nil
	})
	defer unsubscribe()

	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	fmt.Fprintf(p.out, "watching %s (Ctrl-C to stop)\n", opts.Workspace)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-errc
			return ctx.Err()
		case err := <-errc:
			return err
		case <-ticker.C:
			if err := session.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if !session.Alive() {
				return fmt.Errorf("%s: server exited", filepath.Base(opts.File))
			}
		}
	}
}
