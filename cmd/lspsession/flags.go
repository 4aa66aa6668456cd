package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/lspsession/internal/config"
	"github.com/dshills/lspsession/internal/logging"
)

var errHelp = errors.New("help requested")

// position is a zero-based line:character pair given on the command line.
type position struct {
	Line      int
	Character int
}

// parsePosition accepts "L:C" with zero-based numbers.
func parsePosition(s string) (*position, error) {
	lineStr, charStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("position %q: want LINE:CHAR", s)
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line < 0 {
		return nil, fmt.Errorf("position %q: bad line", s)
	}
	char, err := strconv.Atoi(charStr)
	if err != nil || char < 0 {
		return nil, fmt.Errorf("position %q: bad character", s)
	}
	return &position{Line: line, Character: char}, nil
}

type options struct {
	ConfigPath      string
	LogLevel        string
	LogFile         string
	Workspace       string
	Hover           *position
	Complete        *position
	Watch           bool
	DiagnosticsWait time.Duration
	ShowVersion     bool
	File            string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	var hover, complete string

	fs := flag.NewFlagSet("lspsession", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.ConfigPath, "config", config.DefaultPath(), "Path to configuration file")
	fs.StringVar(&opts.ConfigPath, "c", config.DefaultPath(), "Path to configuration file (shorthand)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	fs.StringVar(&opts.LogFile, "log-file", "", "Write logs to this file instead of stderr")
	fs.StringVar(&opts.Workspace, "workspace", "", "Workspace root (default: the file's directory)")
	fs.StringVar(&opts.Workspace, "w", "", "Workspace root (shorthand)")
	fs.StringVar(&hover, "hover", "", "Print hover at LINE:CHAR (zero-based)")
	fs.StringVar(&complete, "complete", "", "Print completions at LINE:CHAR (zero-based)")
	fs.BoolVar(&opts.Watch, "watch", false, "Keep running, forward file changes and reprint diagnostics")
	fs.DurationVar(&opts.DiagnosticsWait, "wait", 2*time.Second, "How long to wait for the first diagnostics")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "lspsession - talk to a language server about one file\n\n")
		fmt.Fprintf(stderr, "Usage: lspsession [options] file\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  lspsession main.rs                 Print diagnostics\n")
		fmt.Fprintf(stderr, "  lspsession -hover 12:4 main.rs     Hover at line 12, column 4\n")
		fmt.Fprintf(stderr, "  lspsession -watch -w . main.rs     Follow diagnostics while editing\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, errHelp
		}
		return opts, err
	}

	if opts.ShowVersion {
		return opts, nil
	}

	if opts.LogLevel != "" && !logging.ValidLevel(opts.LogLevel) {
		return opts, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", opts.LogLevel)
	}

	var err error
	if hover != "" {
		if opts.Hover, err = parsePosition(hover); err != nil {
			return opts, err
		}
	}
	if complete != "" {
		if opts.Complete, err = parsePosition(complete); err != nil {
			return opts, err
		}
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return opts, errors.New("exactly one file is required")
	}
	opts.File, err = filepath.Abs(fs.Arg(0))
	if err != nil {
		return opts, err
	}

	if opts.Workspace == "" {
		opts.Workspace = filepath.Dir(opts.File)
	} else if opts.Workspace, err = filepath.Abs(opts.Workspace); err != nil {
		return opts, err
	}

	return opts, nil
}
