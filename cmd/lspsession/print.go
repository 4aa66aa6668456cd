package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/dshills/lspsession/internal/lsp"
)

// printer writes results to out. Severity colours follow fatih/color's
// NoColor detection.
type printer struct {
	mu  sync.Mutex
	out io.Writer

	errorColor   *color.Color
	warningColor *color.Color
	infoColor    *color.Color
	hintColor    *color.Color
	dim          *color.Color
	bold         *color.Color
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:          out,
		errorColor:   color.New(color.FgRed, color.Bold),
		warningColor: color.New(color.FgYellow),
		infoColor:    color.New(color.FgCyan),
		hintColor:    color.New(color.FgHiBlack),
		dim:          color.New(color.Faint),
		bold:         color.New(color.Bold),
	}
}

func (p *printer) severity(sev lsp.DiagnosticSeverity) string {
	label := sev.String()
	switch sev {
	case lsp.DiagnosticSeverityError:
		return p.errorColor.Sprint(label)
	case lsp.DiagnosticSeverityWarning:
		return p.warningColor.Sprint(label)
	case lsp.DiagnosticSeverityInformation:
		return p.infoColor.Sprint(label)
	case lsp.DiagnosticSeverityHint:
		return p.hintColor.Sprint(label)
	default:
		return label
	}
}

// Diagnostics prints one line per diagnostic, with 1-based line and rune
// columns like compilers print. text is the document the ranges refer to.
func (p *printer) Diagnostics(path, text string, diags *lsp.PublishedDiagnostics) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := filepath.Base(path)
	if diags == nil || len(diags.Diagnostics) == 0 {
		fmt.Fprintf(p.out, "%s: no diagnostics\n", name)
		return
	}

	for _, d := range diags.Diagnostics {
		source := ""
		if d.Source != "" {
			source = p.dim.Sprintf(" [%s]", d.Source)
		}
		fmt.Fprintf(p.out, "%s:%d:%d: %s: %s%s\n",
			name, d.Range.Start.Line+1, lsp.RuneColumn(text, d.Range.Start)+1,
			p.severity(d.Severity), d.Message, source)
	}
	fmt.Fprintf(p.out, "%s: %d error(s), %d warning(s), %d info, %d hint(s)\n",
		name, diags.ErrorCount, diags.WarningCount, diags.InfoCount, diags.HintCount)
}

// Hover prints the hover contents.
func (p *printer) Hover(h *lsp.Hover) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h == nil {
		fmt.Fprintln(p.out, "no hover information")
		return
	}
	fmt.Fprintln(p.out, p.bold.Sprint("hover:"))
	for _, line := range strings.Split(strings.TrimRight(h.Contents.Value, "\n"), "\n") {
		fmt.Fprintf(p.out, "  %s\n", line)
	}
}

// Completions prints one item per line with its detail.
func (p *printer) Completions(list *lsp.CompletionList) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if list == nil {
		fmt.Fprintln(p.out, "no completions")
		return
	}
	header := fmt.Sprintf("completions (%d):", len(list.Items))
	if list.IsIncomplete {
		header = fmt.Sprintf("completions (%d, incomplete):", len(list.Items))
	}
	fmt.Fprintln(p.out, p.bold.Sprint(header))
	for _, item := range list.Items {
		if item.Detail != "" {
			fmt.Fprintf(p.out, "  %s %s\n", item.Label, p.dim.Sprint(item.Detail))
			continue
		}
		fmt.Fprintf(p.out, "  %s\n", item.Label)
	}
}
