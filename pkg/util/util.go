package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"github.com/xplshn/aslc/pkg/token"
	"golang.org/x/term"
)

var (
	ErrorStyle   = pterm.NewStyle(pterm.FgRed, pterm.Bold)
	WarnStyle    = pterm.NewStyle(pterm.FgYellow, pterm.Bold)
	InfoStyle    = pterm.NewStyle(pterm.FgCyan)
	CaretStyle   = pterm.NewStyle(pterm.FgGreen)
	ProgramName  = "aslc"
	verbose      bool
	logOutput    io.Writer = os.Stderr
	logOutputMtx sync.Mutex
)

func init() {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		pterm.DisableColor()
	}
}

// SetVerbose enables Verbose output.
func SetVerbose(v bool) { verbose = v }

// SetLogOutput redirects Info and Verbose output.
func SetLogOutput(w io.Writer) {
	logOutputMtx.Lock()
	defer logOutputMtx.Unlock()
	logOutput = w
}

func logf(format string, args ...interface{}) {
	logOutputMtx.Lock()
	defer logOutputMtx.Unlock()
	fmt.Fprintf(logOutput, "%s: %s %s\n", ProgramName, InfoStyle.Sprint("info:"), fmt.Sprintf(format, args...))
}

// Info prints a progress line on stderr.
func Info(format string, args ...interface{}) { logf(format, args...) }

// Verbose prints only when verbose output is enabled.
func Verbose(format string, args ...interface{}) {
	if verbose {
		logf(format, args...)
	}
}

// Fatal prints an error without a position and exits. Only commands call it.
func Fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s: %s %s\n", ProgramName, ErrorStyle.Sprint("error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

// Reporter prints positioned diagnostics with the offending source line and
// a caret under the column. Sources not registered with AddSource are read
// from disk on first use; when that fails the source line is omitted.
type Reporter struct {
	out      io.Writer
	mu       sync.Mutex
	sources  map[string][]rune
	Errors   int
	Warnings int
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out, sources: make(map[string][]rune)}
}

func (r *Reporter) AddSource(rec SourceFileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[rec.Name] = rec.Content
}

func (r *Reporter) source(name string) []rune {
	if content, ok := r.sources[name]; ok {
		return content
	}
	var content []rune
	if data, err := os.ReadFile(name); err == nil {
		content = []rune(string(data))
	}
	r.sources[name] = content
	return content
}

// Error prints an error diagnostic.
func (r *Reporter) Error(pos token.Pos, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors++
	fmt.Fprintf(r.out, "%s: %s %s\n", location(pos), ErrorStyle.Sprint("error:"), fmt.Sprintf(format, args...))
	r.printErrorLine(pos)
}

// Warn prints a warning diagnostic tagged with the flag that controls it.
func (r *Reporter) Warn(name string, pos token.Pos, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings++
	fmt.Fprintf(r.out, "%s: %s %s [-W%s]\n", location(pos), WarnStyle.Sprint("warning:"), fmt.Sprintf(format, args...), name)
	r.printErrorLine(pos)
}

func location(pos token.Pos) string {
	if !pos.IsValid() {
		if pos.File != "" {
			return pos.File
		}
		return ProgramName
	}
	return pos.String()
}

// printErrorLine prints the source line and a caret indicating the position
func (r *Reporter) printErrorLine(pos token.Pos) {
	if pos.File == "" || pos.Line <= 0 {
		return
	}
	content := r.source(pos.File)
	if content == nil {
		return
	}

	lineNum := pos.Line
	lineStart := 0
	for i, c := range content {
		if lineNum <= 1 {
			break
		}
		if c == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}
	if lineNum > 1 {
		return
	}
	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(r.out, "  %s\n", string(content[lineStart:lineEnd]))
	col := pos.Column
	if col < 1 {
		col = 1
	}
	caret := "^"
	if pos.Len > 1 {
		caret += strings.Repeat("~", pos.Len-1)
	}
	fmt.Fprintf(r.out, "  %s%s\n", strings.Repeat(" ", col-1), CaretStyle.Sprint(caret))
}
