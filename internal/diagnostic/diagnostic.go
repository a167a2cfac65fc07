// Package diagnostic turns Clafer compiler output into source ranges.
//
// The compiler reports errors as free text on stdout. Two message shapes are
// recognized:
//
//	Parse failed at line 15 column 2...
//	Compile error at line 20 column 5...
//	syntax error at line 15 before dfjsjlk
//
// Every match becomes an error Diagnostic whose position is clamped into the
// bounds of the document that was compiled, so a stale or bogus line number
// never produces a range the editor would reject.
package diagnostic

import (
	"errors"
	"math"
	"regexp"
	"strconv"
)

// Severity indicates the severity of a diagnostic.
type Severity int

// Severity levels, numbered as the editor protocol numbers them.
const (
	SeverityError       Severity = 1
	SeverityWarning     Severity = 2
	SeverityInformation Severity = 3
	SeverityHint        Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	}
	return "unknown"
}

// Diagnostic is a single compiler error mapped onto the source document.
// Line and Column are zero-based; EndColumn is the length of Line, so the
// marker runs to the end of the line.
type Diagnostic struct {
	Line      int      `json:"line"`
	Column    int      `json:"column"`
	EndColumn int      `json:"end_column"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

var (
	// "Parse failed at line N column M..." or "Compile error at line N column M..".
	locatedPattern = regexp.MustCompile(`(Parse failed|Compile error) at line (\d+) column (\d+)\.\.\.?`)

	// "syntax error at line N before <text>"; the compiler gives no column.
	syntaxPattern = regexp.MustCompile(`syntax error at line (\d+) before ([^\r\n]*)`)
)

// Parse scans compiler stdout and returns one diagnostic per recognized
// message. All located errors come first in output order, followed by all
// syntax errors. The message of each diagnostic is the matched text.
func Parse(stdout string, lines Lines) []Diagnostic {
	var diagnostics []Diagnostic

	for _, m := range locatedPattern.FindAllStringSubmatch(stdout, -1) {
		line := toZeroBased(m[2])
		col := toZeroBased(m[3])
		diagnostics = append(diagnostics, newError(lines, line, col, m[0]))
	}

	for _, m := range syntaxPattern.FindAllStringSubmatch(stdout, -1) {
		line := toZeroBased(m[1])
		diagnostics = append(diagnostics, newError(lines, line, 0, m[0]))
	}

	return diagnostics
}

func newError(lines Lines, line, col int, message string) Diagnostic {
	r := Clamp(lines, line, col)
	return Diagnostic{
		Line:      r.Line,
		Column:    r.Column,
		EndColumn: r.EndColumn,
		Message:   message,
		Severity:  SeverityError,
	}
}

// toZeroBased converts a 1-based decimal number from compiler output to a
// zero-based index, floored at zero. Numbers too large for int saturate.
func toZeroBased(digits string) int {
	n, err := strconv.Atoi(digits)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return math.MaxInt - 1
		}
		return 0
	}
	if n <= 0 {
		return 0
	}
	return n - 1
}
