package diagnostic

import "unicode/utf16"

// Lines gives line-oriented access to a document.
type Lines interface {
	// LineCount returns the number of lines; at least one for any document.
	LineCount() int
	// Line returns the text of line i without its line terminator.
	Line(i int) string
}

// Range is a single-line span in zero-based coordinates.
type Range struct {
	Line      int
	Column    int
	EndColumn int
}

// Clamp moves line and col into the bounds of lines. The line is clamped to
// [0, LineCount-1] and the column to [0, length of that line], where length is
// counted in UTF-16 code units as editors count columns. The returned range
// ends at the end of the line.
func Clamp(lines Lines, line, col int) Range {
	if lines == nil || lines.LineCount() <= 0 {
		return Range{}
	}
	safeLine := clampInt(line, 0, lines.LineCount()-1)
	maxCol := UTF16Len(lines.Line(safeLine))
	safeCol := clampInt(col, 0, maxCol)
	return Range{Line: safeLine, Column: safeCol, EndColumn: maxCol}
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		size := utf16.RuneLen(r)
		if size < 0 {
			size = 1
		}
		n += size
	}
	return n
}

// Text is an immutable document split into lines.
type Text struct {
	content string
	starts  []int // byte offset of each line start
	ends    []int // byte offset of each line end, before its terminator
}

// NewText indexes content by line. "\n", "\r\n" and a lone "\r" each end a
// line, matching how editors split documents.
func NewText(content string) *Text {
	starts := []int{0}
	var ends []int
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\n':
			ends = append(ends, i)
			starts = append(starts, i+1)
		case '\r':
			ends = append(ends, i)
			if i+1 < len(content) && content[i+1] == '\n' {
				i++
			}
			starts = append(starts, i+1)
		}
	}
	ends = append(ends, len(content))
	return &Text{content: content, starts: starts, ends: ends}
}

// Content returns the full document text.
func (t *Text) Content() string { return t.content }

// LineCount returns the number of lines. Empty content has one empty line.
func (t *Text) LineCount() int { return len(t.starts) }

// Line returns line i without its terminator, or "" when i is out of range.
func (t *Text) Line(i int) string {
	if i < 0 || i >= len(t.starts) {
		return ""
	}
	return t.content[t.starts[i]:t.ends[i]]
}

// LineOffsets returns the byte offset of every line start.
func (t *Text) LineOffsets() []int { return t.starts }
