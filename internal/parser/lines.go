package parser

import (
	"strings"
	"unicode/utf8"
)

// line is one physical source line relative to the block being parsed.
type line struct {
	text   string // leading indentation kept, trailing whitespace removed
	num    int    // 1-based line number in the source
	offset int    // byte offset of text[0] in the source
}

func (l line) blank() bool { return l.text == "" }

func (l line) indent() int {
	return len(l.text) - len(strings.TrimLeft(l.text, " "))
}

// splitLines normalizes line endings, expands tabs and splits src.
func splitLines(src string, tabSize int) []line {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.ReplaceAll(src, "\r", "\n")

	var out []line
	offset := 0
	for i, raw := range strings.Split(src, "\n") {
		text := strings.TrimRight(expandTabs(raw, tabSize), " \t\f\v")
		out = append(out, line{text: text, num: i + 1, offset: offset})
		offset += len(raw) + 1
	}
	return out
}

func expandTabs(s string, size int) string {
	if !strings.Contains(s, "\t") {
		return s
	}
	var sb strings.Builder
	col := 0
	for _, r := range s {
		if r == '\t' {
			n := size - col%size
			sb.WriteString(strings.Repeat(" ", n))
			col += n
			continue
		}
		sb.WriteRune(r)
		col++
	}
	return sb.String()
}

// dedent strips n columns from every non-blank line.
func dedent(lines []line, n int) []line {
	out := make([]line, len(lines))
	for i, l := range lines {
		if l.blank() {
			out[i] = l
			continue
		}
		cut := min(n, l.indent())
		out[i] = line{text: l.text[cut:], num: l.num, offset: l.offset + cut}
	}
	return out
}

// minIndent returns the smallest indentation among non-blank lines.
func minIndent(lines []line) int {
	m := -1
	for _, l := range lines {
		if l.blank() {
			continue
		}
		if ind := l.indent(); m < 0 || ind < m {
			m = ind
		}
	}
	return max(m, 0)
}

// trimBlank drops leading and trailing blank lines.
func trimBlank(lines []line) []line {
	for len(lines) > 0 && lines[0].blank() {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1].blank() {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// indentedBlock collects lines starting at i that are blank or indented
// by at least minInd columns. Trailing blank lines are not consumed.
func indentedBlock(lines []line, i, minInd int) ([]line, int) {
	end := i
	for j := i; j < len(lines); j++ {
		if lines[j].blank() {
			continue
		}
		if lines[j].indent() < minInd {
			break
		}
		end = j + 1
	}
	if end < i {
		end = i
	}
	return lines[i:end], end
}

func joinText(lines []line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.text
	}
	return strings.Join(parts, "\n")
}

const adornmentChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// adornment reports whether s is a run of one repeated punctuation
// character and returns that character.
func adornment(s string) (byte, bool) {
	if len(s) < 2 || strings.IndexByte(adornmentChars, s[0]) < 0 {
		return 0, false
	}
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return 0, false
		}
	}
	return s[0], true
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
