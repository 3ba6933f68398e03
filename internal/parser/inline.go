package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"rstdocs/internal/ast"
)

// Characters allowed immediately before an inline start-string and
// immediately after an inline end-string.
const (
	startBefore = "'\"([{<-/:‘“’«¡¿‐‑‒–—"
	endAfter    = "'\")]}>-/:.,;!?\\’”»‐‑‒–—"
)

var (
	rolePrefixRe  = regexp.MustCompile("^:([A-Za-z0-9](?:[\\w+.\\-]|:\\w)*):`")
	roleSuffixRe  = regexp.MustCompile(`^:([A-Za-z0-9](?:[\w+.\-]|:\w)*):`)
	footnoteRefRe = regexp.MustCompile(`^\[(#[\w\-]*|\*|\d+|[A-Za-z][\w\-.]*)\]_`)
)

type inline struct {
	p    *parser
	src  string
	base ast.Range
	out  []*ast.Node

	buf   []byte
	bufAt int
}

func (p *parser) parseInline(src string, base ast.Range) []*ast.Node {
	in := &inline{p: p, src: src, base: base}
	in.run()
	return in.out
}

func (in *inline) rng(start, end int) ast.Range {
	return ast.Range{
		Start: in.base.Start + start,
		End:   in.base.Start + end,
		Line:  in.base.Line + strings.Count(in.src[:start], "\n"),
	}
}

func (in *inline) write(at int, s string) {
	if len(in.buf) == 0 {
		in.bufAt = at
	}
	in.buf = append(in.buf, s...)
}

func (in *inline) flush() {
	if len(in.buf) == 0 {
		return
	}
	n := ast.New(ast.TypeText, in.rng(in.bufAt, in.bufAt+len(in.buf)))
	n.Text = string(in.buf)
	in.out = append(in.out, n)
	in.buf = in.buf[:0]
}

func (in *inline) emit(n *ast.Node) {
	in.flush()
	in.out = append(in.out, n)
}

func (in *inline) run() {
	s := in.src
	for i := 0; i < len(s); {
		next := -1
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				i++
				continue
			}
			r, size := utf8.DecodeRuneInString(s[i+1:])
			if !unicode.IsSpace(r) {
				in.write(i, s[i+1:i+1+size])
			}
			i += 1 + size
			continue
		case '`':
			if strings.HasPrefix(s[i:], "``") {
				next = in.literal(i)
			} else if startOK(s, i) {
				next = in.backquoted(i, i, "")
			}
		case '*':
			if strings.HasPrefix(s[i:], "**") {
				next = in.wrapped(i, "**", ast.TypeStrong)
			} else {
				next = in.wrapped(i, "*", ast.TypeEmphasis)
			}
		case ':':
			if m := rolePrefixRe.FindStringSubmatch(s[i:]); m != nil && startOK(s, i) {
				next = in.backquoted(i, i+len(m[0])-1, m[1])
			}
		case '|':
			next = in.substitution(i)
		case '[':
			next = in.footnote(i)
		case '_':
			next = in.simpleRef(i)
		}
		if next > i {
			i = next
			continue
		}
		in.write(i, s[i:i+1])
		i++
	}
	in.flush()
}

func startOK(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsSpace(r) || strings.ContainsRune(startBefore, r)
}

func endOK(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsSpace(r) || strings.ContainsRune(endAfter, r)
}

// followOK reports whether the character after a start-string at i is
// present and not whitespace.
func followOK(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !unicode.IsSpace(r)
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}

// findEnd returns the position of marker closing content that starts at
// from, or -1. Content is never empty, an end-string never follows
// whitespace or a backslash, and accept validates the text after it.
func findEnd(s string, from int, marker string, accept func(after int) bool) int {
	for k := from + 1; k <= len(s); {
		idx := strings.Index(s[k:], marker)
		if idx < 0 {
			return -1
		}
		pos := k + idx
		if !isSpaceByte(s[pos-1]) && s[pos-1] != '\\' && accept(pos+len(marker)) {
			return pos
		}
		k = pos + 1
	}
	return -1
}

func (in *inline) literal(i int) int {
	s := in.src
	if !startOK(s, i) || !followOK(s, i+2) {
		return -1
	}
	for k := i + 3; k <= len(s); {
		idx := strings.Index(s[k:], "``")
		if idx < 0 {
			return -1
		}
		pos := k + idx
		if !isSpaceByte(s[pos-1]) && endOK(s, pos+2) {
			n := ast.New(ast.TypeInlineLiteral, in.rng(i, pos+2))
			n.Text = strings.ReplaceAll(s[i+2:pos], "\n", " ")
			in.emit(n)
			return pos + 2
		}
		k = pos + 1
	}
	return -1
}

// wrapped handles emphasis and strong emphasis.
func (in *inline) wrapped(i int, marker string, t ast.NodeType) int {
	s := in.src
	open := i + len(marker)
	if !startOK(s, i) || !followOK(s, open) || quoted(s, i, open) {
		return -1
	}
	end := findEnd(s, open, marker, func(after int) bool { return endOK(s, after) })
	if end < 0 {
		return -1
	}
	n := ast.New(t, in.rng(i, end+len(marker)))
	txt := ast.New(ast.TypeText, in.rng(open, end))
	txt.Text = unescape(s[open:end])
	n.AppendChild(txt)
	in.emit(n)
	return end + len(marker)
}

// quoted reports whether the start-string at [i, open) is enclosed in
// matching quote or bracket characters, as in '*' or (*).
func quoted(s string, i, open int) bool {
	if i == 0 || open >= len(s) {
		return false
	}
	pairs := map[byte]byte{'\'': '\'', '"': '"', '(': ')', '[': ']', '{': '}', '<': '>'}
	want, ok := pairs[s[i-1]]
	return ok && s[open] == want
}

// backquoted handles text in single backquotes. at is where the markup
// starts (the role prefix, when present) and tick the opening backquote.
func (in *inline) backquoted(at, tick int, role string) int {
	s := in.src
	open := tick + 1
	if !followOK(s, open) {
		return -1
	}

	var suffix string
	end := findEnd(s, open, "`", func(after int) bool {
		rest := s[after:]
		switch {
		case role == "" && strings.HasPrefix(rest, "__") && endOK(s, after+2):
			suffix = "__"
		case role == "" && strings.HasPrefix(rest, "_") && endOK(s, after+1):
			suffix = "_"
		case role == "" && roleSuffixRe.MatchString(rest):
			m := roleSuffixRe.FindString(rest)
			if !endOK(s, after+len(m)) {
				return false
			}
			suffix = m
		case endOK(s, after):
			suffix = ""
		default:
			return false
		}
		return true
	})
	if end < 0 {
		return -1
	}

	content := s[open:end]
	stop := end + 1 + len(suffix)
	r := in.rng(at, stop)
	text, target, embedded := splitTarget(content)

	switch suffix {
	case "_", "__":
		n := ast.New(ast.TypeHyperlinkRef, r)
		n.Text = text
		if suffix == "__" {
			n.Style = "__"
		}
		switch {
		case embedded && strings.HasSuffix(target, "_") && !strings.HasSuffix(target, "\\_"):
			n.Name = strings.TrimSuffix(target, "_")
		case embedded:
			n.Name = text
			n.Target = target
		default:
			n.Name = text
		}
		in.emit(n)
	default:
		n := ast.New(ast.TypeInterpretedText, r)
		switch {
		case role != "":
			n.Name = role
		case suffix != "":
			n.Name = strings.Trim(suffix, ":")
		default:
			n.Name = ast.DefaultRole
		}
		n.Text = text
		if embedded {
			n.Target = target
		}
		in.emit(n)
	}
	return stop
}

// splitTarget splits "title <target>" into its parts.
func splitTarget(content string) (text, target string, ok bool) {
	content = strings.Join(strings.Fields(content), " ")
	if !strings.HasSuffix(content, ">") {
		return content, "", false
	}
	lt := strings.LastIndex(content, "<")
	if lt < 0 || (lt > 0 && content[lt-1] != ' ') || (lt > 1 && content[lt-2] == '\\') {
		return content, "", false
	}
	target = strings.ReplaceAll(content[lt+1:len(content)-1], " ", "")
	return strings.TrimSpace(content[:lt]), target, true
}

func (in *inline) substitution(i int) int {
	s := in.src
	if !startOK(s, i) || !followOK(s, i+1) {
		return -1
	}
	var suffix string
	end := findEnd(s, i+1, "|", func(after int) bool {
		switch {
		case strings.HasPrefix(s[after:], "__") && endOK(s, after+2):
			suffix = "__"
		case strings.HasPrefix(s[after:], "_") && endOK(s, after+1):
			suffix = "_"
		case endOK(s, after):
			suffix = ""
		default:
			return false
		}
		return true
	})
	if end < 0 {
		return -1
	}
	stop := end + 1 + len(suffix)
	n := ast.New(ast.TypeSubstitutionRef, in.rng(i, stop))
	n.Name = strings.Join(strings.Fields(s[i+1:end]), " ")
	in.emit(n)
	return stop
}

func (in *inline) footnote(i int) int {
	s := in.src
	if !startOK(s, i) {
		return -1
	}
	m := footnoteRefRe.FindStringSubmatch(s[i:])
	if m == nil || !endOK(s, i+len(m[0])) {
		return -1
	}
	n := ast.New(ast.TypeFootnoteRef, in.rng(i, i+len(m[0])))
	n.Name = m[1]
	in.emit(n)
	return i + len(m[0])
}

// simpleRef turns a trailing "word_" or "word__" already buffered as text
// into a hyperlink reference.
func (in *inline) simpleRef(i int) int {
	s := in.src
	if i == 0 || !isAlnum(s[i-1]) || len(in.buf) == 0 {
		return -1
	}
	after := i + 1
	anonymous := strings.HasPrefix(s[i:], "__")
	if anonymous {
		after++
	}
	if !endOK(s, after) {
		return -1
	}

	b := in.buf
	j := len(b)
	for j > 0 {
		c := b[j-1]
		if isAlnum(c) {
			j--
			continue
		}
		if strings.IndexByte("-._+:", c) >= 0 && j > 1 && isAlnum(b[j-2]) && j < len(b) && isAlnum(b[j]) {
			j--
			continue
		}
		break
	}
	if j == len(b) || (j > 0 && !startOK(string(b), j)) {
		return -1
	}

	name := string(b[j:])
	start := i - len(name)
	in.buf = b[:j]
	n := ast.New(ast.TypeHyperlinkRef, in.rng(start, after))
	n.Name = name
	n.Text = name
	if anonymous {
		n.Style = "__"
	}
	in.emit(n)
	return after
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// unescape removes backslash escapes; an escaped whitespace character
// disappears entirely.
func unescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if isSpaceByte(s[i]) {
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
