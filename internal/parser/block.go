package parser

import (
	"regexp"
	"strconv"
	"strings"

	"rstdocs/internal/ast"
)

var (
	bulletRe = regexp.MustCompile(`^([-*+•‣⁃])( +|$)`)
	enumRe   = regexp.MustCompile(`^(\(?)(\d+|#|[a-zA-Z]|[ivxlcdmIVXLCDM]+)([.)])( +|$)`)
	fieldRe  = regexp.MustCompile(`^:((?:\\.|[^:\\])+):(?: +(.*))?$`)
	anonRe   = regexp.MustCompile(`^__ +(.+)$`)
)

// parseBlocks parses lines into body elements appended to parent. Only
// the document level (top) may open sections.
func (p *parser) parseBlocks(lines []line, parent *ast.Node, top bool) error {
	add := func(n *ast.Node) {
		if top {
			p.container().AppendChild(n)
			return
		}
		parent.AppendChild(n)
	}

	for i := 0; i < len(lines); {
		l := lines[i]
		if l.blank() {
			i++
			continue
		}

		if l.indent() > 0 {
			block, next := indentedBlock(lines, i, 1)
			block = dedent(block, minIndent(block))
			bq := ast.New(ast.TypeBlockQuote, spanOf(block))
			if err := p.parseBlocks(block, bq, false); err != nil {
				return err
			}
			add(bq)
			i = next
			continue
		}

		if isExplicit(l.text) {
			n, next, err := p.parseExplicit(lines, i)
			if err != nil {
				return err
			}
			add(n)
			i = next
			continue
		}
		if m := anonRe.FindStringSubmatch(l.text); m != nil {
			n := ast.New(ast.TypeHyperlinkTarget, spanOf(lines[i:i+1]))
			n.Style = "__"
			n.Target = strings.TrimSpace(m[1])
			add(n)
			i++
			continue
		}

		if gridBorderRe.MatchString(l.text) {
			n, next, err := p.parseGridTable(lines, i)
			if err != nil {
				return err
			}
			add(n)
			i = next
			continue
		}
		if simpleBorderRe.MatchString(l.text) {
			n, next, ok, err := p.parseSimpleTable(lines, i)
			if err != nil {
				return err
			}
			if ok {
				add(n)
				i = next
				continue
			}
		}

		if top {
			next, ok, err := p.parseTitle(lines, i)
			if err != nil {
				return err
			}
			if ok {
				i = next
				continue
			}
		}

		if isTransition(lines, i) {
			add(ast.New(ast.TypeTransition, spanOf(lines[i:i+1])))
			i++
			continue
		}

		if m := bulletRe.FindStringSubmatch(l.text); m != nil {
			n, next, err := p.parseBulletList(lines, i, m[1])
			if err != nil {
				return err
			}
			add(n)
			i = next
			continue
		}
		if _, ok := matchEnum(lines, i); ok {
			n, next, err := p.parseEnumList(lines, i)
			if err != nil {
				return err
			}
			add(n)
			i = next
			continue
		}
		if fieldRe.MatchString(l.text) {
			n, next, err := p.parseFieldList(lines, i)
			if err != nil {
				return err
			}
			add(n)
			i = next
			continue
		}
		if isDefinitionStart(lines, i) {
			n, next, err := p.parseDefinitionList(lines, i)
			if err != nil {
				return err
			}
			add(n)
			i = next
			continue
		}

		next, err := p.parseParagraph(lines, i, top, add)
		if err != nil {
			return err
		}
		i = next
	}
	return nil
}

// spanOf returns the source range covered by lines.
func spanOf(lines []line) ast.Range {
	lines = trimBlank(lines)
	if len(lines) == 0 {
		return ast.Range{}
	}
	last := lines[len(lines)-1]
	return ast.Range{Start: lines[0].offset, End: last.offset + len(last.text), Line: lines[0].num}
}

// parseTitle recognizes an underlined or overlined section title at i.
func (p *parser) parseTitle(lines []line, i int) (int, bool, error) {
	l := lines[i]
	if ch, ok := adornment(l.text); ok && i+1 < len(lines) {
		title := lines[i+1]
		if title.blank() || isTransition(lines, i) {
			return 0, false, nil
		}
		if _, isAdorn := adornment(title.text); isAdorn {
			return 0, false, nil
		}
		if len(l.text) < runeLen(strings.TrimSpace(title.text)) {
			return 0, false, nil
		}
		if i+2 >= len(lines) {
			return 0, false, p.errorf(l, "section overline without matching underline")
		}
		under := lines[i+2]
		uch, ok := adornment(under.text)
		if !ok || uch != ch || len(under.text) != len(l.text) {
			return 0, false, p.errorf(under, "section overline and underline do not match")
		}
		style := string(ch) + "/" + string(ch)
		if _, err := p.openSection(title, style, spanOf(lines[i:i+3])); err != nil {
			return 0, false, err
		}
		return i + 3, true, nil
	}

	if isUnderlinedTitle(lines, i) {
		ch, _ := adornment(lines[i+1].text)
		if _, err := p.openSection(l, string(ch), spanOf(lines[i:i+2])); err != nil {
			return 0, false, err
		}
		return i + 2, true, nil
	}
	return 0, false, nil
}

func isUnderlinedTitle(lines []line, i int) bool {
	if i+1 >= len(lines) || lines[i].blank() || lines[i].indent() > 0 {
		return false
	}
	if _, ok := adornment(lines[i].text); ok {
		return false
	}
	under := lines[i+1].text
	if _, ok := adornment(under); !ok {
		return false
	}
	return len(under) >= 4 || len(under) >= runeLen(lines[i].text)
}

func isTransition(lines []line, i int) bool {
	if _, ok := adornment(lines[i].text); !ok || len(lines[i].text) < 4 {
		return false
	}
	before := i == 0 || lines[i-1].blank()
	after := i+1 >= len(lines) || lines[i+1].blank()
	return before && after
}

func isDefinitionStart(lines []line, i int) bool {
	return i+1 < len(lines) && !lines[i].blank() && lines[i].indent() == 0 &&
		!lines[i+1].blank() && lines[i+1].indent() > 0
}

// parseParagraph consumes a paragraph and an optional literal block
// introduced by a trailing "::".
func (p *parser) parseParagraph(lines []line, i int, top bool, add func(*ast.Node)) (int, error) {
	j := i
	for j < len(lines) && !lines[j].blank() && lines[j].indent() == 0 {
		if j > i && top && isUnderlinedTitle(lines, j) {
			break
		}
		j++
	}
	if j == i {
		j = i + 1
	}
	para := lines[i:j]
	text := joinText(para)

	literal := false
	switch {
	case text == "::":
		literal = true
		text = ""
	case strings.HasSuffix(text, " ::") || strings.HasSuffix(text, "\n::"):
		literal = true
		text = strings.TrimRight(text[:len(text)-2], " \n")
	case strings.HasSuffix(text, "::"):
		literal = true
		text = text[:len(text)-1]
	}

	if text != "" {
		r := spanOf(para)
		n := ast.New(ast.TypeParagraph, r)
		for _, c := range p.parseInline(text, r) {
			n.AppendChild(c)
		}
		add(n)
	}
	if !literal {
		return j, nil
	}

	k := j
	for k < len(lines) && lines[k].blank() {
		k++
	}
	if k >= len(lines) {
		if !top {
			return j, nil
		}
		return 0, p.errorf(para[len(para)-1], "literal block expected after \"::\" but input ended")
	}
	if lines[k].indent() == 0 {
		return j, nil
	}
	block, next := indentedBlock(lines, k, 1)
	block = dedent(block, minIndent(block))
	lit := ast.New(ast.TypeLiteralBlock, spanOf(block))
	lit.Text = joinText(trimBlank(block))
	add(lit)
	return next, nil
}

// itemBody returns the lines of a list item or field whose marker takes
// the first col columns of lines[i].
func itemBody(lines []line, i, col int) ([]line, int) {
	first := lines[i]
	col = min(col, len(first.text))
	body := []line{{text: first.text[col:], num: first.num, offset: first.offset + col}}
	rest, next := indentedBlock(lines, i+1, 1)
	rest = dedent(rest, minIndent(rest))
	return trimBlank(append(body, rest...)), next
}

// nextNonBlank returns the index of the first non-blank line at or after i.
func nextNonBlank(lines []line, i int) int {
	for i < len(lines) && lines[i].blank() {
		i++
	}
	return i
}

func (p *parser) parseBulletList(lines []line, i int, bullet string) (*ast.Node, int, error) {
	list := ast.New(ast.TypeBulletList, spanOf(lines[i:i+1]))
	list.Bullet = bullet
	for {
		m := bulletRe.FindStringSubmatch(lines[i].text)
		body, next := itemBody(lines, i, len(m[0]))
		item := ast.New(ast.TypeListItem, spanOf(lines[i:next]))
		if err := p.parseBlocks(body, item, false); err != nil {
			return nil, 0, err
		}
		list.AppendChild(item)
		list.Range.End = item.Range.End

		i = next
		j := nextNonBlank(lines, i)
		if j >= len(lines) || lines[j].indent() > 0 {
			return list, i, nil
		}
		m = bulletRe.FindStringSubmatch(lines[j].text)
		if m == nil || m[1] != bullet {
			return list, i, nil
		}
		i = j
	}
}

type enumMarker struct {
	kind  string
	value int
	width int
}

// matchEnum recognizes an enumerated list item at i. The item must be
// followed by a blank line, an indented line, another item or the end.
func matchEnum(lines []line, i int) (enumMarker, bool) {
	m := enumRe.FindStringSubmatch(lines[i].text)
	if m == nil {
		return enumMarker{}, false
	}
	if m[1] == "(" && m[3] != ")" {
		return enumMarker{}, false
	}
	if i+1 < len(lines) {
		nx := lines[i+1]
		if !nx.blank() && nx.indent() == 0 && enumRe.FindStringSubmatch(nx.text) == nil {
			return enumMarker{}, false
		}
	}
	kind, value := enumValue(m[2])
	if value < 0 {
		return enumMarker{}, false
	}
	format := m[3]
	if m[1] == "(" {
		format = "()"
	}
	return enumMarker{kind: kind + format, value: value, width: len(m[0])}, true
}

func enumValue(seq string) (string, int) {
	switch {
	case seq == "#":
		return "auto", 1
	case seq[0] >= '0' && seq[0] <= '9':
		n, err := strconv.Atoi(seq)
		if err != nil {
			return "", -1
		}
		return "arabic", n
	case seq == "i" || (len(seq) > 1 && strings.Trim(seq, "ivxlcdm") == ""):
		return "lowerroman", romanValue(strings.ToUpper(seq))
	case seq == "I" || (len(seq) > 1 && strings.Trim(seq, "IVXLCDM") == ""):
		return "upperroman", romanValue(seq)
	case len(seq) == 1 && seq[0] >= 'a' && seq[0] <= 'z':
		return "loweralpha", int(seq[0]-'a') + 1
	case len(seq) == 1 && seq[0] >= 'A' && seq[0] <= 'Z':
		return "upperalpha", int(seq[0]-'A') + 1
	}
	return "", -1
}

func romanValue(s string) int {
	vals := map[byte]int{'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000}
	total := 0
	for i := 0; i < len(s); i++ {
		v := vals[s[i]]
		if i+1 < len(s) && vals[s[i+1]] > v {
			total -= v
		} else {
			total += v
		}
	}
	if total <= 0 {
		return -1
	}
	return total
}

func (p *parser) parseEnumList(lines []line, i int) (*ast.Node, int, error) {
	first, _ := matchEnum(lines, i)
	list := ast.New(ast.TypeEnumeratedList, spanOf(lines[i:i+1]))
	list.Style = first.kind
	list.Start = first.value
	for {
		mk, _ := matchEnum(lines, i)
		body, next := itemBody(lines, i, mk.width)
		item := ast.New(ast.TypeListItem, spanOf(lines[i:next]))
		if err := p.parseBlocks(body, item, false); err != nil {
			return nil, 0, err
		}
		list.AppendChild(item)
		list.Range.End = item.Range.End

		i = next
		j := nextNonBlank(lines, i)
		if j >= len(lines) || lines[j].indent() > 0 {
			return list, i, nil
		}
		nx, ok := matchEnum(lines, j)
		if !ok || nx.kind != first.kind {
			return list, i, nil
		}
		i = j
	}
}

func (p *parser) parseFieldList(lines []line, i int) (*ast.Node, int, error) {
	list := ast.New(ast.TypeFieldList, spanOf(lines[i:i+1]))
	for {
		m := fieldRe.FindStringSubmatch(lines[i].text)
		col := len(lines[i].text) - len(m[2])
		body, next := itemBody(lines, i, col)
		field := ast.New(ast.TypeField, spanOf(lines[i:next]))
		field.Name = unescape(m[1])
		field.Text = strings.TrimSpace(joinText(body))
		if err := p.parseBlocks(body, field, false); err != nil {
			return nil, 0, err
		}
		list.AppendChild(field)
		list.Range.End = field.Range.End

		i = next
		j := nextNonBlank(lines, i)
		if j >= len(lines) || lines[j].indent() > 0 || !fieldRe.MatchString(lines[j].text) {
			return list, i, nil
		}
		i = j
	}
}

func (p *parser) parseDefinitionList(lines []line, i int) (*ast.Node, int, error) {
	list := ast.New(ast.TypeDefinitionList, spanOf(lines[i:i+1]))
	for {
		termLine := lines[i]
		block, next := indentedBlock(lines, i+1, 1)
		block = dedent(block, minIndent(block))

		item := ast.New(ast.TypeDefinitionListItem, spanOf(lines[i:next]))
		termText, _, _ := strings.Cut(termLine.text, " : ")
		termRange := spanOf(lines[i : i+1])
		term := ast.New(ast.TypeTerm, termRange)
		for _, c := range p.parseInline(termText, termRange) {
			term.AppendChild(c)
		}
		def := ast.New(ast.TypeDefinition, spanOf(block))
		if err := p.parseBlocks(block, def, false); err != nil {
			return nil, 0, err
		}
		item.AppendChild(term)
		item.AppendChild(def)
		list.AppendChild(item)
		list.Range.End = item.Range.End

		i = next
		j := nextNonBlank(lines, i)
		if j >= len(lines) || !isDefinitionStart(lines, j) || isExplicit(lines[j].text) ||
			bulletRe.MatchString(lines[j].text) || fieldRe.MatchString(lines[j].text) {
			return list, i, nil
		}
		if _, ok := matchEnum(lines, j); ok {
			return list, i, nil
		}
		i = j
	}
}
