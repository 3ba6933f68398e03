package parser

import (
	"regexp"
	"strings"

	"rstdocs/internal/ast"
)

var (
	gridBorderRe   = regexp.MustCompile(`^\+([-=]+\+)+$`)
	simpleBorderRe = regexp.MustCompile(`^=+( +=+)+$`)
)

// cellLines accumulates the source lines of one table cell.
type cellLines []line

func (p *parser) cell(lines cellLines) (*ast.Node, error) {
	body := trimBlank(dedent(lines, minIndent(lines)))
	c := ast.New(ast.TypeTableCell, spanOf(body))
	if len(body) == 0 {
		return c, nil
	}
	return c, p.parseBlocks(body, c, false)
}

// segment slices columns [from, to) of l by rune position. to < 0 means
// through the end of the line.
func segment(l line, from, to int) line {
	runes := []rune(l.text)
	if from >= len(runes) {
		return line{num: l.num, offset: l.offset + len(l.text)}
	}
	if to < 0 || to > len(runes) {
		to = len(runes)
	}
	lead := len(string(runes[:from]))
	return line{
		text:   strings.TrimRight(string(runes[from:to]), " "),
		num:    l.num,
		offset: l.offset + lead,
	}
}

// parseGridTable parses a grid table starting at border line i. Column
// spans are honoured; row spans are not.
func (p *parser) parseGridTable(lines []line, i int) (*ast.Node, int, error) {
	end := i
	for end < len(lines) && !lines[end].blank() &&
		(strings.HasPrefix(lines[end].text, "+") || strings.HasPrefix(lines[end].text, "|")) {
		end++
	}
	tbl := lines[i:end]
	table := ast.New(ast.TypeTable, spanOf(tbl))

	var bounds []int
	for k, r := range []rune(tbl[0].text) {
		if r == '+' {
			bounds = append(bounds, k)
		}
	}

	hasHeader := false
	for _, l := range tbl[1:] {
		if strings.HasPrefix(l.text, "+") && strings.Contains(l.text, "=") {
			hasHeader = true
			break
		}
	}

	var rowLines []line
	header := hasHeader
	flush := func() error {
		if len(rowLines) == 0 {
			return nil
		}
		row := ast.New(ast.TypeTableRow, spanOf(rowLines))
		row.Header = header
		firstRunes := []rune(rowLines[0].text)
		active := []int{bounds[0]}
		for _, b := range bounds[1:] {
			if b < len(firstRunes) && firstRunes[b] == '|' {
				active = append(active, b)
			}
		}
		for c := 0; c+1 < len(active); c++ {
			var cl cellLines
			for _, l := range rowLines {
				cl = append(cl, segment(l, active[c]+1, active[c+1]))
			}
			cell, err := p.cell(cl)
			if err != nil {
				return err
			}
			row.AppendChild(cell)
		}
		table.AppendChild(row)
		rowLines = nil
		return nil
	}

	for _, l := range tbl[1:] {
		if strings.HasPrefix(l.text, "+") {
			if err := flush(); err != nil {
				return nil, 0, err
			}
			if strings.Contains(l.text, "=") {
				header = false
			}
			continue
		}
		rowLines = append(rowLines, l)
	}
	if err := flush(); err != nil {
		return nil, 0, err
	}
	return table, end, nil
}

// parseSimpleTable parses a simple table whose top border is at i. It
// reports false when no closing border is found.
func (p *parser) parseSimpleTable(lines []line, i int) (*ast.Node, int, bool, error) {
	type col struct{ from, to int }
	var cols []col
	border := []rune(lines[i].text)
	for k := 0; k < len(border); {
		if border[k] != '=' {
			k++
			continue
		}
		start := k
		for k < len(border) && border[k] == '=' {
			k++
		}
		cols = append(cols, col{start, k})
	}

	borders := []int{i}
	end := -1
	for j := i + 1; j < len(lines); j++ {
		if simpleBorderRe.MatchString(lines[j].text) {
			borders = append(borders, j)
			if j+1 >= len(lines) || lines[j+1].blank() {
				end = j + 1
				break
			}
		}
	}
	if end < 0 {
		return nil, 0, false, nil
	}

	table := ast.New(ast.TypeTable, spanOf(lines[i:end]))
	headerEnd := -1
	if len(borders) >= 3 {
		headerEnd = borders[1]
	}

	var rows [][]cellLines
	var rowHeader []bool
	for j := i + 1; j < end-1; j++ {
		l := lines[j]
		if l.blank() || simpleBorderRe.MatchString(l.text) {
			continue
		}
		cells := make([]cellLines, len(cols))
		for c, cc := range cols {
			to := cc.to
			if c == len(cols)-1 {
				to = -1
			}
			from := cc.from
			cells[c] = cellLines{segment(l, from, to)}
		}
		if len(rows) > 0 && cells[0][0].blank() && !(headerEnd > 0 && j == headerEnd+1) {
			last := rows[len(rows)-1]
			for c := range cells {
				last[c] = append(last[c], cells[c]...)
			}
			continue
		}
		rows = append(rows, cells)
		rowHeader = append(rowHeader, headerEnd > 0 && j < headerEnd)
	}

	for r, cells := range rows {
		var all []line
		for _, c := range cells {
			all = append(all, c...)
		}
		row := ast.New(ast.TypeTableRow, spanOf(all))
		row.Header = rowHeader[r]
		for _, c := range cells {
			cell, err := p.cell(c)
			if err != nil {
				return nil, 0, false, err
			}
			row.AppendChild(cell)
		}
		table.AppendChild(row)
	}
	return table, end, true, nil
}
