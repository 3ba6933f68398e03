package parser

import (
	"regexp"
	"strings"

	"rstdocs/internal/ast"
)

var (
	substDefRe  = regexp.MustCompile(`^\|([^|]+)\|\s+([A-Za-z0-9](?:[\w\-+.]|:\w)*)::(?:\s+(.*))?$`)
	directiveRe = regexp.MustCompile(`^([A-Za-z0-9](?:[\w\-+.]|:\w)*)::(?:\s+(.*))?$`)
	quotedTgtRe = regexp.MustCompile("^_`([^`]+)`:(?:\\s+(.*))?$")
	targetRe    = regexp.MustCompile(`^_((?:\\.|[^:\\])+):(?:\s+(.*))?$`)
	footnoteRe  = regexp.MustCompile(`^\[([^\]]+)\](?:\s+(.*))?$`)
)

func isExplicit(s string) bool {
	return s == ".." || strings.HasPrefix(s, ".. ")
}

// parseExplicit handles a ".." construct: directive, substitution
// definition, hyperlink target, footnote or comment.
func (p *parser) parseExplicit(lines []line, i int) (*ast.Node, int, error) {
	first := lines[i]
	head := strings.TrimSpace(strings.TrimPrefix(first.text, ".."))
	block, next := indentedBlock(lines, i+1, 1)
	r := spanOf(lines[i:next])

	if m := substDefRe.FindStringSubmatch(head); m != nil {
		dir, err := p.parseDirective(first, m[2], m[3], block, r)
		if err != nil {
			return nil, 0, err
		}
		def := ast.New(ast.TypeSubstitutionDef, r)
		def.Name = m[1]
		def.AppendChild(dir)
		return def, next, nil
	}

	if m := directiveRe.FindStringSubmatch(head); m != nil {
		dir, err := p.parseDirective(first, m[1], m[2], block, r)
		if err != nil {
			return nil, 0, err
		}
		return dir, next, nil
	}

	if m := quotedTgtRe.FindStringSubmatch(head); m != nil {
		return p.target(m[1], m[2], block, r), next, nil
	}
	if m := targetRe.FindStringSubmatch(head); m != nil {
		return p.target(unescape(m[1]), m[2], block, r), next, nil
	}

	n := ast.New(ast.TypeComment, r)
	body := dedent(block, minIndent(block))
	if m := footnoteRe.FindStringSubmatch(head); m != nil {
		n.Name = m[1]
		head = m[2]
	}
	text := head
	if rest := joinText(trimBlank(body)); rest != "" {
		if text != "" {
			text += "\n"
		}
		text += rest
	}
	n.Text = text
	return n, next, nil
}

func (p *parser) target(name, uri string, block []line, r ast.Range) *ast.Node {
	n := ast.New(ast.TypeHyperlinkTarget, r)
	if name == "_" {
		n.Style = "__"
	} else {
		n.Name = name
	}
	parts := []string{strings.TrimSpace(uri)}
	for _, l := range block {
		parts = append(parts, strings.TrimSpace(l.text))
	}
	n.Target = strings.Join(parts, "")
	return n
}

// parseDirective builds a Directive from its marker line and the
// indented block that follows it. A leading run of ":name: value" lines
// is the option block; everything after it is the raw body.
func (p *parser) parseDirective(first line, name, arg string, block []line, r ast.Range) (*ast.Node, error) {
	n := ast.New(ast.TypeDirective, r)
	n.Name = name
	n.Argument = strings.TrimSpace(arg)

	body := dedent(block, minIndent(block))
	k := 0
	for k < len(body) && !body[k].blank() && body[k].indent() == 0 && strings.HasPrefix(body[k].text, ":") {
		m := fieldRe.FindStringSubmatch(body[k].text)
		if m == nil {
			return nil, p.errorf(body[k], "malformed option %q in directive %q", body[k].text, name)
		}
		value := m[2]
		k++
		for k < len(body) && !body[k].blank() && body[k].indent() > 0 {
			value += " " + strings.TrimSpace(body[k].text)
			k++
		}
		n.Config = append(n.Config, ast.Field{Name: unescape(m[1]), Value: strings.TrimSpace(value)})
	}

	content := trimBlank(body[k:])
	n.RawBody = joinText(content)
	if p.isLiteral(name) {
		return n, nil
	}

	if n.Argument != "" {
		for _, c := range p.parseInline(n.Argument, ast.Range{Start: first.offset, Line: first.num}) {
			if c.Type == ast.TypeInterpretedText {
				p.argRoles[strings.ToLower(c.Name)] = struct{}{}
			}
		}
	}
	if len(content) > 0 {
		if err := p.parseBlocks(content, n, false); err != nil {
			return nil, err
		}
	}
	return n, nil
}
