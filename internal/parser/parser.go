// Package parser turns reStructuredText source into an ast tree.
package parser

import (
	"sort"
	"strings"

	"rstdocs/internal/ast"
)

// Result is the outcome of a successful parse.
type Result struct {
	Root *ast.Node
	// Directives and Roles hold every distinct name used in the document,
	// lower-cased and sorted.
	Directives []string
	Roles      []string
}

// Document wraps the result as an ast.Document for path.
func (r *Result) Document(path string) *ast.Document {
	return &ast.Document{
		Root:       r.Root,
		Path:       path,
		Directives: r.Directives,
		Roles:      r.Roles,
	}
}

type parser struct {
	opts Options
	root *ast.Node

	// styles holds section adornment keys in order of first appearance;
	// a style's level is its index plus one.
	styles []string
	// sections is the chain of currently open sections, outermost first.
	sections []*ast.Node

	// roles seen only in directive arguments, which are not kept as inline
	// nodes but still need to pass the validation gate.
	argRoles map[string]struct{}
}

// Parse parses text into a Document tree. A structural violation returns
// a *ParseError and no tree.
func Parse(text string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if opts.Epilog != "" {
		text = strings.TrimRight(text, "\n") + "\n\n" + opts.Epilog
	}

	lines := splitLines(text, opts.InputIndentSize)
	p := &parser{
		opts:     opts,
		root:     ast.New(ast.TypeDocument, ast.Range{Start: 0, End: len(text), Line: 1}),
		argRoles: make(map[string]struct{}),
	}
	if err := p.parseBlocks(lines, p.root, true); err != nil {
		return nil, err
	}

	directives, roles := ast.UsedNames(p.root)
	if len(p.argRoles) > 0 {
		for _, r := range roles {
			p.argRoles[r] = struct{}{}
		}
		roles = roles[:0]
		for r := range p.argRoles {
			roles = append(roles, r)
		}
		sort.Strings(roles)
	}
	return &Result{Root: p.root, Directives: directives, Roles: roles}, nil
}

// ParseInline parses a single run of inline markup.
func ParseInline(text string) []*ast.Node {
	p := &parser{argRoles: make(map[string]struct{})}
	return p.parseInline(text, ast.Range{Line: 1})
}

// container is where top-level blocks are appended: the innermost open
// section, or the document.
func (p *parser) container() *ast.Node {
	if n := len(p.sections); n > 0 {
		return p.sections[n-1]
	}
	return p.root
}

// sectionLevel is the level of the innermost open section, 0 at top.
func (p *parser) sectionLevel() int {
	if n := len(p.sections); n > 0 {
		return p.sections[n-1].Level
	}
	return 0
}

// openSection places a new section according to its adornment style.
func (p *parser) openSection(title line, style string, r ast.Range) (*ast.Node, error) {
	level := 0
	for i, s := range p.styles {
		if s == style {
			level = i + 1
			break
		}
	}
	// Only a style's first appearance may not skip; a known style keeps
	// its level wherever it reappears.
	if level == 0 {
		p.styles = append(p.styles, style)
		level = len(p.styles)
		if cur := p.sectionLevel(); level > cur+1 {
			return nil, p.errorf(title, "section level %d skips from level %d (title %q)",
				level, cur, strings.TrimSpace(title.text))
		}
	}
	for n := len(p.sections); n > 0 && p.sections[n-1].Level >= level; n-- {
		p.sections = p.sections[:n-1]
	}

	sec := ast.New(ast.TypeSection, r)
	sec.Level = level
	sec.Style = style
	sec.Text = flatten(p.parseInline(strings.TrimSpace(title.text), r))
	p.container().AppendChild(sec)
	p.sections = append(p.sections, sec)
	return sec, nil
}

func flatten(nodes []*ast.Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(n.TextContent())
	}
	return sb.String()
}
