package generator

import (
	"fmt"
	"strings"

	"rstdocs/internal/ast"
)

// RenderBlocks renders body elements separated by blank lines.
func (c *Context) RenderBlocks(nodes []*ast.Node) (string, error) {
	var parts []string
	for _, n := range nodes {
		s, err := c.renderBlock(n)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (c *Context) renderBlock(n *ast.Node) (string, error) {
	switch n.Type {
	case ast.TypeSection:
		return c.section(n)
	case ast.TypeParagraph:
		return c.RenderInline(n.Children)
	case ast.TypeBulletList:
		return c.list(n, func(int) string { return "- " })
	case ast.TypeEnumeratedList:
		start := max(n.Start, 1)
		return c.list(n, func(i int) string { return fmt.Sprintf("%d. ", start+i) })
	case ast.TypeDefinitionList:
		return c.definitionList(n)
	case ast.TypeFieldList:
		return c.fieldList(n)
	case ast.TypeBlockQuote:
		body, err := c.RenderBlocks(n.Children)
		if err != nil {
			return "", err
		}
		return prefixLines(body, "> ", ">"), nil
	case ast.TypeLiteralBlock:
		return c.Highlight(n.Text, c.literalLang), nil
	case ast.TypeDirective:
		return c.directive(n)
	case ast.TypeTable:
		return c.table(n)
	case ast.TypeTransition:
		return "---", nil
	case ast.TypeHyperlinkTarget:
		if n.Name == "" || n.Target != "" || targetSection(n) != nil {
			return "", nil
		}
		return fmt.Sprintf(`<a id="%s"></a>`, Slugify(n.Name)), nil
	case ast.TypeComment, ast.TypeSubstitutionDef:
		return "", nil
	}
	if n.IsInline() {
		return c.RenderInline([]*ast.Node{n})
	}
	return c.RenderBlocks(n.Children)
}

func (c *Context) section(n *ast.Node) (string, error) {
	level := min(max(n.Level, 1), 6)
	heading := fmt.Sprintf("%s %s {#%s}", strings.Repeat("#", level), escapeText(n.Text), c.Corpus.Anchor(n))
	body, err := c.RenderBlocks(n.Children)
	if err != nil {
		return "", err
	}
	if body == "" {
		return heading, nil
	}
	return heading + "\n\n" + body, nil
}

func (c *Context) list(n *ast.Node, marker func(int) string) (string, error) {
	items := make([]string, 0, len(n.Children))
	loose := false
	for i, item := range n.Children {
		body, err := c.RenderBlocks(item.Children)
		if err != nil {
			return "", err
		}
		if strings.Contains(body, "\n\n") {
			loose = true
		}
		m := marker(i)
		items = append(items, m+indentRest(body, len(m)))
	}
	sep := "\n"
	if loose {
		sep = "\n\n"
	}
	return strings.Join(items, sep), nil
}

func (c *Context) definitionList(n *ast.Node) (string, error) {
	var items []string
	for _, item := range n.Children {
		var term, def string
		for _, part := range item.Children {
			s, err := c.RenderBlocks(part.Children)
			if part.Type == ast.TypeTerm {
				s, err = c.RenderInline(part.Children)
			}
			if err != nil {
				return "", err
			}
			if part.Type == ast.TypeTerm {
				term = s
			} else {
				def = s
			}
		}
		items = append(items, term+"\n:   "+indentRest(def, 4))
	}
	return strings.Join(items, "\n\n"), nil
}

// isDocInfo reports whether a field list sits at the top of the document,
// before any content, where it carries page metadata.
func isDocInfo(n *ast.Node) bool {
	if n.Parent() == nil || n.Parent().Type != ast.TypeDocument {
		return false
	}
	for prev := n.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		switch prev.Type {
		case ast.TypeHyperlinkTarget, ast.TypeComment, ast.TypeSubstitutionDef:
			continue
		}
		return false
	}
	return true
}

func (c *Context) fieldList(n *ast.Node) (string, error) {
	if isDocInfo(n) {
		for _, f := range n.Children {
			c.meta[strings.ToLower(f.Name)] = f.Text
		}
		return "", nil
	}
	var items []string
	for _, f := range n.Children {
		body, err := c.RenderBlocks(f.Children)
		if err != nil {
			return "", err
		}
		items = append(items, "- **"+escapeText(f.Name)+":** "+indentRest(body, 2))
	}
	return strings.Join(items, "\n"), nil
}

func (c *Context) directive(n *ast.Node) (string, error) {
	fn, ok := c.Options.Registry.Directive(n.Name)
	if !ok {
		return "", &UnsupportedError{Directives: []string{strings.ToLower(n.Name)}}
	}
	return fn(c, n)
}

func (c *Context) table(n *ast.Node) (string, error) {
	var rows [][]string
	headerRows := 0
	for _, row := range n.Children {
		var cells []string
		for _, cell := range row.Children {
			s, err := c.RenderBlocks(cell.Children)
			if err != nil {
				return "", err
			}
			cells = append(cells, tableCell(s))
		}
		if row.Header && headerRows == len(rows) {
			headerRows++
		}
		rows = append(rows, cells)
	}
	return pipeTable(rows, headerRows), nil
}

// pipeTable lays out rows as a GFM table. Only one header row is
// possible; extra header rows become body rows and a table without one
// gets an empty header.
func pipeTable(rows [][]string, headerRows int) string {
	if len(rows) == 0 {
		return ""
	}
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	line := func(cells []string) string {
		padded := make([]string, cols)
		copy(padded, cells)
		return "| " + strings.Join(padded, " | ") + " |"
	}

	var header []string
	body := rows
	if headerRows > 0 {
		header, body = rows[0], rows[1:]
	}
	out := []string{line(header)}
	sep := make([]string, cols)
	for i := range sep {
		sep[i] = "---"
	}
	out = append(out, line(sep))
	for _, r := range body {
		out = append(out, line(r))
	}
	return strings.Join(out, "\n")
}

// tableCell flattens a rendered cell onto one line and escapes the pipes
// that escapeText left alone, such as those inside code spans.
func tableCell(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '|' && (i == 0 || s[i-1] != '\\') {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	s = strings.ReplaceAll(sb.String(), "\n\n", "<br>")
	return strings.ReplaceAll(s, "\n", " ")
}

// RenderInline renders a run of inline nodes.
func (c *Context) RenderInline(nodes []*ast.Node) (string, error) {
	var sb strings.Builder
	for _, n := range nodes {
		s, err := c.renderInline(n)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

func (c *Context) renderInline(n *ast.Node) (string, error) {
	switch n.Type {
	case ast.TypeText:
		return escapeText(n.Text), nil
	case ast.TypeEmphasis:
		return "*" + escapeText(n.TextContent()) + "*", nil
	case ast.TypeStrong:
		return "**" + escapeText(n.TextContent()) + "**", nil
	case ast.TypeInlineLiteral:
		return codeSpan(n.Text), nil
	case ast.TypeInterpretedText:
		fn, ok := c.Options.Registry.Role(n.Name)
		if !ok {
			return "", &UnsupportedError{Roles: []string{strings.ToLower(n.Name)}}
		}
		return fn(c, n)
	case ast.TypeHyperlinkRef:
		return c.hyperlink(n)
	case ast.TypeSubstitutionRef:
		return c.substitution(n)
	case ast.TypeFootnoteRef:
		return "<sup>" + escapeHTML(n.Name) + "</sup>", nil
	}
	if len(n.Children) > 0 {
		return c.RenderBlocks(n.Children)
	}
	return escapeText(n.TextContent()), nil
}

func (c *Context) hyperlink(n *ast.Node) (string, error) {
	text := escapeText(n.Text)
	url := n.Target
	switch {
	case url != "":
	case n.Style == "__":
		if c.anonNext < len(c.anonymous) {
			url = c.anonymous[c.anonNext]
			c.anonNext++
		}
	default:
		if u, ok := c.Corpus.External(c.CurrentPath, n.Name); ok {
			url = u
		} else if u, _, ok := c.ResolveRef(n.Name); ok {
			url = u
		}
	}
	if url == "" {
		return text, c.Unresolved(n, "link", n.Name)
	}
	return "[" + text + "](" + url + ")", nil
}

func (c *Context) substitution(n *ast.Node) (string, error) {
	def, ok := c.substitutions[normalizeLabel(n.Name)]
	if !ok || len(def.Children) == 0 {
		return escapeText("|" + n.Name + "|"), c.Unresolved(n, "substitution", n.Name)
	}
	return c.directive(def.Children[0])
}

// escapeText backslash-escapes characters that Markdown would otherwise
// treat as markup.
func escapeText(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; ch {
		case '\\', '*', '_', '`', '[', ']', '<', '>', '|':
			sb.WriteByte('\\')
			sb.WriteByte(ch)
		case '#':
			if i == 0 || s[i-1] == '\n' {
				sb.WriteByte('\\')
			}
			sb.WriteByte(ch)
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(s)
}

// codeSpan wraps s in enough backticks to contain it.
func codeSpan(s string) string {
	fence := "`"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		s = " " + s + " "
	}
	return fence + s + fence
}

// indentRest indents every line after the first by n spaces.
func indentRest(s string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = pad + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

func prefixLines(s, prefix, blank string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = blank
		} else {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
