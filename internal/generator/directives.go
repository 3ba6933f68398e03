package generator

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"rstdocs/internal/ast"
)

// admonitionKinds maps admonition directives to container kinds and
// default titles.
var admonitionKinds = map[string][2]string{
	"note":      {"info", "Note"},
	"seealso":   {"info", "See also"},
	"tip":       {"tip", "Tip"},
	"hint":      {"tip", "Hint"},
	"important": {"warning", "Important"},
	"attention": {"warning", "Attention"},
	"caution":   {"warning", "Caution"},
	"warning":   {"warning", "Warning"},
	"danger":    {"danger", "Danger"},
	"error":     {"danger", "Error"},
}

func registerDirectives(r *Registry) {
	for name := range admonitionKinds {
		r.RegisterDirective(name, admonitionDirective)
	}
	r.RegisterDirective("admonition", admonitionDirective)

	for _, name := range []string{"code-block", "code", "sourcecode"} {
		r.RegisterDirective(name, codeDirective)
	}
	r.RegisterDirective("code-tab", codeTabDirective)
	r.RegisterDirective("highlight", highlightDirective)
	r.RegisterDirective("image", imageDirective)
	r.RegisterDirective("figure", figureDirective)
	r.RegisterDirective("toctree", toctreeDirective)
	r.RegisterDirective("tabs", tabsDirective)
	r.RegisterDirective("tab", tabDirective)
	r.RegisterDirective("group-tab", tabDirective)
	r.RegisterDirective("rst-class", func(*Context, *ast.Node) (string, error) { return "", nil })
	r.RegisterDirective("container", containerDirective)
	r.RegisterDirective("list-table", listTableDirective)
	r.RegisterDirective("contents", contentsDirective)
	r.RegisterDirective("replace", replaceDirective)
	r.RegisterDirective("unicode", unicodeDirective)
	r.RegisterDirective("raw", rawDirective)
	r.RegisterDirective("math", mathDirective)
	r.RegisterDirective("video", videoDirective)
}

// admonitionDirective renders a "::: kind title" container. The argument
// of a named admonition is the first line of its body; for the generic
// admonition it is the title.
func admonitionDirective(ctx *Context, n *ast.Node) (string, error) {
	name := strings.ToLower(n.Name)
	kind, title := "info", ""
	var lead string
	if k, ok := admonitionKinds[name]; ok {
		kind, title = k[0], k[1]
		if n.Argument != "" {
			s, err := ctx.RenderText(n.Argument)
			if err != nil {
				return "", err
			}
			lead = s
		}
	} else {
		title = n.Argument
	}

	body, err := ctx.RenderBlocks(n.Children)
	if err != nil {
		return "", err
	}
	if lead != "" {
		body = strings.TrimSpace(lead + "\n\n" + body)
	}
	return fmt.Sprintf("::: %s %s\n%s\n:::", kind, title, body), nil
}

func codeDirective(ctx *Context, n *ast.Node) (string, error) {
	lang := strings.TrimSpace(n.Argument)
	out := ctx.Highlight(n.RawBody, lang)
	if caption, ok := n.FieldValue("caption"); ok && caption != "" {
		out = "**" + escapeText(caption) + "**\n\n" + out
	}
	return out, nil
}

// codeTabDirective renders one tab of a code-tab group. The argument is
// the language, optionally followed by the tab label.
func codeTabDirective(ctx *Context, n *ast.Node) (string, error) {
	lang, label, _ := strings.Cut(strings.TrimSpace(n.Argument), " ")
	label = strings.TrimSpace(label)
	if label == "" {
		label = lang
	}
	return "== " + label + "\n\n" + ctx.Highlight(n.RawBody, lang), nil
}

// highlightDirective changes the language of the literal blocks that
// follow it.
func highlightDirective(ctx *Context, n *ast.Node) (string, error) {
	if lang := strings.TrimSpace(n.Argument); lang != "" {
		ctx.literalLang = lang
	}
	return "", nil
}

func imageDirective(ctx *Context, n *ast.Node) (string, error) {
	src := ctx.AssetURL(strings.TrimSpace(n.Argument))
	alt, _ := n.FieldValue("alt")

	var attrs []string
	for _, key := range []string{"width", "height", "align", "class"} {
		if v, ok := n.FieldValue(key); ok {
			attrs = append(attrs, fmt.Sprintf(`%s="%s"`, key, escapeHTML(v)))
		}
	}
	var img string
	if len(attrs) == 0 {
		img = "![" + escapeText(alt) + "](" + src + ")"
	} else {
		img = fmt.Sprintf(`<img src="%s" alt="%s" %s>`, escapeHTML(src), escapeHTML(alt), strings.Join(attrs, " "))
	}

	if target, ok := n.FieldValue("target"); ok && target != "" {
		url := target
		if !strings.Contains(target, "://") {
			url = ctx.AssetURL(target)
		}
		img = "[" + img + "](" + url + ")"
	}
	return img, nil
}

// figureDirective renders the image followed by its caption and legend.
func figureDirective(ctx *Context, n *ast.Node) (string, error) {
	img, err := imageDirective(ctx, n)
	if err != nil {
		return "", err
	}
	body, err := ctx.RenderBlocks(n.Children)
	if err != nil {
		return "", err
	}
	if body == "" {
		return img, nil
	}
	return img + "\n\n" + body, nil
}

// tocTreeLabel returns the caption of a toctree, or the title of the
// section it appears in.
func tocTreeLabel(n *ast.Node) string {
	if caption, ok := n.FieldValue("caption"); ok {
		return caption
	}
	for cur := n; cur != nil; cur = cur.Parent() {
		for prev := cur.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
			if prev.Type == ast.TypeSection {
				return prev.Text
			}
		}
		if p := cur.Parent(); p != nil && p.Type == ast.TypeSection {
			return p.Text
		}
	}
	return ""
}

func toctreeDirective(ctx *Context, n *ast.Node) (string, error) {
	if n.HasField("hidden") {
		return "", nil
	}

	var items []string
	for _, entry := range strings.Split(n.RawBody, "\n") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		title, target, embedded := splitTocEntry(entry)
		if n.HasField("glob") && strings.ContainsAny(target, "*?[") {
			items = append(items, ctx.globEntries(target)...)
			continue
		}
		if strings.Contains(target, "://") {
			items = append(items, "- ["+escapeText(title)+"]("+target+")")
			continue
		}
		p, doc, ok := ctx.ResolveDoc(target)
		if !ok {
			if err := ctx.Unresolved(n, "document", target); err != nil {
				return "", err
			}
			continue
		}
		if !embedded {
			title = doc.Title()
		}
		if title == "" {
			title = strings.TrimSuffix(path.Base(p), ".rst")
		}
		items = append(items, "- ["+escapeText(title)+"]("+ctx.DocURL(p, "")+")")
	}
	if len(items) == 0 {
		return "", nil
	}

	out := strings.Join(items, "\n")
	if label := tocTreeLabel(n); label != "" {
		out = "**" + escapeText(label) + "**\n\n" + out
	}
	return out, nil
}

func splitTocEntry(entry string) (title, target string, embedded bool) {
	if strings.HasSuffix(entry, ">") {
		if lt := strings.LastIndex(entry, "<"); lt > 0 {
			return strings.TrimSpace(entry[:lt]), strings.TrimSpace(entry[lt+1 : len(entry)-1]), true
		}
	}
	return entry, entry, false
}

func (c *Context) globEntries(pattern string) []string {
	pattern = strings.TrimSuffix(c.sourcePath(pattern), ".rst") + ".rst"
	var items []string
	for _, p := range c.Corpus.Paths() {
		if p == c.CurrentPath {
			continue
		}
		if ok, _ := path.Match(pattern, p); !ok {
			continue
		}
		doc, _ := c.Corpus.Doc(p)
		title := doc.Title()
		if title == "" {
			title = strings.TrimSuffix(path.Base(p), ".rst")
		}
		items = append(items, "- ["+escapeText(title)+"]("+c.DocURL(p, "")+")")
	}
	return items
}

// tabsDirective groups tab and code-tab children into a tab container.
func tabsDirective(ctx *Context, n *ast.Node) (string, error) {
	body, err := ctx.RenderBlocks(n.Children)
	if err != nil {
		return "", err
	}
	return "::: tabs\n" + body + "\n:::", nil
}

func tabDirective(ctx *Context, n *ast.Node) (string, error) {
	body, err := ctx.RenderBlocks(n.Children)
	if err != nil {
		return "", err
	}
	return "== " + strings.TrimSpace(n.Argument) + "\n\n" + body, nil
}

func containerDirective(ctx *Context, n *ast.Node) (string, error) {
	body, err := ctx.RenderBlocks(n.Children)
	if err != nil {
		return "", err
	}
	class := strings.TrimSpace(n.Argument)
	if name, ok := n.FieldValue("class"); ok {
		class = strings.TrimSpace(class + " " + name)
	}
	return fmt.Sprintf("<div class=\"%s\">\n\n%s\n\n</div>", escapeHTML(class), body), nil
}

// listTableDirective renders a two-level bullet list as a table. Each
// item of the outer list is a row; each item of its inner list is a cell.
func listTableDirective(ctx *Context, n *ast.Node) (string, error) {
	list := n.Find(ast.OfType(ast.TypeBulletList))
	if list == nil {
		ctx.Warn(n, "list-table without a list")
		return "", nil
	}
	headerRows := 0
	if v, ok := n.FieldValue("header-rows"); ok {
		headerRows, _ = strconv.Atoi(strings.TrimSpace(v))
	}

	var rows [][]string
	for _, item := range list.Children {
		var cells []string
		if inner := item.Find(ast.OfType(ast.TypeBulletList)); inner != nil {
			for _, cell := range inner.Children {
				s, err := ctx.RenderBlocks(cell.Children)
				if err != nil {
					return "", err
				}
				cells = append(cells, tableCell(s))
			}
		}
		rows = append(rows, cells)
	}
	out := pipeTable(rows, headerRows)
	if title := strings.TrimSpace(n.Argument); title != "" {
		out = "**" + escapeText(title) + "**\n\n" + out
	}
	return out, nil
}

// contentsDirective renders a local table of contents of the current
// document, or of the enclosing section with :local:.
func contentsDirective(ctx *Context, n *ast.Node) (string, error) {
	scope := ctx.Doc.Root
	if n.HasField("local") {
		if sec := n.Ancestor(ast.TypeSection); sec != nil {
			scope = sec
		}
	}
	depth := 6
	if v, ok := n.FieldValue("depth"); ok {
		if d, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && d > 0 {
			depth = d
		}
	}

	var lines []string
	var walk func(parent *ast.Node, level int)
	walk = func(parent *ast.Node, level int) {
		if level > depth {
			return
		}
		for _, c := range parent.Children {
			if c.Type != ast.TypeSection {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s- [%s](#%s)",
				strings.Repeat("  ", level-1), escapeText(c.Text), ctx.Corpus.Anchor(c)))
			walk(c, level+1)
		}
	}
	walk(scope, 1)
	if len(lines) == 0 {
		return "", nil
	}
	out := strings.Join(lines, "\n")
	if title := strings.TrimSpace(n.Argument); title != "" {
		out = "**" + escapeText(title) + "**\n\n" + out
	}
	return out, nil
}

func replaceDirective(ctx *Context, n *ast.Node) (string, error) {
	text := strings.TrimSpace(n.Argument + " " + n.RawBody)
	return ctx.RenderText(strings.Join(strings.Fields(text), " "))
}

// unicodeDirective renders character codes (U+XXXX, 0xXX, \uXXXX,
// &#xXXXX;) and plain text. Everything after ".." is a comment.
func unicodeDirective(ctx *Context, n *ast.Node) (string, error) {
	arg, _, _ := strings.Cut(n.Argument, " .. ")
	var sb strings.Builder
	for _, tok := range strings.Fields(arg) {
		if r, ok := parseCodePoint(tok); ok {
			sb.WriteRune(r)
			continue
		}
		sb.WriteString(escapeText(tok))
	}
	return sb.String(), nil
}

func parseCodePoint(tok string) (rune, bool) {
	lower := strings.ToLower(tok)
	var digits string
	switch {
	case strings.HasPrefix(lower, "u+"), strings.HasPrefix(lower, "0x"),
		strings.HasPrefix(lower, `\u`), strings.HasPrefix(lower, `\x`):
		digits = lower[2:]
	case strings.HasPrefix(lower, "&#x") && strings.HasSuffix(lower, ";"):
		digits = lower[3 : len(lower)-1]
	default:
		if v, err := strconv.ParseUint(tok, 10, 32); err == nil {
			return rune(v), true
		}
		return 0, false
	}
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}

func rawDirective(ctx *Context, n *ast.Node) (string, error) {
	switch strings.ToLower(strings.TrimSpace(n.Argument)) {
	case "html", "markdown", "md":
		return n.RawBody, nil
	}
	ctx.Warn(n, "raw output format %q dropped", n.Argument)
	return "", nil
}

func mathDirective(ctx *Context, n *ast.Node) (string, error) {
	expr := strings.TrimSpace(strings.TrimSpace(n.Argument) + "\n" + n.RawBody)
	return "$$\n" + expr + "\n$$", nil
}

func videoDirective(ctx *Context, n *ast.Node) (string, error) {
	attrs := []string{fmt.Sprintf(`src="%s"`, escapeHTML(ctx.AssetURL(strings.TrimSpace(n.Argument))))}
	for _, flag := range []string{"autoplay", "loop", "muted"} {
		if n.HasField(flag) {
			attrs = append(attrs, flag)
		}
	}
	if !n.HasField("nocontrols") {
		attrs = append(attrs, "controls")
	}
	for _, key := range []string{"width", "height", "poster"} {
		if v, ok := n.FieldValue(key); ok {
			attrs = append(attrs, fmt.Sprintf(`%s="%s"`, key, escapeHTML(v)))
		}
	}
	return "<video " + strings.Join(attrs, " ") + "></video>", nil
}
