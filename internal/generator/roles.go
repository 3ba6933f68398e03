package generator

import (
	"path"
	"strings"

	"rstdocs/internal/ast"
)

func registerRoles(r *Registry) {
	r.RegisterRole("ref", refRole)
	r.RegisterRole("doc", docRole)
	r.RegisterRole("download", downloadRole)
	r.RegisterRole("kbd", kbdRole)
	for _, name := range []string{"code", "literal", "file", "samp", "command", "program",
		"envvar", "option", ast.DefaultRole} {
		r.RegisterRole(name, codeRole)
	}
	r.RegisterRole("abbr", abbrRole)
	r.RegisterRole("term", wrapRole("*", "*"))
	r.RegisterRole("emphasis", wrapRole("*", "*"))
	r.RegisterRole("strong", wrapRole("**", "**"))
	r.RegisterRole("guilabel", guilabelRole)
	r.RegisterRole("menuselection", menuselectionRole)
	r.RegisterRole("math", func(_ *Context, n *ast.Node) (string, error) { return "$" + n.Text + "$", nil })
	r.RegisterRole("sub", wrapRole("<sub>", "</sub>"))
	r.RegisterRole("sup", wrapRole("<sup>", "</sup>"))
}

func roleTarget(n *ast.Node) string {
	if n.Target != "" {
		return n.Target
	}
	return n.Text
}

// refRole links to a ".. _label:" target anywhere in the corpus. Without
// explicit text the link shows the title of the labeled section.
func refRole(ctx *Context, n *ast.Node) (string, error) {
	label := roleTarget(n)
	url, title, ok := ctx.ResolveRef(label)
	if !ok {
		return escapeText(n.Text), ctx.Unresolved(n, "reference", label)
	}
	text := title
	if n.Target != "" || text == "" {
		text = n.Text
	}
	return "[" + escapeText(text) + "](" + url + ")", nil
}

func docRole(ctx *Context, n *ast.Node) (string, error) {
	target := roleTarget(n)
	p, doc, ok := ctx.ResolveDoc(target)
	if !ok {
		return escapeText(n.Text), ctx.Unresolved(n, "document", target)
	}
	text := n.Text
	if n.Target == "" {
		if text = doc.Title(); text == "" {
			text = strings.TrimSuffix(path.Base(p), ".rst")
		}
	}
	return "[" + escapeText(text) + "](" + ctx.DocURL(p, "") + ")", nil
}

func downloadRole(ctx *Context, n *ast.Node) (string, error) {
	target := roleTarget(n)
	text := n.Text
	if n.Target == "" {
		text = path.Base(target)
	}
	u, err := ctx.AddDownload(n, target)
	if err != nil || u == "" {
		return escapeText(text), err
	}
	return "[" + escapeText(text) + "](" + u + ")", nil
}

// kbdRole renders each key of a combination such as "Ctrl + Shift + S"
// in its own kbd element.
func kbdRole(_ *Context, n *ast.Node) (string, error) {
	var keys []string
	plus := false
	for _, k := range strings.Split(n.Text, "+") {
		k = strings.TrimSpace(k)
		switch {
		case k != "":
			keys = append(keys, "<kbd>"+escapeHTML(k)+"</kbd>")
			plus = false
		case !plus:
			// an empty segment is the "+" key itself
			keys = append(keys, "<kbd>+</kbd>")
			plus = true
		}
	}
	return strings.Join(keys, " + "), nil
}

func codeRole(_ *Context, n *ast.Node) (string, error) {
	return codeSpan(n.Text), nil
}

// abbrRole renders "LIFO (last-in, first-out)" as an abbr element.
func abbrRole(_ *Context, n *ast.Node) (string, error) {
	text := strings.TrimSpace(n.Text)
	if strings.HasSuffix(text, ")") {
		if open := strings.Index(text, " ("); open > 0 {
			return `<abbr title="` + escapeHTML(text[open+2:len(text)-1]) + `">` +
				escapeHTML(text[:open]) + "</abbr>", nil
		}
	}
	return "<abbr>" + escapeHTML(text) + "</abbr>", nil
}

func wrapRole(open, close string) RoleFunc {
	return func(_ *Context, n *ast.Node) (string, error) {
		return open + escapeText(n.Text) + close, nil
	}
}

// guilabelRole drops the "&" accelerator marker; "&&" is a literal
// ampersand.
func guilabelRole(_ *Context, n *ast.Node) (string, error) {
	label := strings.ReplaceAll(n.Text, "&&", "\x00")
	label = strings.ReplaceAll(label, "&", "")
	label = strings.ReplaceAll(label, "\x00", "&")
	return "**" + escapeText(label) + "**", nil
}

func menuselectionRole(_ *Context, n *ast.Node) (string, error) {
	parts := strings.Split(n.Text, "-->")
	for i, p := range parts {
		p = strings.ReplaceAll(strings.TrimSpace(p), "&&", "\x00")
		p = strings.ReplaceAll(p, "&", "")
		parts[i] = escapeText(strings.ReplaceAll(p, "\x00", "&"))
	}
	return "**" + strings.Join(parts, " → ") + "**", nil
}
