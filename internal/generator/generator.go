// Package generator turns parsed documents into Markdown or HTML. It
// resolves cross-document references against a Corpus and dispatches
// directives and roles through a Registry. It performs no file I/O.
package generator

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"rstdocs/internal/ast"
	"rstdocs/internal/parser"
)

// Format selects the body syntax.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Options control generation.
type Options struct {
	Registry    *Registry
	Highlighter Highlighter
	Theme       string

	// DefaultLiteralLanguage applies to "::" literal blocks until a
	// highlight directive changes it.
	DefaultLiteralLanguage string
	// DefaultCodeLanguage applies to code directives without an argument.
	DefaultCodeLanguage string

	// Strict turns unresolved references into errors.
	Strict        bool
	Format        Format
	RelativeLinks bool
}

// Input names the document to generate and the corpus it belongs to.
type Input struct {
	Corpus      *Corpus
	CurrentPath string
	BasePath    string
}

// Download asks the caller to copy SrcPath to DestPath, both relative to
// the source and output roots.
type Download struct {
	SrcPath  string
	DestPath string
}

// Output is the generated document.
type Output struct {
	Header    string
	Body      string
	Downloads []Download
	Warnings  []Diagnostic
}

// UnresolvedReferenceError is returned in strict mode when a reference
// has no target.
type UnresolvedReferenceError struct {
	Path   string
	Line   int
	Kind   string
	Target string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s:%d: unresolved %s %q", e.Path, e.Line, e.Kind, e.Target)
}

// DownloadEscapeError reports a download target that resolves outside
// the source tree.
type DownloadEscapeError struct {
	Path   string
	Line   int
	Target string
}

func (e *DownloadEscapeError) Error() string {
	return fmt.Sprintf("%s:%d: download %q is outside the source tree", e.Path, e.Line, e.Target)
}

// Generate renders the document at in.CurrentPath.
func Generate(in Input, opts Options) (*Output, error) {
	if in.Corpus == nil {
		return nil, fmt.Errorf("generator: nil corpus")
	}
	doc, ok := in.Corpus.Doc(in.CurrentPath)
	if !ok {
		return nil, fmt.Errorf("generator: %q is not in the corpus", in.CurrentPath)
	}
	opts = opts.withDefaults()

	dirs, roles := ast.UsedNames(doc.Root)
	if err := opts.Registry.Validate(append(dirs, doc.Directives...), append(roles, doc.Roles...)); err != nil {
		return nil, fmt.Errorf("generator: %s: %w", in.CurrentPath, err)
	}

	ctx := newContext(in, doc, opts)
	body, err := ctx.RenderBlocks(doc.Root.Children)
	if err != nil {
		return nil, err
	}

	header, err := renderHeader(doc, ctx.meta)
	if err != nil {
		return nil, fmt.Errorf("generator: %s: front matter: %w", in.CurrentPath, err)
	}

	if opts.Format == FormatHTML {
		body, err = markdownToHTML(body)
		if err != nil {
			return nil, fmt.Errorf("generator: %s: %w", in.CurrentPath, err)
		}
	}

	return &Output{
		Header:    header,
		Body:      body,
		Downloads: ctx.downloads,
		Warnings:  ctx.warnings,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.Registry == nil {
		o.Registry = DefaultRegistry()
	}
	if o.Format == "" {
		o.Format = FormatMarkdown
	}
	if o.DefaultLiteralLanguage == "" {
		o.DefaultLiteralLanguage = "text"
	}
	if o.DefaultCodeLanguage == "" {
		o.DefaultCodeLanguage = o.DefaultLiteralLanguage
	}
	return o
}

// Context is the per-document state handed to directive and role
// generators.
type Context struct {
	Corpus      *Corpus
	Doc         *ast.Document
	CurrentPath string
	BasePath    string
	Options     Options

	literalLang   string
	substitutions map[string]*ast.Node
	anonymous     []string
	anonNext      int
	meta          map[string]string
	downloads     []Download
	downloadSeen  map[string]bool
	warnings      []Diagnostic
}

func newContext(in Input, doc *ast.Document, opts Options) *Context {
	base := "/" + strings.Trim(in.BasePath, "/")
	if base != "/" {
		base += "/"
	}
	c := &Context{
		Corpus:        in.Corpus,
		Doc:           doc,
		CurrentPath:   ast.NormalizePath(in.CurrentPath),
		BasePath:      base,
		Options:       opts,
		literalLang:   opts.DefaultLiteralLanguage,
		substitutions: make(map[string]*ast.Node),
		meta:          make(map[string]string),
		downloadSeen:  make(map[string]bool),
	}
	for _, def := range doc.Root.FindAll(ast.OfType(ast.TypeSubstitutionDef)) {
		key := normalizeLabel(def.Name)
		if _, dup := c.substitutions[key]; !dup {
			c.substitutions[key] = def
		}
	}
	for _, t := range doc.Root.FindAll(ast.OfType(ast.TypeHyperlinkTarget)) {
		if t.Style == "__" {
			c.anonymous = append(c.anonymous, t.Target)
		}
	}
	return c
}

// Warn records a recoverable problem at n.
func (c *Context) Warn(n *ast.Node, format string, args ...any) {
	line := 0
	if n != nil {
		line = n.Range.Line
	}
	c.warnings = append(c.warnings, Diagnostic{Path: c.CurrentPath, Line: line, Msg: fmt.Sprintf(format, args...)})
}

// Unresolved reports a reference without a target. It returns an error
// only in strict mode.
func (c *Context) Unresolved(n *ast.Node, kind, target string) error {
	if c.Options.Strict {
		return &UnresolvedReferenceError{Path: c.CurrentPath, Line: n.Range.Line, Kind: kind, Target: target}
	}
	c.Warn(n, "unresolved %s %q", kind, target)
	c.warnings[len(c.warnings)-1].Unresolved = true
	return nil
}

// DocURL returns the link to a document of the corpus, optionally to an
// anchor inside it.
func (c *Context) DocURL(docPath, anchor string) string {
	docPath = ast.NormalizePath(docPath)
	if docPath == c.CurrentPath && anchor != "" {
		return "#" + anchor
	}
	var u string
	if c.Options.RelativeLinks {
		u = relativeURL(path.Dir(c.CurrentPath), urlPath(docPath))
	} else {
		u = c.BasePath + urlPath(docPath)
	}
	if anchor != "" {
		u += "#" + anchor
	}
	return u
}

// ResolveRef resolves a ".. _label:" reference to a URL and a title.
func (c *Context) ResolveRef(label string) (url, title string, ok bool) {
	t, ok := c.Corpus.Ref(label)
	if !ok {
		return "", "", false
	}
	title = t.Title
	if title == "" {
		if d, found := c.Corpus.Doc(t.Path); found {
			title = d.Title()
		}
	}
	return c.DocURL(t.Path, t.Anchor), title, true
}

// ResolveDoc resolves a document reference, relative to the current
// document unless it starts with "/".
func (c *Context) ResolveDoc(target string) (string, *ast.Document, bool) {
	p := c.sourcePath(target)
	d, ok := c.Corpus.Doc(p)
	return ast.NormalizePath(p), d, ok
}

// sourcePath resolves target against the current document's directory.
func (c *Context) sourcePath(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Join(path.Dir(c.CurrentPath), target)
}

// AddDownload records a file to copy next to the output and returns the
// link to it. A target outside the source tree is not recorded: it fails
// in strict mode and otherwise warns and yields an empty link.
func (c *Context) AddDownload(n *ast.Node, target string) (string, error) {
	src := c.sourcePath(target)
	if src == ".." || strings.HasPrefix(src, "../") {
		if c.Options.Strict {
			return "", &DownloadEscapeError{Path: c.CurrentPath, Line: n.Range.Line, Target: target}
		}
		c.Warn(n, "download %q is outside the source tree", target)
		return "", nil
	}
	if !c.downloadSeen[src] {
		c.downloadSeen[src] = true
		c.downloads = append(c.downloads, Download{SrcPath: src, DestPath: src})
	}
	if c.Options.RelativeLinks {
		return relativeURL(path.Dir(c.CurrentPath), src), nil
	}
	return c.BasePath + src, nil
}

// AssetURL rewrites an embedded asset path. Root-relative paths get the
// base path; document-relative paths are kept relative.
func (c *Context) AssetURL(target string) string {
	switch {
	case strings.Contains(target, "://") || strings.HasPrefix(target, "data:"):
		return target
	case strings.HasPrefix(target, "/"):
		return c.BasePath + strings.TrimPrefix(path.Clean(target), "/")
	case strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../"):
		return target
	}
	return "./" + target
}

// Highlight renders a code block, falling back to a fenced block when
// no highlighter is configured or highlighting fails.
func (c *Context) Highlight(code, lang string) string {
	if lang == "" {
		lang = c.Options.DefaultCodeLanguage
	}
	if h := c.Options.Highlighter; h != nil {
		out, err := h.Highlight(code, lang, c.Options.Theme)
		if err == nil {
			return out
		}
		c.Warn(nil, "highlight %s: %v", lang, err)
	}
	fence := "```"
	for strings.Contains(code, fence) {
		fence += "`"
	}
	return fence + lang + "\n" + code + "\n" + fence
}

// RenderText parses s as inline markup and renders it.
func (c *Context) RenderText(s string) (string, error) {
	return c.RenderInline(parser.ParseInline(s))
}

func urlPath(docPath string) string {
	p := strings.TrimSuffix(docPath, ".rst")
	if p == "index" {
		return ""
	}
	return strings.TrimSuffix(p, "/index")
}

// relativeURL returns the path from directory fromDir to target.
func relativeURL(fromDir, target string) string {
	from := splitPath(fromDir)
	to := splitPath(target)
	i := 0
	for i < len(from) && i < len(to) && from[i] == to[i] {
		i++
	}
	var parts []string
	for range from[i:] {
		parts = append(parts, "..")
	}
	parts = append(parts, to[i:]...)
	if len(parts) == 0 {
		return "./"
	}
	if i == len(to) {
		return strings.Join(parts, "/") + "/"
	}
	if parts[0] != ".." {
		return "./" + strings.Join(parts, "/")
	}
	return strings.Join(parts, "/")
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
