package generator

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"rstdocs/internal/ast"
)

// Entry is one parsed document of the corpus.
type Entry struct {
	Path string
	Doc  *ast.Document
}

// RefTarget is where a reference label points.
type RefTarget struct {
	Path   string
	Anchor string
	Title  string
}

// Diagnostic is a recoverable problem found while generating.
type Diagnostic struct {
	Path string
	Line int
	Msg  string

	// Unresolved marks a reference whose target was not found.
	Unresolved bool
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s", d.Path, d.Line, d.Msg)
}

// Corpus is the read-only view of every parsed document. The global
// reference table is built once by NewCorpus and only consulted after.
type Corpus struct {
	docs  map[string]*ast.Document
	paths []string

	refs       map[string]RefTarget
	anchors    map[*ast.Node]string
	external   map[string]map[string]string
	duplicates []Diagnostic
}

// NewCorpus indexes entries. Paths are normalized and scanned in sorted
// order, so when two documents declare the same label the one with the
// smaller path wins no matter how entries are ordered.
func NewCorpus(entries []Entry) *Corpus {
	c := &Corpus{
		docs:     make(map[string]*ast.Document, len(entries)),
		refs:     make(map[string]RefTarget),
		anchors:  make(map[*ast.Node]string),
		external: make(map[string]map[string]string),
	}
	for _, e := range entries {
		p := ast.NormalizePath(e.Path)
		if _, seen := c.docs[p]; seen || e.Doc == nil || e.Doc.Root == nil {
			continue
		}
		c.docs[p] = e.Doc
		c.paths = append(c.paths, p)
	}
	sort.Strings(c.paths)

	for _, p := range c.paths {
		c.index(p, c.docs[p])
	}
	return c
}

func (c *Corpus) index(p string, doc *ast.Document) {
	used := make(map[string]int)
	for _, sec := range doc.Root.FindAll(ast.OfType(ast.TypeSection)) {
		base := Slugify(sec.Text)
		anchor := base
		if n := used[base]; n > 0 {
			anchor = fmt.Sprintf("%s-%d", base, n)
		}
		used[base]++
		c.anchors[sec] = anchor
	}

	for _, t := range doc.Root.FindAll(ast.OfType(ast.TypeHyperlinkTarget)) {
		if t.Name == "" {
			continue
		}
		label := normalizeLabel(t.Name)
		if t.Target != "" {
			if c.external[p] == nil {
				c.external[p] = make(map[string]string)
			}
			c.external[p][label] = t.Target
			continue
		}

		ref := RefTarget{Path: p, Anchor: Slugify(t.Name)}
		if sec := targetSection(t); sec != nil {
			ref.Anchor = c.anchors[sec]
			ref.Title = sec.Text
		}
		if prev, ok := c.refs[label]; ok {
			c.duplicates = append(c.duplicates, Diagnostic{
				Path: p,
				Line: t.Range.Line,
				Msg:  fmt.Sprintf("duplicate label %q, first declared in %s", t.Name, prev.Path),
			})
			continue
		}
		c.refs[label] = ref
	}
}

// targetSection returns the section an internal target labels: the next
// element in document order, skipping chained targets and comments.
func targetSection(t *ast.Node) *ast.Node {
	for cur := t; cur != nil; cur = cur.Parent() {
		for next := cur.NextSibling(); next != nil; next = next.NextSibling() {
			switch next.Type {
			case ast.TypeHyperlinkTarget, ast.TypeComment, ast.TypeSubstitutionDef:
				continue
			case ast.TypeSection:
				return next
			}
			return nil
		}
	}
	return nil
}

// Doc returns the document stored under path.
func (c *Corpus) Doc(path string) (*ast.Document, bool) {
	d, ok := c.docs[ast.NormalizePath(path)]
	return d, ok
}

// Paths returns every document path, sorted.
func (c *Corpus) Paths() []string { return append([]string(nil), c.paths...) }

// Ref looks up a label declared with ".. _label:" anywhere in the corpus.
func (c *Corpus) Ref(label string) (RefTarget, bool) {
	r, ok := c.refs[normalizeLabel(label)]
	return r, ok
}

// Anchor returns the anchor assigned to a section node.
func (c *Corpus) Anchor(section *ast.Node) string { return c.anchors[section] }

// External returns the URI of a named external target declared in path.
func (c *Corpus) External(path, name string) (string, bool) {
	u, ok := c.external[ast.NormalizePath(path)][normalizeLabel(name)]
	return u, ok
}

// Duplicates reports labels declared more than once.
func (c *Corpus) Duplicates() []Diagnostic { return c.duplicates }

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Slugify turns heading or label text into an anchor id.
func Slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			dash = false
			sb.WriteRune(r)
			continue
		}
		dash = true
	}
	if sb.Len() == 0 {
		return "section"
	}
	return sb.String()
}
