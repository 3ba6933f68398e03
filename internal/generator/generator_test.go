package generator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstdocs/internal/ast"
	"rstdocs/internal/parser"
)

func parseDoc(t *testing.T, path, text string) *ast.Document {
	t.Helper()
	res, err := parser.Parse(text, parser.Options{Path: path})
	require.NoError(t, err)
	return res.Document(path)
}

func generate(t *testing.T, corpus *Corpus, current string, opts Options) *Output {
	t.Helper()
	out, err := Generate(Input{Corpus: corpus, CurrentPath: current, BasePath: "/docs/"}, opts)
	require.NoError(t, err)
	return out
}

func TestGenerate_SharedAnchorResolvesIndependentOfOrder(t *testing.T) {
	a := parseDoc(t, "a.rst", ".. _install:\n\nInstalling\n==========\n\nSteps.\n")
	b := parseDoc(t, "b.rst", "Other\n=====\n\n.. _install:\n\nAlso installing\n---------------\n")
	c := parseDoc(t, "c.rst", "Usage\n=====\n\nSee :ref:`install` first.\n")

	forward := NewCorpus([]Entry{{"a.rst", a}, {"b.rst", b}, {"c.rst", c}})
	backward := NewCorpus([]Entry{{"c.rst", c}, {"b.rst", b}, {"a.rst", a}})

	first := generate(t, forward, "c.rst", Options{})
	second := generate(t, backward, "c.rst", Options{})
	assert.Equal(t, first.Body, second.Body)
	assert.Contains(t, first.Body, "[Installing](/docs/a#installing)")

	require.Len(t, forward.Duplicates(), 1)
	assert.Equal(t, "b.rst", forward.Duplicates()[0].Path)
	assert.Equal(t, forward.Duplicates(), backward.Duplicates())
}

func TestGenerate_UnresolvedReference(t *testing.T) {
	doc := parseDoc(t, "guide.rst", "Guide\n=====\n\nSee :ref:`missing` and :doc:`nowhere`.\n")
	corpus := NewCorpus([]Entry{{"guide.rst", doc}})

	t.Run("warns by default", func(t *testing.T) {
		out := generate(t, corpus, "guide.rst", Options{})
		assert.Contains(t, out.Body, "See missing and nowhere.")
		require.Len(t, out.Warnings, 2)
		assert.Contains(t, out.Warnings[0].Msg, `unresolved reference "missing"`)
		assert.Equal(t, 4, out.Warnings[0].Line)
	})

	t.Run("fails in strict mode", func(t *testing.T) {
		_, err := Generate(Input{Corpus: corpus, CurrentPath: "guide.rst"}, Options{Strict: true})
		var unresolved *UnresolvedReferenceError
		require.True(t, errors.As(err, &unresolved))
		assert.Equal(t, "missing", unresolved.Target)
		assert.Equal(t, "guide.rst", unresolved.Path)
	})
}

func TestGenerate_UnsupportedNamesAbortBeforeRendering(t *testing.T) {
	doc := parseDoc(t, "x.rst", ".. graphviz::\n\n   digraph {}\n\nUse :foo:`bar`.\n")
	corpus := NewCorpus([]Entry{{"x.rst", doc}})

	_, err := Generate(Input{Corpus: corpus, CurrentPath: "x.rst"}, Options{})
	var unsupported *UnsupportedError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, []string{"graphviz"}, unsupported.Directives)
	assert.Equal(t, []string{"foo"}, unsupported.Roles)
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	r.RegisterDirective("Note", admonitionDirective)
	r.RegisterRole("kbd", kbdRole)

	assert.NoError(t, r.Validate([]string{"note", "NOTE"}, []string{"kbd"}))

	err := r.Validate([]string{"note", "Graphviz", "uml", "graphviz"}, []string{"kbd", "Foo"})
	var unsupported *UnsupportedError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, []string{"graphviz", "uml"}, unsupported.Directives)
	assert.Equal(t, []string{"foo"}, unsupported.Roles)
	assert.Equal(t, "unsupported directives:2 roles:1: directives [graphviz, uml]; roles [foo]", err.Error())

	assert.Equal(t, []string{"note"}, r.Directives())
}

func TestGenerate_Body(t *testing.T) {
	src := `:author: Jane

Getting Started
===============

Some *emphasis*, **strong** and ` + "``code``" + `. Press :kbd:` + "`Ctrl+S`" + `.

.. note:: Remember this.

.. code-block:: python
   :caption: Example

   print("hi")

- one
- two

Details
-------

Visit Example_ or ` + "`the site <https://example.com>`_" + `.

.. _Example: https://example.org
`
	doc := parseDoc(t, "start.rst", src)
	doc.ModTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	corpus := NewCorpus([]Entry{{"start.rst", doc}})
	out := generate(t, corpus, "start.rst", Options{})

	assert.Equal(t, "---\ntitle: Getting Started\nlastUpdated: \"2024-03-01\"\nauthor: Jane\n---", out.Header)

	for _, want := range []string{
		"# Getting Started {#getting-started}",
		"Some *emphasis*, **strong** and `code`. Press <kbd>Ctrl</kbd> + <kbd>S</kbd>.",
		"::: info Note\nRemember this.\n:::",
		"**Example**\n\n```python\nprint(\"hi\")\n```",
		"- one\n- two",
		"## Details {#details}",
		"Visit [Example](https://example.org) or [the site](https://example.com).",
	} {
		assert.Contains(t, out.Body, want)
	}
	assert.NotContains(t, out.Body, "author")
}

func TestGenerate_ToctreeAndDocLinks(t *testing.T) {
	index := parseDoc(t, "index.rst", `Manual
======

.. toctree::
   :caption: Chapters

   tutorials/intro
   Custom title <tutorials/advanced>
`)
	intro := parseDoc(t, "tutorials/intro.rst", "Introduction\n============\n\nBack to :doc:`../index`.\n")
	advanced := parseDoc(t, "tutorials/advanced.rst", "Advanced\n========\n")
	corpus := NewCorpus([]Entry{{"index.rst", index}, {"tutorials/intro.rst", intro}, {"tutorials/advanced.rst", advanced}})

	out := generate(t, corpus, "index.rst", Options{})
	assert.Contains(t, out.Body, "**Chapters**\n\n- [Introduction](/docs/tutorials/intro)\n- [Custom title](/docs/tutorials/advanced)")

	out = generate(t, corpus, "tutorials/intro.rst", Options{RelativeLinks: true})
	assert.Contains(t, out.Body, "Back to [Manual](../)")
}

func TestTocTreeLabel_FallsBackToSection(t *testing.T) {
	doc := parseDoc(t, "index.rst", "Part one\n========\n\n.. toctree::\n\n   a\n")
	toc := doc.Root.Find(ast.OfType(ast.TypeDirective))
	require.NotNil(t, toc)
	assert.Equal(t, "Part one", tocTreeLabel(toc))
}

func TestGenerate_Downloads(t *testing.T) {
	doc := parseDoc(t, "guide/files.rst", "Files\n=====\n\nGet :download:`the zip <assets/demo.zip>` or :download:`assets/demo.zip`.\n")
	corpus := NewCorpus([]Entry{{"guide/files.rst", doc}})
	out := generate(t, corpus, "guide/files.rst", Options{})

	assert.Equal(t, []Download{{SrcPath: "guide/assets/demo.zip", DestPath: "guide/assets/demo.zip"}}, out.Downloads)
	assert.Contains(t, out.Body, "[the zip](/docs/guide/assets/demo.zip)")
	assert.Contains(t, out.Body, "[demo.zip](/docs/guide/assets/demo.zip)")
}

func TestGenerate_DownloadOutsideSourceTree(t *testing.T) {
	src := "Files\n=====\n\nGet :download:`x <../../evil.txt>` and :download:`/../root.txt`.\n"
	doc := parseDoc(t, "guide/files.rst", src)
	corpus := NewCorpus([]Entry{{"guide/files.rst", doc}})

	out := generate(t, corpus, "guide/files.rst", Options{})
	assert.Equal(t, []Download{{SrcPath: "root.txt", DestPath: "root.txt"}}, out.Downloads)
	assert.Contains(t, out.Body, "Get x and ")
	assert.Contains(t, out.Body, "[root.txt](/docs/root.txt)")
	assert.NotContains(t, out.Body, "evil.txt")
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, 4, out.Warnings[0].Line)
	assert.Contains(t, out.Warnings[0].Msg, "outside the source tree")

	_, err := Generate(Input{Corpus: corpus, CurrentPath: "guide/files.rst"}, Options{Strict: true})
	var escape *DownloadEscapeError
	require.True(t, errors.As(err, &escape), "got %v", err)
	assert.Equal(t, "../../evil.txt", escape.Target)
}

func TestGenerate_SubstitutionsFromEpilog(t *testing.T) {
	res, err := parser.Parse("Title\n=====\n\nCopyright |copy| |project|.\n", parser.Options{
		Epilog: ".. |copy| unicode:: U+000A9 .. COPYRIGHT SIGN\n.. |project| replace:: **Docs**",
	})
	require.NoError(t, err)
	doc := res.Document("t.rst")
	out := generate(t, NewCorpus([]Entry{{"t.rst", doc}}), "t.rst", Options{})
	assert.Contains(t, out.Body, "Copyright © **Docs**.")
}

func TestGenerate_TabsAndTables(t *testing.T) {
	src := `.. tabs::

   .. code-tab:: gdscript GDScript

      func _ready():
          pass

   .. code-tab:: csharp

      public override void _Ready() {}

.. list-table::
   :header-rows: 1

   * - Name
     - Value
   * - a|b
     - 1
`
	doc := parseDoc(t, "t.rst", src)
	out := generate(t, NewCorpus([]Entry{{"t.rst", doc}}), "t.rst", Options{})

	assert.Contains(t, out.Body, "::: tabs\n== GDScript\n\n```gdscript\nfunc _ready():\n    pass\n```\n\n== csharp\n\n```csharp\n")
	assert.Contains(t, out.Body, "| Name | Value |\n| --- | --- |\n| a\\|b | 1 |")
}

func TestGenerate_HTMLFormat(t *testing.T) {
	doc := parseDoc(t, "h.rst", "Title\n=====\n\nHello *world*.\n")
	out := generate(t, NewCorpus([]Entry{{"h.rst", doc}}), "h.rst", Options{Format: FormatHTML})
	assert.Contains(t, out.Body, `<h1 id="title">Title</h1>`)
	assert.Contains(t, out.Body, "<p>Hello <em>world</em>.</p>")
}

func TestChromaHighlighter(t *testing.T) {
	doc := parseDoc(t, "c.rst", ".. code-block:: go\n\n   package main\n")
	out := generate(t, NewCorpus([]Entry{{"c.rst", doc}}), "c.rst", Options{
		Highlighter: ChromaHighlighter{},
		Theme:       "monokai",
	})
	assert.True(t, strings.HasPrefix(out.Body, "<pre"), out.Body)
	assert.Contains(t, out.Body, "package")
}

func TestPostProcessBody(t *testing.T) {
	body := "<a href=\"/classes/node\">Node</a>\n<img\n  src=\"img/logo.png\" alt=\"x\">\n<img src=\"https://x.org/a.png\">"
	got := PostProcessBody(body, "/engine/")
	assert.Equal(t, "<a href=\"/engine/classes/node\">Node</a>\n<img src=\"./img/logo.png\" alt=\"x\">\n<img src=\"https://x.org/a.png\">", got)
}

func TestPostProcessBody_LeavesFencedCode(t *testing.T) {
	code := "```cpp\nstd::map<int,\n         int> m;\n<a href=\"/x\">\n```\n"
	body := "Before <span\n class=\"k\">.\n\n" + code + "\n~~~~\n<img src=\"a.png\">\n~~~~\n\nAfter <img src=\"b.png\">"
	got := PostProcessBody(body, "/engine/")

	assert.Equal(t, "Before <span class=\"k\">.\n\n"+code+"\n~~~~\n<img src=\"a.png\">\n~~~~\n\nAfter <img src=\"./b.png\">", got)

	// an unclosed fence runs to the end of the body
	assert.Equal(t, "```\n<b\n>", PostProcessBody("```\n<b\n>", "/"))
}

func TestSlugify(t *testing.T) {
	for in, want := range map[string]string{
		"Getting Started":     "getting-started",
		"  C# & .NET  ":       "c-net",
		"Ünïcode Heading 2":   "ünïcode-heading-2",
		"!!!":                 "section",
		"Already-slugged_one": "already-slugged-one",
	} {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestRelativeURL(t *testing.T) {
	assert.Equal(t, "./b", relativeURL("", "b"))
	assert.Equal(t, "../b", relativeURL("a", "b"))
	assert.Equal(t, "./c/d", relativeURL("a/b", "a/b/c/d"))
	assert.Equal(t, "./", relativeURL("a", "a"))
}
