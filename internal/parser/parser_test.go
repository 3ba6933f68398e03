package parser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstdocs/internal/ast"
)

func types(nodes []*ast.Node) []ast.NodeType {
	out := make([]ast.NodeType, len(nodes))
	for i, n := range nodes {
		out[i] = n.Type
	}
	return out
}

func mustParse(t *testing.T, text string, opts Options) *Result {
	t.Helper()
	res, err := Parse(text, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Root)
	return res
}

func TestParse_SectionNesting(t *testing.T) {
	res := mustParse(t, "Intro\n=====\n\nSub\n---\n\nConclusion\n=====", Options{})
	root := res.Root

	require.Len(t, root.Children, 2)
	intro, conclusion := root.Children[0], root.Children[1]
	assert.Equal(t, ast.TypeSection, intro.Type)
	assert.Equal(t, "Intro", intro.Text)
	assert.Equal(t, 1, intro.Level)
	assert.Equal(t, "Conclusion", conclusion.Text)
	assert.Equal(t, 1, conclusion.Level)

	require.Len(t, intro.Children, 1)
	sub := intro.Children[0]
	assert.Equal(t, "Sub", sub.Text)
	assert.Equal(t, 2, sub.Level)
	assert.Same(t, intro, sub.Parent())
	assert.Equal(t, 4, sub.Range.Line)
}

func TestParse_ReusedStyleNestsUnderOpenSection(t *testing.T) {
	res := mustParse(t, "A\n===\n\nB\n---\n\nC\n~~~\n\nD\n===\n\nE\n~~~\n", Options{})
	root := res.Root

	require.Len(t, root.Children, 2)
	d := root.Children[1]
	assert.Equal(t, "D", d.Text)
	assert.Equal(t, 1, d.Level)

	require.Len(t, d.Children, 1)
	e := d.Children[0]
	assert.Equal(t, "E", e.Text)
	assert.Equal(t, 3, e.Level)
	assert.Same(t, d, e.Parent())
}

func TestParse_OverlinedTitlesAreDistinctStyle(t *testing.T) {
	src := "=====\nTitle\n=====\n\nBody\n=====\n\ntext\n"
	res := mustParse(t, src, Options{})

	require.Len(t, res.Root.Children, 1)
	title := res.Root.Children[0]
	assert.Equal(t, 1, title.Level)
	assert.Equal(t, "=/=", title.Style)
	require.Len(t, title.Children, 1)
	body := title.Children[0]
	assert.Equal(t, 2, body.Level)
	assert.Equal(t, "=", body.Style)
}

func TestParse_DirectiveOptionsAndBody(t *testing.T) {
	src := ".. code-block:: python\n   :caption: Example\n\n   print(1)\n   print(2)\n"
	res := mustParse(t, src, Options{})

	require.Len(t, res.Root.Children, 1)
	dir := res.Root.Children[0]
	assert.Equal(t, ast.TypeDirective, dir.Type)
	assert.Equal(t, "code-block", dir.Name)
	assert.Equal(t, "python", dir.Argument)
	assert.Equal(t, []ast.Field{{Name: "caption", Value: "Example"}}, dir.Config)
	assert.Equal(t, "print(1)\nprint(2)", dir.RawBody)
	assert.Empty(t, dir.Children, "literal directives keep only the raw body")
	assert.Equal(t, []string{"code-block"}, res.Directives)
}

func TestParse_NonLiteralDirectiveBodyIsParsed(t *testing.T) {
	src := ".. note::\n   :class: wide\n\n   Press :kbd:`Ctrl` now.\n\n   .. image:: a.png\n"
	res := mustParse(t, src, Options{})

	note := res.Root.Children[0]
	assert.Equal(t, "note", note.Name)
	assert.Equal(t, "Press :kbd:`Ctrl` now.\n\n.. image:: a.png", note.RawBody)
	assert.Equal(t, []ast.NodeType{ast.TypeParagraph, ast.TypeDirective}, types(note.Children))

	kbd := note.Find(ast.OfType(ast.TypeInterpretedText))
	require.NotNil(t, kbd)
	assert.Equal(t, "kbd", kbd.Name)
	assert.Equal(t, "Ctrl", kbd.Text)

	assert.Equal(t, []string{"image", "note"}, res.Directives)
	assert.Equal(t, []string{"kbd"}, res.Roles)
}

func TestParse_RolesInDirectiveArgument(t *testing.T) {
	res := mustParse(t, ".. note:: See :ref:`intro` first.\n", Options{})
	assert.Equal(t, []string{"note"}, res.Directives)
	assert.Equal(t, []string{"ref"}, res.Roles)
}

func TestParseInline(t *testing.T) {
	src := "This is *emph*, **strong**, ``code`` and :ref:`Label <target>` plus " +
		"`Godot <https://godotengine.org>`_ and name_ and |sub| [#]_."
	nodes := ParseInline(src)

	want := []ast.NodeType{
		ast.TypeText, ast.TypeEmphasis, ast.TypeText, ast.TypeStrong, ast.TypeText,
		ast.TypeInlineLiteral, ast.TypeText, ast.TypeInterpretedText, ast.TypeText,
		ast.TypeHyperlinkRef, ast.TypeText, ast.TypeHyperlinkRef, ast.TypeText,
		ast.TypeSubstitutionRef, ast.TypeText, ast.TypeFootnoteRef, ast.TypeText,
	}
	if diff := cmp.Diff(want, types(nodes)); diff != "" {
		t.Fatalf("inline node types mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "emph", nodes[1].TextContent())
	assert.Equal(t, "strong", nodes[3].TextContent())
	assert.Equal(t, "code", nodes[5].Text)

	ref := nodes[7]
	assert.Equal(t, "ref", ref.Name)
	assert.Equal(t, "Label", ref.Text)
	assert.Equal(t, "target", ref.Target)

	link := nodes[9]
	assert.Equal(t, "Godot", link.Text)
	assert.Equal(t, "https://godotengine.org", link.Target)

	assert.Equal(t, "name", nodes[11].Name)
	assert.Equal(t, "sub", nodes[13].Name)
	assert.Equal(t, "#", nodes[15].Name)
	assert.Equal(t, ".", nodes[16].Text)
}

func TestParseInline_Roles(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantRole string
		wantText string
	}{
		{name: "default role", src: "`Node2D`", wantRole: ast.DefaultRole, wantText: "Node2D"},
		{name: "suffix role", src: "`Ctrl`:kbd:", wantRole: "kbd", wantText: "Ctrl"},
		{name: "domain role", src: ":py:func:`print`", wantRole: "py:func", wantText: "print"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := ParseInline(tt.src)
			require.Len(t, nodes, 1)
			assert.Equal(t, ast.TypeInterpretedText, nodes[0].Type)
			assert.Equal(t, tt.wantRole, nodes[0].Name)
			assert.Equal(t, tt.wantText, nodes[0].Text)
		})
	}
}

func TestParseInline_PlainText(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "escaped markup", src: `\*not emphasis\*`, want: "*not emphasis*"},
		{name: "inner underscores", src: "snake_case_name", want: "snake_case_name"},
		{name: "arithmetic", src: "2*3*4", want: "2*3*4"},
		{name: "dunder", src: "__init__", want: "__init__"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := ParseInline(tt.src)
			require.Len(t, nodes, 1)
			assert.Equal(t, ast.TypeText, nodes[0].Type)
			assert.Equal(t, tt.want, nodes[0].Text)
		})
	}
}

func TestParse_Lists(t *testing.T) {
	src := "- one\n- two\n\n  continued\n\n1. first\n2. second\n\nterm\n   definition\n\n" +
		":Author: Ada\n:Version: 1.0\n"
	res := mustParse(t, src, Options{})
	root := res.Root

	require.Equal(t, []ast.NodeType{
		ast.TypeBulletList, ast.TypeEnumeratedList, ast.TypeDefinitionList, ast.TypeFieldList,
	}, types(root.Children))

	bullets := root.Children[0]
	assert.Equal(t, "-", bullets.Bullet)
	require.Len(t, bullets.Children, 2)
	assert.Equal(t, []ast.NodeType{ast.TypeParagraph, ast.TypeParagraph}, types(bullets.Children[1].Children))

	enum := root.Children[1]
	assert.Equal(t, 1, enum.Start)
	assert.Equal(t, "arabic.", enum.Style)
	assert.Len(t, enum.Children, 2)

	item := root.Children[2].Children[0]
	require.Equal(t, []ast.NodeType{ast.TypeTerm, ast.TypeDefinition}, types(item.Children))
	assert.Equal(t, "term", item.Children[0].TextContent())
	assert.Equal(t, "definition", item.Children[1].TextContent())

	fields := root.Children[3].Children
	require.Len(t, fields, 2)
	assert.Equal(t, "Author", fields[0].Name)
	assert.Equal(t, "Ada", fields[0].Text)
	assert.Equal(t, "Version", fields[1].Name)
	assert.Equal(t, "1.0", fields[1].Text)
}

func TestParse_LiteralBlock(t *testing.T) {
	res := mustParse(t, "Example::\n\n    code here\n    more\n\nAfter.\n", Options{})
	root := res.Root

	require.Equal(t, []ast.NodeType{ast.TypeParagraph, ast.TypeLiteralBlock, ast.TypeParagraph}, types(root.Children))
	assert.Equal(t, "Example:", root.Children[0].TextContent())
	assert.Equal(t, "code here\nmore", root.Children[1].Text)
	assert.Equal(t, "After.", root.Children[2].TextContent())
}

func TestParse_Tables(t *testing.T) {
	t.Run("grid", func(t *testing.T) {
		src := "+------+-------+\n" +
			"| Name | Value |\n" +
			"+======+=======+\n" +
			"| a    | 1     |\n" +
			"+------+-------+\n" +
			"| b    | 2     |\n" +
			"+------+-------+\n"
		res := mustParse(t, src, Options{})
		require.Len(t, res.Root.Children, 1)
		table := res.Root.Children[0]
		assert.Equal(t, ast.TypeTable, table.Type)
		require.Len(t, table.Children, 3)

		assert.True(t, table.Children[0].Header)
		assert.False(t, table.Children[1].Header)
		require.Len(t, table.Children[0].Children, 2)
		assert.Equal(t, "Name", table.Children[0].Children[0].TextContent())
		assert.Equal(t, "2", table.Children[2].Children[1].TextContent())
	})

	t.Run("simple", func(t *testing.T) {
		src := "=====  =====\nA      B\n=====  =====\n1      2\n3      4\n=====  =====\n"
		res := mustParse(t, src, Options{})
		require.Len(t, res.Root.Children, 1)
		table := res.Root.Children[0]
		require.Len(t, table.Children, 3)

		assert.True(t, table.Children[0].Header)
		assert.Equal(t, "B", table.Children[0].Children[1].TextContent())
		assert.Equal(t, "3", table.Children[2].Children[0].TextContent())
	})
}

func TestParse_TargetsAndComments(t *testing.T) {
	src := ".. _doc_intro:\n\nIntro\n=====\n\n.. _Godot: https://godotengine.org\n\n" +
		"__ https://example.com\n\n.. a comment\n   continued\n"
	res := mustParse(t, src, Options{})

	require.Len(t, res.Root.Children, 2)
	target := res.Root.Children[0]
	assert.Equal(t, ast.TypeHyperlinkTarget, target.Type)
	assert.Equal(t, "doc_intro", target.Name)
	assert.Empty(t, target.Target)

	intro := res.Root.Children[1]
	require.Equal(t, []ast.NodeType{ast.TypeHyperlinkTarget, ast.TypeHyperlinkTarget, ast.TypeComment}, types(intro.Children))
	assert.Equal(t, "Godot", intro.Children[0].Name)
	assert.Equal(t, "https://godotengine.org", intro.Children[0].Target)
	assert.Equal(t, "__", intro.Children[1].Style)
	assert.Equal(t, "https://example.com", intro.Children[1].Target)
	assert.Equal(t, "a comment\ncontinued", intro.Children[2].Text)
}

func TestParse_EpilogAndTabs(t *testing.T) {
	res := mustParse(t, "Use |version| here.", Options{Epilog: ".. |version| replace:: 4.2"})
	require.Equal(t, []ast.NodeType{ast.TypeParagraph, ast.TypeSubstitutionDef}, types(res.Root.Children))
	def := res.Root.Children[1]
	assert.Equal(t, "version", def.Name)
	require.Len(t, def.Children, 1)
	assert.Equal(t, "replace", def.Children[0].Name)
	assert.Equal(t, "4.2", def.Children[0].Argument)
	assert.Equal(t, []string{"replace"}, res.Directives)

	res = mustParse(t, ".. note::\n\tTabbed body.\n", Options{InputIndentSize: 3})
	note := res.Root.Children[0]
	assert.Equal(t, "Tabbed body.", note.RawBody)
	assert.Equal(t, "Tabbed body.", note.TextContent())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantLine int
		wantMsg  string
	}{
		{
			name:     "section level skip",
			src:      "Title\n=====\n\nSub\n---\n\nAnother\n=======\n\nJump\n~~~~\n",
			wantLine: 10,
			wantMsg:  "skips",
		},
		{
			name:     "overline mismatch",
			src:      "=====\nTitle\n-----\n",
			wantLine: 3,
			wantMsg:  "do not match",
		},
		{
			name:     "malformed option",
			src:      ".. image:: a.png\n   :width 100\n",
			wantLine: 2,
			wantMsg:  "malformed option",
		},
		{
			name:     "literal block at end of input",
			src:      "Example::\n",
			wantLine: 1,
			wantMsg:  "literal block expected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(tt.src, Options{Path: "broken.rst"})
			require.Error(t, err)
			assert.Nil(t, res)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "broken.rst", perr.Path)
			assert.Equal(t, tt.wantLine, perr.Line)
			assert.Contains(t, perr.Msg, tt.wantMsg)
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	src := "Title\n=====\n\nSome *text* with :doc:`intro`.\n\n.. note::\n\n   - a\n   - b\n"
	first := mustParse(t, src, Options{})
	second := mustParse(t, src, Options{})
	assert.True(t, ast.Equal(first.Root, second.Root))

	a, err := ast.Marshal(first.Root)
	require.NoError(t, err)
	b, err := ast.Marshal(second.Root)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	back, err := ast.Unmarshal(a)
	require.NoError(t, err)
	assert.True(t, ast.Equal(first.Root, back))
}

const richSource = `.. _doc_guide:

Guide
=====

Intro with *emph*, **strong**, ` + "``code``" + `, :ref:` + "`doc_guide`" + ` and |ver|.

.. |ver| replace:: 4.2

Lists
-----

- one
- two

  continued

1. first
2. second

term
   definition

:Author: Ada

Plain paragraph.

    Quoted text.

Example::

    literal

----

Tables
~~~~~~

+------+-------+
| Name | Value |
+======+=======+
| a    | 1     |
+------+-------+

=====  =====
A      B
=====  =====
1      2
=====  =====

.. note::
   :class: wide

   Nested *body*.

   - item

.. code-block:: python
   :linenos:

   print("hi")

.. a comment
`

func checkParents(t *testing.T, n *ast.Node) {
	t.Helper()
	for _, c := range n.Children {
		require.Same(t, n, c.Parent(), "parent of %s", c)
		checkParents(t, c)
	}
}

func TestParse_RichDocumentRoundTrip(t *testing.T) {
	res := mustParse(t, richSource, Options{Path: "guide.rst"})
	root := res.Root

	for _, typ := range []ast.NodeType{
		ast.TypeSection, ast.TypeBulletList, ast.TypeEnumeratedList, ast.TypeDefinitionList,
		ast.TypeFieldList, ast.TypeBlockQuote, ast.TypeLiteralBlock, ast.TypeTransition,
		ast.TypeTable, ast.TypeDirective, ast.TypeSubstitutionDef, ast.TypeHyperlinkTarget,
		ast.TypeComment, ast.TypeEmphasis, ast.TypeStrong, ast.TypeInlineLiteral,
		ast.TypeInterpretedText, ast.TypeSubstitutionRef,
	} {
		assert.NotNil(t, root.Find(ast.OfType(typ)), "missing %s", typ)
	}

	data, err := ast.Marshal(root)
	require.NoError(t, err)
	back, err := ast.Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, ast.Equal(root, back))
	assert.Nil(t, back.Parent())
	checkParents(t, back)

	doc := res.Document("guide.rst")
	data, err = ast.MarshalDocument(doc)
	require.NoError(t, err)
	backDoc, err := ast.UnmarshalDocument(data)
	require.NoError(t, err)
	assert.True(t, ast.Equal(doc.Root, backDoc.Root))
	assert.Equal(t, doc.Directives, backDoc.Directives)
	assert.Equal(t, doc.Roles, backDoc.Roles)
	checkParents(t, backDoc.Root)
}
