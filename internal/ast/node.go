// Package ast defines the reStructuredText syntax tree shared by the
// parser, the generator and the document cache.
package ast

import (
	"fmt"
	"strings"
)

// NodeType is the stable tag of a node variant. The values are persisted
// in the cache and must not be renamed.
type NodeType string

const (
	TypeDocument           NodeType = "Document"
	TypeSection            NodeType = "Section"
	TypeTransition         NodeType = "Transition"
	TypeParagraph          NodeType = "Paragraph"
	TypeBulletList         NodeType = "BulletList"
	TypeEnumeratedList     NodeType = "EnumeratedList"
	TypeListItem           NodeType = "ListItem"
	TypeDefinitionList     NodeType = "DefinitionList"
	TypeDefinitionListItem NodeType = "DefinitionListItem"
	TypeTerm               NodeType = "Term"
	TypeDefinition         NodeType = "Definition"
	TypeFieldList          NodeType = "FieldList"
	TypeField              NodeType = "Field"
	TypeBlockQuote         NodeType = "BlockQuote"
	TypeLiteralBlock       NodeType = "LiteralBlock"
	TypeDirective          NodeType = "Directive"
	TypeComment            NodeType = "Comment"
	TypeHyperlinkTarget    NodeType = "HyperlinkTarget"
	TypeSubstitutionDef    NodeType = "SubstitutionDef"
	TypeTable              NodeType = "Table"
	TypeTableRow           NodeType = "TableRow"
	TypeTableCell          NodeType = "TableCell"

	TypeText            NodeType = "Text"
	TypeEmphasis        NodeType = "Emphasis"
	TypeStrong          NodeType = "Strong"
	TypeInlineLiteral   NodeType = "InlineLiteral"
	TypeInterpretedText NodeType = "InterpretedText"
	TypeHyperlinkRef    NodeType = "HyperlinkRef"
	TypeSubstitutionRef NodeType = "SubstitutionRef"
	TypeFootnoteRef     NodeType = "FootnoteRef"
)

// Range locates a node in its source text. Start and End are byte
// offsets; Line is 1-based.
type Range struct {
	Start int `json:"start" cbor:"1,keyasint"`
	End   int `json:"end" cbor:"2,keyasint"`
	Line  int `json:"line" cbor:"3,keyasint"`
}

// Field is one `:name: value` entry of a directive option block or
// field list.
type Field struct {
	Name  string `json:"name" cbor:"1,keyasint"`
	Value string `json:"value" cbor:"2,keyasint"`
}

// Node is one element of the tree. Which payload fields are meaningful
// depends on Type:
//
//	Section            Level, Text (flattened title), Style (adornment key)
//	Directive          Name, Argument, Config, RawBody
//	InterpretedText    Name (role), Text, Target
//	HyperlinkRef       Name, Text, Target (embedded URI), Anonymous via Style "__"
//	HyperlinkTarget    Name, Target (URI, empty for internal targets)
//	SubstitutionDef    Name; the single child is the Directive
//	SubstitutionRef    Name
//	BulletList         Bullet
//	EnumeratedList     Start, Style (enumeration format)
//	TableRow           Header
//	LiteralBlock, Text, InlineLiteral, Comment  Text
//
// Children are owned; the parent link is a non-owning back reference
// maintained by AppendChild and restored by Unmarshal.
type Node struct {
	Type     NodeType `json:"type" cbor:"1,keyasint"`
	Range    Range    `json:"range" cbor:"2,keyasint"`
	Children []*Node  `json:"children,omitempty" cbor:"3,keyasint,omitempty"`

	Text     string  `json:"text,omitempty" cbor:"4,keyasint,omitempty"`
	Level    int     `json:"level,omitempty" cbor:"5,keyasint,omitempty"`
	Name     string  `json:"name,omitempty" cbor:"6,keyasint,omitempty"`
	Argument string  `json:"argument,omitempty" cbor:"7,keyasint,omitempty"`
	Config   []Field `json:"config,omitempty" cbor:"8,keyasint,omitempty"`
	RawBody  string  `json:"rawBody,omitempty" cbor:"9,keyasint,omitempty"`
	Target   string  `json:"target,omitempty" cbor:"10,keyasint,omitempty"`
	Bullet   string  `json:"bullet,omitempty" cbor:"11,keyasint,omitempty"`
	Start    int     `json:"start,omitempty" cbor:"12,keyasint,omitempty"`
	Header   bool    `json:"header,omitempty" cbor:"13,keyasint,omitempty"`
	Style    string  `json:"style,omitempty" cbor:"14,keyasint,omitempty"`

	parent *Node
}

// New returns a detached node of the given type.
func New(t NodeType, r Range) *Node {
	return &Node{Type: t, Range: r}
}

// Parent returns the node whose Children contains n, or nil for a root.
func (n *Node) Parent() *Node {
	return n.parent
}

// AppendChild attaches child as the last child of n.
// A child that already has a parent is detached from it first.
func (n *Node) AppendChild(child *Node) {
	if child == nil {
		return
	}
	if child.parent != nil {
		child.parent.removeChild(child)
	}
	child.parent = n
	n.Children = append(n.Children, child)
}

func (n *Node) removeChild(child *Node) {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

// IndexInParent returns n's position among its siblings, or -1 for a root.
func (n *Node) IndexInParent() int {
	if n.parent == nil {
		return -1
	}
	for i, c := range n.parent.Children {
		if c == n {
			return i
		}
	}
	return -1
}

// PrevSibling returns the sibling immediately before n in document
// order, or nil when n is the first child or a root.
func (n *Node) PrevSibling() *Node {
	i := n.IndexInParent()
	if i <= 0 {
		return nil
	}
	return n.parent.Children[i-1]
}

// NextSibling returns the sibling immediately after n, or nil.
func (n *Node) NextSibling() *Node {
	i := n.IndexInParent()
	if i < 0 || i+1 >= len(n.parent.Children) {
		return nil
	}
	return n.parent.Children[i+1]
}

// Find returns the first descendant of n (depth-first, pre-order) that
// satisfies pred. n itself is not tested.
func (n *Node) Find(pred func(*Node) bool) *Node {
	for _, c := range n.Children {
		if pred(c) {
			return c
		}
		if found := c.Find(pred); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every descendant of n that satisfies pred, depth-first
// and pre-order.
func (n *Node) FindAll(pred func(*Node) bool) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(cur *Node) {
		for _, c := range cur.Children {
			if pred(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// Ancestor returns the nearest ancestor of type t, or nil.
func (n *Node) Ancestor(t NodeType) *Node {
	for p := n.parent; p != nil; p = p.parent {
		if p.Type == t {
			return p
		}
	}
	return nil
}

// OfType is a predicate matching nodes of type t.
func OfType(t NodeType) func(*Node) bool {
	return func(n *Node) bool { return n.Type == t }
}

// FieldValue returns the value of the named config field.
func (n *Node) FieldValue(name string) (string, bool) {
	for _, f := range n.Config {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// HasField reports whether the named config field is present.
func (n *Node) HasField(name string) bool {
	_, ok := n.FieldValue(name)
	return ok
}

// TextContent flattens the human-readable text below n.
func (n *Node) TextContent() string {
	switch n.Type {
	case TypeText, TypeInlineLiteral, TypeLiteralBlock:
		return n.Text
	case TypeSection:
		return n.Text
	case TypeInterpretedText, TypeHyperlinkRef:
		if n.Text != "" {
			return n.Text
		}
		return n.Target
	case TypeSubstitutionRef:
		return n.Name
	case TypeComment, TypeHyperlinkTarget, TypeSubstitutionDef:
		return ""
	}
	var sb strings.Builder
	for i, c := range n.Children {
		if i > 0 && !c.IsInline() {
			sb.WriteString("\n")
		}
		sb.WriteString(c.TextContent())
	}
	return sb.String()
}

// IsInline reports whether n is an inline (text-level) node.
func (n *Node) IsInline() bool {
	switch n.Type {
	case TypeText, TypeEmphasis, TypeStrong, TypeInlineLiteral, TypeInterpretedText,
		TypeHyperlinkRef, TypeSubstitutionRef, TypeFootnoteRef:
		return true
	}
	return false
}

// String returns a short description used in error messages.
func (n *Node) String() string {
	switch n.Type {
	case TypeDirective:
		return fmt.Sprintf("%s(%s) line %d", n.Type, n.Name, n.Range.Line)
	case TypeInterpretedText:
		return fmt.Sprintf("%s(:%s:) line %d", n.Type, n.Name, n.Range.Line)
	case TypeSection:
		return fmt.Sprintf("%s(%d %q) line %d", n.Type, n.Level, n.Text, n.Range.Line)
	}
	return fmt.Sprintf("%s line %d", n.Type, n.Range.Line)
}
