package ast

import (
	"fmt"

	"rstdocs/internal/codec"
)

// Marshal serializes the tree rooted at root. Parent links are not
// encoded; Unmarshal rebuilds them from the child lists.
func Marshal(root *Node) ([]byte, error) {
	if root == nil {
		return nil, fmt.Errorf("ast: marshal nil node")
	}
	return codec.Marshal(root)
}

// Unmarshal rebuilds a tree produced by Marshal.
func Unmarshal(data []byte) (*Node, error) {
	var root Node
	if err := codec.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("ast: unmarshal: %w", err)
	}
	relink(&root, nil)
	return &root, nil
}

// MarshalDocument serializes a whole document, metadata included.
func MarshalDocument(doc *Document) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("ast: marshal empty document")
	}
	return codec.Marshal(doc)
}

// UnmarshalDocument rebuilds a document produced by MarshalDocument.
func UnmarshalDocument(data []byte) (*Document, error) {
	var doc Document
	if err := codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ast: unmarshal document: %w", err)
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("ast: document %q has no root", doc.Path)
	}
	relink(doc.Root, nil)
	return &doc, nil
}

func relink(n, parent *Node) {
	n.parent = parent
	for _, c := range n.Children {
		relink(c, n)
	}
}

// Equal reports whether two trees are structurally and semantically
// identical. Parent links are implied by the child lists and ignored.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type != b.Type || a.Range != b.Range || a.Text != b.Text || a.Level != b.Level ||
		a.Name != b.Name || a.Argument != b.Argument || a.RawBody != b.RawBody ||
		a.Target != b.Target || a.Bullet != b.Bullet || a.Start != b.Start ||
		a.Header != b.Header || a.Style != b.Style {
		return false
	}
	if len(a.Config) != len(b.Config) || len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Config {
		if a.Config[i] != b.Config[i] {
			return false
		}
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
