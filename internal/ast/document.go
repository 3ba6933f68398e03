package ast

import (
	"path"
	"sort"
	"strings"
	"time"
)

// DefaultRole is the role name given to interpreted text written
// without an explicit role.
const DefaultRole = "title-reference"

// Document is a parsed source file.
type Document struct {
	Root       *Node     `json:"root" cbor:"1,keyasint"`
	Path       string    `json:"path" cbor:"2,keyasint"`
	ModTime    time.Time `json:"modTime" cbor:"3,keyasint"`
	Directives []string  `json:"directives,omitempty" cbor:"4,keyasint,omitempty"`
	Roles      []string  `json:"roles,omitempty" cbor:"5,keyasint,omitempty"`
}

// UsedNames walks root and returns the distinct directive and role names
// it uses, lower-cased and sorted.
func UsedNames(root *Node) (directives, roles []string) {
	dirSet := make(map[string]struct{})
	roleSet := make(map[string]struct{})
	for _, n := range root.FindAll(func(n *Node) bool {
		return n.Type == TypeDirective || n.Type == TypeInterpretedText
	}) {
		name := strings.ToLower(n.Name)
		if n.Type == TypeDirective {
			dirSet[name] = struct{}{}
		} else {
			roleSet[name] = struct{}{}
		}
	}
	return sortedKeys(dirSet), sortedKeys(roleSet)
}

// NormalizePath returns the canonical key for a document path: forward
// slashes, cleaned, no leading separator and a ".rst" suffix.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		return ""
	}
	if !strings.HasSuffix(p, ".rst") {
		p += ".rst"
	}
	return p
}

// Title returns the text of the first section of the document.
func (d *Document) Title() string {
	if d == nil || d.Root == nil {
		return ""
	}
	if s := d.Root.Find(OfType(TypeSection)); s != nil {
		return s.Text
	}
	return ""
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
