package generator

import (
	"strings"

	"gopkg.in/yaml.v3"

	"rstdocs/internal/ast"
)

// frontMatter is the page header. Keys of the top-of-document field list
// other than title land in Meta.
type frontMatter struct {
	Title       string            `yaml:"title,omitempty"`
	LastUpdated string            `yaml:"lastUpdated,omitempty"`
	Meta        map[string]string `yaml:",inline"`
}

func renderHeader(doc *ast.Document, meta map[string]string) (string, error) {
	fm := frontMatter{Title: doc.Title(), Meta: make(map[string]string)}
	if !doc.ModTime.IsZero() {
		fm.LastUpdated = doc.ModTime.UTC().Format("2006-01-02")
	}
	for _, k := range sortedKeys(meta) {
		switch k {
		case "title":
			fm.Title = meta[k]
		case "lastupdated":
			fm.LastUpdated = meta[k]
		default:
			fm.Meta[k] = meta[k]
		}
	}
	if fm.Title == "" && fm.LastUpdated == "" && len(fm.Meta) == 0 {
		return "", nil
	}

	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return "---\n" + sb.String() + "---", nil
}
