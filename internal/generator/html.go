package generator

import (
	"bytes"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// The converter is built once; goldmark keeps per-call state in the
// parse context so the instance is safe to share.
var (
	htmlConverter     goldmark.Markdown
	htmlConverterOnce sync.Once
)

func getHTMLConverter() goldmark.Markdown {
	htmlConverterOnce.Do(func() {
		htmlConverter = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
			goldmark.WithParserOptions(
				parser.WithAttribute(),
			),
			goldmark.WithRendererOptions(
				html.WithUnsafe(),
			),
		)
	})
	return htmlConverter
}

func markdownToHTML(body string) (string, error) {
	var buf bytes.Buffer
	if err := getHTMLConverter().Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
