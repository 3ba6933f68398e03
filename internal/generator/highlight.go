package generator

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlighter turns a code block into marked-up text.
type Highlighter interface {
	Highlight(code, lang, theme string) (string, error)
}

// HighlighterFunc adapts a function to Highlighter.
type HighlighterFunc func(code, lang, theme string) (string, error)

func (f HighlighterFunc) Highlight(code, lang, theme string) (string, error) {
	return f(code, lang, theme)
}

// ChromaHighlighter emits an HTML <pre> fragment with inline styles.
// Unknown languages fall back to plain text; an empty theme uses the
// default style.
type ChromaHighlighter struct{}

func (ChromaHighlighter) Highlight(code, lang, theme string) (string, error) {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get(theme)
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	formatter := chromahtml.New(chromahtml.TabWidth(4))
	if err := formatter.Format(&sb, style, iterator); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
