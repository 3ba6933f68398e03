package parser

import (
	"fmt"
	"strings"
)

// DefaultLiteralDirectives lists directives whose body is kept only as raw
// text. Every other directive also gets its body parsed into children.
var DefaultLiteralDirectives = []string{
	"code-block",
	"code",
	"sourcecode",
	"code-tab",
	"highlight",
	"raw",
	"math",
	"toctree",
	"literalinclude",
}

// Options configures a parse.
type Options struct {
	// Path is the source path reported in errors.
	Path string `json:"path,omitempty"`
	// Epilog is appended to every document before parsing. It usually
	// carries shared substitution definitions.
	Epilog string `json:"epilog,omitempty"`
	// InputIndentSize is the number of spaces a tab expands to.
	InputIndentSize int `json:"inputIndentSize,omitempty"`
	// LiteralDirectives overrides DefaultLiteralDirectives when non-empty.
	LiteralDirectives []string `json:"literalDirectives,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.InputIndentSize <= 0 {
		o.InputIndentSize = 3
	}
	if len(o.LiteralDirectives) == 0 {
		o.LiteralDirectives = DefaultLiteralDirectives
	}
	return o
}

// ParseError is a structural violation. It is never recovered from.
type ParseError struct {
	Path   string
	Line   int
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	path := e.Path
	if path == "" {
		path = "<input>"
	}
	return fmt.Sprintf("%s:%d: %s (offset %d)", path, e.Line, e.Msg, e.Offset)
}

func (p *parser) errorf(l line, format string, args ...any) *ParseError {
	return &ParseError{
		Path:   p.opts.Path,
		Line:   l.num,
		Offset: l.offset,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func (p *parser) isLiteral(name string) bool {
	name = strings.ToLower(name)
	for _, d := range p.opts.LiteralDirectives {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}
