package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// symbolGrammar pairs a tree-sitter grammar with a query whose @name
// captures are the declared symbols worth indexing.
type symbolGrammar struct {
	language *sitter.Language
	query    string
}

var grammars = map[string]func() symbolGrammar{
	"go": func() symbolGrammar {
		return symbolGrammar{golang.GetLanguage(), `
			(function_declaration name: (identifier) @name)
			(method_declaration name: (field_identifier) @name)
			(type_spec name: (type_identifier) @name)
		`}
	},
	"python": func() symbolGrammar {
		return symbolGrammar{python.GetLanguage(), `
			(function_definition name: (identifier) @name)
			(class_definition name: (identifier) @name)
		`}
	},
	"javascript": func() symbolGrammar {
		return symbolGrammar{javascript.GetLanguage(), `
			(function_declaration name: (identifier) @name)
			(class_declaration name: (identifier) @name)
			(method_definition name: (property_identifier) @name)
		`}
	},
	"csharp": func() symbolGrammar {
		return symbolGrammar{csharp.GetLanguage(), `
			(class_declaration name: (identifier) @name)
			(method_declaration name: (identifier) @name)
		`}
	},
}

var languageAliases = map[string]string{
	"golang":  "go",
	"py":      "python",
	"python3": "python",
	"js":      "javascript",
	"cs":      "csharp",
	"c#":      "csharp",
}

// KeywordExtractor pulls declared symbol names out of code samples.
// Compiled queries are cached per language; it is safe for concurrent use.
type KeywordExtractor struct {
	mu      sync.Mutex
	queries map[string]*sitter.Query
}

func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{queries: make(map[string]*sitter.Query)}
}

// Supported reports whether lang has a grammar.
func Supported(lang string) bool {
	_, ok := grammars[canonicalLanguage(lang)]
	return ok
}

func canonicalLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if alias, ok := languageAliases[lang]; ok {
		return alias
	}
	return lang
}

func (e *KeywordExtractor) query(lang string) (*sitter.Query, *sitter.Language, error) {
	g := grammars[lang]()
	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.queries[lang]; ok {
		return q, g.language, nil
	}
	q, err := sitter.NewQuery([]byte(g.query), g.language)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s query: %w", lang, err)
	}
	e.queries[lang] = q
	return q, g.language, nil
}

// Extract returns the sorted, de-duplicated symbol names declared in
// code. Languages without a grammar yield nothing.
func (e *KeywordExtractor) Extract(ctx context.Context, code, lang string) ([]string, error) {
	lang = canonicalLanguage(lang)
	if _, ok := grammars[lang]; !ok || strings.TrimSpace(code) == "" {
		return nil, nil
	}
	query, language, err := e.query(lang)
	if err != nil {
		return nil, err
	}

	src := []byte(code)
	parser := sitter.NewParser()
	parser.SetLanguage(language)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s sample: %w", lang, err)
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	seen := make(map[string]bool)
	var names []string
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			name := c.Node.Content(src)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
