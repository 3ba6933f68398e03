// Package search derives search-hierarchy records from parsed documents.
// Every section starts a record holding the titles of its enclosing
// sections, the text of the blocks that follow it and the symbols
// declared by its code samples.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"rstdocs/internal/ast"
	"rstdocs/internal/generator"
)

// MaxTextLength caps the text of one record, leaving room for the other
// fields under a 10 KiB record limit.
const MaxTextLength = 9 * 1024

const maxLevels = 6

type Hierarchy struct {
	Lvl1 string `json:"lvl1,omitempty"`
	Lvl2 string `json:"lvl2,omitempty"`
	Lvl3 string `json:"lvl3,omitempty"`
	Lvl4 string `json:"lvl4,omitempty"`
	Lvl5 string `json:"lvl5,omitempty"`
	Lvl6 string `json:"lvl6,omitempty"`
	Text string `json:"text,omitempty"`
}

type Record struct {
	ObjectID  string    `json:"objectID"`
	Hierarchy Hierarchy `json:"hierarchy"`
	Keywords  []string  `json:"keywords,omitempty"`
}

// Indexer builds records for every document of a corpus. Anchors come
// from the corpus so they match the generated pages.
type Indexer struct {
	Corpus *generator.Corpus
	// Keywords may be nil to skip code symbol extraction.
	Keywords *KeywordExtractor
}

// Records returns the records of every document in path order.
func (ix *Indexer) Records(ctx context.Context) ([]Record, error) {
	var out []Record
	for _, p := range ix.Corpus.Paths() {
		doc, _ := ix.Corpus.Doc(p)
		recs, err := ix.DocRecords(ctx, p, doc)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", p, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// DocRecords returns one record per section of doc, in document order.
func (ix *Indexer) DocRecords(ctx context.Context, docPath string, doc *ast.Document) ([]Record, error) {
	htmlPath := strings.TrimSuffix(ast.NormalizePath(docPath), ".rst") + ".html"
	var levels [maxLevels]string
	var out []Record

	for _, sec := range doc.Root.FindAll(ast.OfType(ast.TypeSection)) {
		lvl := min(max(sec.Level, 1), maxLevels)
		levels[lvl-1] = sec.Text
		for i := lvl; i < maxLevels; i++ {
			levels[i] = ""
		}

		rec := Record{
			ObjectID: htmlPath + "#" + ix.Corpus.Anchor(sec),
			Hierarchy: Hierarchy{
				Lvl1: levels[0], Lvl2: levels[1], Lvl3: levels[2],
				Lvl4: levels[3], Lvl5: levels[4], Lvl6: levels[5],
				Text: sectionText(sec),
			},
		}
		if ix.Keywords != nil {
			kw, err := ix.sectionKeywords(ctx, sec)
			if err != nil {
				return nil, err
			}
			rec.Keywords = kw
		}
		out = append(out, rec)
	}
	return out, nil
}

// sectionBody returns the children of sec that precede its first
// subsection.
func sectionBody(sec *ast.Node) []*ast.Node {
	for i, c := range sec.Children {
		if c.Type == ast.TypeSection {
			return sec.Children[:i]
		}
	}
	return sec.Children
}

func sectionText(sec *ast.Node) string {
	var parts []string
	size := 0
	for _, c := range sectionBody(sec) {
		switch c.Type {
		case ast.TypeParagraph, ast.TypeBulletList, ast.TypeEnumeratedList:
		default:
			continue
		}
		text := asciiOnly(strings.ReplaceAll(c.TextContent(), "\n", " "))
		if size+len(text) > MaxTextLength {
			break
		}
		size += len(text) + 1
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

func asciiOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x80 {
			return -1
		}
		return r
	}, s)
}

var codeDirectives = map[string]bool{
	"code-block": true,
	"code":       true,
	"sourcecode": true,
	"code-tab":   true,
}

func (ix *Indexer) sectionKeywords(ctx context.Context, sec *ast.Node) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	isCode := func(n *ast.Node) bool {
		return n.Type == ast.TypeDirective && codeDirectives[strings.ToLower(n.Name)]
	}
	for _, c := range sectionBody(sec) {
		blocks := c.FindAll(isCode)
		if isCode(c) {
			blocks = append([]*ast.Node{c}, blocks...)
		}
		for _, b := range blocks {
			lang, _, _ := strings.Cut(strings.TrimSpace(b.Argument), " ")
			names, err := ix.Keywords.Extract(ctx, b.RawBody, lang)
			if err != nil {
				log.Debug().Err(err).Int("line", b.Range.Line).Msg("skipping code sample")
				continue
			}
			for _, n := range names {
				if !seen[n] {
					seen[n] = true
					out = append(out, n)
				}
			}
		}
	}
	return out, nil
}

// Analysis summarizes the serialized size of a record set.
type Analysis struct {
	Count     int    `json:"count"`
	TotalSize int    `json:"total_size"`
	AvgSize   int    `json:"avg_size"`
	MaxSize   int    `json:"max_size"`
	MaxID     string `json:"max_id"`
	MinSize   int    `json:"min_size"`
	MinID     string `json:"min_id"`
}

func Analyze(records []Record) (Analysis, error) {
	a := Analysis{Count: len(records)}
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return Analysis{}, err
		}
		size := len(data)
		a.TotalSize += size
		if i == 0 || size > a.MaxSize {
			a.MaxSize, a.MaxID = size, r.ObjectID
		}
		if i == 0 || size < a.MinSize {
			a.MinSize, a.MinID = size, r.ObjectID
		}
	}
	if a.Count > 0 {
		a.AvgSize = a.TotalSize / a.Count
	}
	return a, nil
}

func (a Analysis) String() string {
	kb := func(n int) string { return fmt.Sprintf("%.2f KB", float64(n)/1024) }
	return fmt.Sprintf("count=%d total=%s avg=%s max=%s (%s) min=%s (%s)",
		a.Count, kb(a.TotalSize), kb(a.AvgSize), kb(a.MaxSize), a.MaxID, kb(a.MinSize), a.MinID)
}

// Save validates records and writes them as an indented JSON array.
func Save(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	if err := Validate(records); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
