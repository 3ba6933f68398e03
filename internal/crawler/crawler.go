package crawler

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"rstdocs/internal/ast"
	"rstdocs/internal/cache"
)

// Source is one RST file found under the root.
type Source struct {
	// Path is relative to the root, normalized like a cache key.
	Path    string
	AbsPath string
	Text    string
	ModTime time.Time
	Hash    string
}

// Crawler scans a directory for RST sources.
type Crawler struct {
	ignored []string
}

// NewCrawler creates a new crawler instance. Directories named in
// ignored are skipped in addition to the defaults.
func NewCrawler(ignored ...string) *Crawler {
	return &Crawler{
		ignored: append([]string{".git", "node_modules", "_build", "_static", "_templates"}, ignored...),
	}
}

// ScanProject walks root and calls onSource for every .rst file in
// lexical order. An unreadable source or an error from onSource stops
// the walk.
func (c *Crawler) ScanProject(root string, onSource func(Source) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip ignored directories
		if d.IsDir() {
			if path == root {
				return nil
			}
			for _, ign := range c.ignored {
				if d.Name() == ign {
					log.Debug().Str("dir", path).Msg("skipping ignored directory")
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !strings.HasSuffix(d.Name(), ".rst") {
			return nil
		}

		src, err := readSource(root, path)
		if err != nil {
			return fmt.Errorf("read source %s: %w", path, err)
		}
		return onSource(src)
	})
}

// Collect returns every source under root.
func (c *Crawler) Collect(root string) ([]Source, error) {
	var out []Source
	err := c.ScanProject(root, func(s Source) error {
		out = append(out, s)
		return nil
	})
	return out, err
}

func readSource(root, path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Source{}, err
	}
	abs, _ := filepath.Abs(path)
	text := string(data)
	return Source{
		Path:    ast.NormalizePath(filepath.ToSlash(rel)),
		AbsPath: abs,
		Text:    text,
		ModTime: info.ModTime(),
		Hash:    cache.HashText(text),
	}, nil
}
