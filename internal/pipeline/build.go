// Package pipeline runs a whole build: crawl the sources, parse the
// changed ones on the worker pool, validate the corpus, generate every
// document and only then write the output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"rstdocs/internal/ast"
	"rstdocs/internal/cache"
	"rstdocs/internal/config"
	"rstdocs/internal/crawler"
	"rstdocs/internal/generator"
	"rstdocs/internal/parser"
	"rstdocs/internal/worker"
)

type Build struct {
	Config   *config.Config
	Spawner  worker.Spawner
	Registry *generator.Registry
	// Force reparses every source even when the cache is fresh.
	Force    bool
	Progress func(worker.Progress)
}

// Summary describes a finished build.
type Summary struct {
	Parsed    int
	Reused    int
	Written   int
	Downloads int
	Warnings  []generator.Diagnostic
	Report    *BuildReport
}

type rendered struct {
	path string
	out  *generator.Output
}

func NewBuild(cfg *config.Config) *Build {
	return &Build{
		Config:   cfg,
		Spawner:  worker.InProcessSpawner{},
		Registry: generator.DefaultRegistry(),
	}
}

// Run executes every stage. No output file is written unless parsing,
// validation and generation all succeed.
func (b *Build) Run(ctx context.Context) (*Summary, error) {
	return b.run(ctx, true, true)
}

// Parse refreshes the cache from the sources without generating.
func (b *Build) Parse(ctx context.Context) (*Summary, error) {
	return b.run(ctx, true, false)
}

// Generate validates and writes the corpus already in the cache.
func (b *Build) Generate(ctx context.Context) (*Summary, error) {
	return b.run(ctx, false, true)
}

func (b *Build) run(ctx context.Context, parse, generate bool) (summary *Summary, err error) {
	cfg := b.Config
	report := NewBuildReport(cfg.Format, cfg.SourceDir, cfg.OutputDir, cfg.WorkerCount())
	summary = &Summary{Report: report}
	defer func() {
		if generate {
			b.saveReport(report, err)
		}
	}()

	docs, closer, err := OpenCache(cfg)
	if err != nil {
		return summary, err
	}
	defer closer.Close()

	if parse {
		sources, err := b.crawlStage(report)
		if err != nil {
			return summary, err
		}
		if err := b.parseStage(ctx, report, docs, sources, summary); err != nil {
			return summary, err
		}
	}
	if !generate {
		return summary, nil
	}
	if docs.Len() == 0 {
		return summary, cache.ErrEmpty
	}

	if err := ValidateCache(b.Registry, docs); err != nil {
		report.AddSignal(ReportSignal{
			Code:     SignalUnsupportedName,
			Stage:    "validate",
			Severity: SeverityError,
			Message:  err.Error(),
		})
		return summary, err
	}
	outputs, err := b.generateStage(report, docs, summary)
	if err != nil {
		return summary, err
	}
	if err := b.writeStage(report, outputs, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// ReportPath returns where the build report goes, or "" when disabled.
func (b *Build) ReportPath() string {
	cfg := b.Config
	if cfg.Report == "" {
		return ""
	}
	if filepath.IsAbs(cfg.Report) {
		return cfg.Report
	}
	return filepath.Join(cfg.OutputDir, cfg.Report)
}

// saveReport writes the report of a generating build. A failed build
// leaves the output directory untouched, so its report is only saved
// when configured to live elsewhere.
func (b *Build) saveReport(report *BuildReport, buildErr error) {
	path := b.ReportPath()
	if path == "" {
		return
	}
	if buildErr != nil && withinDir(b.Config.OutputDir, path) {
		log.Debug().Str("path", path).Msg("build failed, report not written into output")
		return
	}
	if err := report.Save(path); err != nil {
		log.Warn().Err(err).Msg("failed to save build report")
	}
}

// withinDir reports whether path lies inside dir.
func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (b *Build) crawlStage(report *BuildReport) ([]crawler.Source, error) {
	h := report.BeginStage("crawl")
	sources, err := crawler.NewCrawler().Collect(b.Config.SourceDir)
	if err == nil && len(sources) == 0 {
		err = fmt.Errorf("no .rst files under %s", b.Config.SourceDir)
	}
	report.EndStage(h, map[string]float64{"sources": float64(len(sources))}, nil, err)
	if err != nil {
		return nil, fmt.Errorf("crawl: %w", err)
	}
	log.Info().Int("sources", len(sources)).Str("dir", b.Config.SourceDir).Msg("found sources")
	return sources, nil
}

// OpenCache opens the configured cache backend and loads it.
func OpenCache(cfg *config.Config) (*cache.DocCache, io.Closer, error) {
	var backend cache.Backend
	var closer io.Closer = io.NopCloser(nil)
	switch cfg.Cache.Backend {
	case "sqlite":
		s, err := cache.NewSQLiteBackend(cfg.Cache.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open cache: %w", err)
		}
		backend, closer = s, s
	default:
		comp, err := cache.ParseCompression(cfg.Cache.Compression)
		if err != nil {
			return nil, nil, err
		}
		backend = &cache.FileBackend{Path: cfg.Cache.Path, Compression: comp}
	}

	docs, err := cache.New(backend, cfg.Cache.DecodedSize)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	if err := docs.Load(context.Background()); err != nil {
		closer.Close()
		return nil, nil, err
	}
	return docs, closer, nil
}

func (b *Build) parserOptions() parser.Options {
	p := b.Config.Parser
	return parser.Options{
		Epilog:            p.Epilog,
		InputIndentSize:   p.InputIndentSize,
		LiteralDirectives: p.LiteralDirectives,
	}
}

func (b *Build) parseStage(ctx context.Context, report *BuildReport, docs *cache.DocCache, sources []crawler.Source, summary *Summary) error {
	h := report.BeginStage("parse")

	seen := make(map[string]bool, len(sources))
	hashes := make(map[string]string, len(sources))
	var jobs []worker.Job
	for _, s := range sources {
		seen[s.Path] = true
		hashes[s.Path] = s.Hash
		if !b.Force && docs.Fresh(s.Path, s.Hash) {
			summary.Reused++
			report.AddDoc(DocMetric{Path: s.Path, Reused: true})
			continue
		}
		jobs = append(jobs, worker.Job{Path: s.Path, Text: s.Text, ModTime: s.ModTime})
	}
	for _, p := range docs.Paths() {
		if !seen[p] {
			docs.Remove(p)
		}
	}

	pool := &worker.Pool{
		Size:     b.Config.WorkerCount(),
		Spawner:  b.Spawner,
		Options:  b.parserOptions(),
		Progress: b.Progress,
	}
	results, err := pool.Run(ctx, jobs)
	if err != nil {
		var werr *worker.WorkerError
		if errors.As(err, &werr) {
			report.AddSignal(ReportSignal{
				Code:     SignalParseError,
				Stage:    "parse",
				Severity: SeverityError,
				Path:     werr.Path,
				Line:     werr.Line,
				Message:  werr.Message,
			})
		}
		report.EndStage(h, map[string]float64{"jobs": float64(len(jobs))}, nil, err)
		return fmt.Errorf("parse: %w", err)
	}

	for path, r := range results.Docs {
		docs.Put(cache.Entry{
			Path:       path,
			Hash:       hashes[path],
			ModTime:    r.ModTime,
			Root:       r.Root,
			Directives: r.Directives,
			Roles:      r.Roles,
		})
		report.AddDoc(DocMetric{Path: path, ParseMS: float64(r.Elapsed.Microseconds()) / 1000})
	}
	summary.Parsed = len(results.Docs)

	err = docs.Save(ctx)
	report.EndStage(h, map[string]float64{
		"jobs":    float64(len(jobs)),
		"reused":  float64(summary.Reused),
		"workers": float64(len(results.Workers)),
	}, []string{results.Summary()}, err)
	if err != nil {
		return err
	}
	log.Info().Int("parsed", summary.Parsed).Int("reused", summary.Reused).Dur("elapsed", results.Elapsed).Msg("parse finished")
	return nil
}

// ValidateCache checks every directive and role used by the cached corpus
// against the registry.
func ValidateCache(registry *generator.Registry, docs *cache.DocCache) error {
	var dirs, roles []string
	for _, p := range docs.Paths() {
		e, _ := docs.Entry(p)
		dirs = append(dirs, e.Directives...)
		roles = append(roles, e.Roles...)
	}
	if err := registry.Validate(dirs, roles); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

func (b *Build) generatorOptions() generator.Options {
	g := b.Config.Generator
	opts := generator.Options{
		Registry:               b.Registry,
		Theme:                  g.Highlight.Theme,
		DefaultLiteralLanguage: g.DefaultLiteralLanguage,
		DefaultCodeLanguage:    g.DefaultCodeLanguage,
		Strict:                 b.Config.Strict,
		Format:                 generator.Format(b.Config.Format),
		RelativeLinks:          g.RelativeLinks,
	}
	if g.Highlight.Enabled {
		opts.Highlighter = generator.ChromaHighlighter{}
	}
	return opts
}

// LoadCorpus decodes every cached document into a corpus.
func LoadCorpus(docs *cache.DocCache) (*generator.Corpus, error) {
	var entries []generator.Entry
	for _, p := range docs.Paths() {
		doc, err := docs.LoadDoc(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, generator.Entry{Path: p, Doc: doc})
	}
	return generator.NewCorpus(entries), nil
}

func (b *Build) generateStage(report *BuildReport, docs *cache.DocCache, summary *Summary) ([]rendered, error) {
	h := report.BeginStage("generate")
	corpus, err := LoadCorpus(docs)
	if err != nil {
		report.EndStage(h, nil, nil, err)
		return nil, fmt.Errorf("generate: %w", err)
	}
	for _, d := range corpus.Duplicates() {
		report.AddDiagnostic(SignalDuplicateLabel, "generate", d)
		summary.Warnings = append(summary.Warnings, d)
	}

	opts := b.generatorOptions()
	outputs := make([]rendered, 0, len(corpus.Paths()))
	for _, p := range corpus.Paths() {
		out, err := generator.Generate(generator.Input{
			Corpus:      corpus,
			CurrentPath: p,
			BasePath:    b.Config.BasePath,
		}, opts)
		if err != nil {
			report.EndStage(h, map[string]float64{"generated": float64(len(outputs))}, nil, err)
			return nil, fmt.Errorf("generate %s: %w", p, err)
		}
		for _, w := range out.Warnings {
			log.Warn().Str("path", w.Path).Int("line", w.Line).Msg(w.Msg)
			code := SignalGenerateWarning
			if w.Unresolved {
				code = SignalUnresolvedRef
			}
			report.AddDiagnostic(code, "generate", w)
		}
		summary.Warnings = append(summary.Warnings, out.Warnings...)
		outputs = append(outputs, rendered{path: p, out: out})
	}
	report.EndStage(h, map[string]float64{
		"generated": float64(len(outputs)),
		"warnings":  float64(len(summary.Warnings)),
	}, nil, nil)
	return outputs, nil
}

// OutputPath maps a document path to its output file.
func OutputPath(docPath, format string) string {
	ext := ".md"
	if format == string(generator.FormatHTML) {
		ext = ".html"
	}
	return strings.TrimSuffix(ast.NormalizePath(docPath), ".rst") + ext
}

func (b *Build) writeStage(report *BuildReport, outputs []rendered, summary *Summary) error {
	h := report.BeginStage("write")
	cfg := b.Config
	var err error
	for _, r := range outputs {
		content := generator.PostProcessBody(r.out.Body, cfg.BasePath)
		if r.out.Header != "" {
			content = r.out.Header + "\n\n" + content
		}
		dest := filepath.Join(cfg.OutputDir, filepath.FromSlash(OutputPath(r.path, cfg.Format)))
		if err = writeFile(dest, []byte(content+"\n")); err != nil {
			break
		}
		summary.Written++

		for _, d := range r.out.Downloads {
			srcPath := filepath.Join(cfg.SourceDir, filepath.FromSlash(d.SrcPath))
			destPath := filepath.Join(cfg.OutputDir, filepath.FromSlash(d.DestPath))
			var copied bool
			var cerr error
			if withinDir(cfg.SourceDir, srcPath) && withinDir(cfg.OutputDir, destPath) {
				copied, cerr = copyIfMissing(srcPath, destPath)
			} else {
				cerr = fmt.Errorf("download %s escapes the source or output tree", d.SrcPath)
			}
			if cerr != nil {
				report.AddSignal(ReportSignal{
					Code:     SignalMissingDownload,
					Stage:    "write",
					Severity: SeverityWarning,
					Path:     r.path,
					Message:  cerr.Error(),
				})
				log.Warn().Err(cerr).Str("path", r.path).Msg("download not copied")
				continue
			}
			if copied {
				summary.Downloads++
			}
		}
		for i := range report.Docs {
			if report.Docs[i].Path == r.path {
				report.Docs[i].BodyBytes = len(r.out.Body)
				report.Docs[i].Downloads = len(r.out.Downloads)
				report.Docs[i].Warnings = len(r.out.Warnings)
			}
		}
	}
	report.EndStage(h, map[string]float64{
		"written":   float64(summary.Written),
		"downloads": float64(summary.Downloads),
	}, nil, err)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	log.Info().Int("written", summary.Written).Int("downloads", summary.Downloads).Str("dir", cfg.OutputDir).Msg("build finished")
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// copyIfMissing copies src to dest unless dest already exists.
func copyIfMissing(src, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, err
	}
	out, err := os.Create(dest)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return false, err
	}
	return true, out.Close()
}
