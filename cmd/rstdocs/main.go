package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rstdocs/internal/config"
	"rstdocs/internal/generator"
	"rstdocs/internal/logging"
	"rstdocs/internal/pipeline"
	"rstdocs/internal/search"
	"rstdocs/internal/worker"
)

var (
	rootCmd = &cobra.Command{
		Use:           "rstdocs",
		Short:         "Compile reStructuredText documentation to Markdown or HTML",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	configPath string
	logLevel   string
	sourceDir  string
	outputDir  string
	threads    int
	force      bool
	subprocess bool
	searchOut  string
	noKeywords bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "rstdocs.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().StringVarP(&sourceDir, "source", "s", "", "Override the source directory")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "out", "o", "", "Override the output directory")

	for _, cmd := range []*cobra.Command{buildCmd, parseCmd} {
		cmd.Flags().IntVarP(&threads, "threads", "j", 0, "Number of parse workers (0 picks a default)")
		cmd.Flags().BoolVar(&force, "force", false, "Reparse every source even when the cache is fresh")
		cmd.Flags().BoolVar(&subprocess, "subprocess", false, "Run parse workers as child processes")
	}
	searchCmd.Flags().StringVar(&searchOut, "index", "", "Search index path (default <out>/search_index.json)")
	searchCmd.Flags().BoolVar(&noKeywords, "no-keywords", false, "Skip code symbol extraction")

	rootCmd.AddCommand(buildCmd, parseCmd, validateCmd, generateCmd, searchCmd, parseWorkerCmd)
}

// loadConfig reads the config file, applies flag overrides and installs
// the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if sourceDir != "" {
		cfg.SourceDir = sourceDir
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if threads > 0 {
		cfg.Threads = threads
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	return cfg, nil
}

func newBuild(cfg *config.Config) *pipeline.Build {
	b := pipeline.NewBuild(cfg)
	b.Force = force
	b.Progress = func(p worker.Progress) {
		log.Debug().Msg(worker.FormatProgress(p))
	}
	if subprocess {
		b.Spawner = worker.ProcessSpawner{Args: []string{"parse-worker"}}
	}
	return b
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printError prints grouped unsupported names and parse locations in a
// form that is easy to scan.
func printError(err error) {
	var unsupported *generator.UnsupportedError
	var werr *worker.WorkerError
	switch {
	case errors.As(err, &unsupported):
		fmt.Fprintln(os.Stderr, "❌ Unsupported names found, nothing was written.")
		if len(unsupported.Directives) > 0 {
			fmt.Fprintf(os.Stderr, "  directives: %s\n", strings.Join(unsupported.Directives, ", "))
		}
		if len(unsupported.Roles) > 0 {
			fmt.Fprintf(os.Stderr, "  roles:      %s\n", strings.Join(unsupported.Roles, ", "))
		}
	case errors.As(err, &werr):
		fmt.Fprintf(os.Stderr, "❌ Failed to parse %s:%d: %s\n", werr.Path, werr.Line, werr.Message)
	default:
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	}
}

func printSummary(s *pipeline.Summary) {
	fmt.Printf("✅ Parsed %d, reused %d, wrote %d files and %d downloads.\n",
		s.Parsed, s.Reused, s.Written, s.Downloads)
	if n := len(s.Warnings); n > 0 {
		fmt.Printf("⚠️  %d warnings\n", n)
	}
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Parse changed sources, validate the corpus and write every page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		fmt.Printf("📂 Building %s -> %s with %d workers\n", cfg.SourceDir, cfg.OutputDir, cfg.WorkerCount())
		summary, err := newBuild(cfg).Run(ctx)
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse changed sources into the document cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		summary, err := newBuild(cfg).Parse(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("💾 Parsed %d, reused %d. Cache: %s\n", summary.Parsed, summary.Reused, cfg.Cache.Path)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that every directive and role in the cache has a generator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		docs, closer, err := pipeline.OpenCache(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		if err := pipeline.ValidateCache(generator.DefaultRegistry(), docs); err != nil {
			return err
		}
		fmt.Printf("✅ %d documents use only supported directives and roles.\n", docs.Len())
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write every page from the document cache without parsing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		summary, err := newBuild(cfg).Generate(ctx)
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Derive search records from the document cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		docs, closer, err := pipeline.OpenCache(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()
		corpus, err := pipeline.LoadCorpus(docs)
		if err != nil {
			return err
		}

		ix := &search.Indexer{Corpus: corpus}
		if !noKeywords {
			ix.Keywords = search.NewKeywordExtractor()
		}
		records, err := ix.Records(ctx)
		if err != nil {
			return err
		}
		analysis, err := search.Analyze(records)
		if err != nil {
			return err
		}
		log.Info().Msg(analysis.String())

		path := searchOut
		if path == "" {
			path = filepath.Join(cfg.OutputDir, "search_index.json")
		}
		if err := search.Save(path, records); err != nil {
			return fmt.Errorf("failed to save search index: %w", err)
		}
		fmt.Printf("🔍 Wrote %d search records to %s\n", len(records), path)
		return nil
	},
}

var parseWorkerCmd = &cobra.Command{
	Use:    "parse-worker",
	Short:  "Serve parse jobs on stdin/stdout (started by build --subprocess)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the job protocol; logs stay on stderr.
		logging.Setup(os.Getenv("RSTDOCS_WORKER_LOG_LEVEL"), false)
		ctx, cancel := signalContext()
		defer cancel()

		conn := worker.NewConn(os.Stdin, os.Stdout, nil)
		err := worker.Serve(ctx, conn, worker.DefaultParse)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("worker", os.Getenv("RSTDOCS_WORKER_ID")).Msg("parse worker stopped")
			return err
		}
		return nil
	},
}
