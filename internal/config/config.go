package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	SourceDir string `yaml:"source_dir"`
	OutputDir string `yaml:"output_dir"`
	BasePath  string `yaml:"base_path"`
	Threads   int    `yaml:"threads"` // 0 picks a default from the host
	Format    string `yaml:"format"`  // "markdown" or "html"
	Strict    bool   `yaml:"strict"`  // unresolved references abort the build
	Report    string `yaml:"report"`  // build report path, relative to output_dir

	Cache struct {
		Backend     string `yaml:"backend"`     // "file" or "sqlite"
		Path        string `yaml:"path"`
		Compression string `yaml:"compression"` // "none", "lz4" or "zstd"
		DecodedSize int    `yaml:"decoded_size"`
	} `yaml:"cache"`

	Parser struct {
		Epilog            string   `yaml:"epilog"`
		InputIndentSize   int      `yaml:"input_indent_size"`
		LiteralDirectives []string `yaml:"literal_directives"`
	} `yaml:"parser"`

	Generator struct {
		DefaultLiteralLanguage string `yaml:"default_literal_language"`
		DefaultCodeLanguage    string `yaml:"default_code_language"`
		RelativeLinks          bool   `yaml:"relative_links"`
		Highlight              struct {
			Enabled bool   `yaml:"enabled"`
			Theme   string `yaml:"theme"`
		} `yaml:"highlight"`
	} `yaml:"generator"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	var cfg Config
	cfg.SourceDir = "docs"
	cfg.OutputDir = "out"
	cfg.BasePath = "/"
	cfg.Format = "markdown"
	cfg.Report = "build_report.json"
	cfg.Cache.Backend = "file"
	cfg.Cache.Path = ".rstdocs-cache"
	cfg.Cache.Compression = "zstd"
	cfg.Cache.DecodedSize = 1024
	cfg.Parser.InputIndentSize = 3
	cfg.Generator.DefaultLiteralLanguage = "gdscript"
	cfg.Generator.DefaultCodeLanguage = "gdscript"
	cfg.Generator.Highlight.Enabled = true
	cfg.Generator.Highlight.Theme = "github"
	cfg.Log.Level = "info"
	cfg.Log.Pretty = true
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config over the defaults
	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	// 3. Override with Environment Variables if present
	if v := os.Getenv("RSTDOCS_SOURCE_DIR"); v != "" {
		cfg.SourceDir = v
	}
	if v := os.Getenv("RSTDOCS_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("RSTDOCS_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("RSTDOCS_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RSTDOCS_THREADS %q: %w", v, err)
		}
		cfg.Threads = n
	}
	if v := os.Getenv("RSTDOCS_STRICT"); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RSTDOCS_STRICT %q: %w", v, err)
		}
		cfg.Strict = strict
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WorkerCount resolves the configured thread budget.
// CI runners get 4 workers; otherwise one core is left for the coordinator.
func (c *Config) WorkerCount() int {
	if c.Threads > 0 {
		return c.Threads
	}
	if os.Getenv("CI") != "" {
		return 4
	}
	return max(runtime.NumCPU()-1, 1)
}

func (c *Config) validate() error {
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	switch c.Format {
	case "markdown", "html":
	default:
		return fmt.Errorf("unsupported output format: %s", c.Format)
	}
	switch c.Cache.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	if c.Parser.InputIndentSize <= 0 {
		return fmt.Errorf("parser.input_indent_size must be positive, got %d", c.Parser.InputIndentSize)
	}
	if c.Threads < 0 {
		return fmt.Errorf("threads must not be negative, got %d", c.Threads)
	}
	return nil
}
