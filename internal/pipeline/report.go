package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rstdocs/internal/generator"
)

// Severity grades a report signal.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Signal codes recorded by the build stages.
const (
	SignalParseError      = "parse_error"
	SignalUnsupportedName = "unsupported_name"
	SignalDuplicateLabel  = "duplicate_label"
	SignalUnresolvedRef   = "unresolved_reference"
	SignalGenerateWarning = "generate_warning"
	SignalMissingDownload = "missing_download"
)

// stageOrder ranks stages in the order a build runs them.
var stageOrder = map[string]int{"crawl": 0, "parse": 1, "validate": 2, "generate": 3, "write": 4}

// ReportSignal is one finding tied to a source document when it has one.
type ReportSignal struct {
	Code     string   `json:"code"`
	Stage    string   `json:"stage"`
	Severity Severity `json:"severity"`
	Path     string   `json:"path,omitempty"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
}

type StageMetric struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at"`
	DurationMS int64              `json:"duration_ms"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type DocMetric struct {
	Path      string  `json:"path"`
	Reused    bool    `json:"reused"`
	ParseMS   float64 `json:"parse_ms,omitempty"`
	BodyBytes int     `json:"body_bytes"`
	Downloads int     `json:"downloads,omitempty"`
	Warnings  int     `json:"warnings,omitempty"`
}

type ReportSummary struct {
	StageCount        int              `json:"stage_count"`
	DocCount          int              `json:"doc_count"`
	ReusedDocs        int              `json:"reused_docs"`
	FailedStages      int              `json:"failed_stages"`
	Warnings          int              `json:"warnings"`
	SignalsBySeverity map[Severity]int `json:"signals_by_severity"`
}

type BuildReport struct {
	Version     string         `json:"version"`
	Format      string         `json:"format"`
	GeneratedAt string         `json:"generated_at"`
	SourceDir   string         `json:"source_dir"`
	OutputDir   string         `json:"output_dir"`
	Workers     int            `json:"workers"`
	Stages      []StageMetric  `json:"stages"`
	Docs        []DocMetric    `json:"docs,omitempty"`
	Signals     []ReportSignal `json:"signals,omitempty"`
	Summary     ReportSummary  `json:"summary"`
}

type StageHandle struct {
	name    string
	started time.Time
}

func NewBuildReport(format, sourceDir, outputDir string, workers int) *BuildReport {
	return &BuildReport{
		Version:     "v1",
		Format:      format,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		SourceDir:   sourceDir,
		OutputDir:   outputDir,
		Workers:     workers,
		Stages:      []StageMetric{},
		Docs:        []DocMetric{},
		Signals:     []ReportSignal{},
	}
}

func (r *BuildReport) BeginStage(name string) StageHandle {
	return StageHandle{name: strings.TrimSpace(name), started: time.Now().UTC()}
}

func (r *BuildReport) EndStage(h StageHandle, counters map[string]float64, notes []string, err error) {
	if r == nil || h.name == "" {
		return
	}
	finished := time.Now().UTC()
	m := StageMetric{
		Name:       h.name,
		Status:     "ok",
		StartedAt:  h.started.Format(time.RFC3339Nano),
		FinishedAt: finished.Format(time.RFC3339Nano),
		DurationMS: finished.Sub(h.started).Milliseconds(),
		Counters:   cleanCounters(counters),
		Notes:      cleanNotes(notes),
	}
	if err != nil {
		m.Status = "error"
		m.Error = err.Error()
	}
	r.Stages = append(r.Stages, m)
}

// AddSignal records a finding. Signals without a code, stage or message
// are dropped; an unknown severity counts as info.
func (r *BuildReport) AddSignal(s ReportSignal) {
	if r == nil {
		return
	}
	s.Code = strings.TrimSpace(s.Code)
	s.Stage = strings.TrimSpace(s.Stage)
	s.Message = strings.TrimSpace(s.Message)
	if s.Code == "" || s.Stage == "" || s.Message == "" {
		return
	}
	switch sev := Severity(strings.ToLower(string(s.Severity))); sev {
	case SeverityError, SeverityWarning:
		s.Severity = sev
	default:
		s.Severity = SeverityInfo
	}
	r.Signals = append(r.Signals, s)
}

// AddDiagnostic records a generator diagnostic as a warning signal.
func (r *BuildReport) AddDiagnostic(code, stage string, d generator.Diagnostic) {
	r.AddSignal(ReportSignal{
		Code:     code,
		Stage:    stage,
		Severity: SeverityWarning,
		Path:     d.Path,
		Line:     d.Line,
		Message:  d.Msg,
	})
}

func (r *BuildReport) AddDoc(m DocMetric) {
	if r == nil || m.Path == "" {
		return
	}
	r.Docs = append(r.Docs, m)
}

func (r *BuildReport) Finalize() {
	if r == nil {
		return
	}
	r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	severityCount := map[Severity]int{
		SeverityError:   0,
		SeverityWarning: 0,
		SeverityInfo:    0,
	}
	// Signals read like compiler output: stage by stage, then by
	// document position.
	sort.SliceStable(r.Signals, func(i, j int) bool {
		a, b := r.Signals[i], r.Signals[j]
		if a.Stage != b.Stage {
			return stageRank(a.Stage) < stageRank(b.Stage)
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Code < b.Code
	})
	for _, s := range r.Signals {
		severityCount[s.Severity]++
	}
	sort.Slice(r.Docs, func(i, j int) bool { return r.Docs[i].Path < r.Docs[j].Path })

	failed := 0
	for _, st := range r.Stages {
		if st.Status != "ok" {
			failed++
		}
	}
	reused, warnings := 0, 0
	for _, d := range r.Docs {
		if d.Reused {
			reused++
		}
		warnings += d.Warnings
	}

	r.Summary = ReportSummary{
		StageCount:        len(r.Stages),
		DocCount:          len(r.Docs),
		ReusedDocs:        reused,
		FailedStages:      failed,
		Warnings:          warnings,
		SignalsBySeverity: severityCount,
	}
}

func (r *BuildReport) Save(path string) error {
	if r == nil {
		return nil
	}
	r.Finalize()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func cleanCounters(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanNotes(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stageRank(stage string) int {
	if r, ok := stageOrder[stage]; ok {
		return r
	}
	return len(stageOrder)
}
