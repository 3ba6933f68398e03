package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"rstdocs/internal/parser"
)

// Job is one source file to parse.
type Job struct {
	Path    string
	Text    string
	ModTime time.Time
}

// Spawner starts a worker and returns the coordinator end of its stream.
type Spawner interface {
	Spawn(ctx context.Context, id int) (*Conn, error)
}

// Progress is reported after every parsed file.
type Progress struct {
	Worker  int
	Done    int
	Total   int
	Path    string
	Elapsed time.Duration
}

// FormatProgress renders p as `[worker 03] ( 12/340) Parsed "x" [1.23ms]`,
// padding the counter to the width of the total.
func FormatProgress(p Progress) string {
	width := len(fmt.Sprint(p.Total))
	return fmt.Sprintf("[worker %02d] (%*d/%d) Parsed %q [%.2fms]",
		p.Worker, width, p.Done, p.Total, p.Path, float64(p.Elapsed.Microseconds())/1000)
}

// WorkerStats summarizes what one worker did.
type WorkerStats struct {
	Worker int
	Jobs   int
	Busy   time.Duration
}

// Results holds every parse result keyed by path.
type Results struct {
	Docs    map[string]ParseResult
	Workers []WorkerStats
	Elapsed time.Duration
}

// WorkerError is a ParseFailure reported by a worker. It aborts the run.
type WorkerError struct {
	Worker  int
	Path    string
	Line    int
	Message string
}

func (e *WorkerError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("worker %d: %s:%d: %s", e.Worker, e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("worker %d: %s: %s", e.Worker, e.Path, e.Message)
}

// Pool dispatches jobs from one shared queue. Every Ready pops the next
// job for that worker; once the queue is empty the worker gets Terminate.
type Pool struct {
	Size     int
	Spawner  Spawner
	Options  parser.Options
	Progress func(Progress)
}

type message struct {
	worker int
	resp   Response
	err    error
}

// Run parses jobs and returns once every worker has terminated. The
// first ParseFailure stops dispatching and closes every stream; no job
// is retried.
func (p *Pool) Run(ctx context.Context, jobs []Job) (*Results, error) {
	start := time.Now()
	results := &Results{Docs: make(map[string]ParseResult, len(jobs))}
	if len(jobs) == 0 {
		return results, nil
	}
	if p.Spawner == nil {
		return nil, fmt.Errorf("worker: pool has no spawner")
	}

	size := min(max(p.Size, 1), len(jobs))
	conns := make([]*Conn, 0, size)
	closeAll := func() {
		for _, c := range conns {
			if err := c.Close(); err != nil {
				log.Debug().Err(err).Msg("close worker stream")
			}
		}
	}
	for i := range size {
		conn, err := p.Spawner.Spawn(ctx, i+1)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("worker: spawn %d: %w", i+1, err)
		}
		conns = append(conns, conn)
	}
	results.Workers = make([]WorkerStats, size)
	for i := range results.Workers {
		results.Workers[i].Worker = i + 1
	}

	done := make(chan struct{})
	msgs := make(chan message)
	var readers errgroup.Group
	for i, conn := range conns {
		readers.Go(func() error {
			for {
				resp, err := conn.ReadResponse()
				select {
				case msgs <- message{worker: i, resp: resp, err: err}:
				case <-done:
					return nil
				}
				if err != nil {
					return nil
				}
				if _, ok := resp.(Terminated); ok {
					return nil
				}
			}
		})
	}
	defer func() {
		close(done)
		closeAll()
		_ = readers.Wait()
	}()

	queue := jobs
	live := size
	for live > 0 {
		var m message
		select {
		case m = <-msgs:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if m.err != nil {
			return nil, fmt.Errorf("worker %d: %w", m.worker+1, m.err)
		}

		switch r := m.resp.(type) {
		case Ready:
			var req Request = Terminate{}
			if len(queue) > 0 && ctx.Err() == nil {
				j := queue[0]
				queue = queue[1:]
				req = ParseJob{Path: j.Path, Text: j.Text, ModTime: j.ModTime, Options: p.Options}
			}
			if err := conns[m.worker].SendRequest(req); err != nil {
				return nil, fmt.Errorf("worker %d: %w", m.worker+1, err)
			}
		case ParseResult:
			results.Docs[r.Path] = r
			stats := &results.Workers[m.worker]
			stats.Jobs++
			stats.Busy += r.Elapsed
			if p.Progress != nil {
				p.Progress(Progress{
					Worker:  m.worker + 1,
					Done:    len(results.Docs),
					Total:   len(jobs),
					Path:    r.Path,
					Elapsed: r.Elapsed,
				})
			}
		case ParseFailure:
			return nil, &WorkerError{Worker: m.worker + 1, Path: r.Path, Line: r.Line, Message: r.Message}
		case Terminated:
			live--
		}
	}

	results.Elapsed = time.Since(start)
	log.Debug().
		Int("workers", size).
		Int("docs", len(results.Docs)).
		Dur("elapsed", results.Elapsed).
		Msg("parse pool finished")
	return results, nil
}

// Summary lists per-worker job counts, e.g. "1:12 2:11".
func (r *Results) Summary() string {
	parts := make([]string, len(r.Workers))
	for i, w := range r.Workers {
		parts[i] = fmt.Sprintf("%d:%d", w.Worker, w.Jobs)
	}
	return strings.Join(parts, " ")
}
