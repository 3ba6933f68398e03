package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstdocs/internal/ast"
)

func TestProtocol_RoundTrip(t *testing.T) {
	a, b := net.Pipe()
	coordinator := NewConn(a, a, a)
	worker := NewConn(b, b, b)
	defer coordinator.Close()
	defer worker.Close()

	job := ParseJob{Path: "a.rst", Text: "Title\n=====\n", ModTime: time.Unix(1700000000, 0).UTC()}
	go func() {
		_ = coordinator.SendRequest(job)
		_ = coordinator.SendRequest(Terminate{})
	}()
	got, err := worker.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, job.Path, got.(ParseJob).Path)
	assert.Equal(t, job.Text, got.(ParseJob).Text)
	assert.True(t, job.ModTime.Equal(got.(ParseJob).ModTime))
	got, err = worker.ReadRequest()
	require.NoError(t, err)
	assert.IsType(t, Terminate{}, got)

	go func() {
		_ = worker.SendResponse(ParseFailure{Path: "a.rst", Line: 3, Message: "boom"})
	}()
	resp, err := coordinator.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, ParseFailure{Path: "a.rst", Line: 3, Message: "boom"}, resp)
}

func TestPool_ParsesEveryJob(t *testing.T) {
	var jobs []Job
	for i := range 12 {
		jobs = append(jobs, Job{
			Path: fmt.Sprintf("doc%02d.rst", i),
			Text: fmt.Sprintf("Doc %d\n======\n\n.. note:: hi\n\nUse :kbd:`K`.\n", i),
		})
	}

	var progress []string
	pool := &Pool{
		Size:    3,
		Spawner: InProcessSpawner{},
		Progress: func(p Progress) {
			progress = append(progress, FormatProgress(p))
		},
	}
	res, err := pool.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, res.Docs, 12)

	doc := res.Docs["doc07.rst"]
	assert.Equal(t, []string{"note"}, doc.Directives)
	assert.Equal(t, []string{"kbd"}, doc.Roles)
	root, err := ast.Unmarshal(doc.Root)
	require.NoError(t, err)
	assert.Equal(t, "Doc 7", root.Children[0].Text)

	total := 0
	for _, w := range res.Workers {
		total += w.Jobs
	}
	assert.Equal(t, 12, total)
	require.Len(t, progress, 12)
	assert.Regexp(t, `^\[worker 0[1-3]\] \(12/12\) Parsed "doc\d\d\.rst" \[\d+\.\d\dms\]$`, progress[11])
}

func TestPool_ParseErrorAborts(t *testing.T) {
	var parsed atomic.Int32
	jobs := []Job{
		{Path: "ok.rst", Text: "Fine\n====\n"},
		{Path: "broken.rst", Text: "Top\n===\n\nDeep\n~~~~\n\nTop2\n====\n\nSkip\n^^^^\n"},
	}
	for i := range 20 {
		jobs = append(jobs, Job{Path: fmt.Sprintf("later%02d.rst", i), Text: "x\n"})
	}

	pool := &Pool{Size: 1, Spawner: InProcessSpawner{Parse: func(job ParseJob) (*ParseResult, error) {
		parsed.Add(1)
		return DefaultParse(job)
	}}}

	_, err := pool.Run(context.Background(), jobs)
	var werr *WorkerError
	require.True(t, errors.As(err, &werr), "got %v", err)
	assert.Equal(t, "broken.rst", werr.Path)
	assert.Equal(t, 10, werr.Line)
	assert.Contains(t, werr.Message, "section level")
	assert.Equal(t, int32(2), parsed.Load(), "no job is dispatched after a failure")
}

func TestPool_WorkStealingTracksSlowestWorker(t *testing.T) {
	const heavy, light = 200 * time.Millisecond, 20 * time.Millisecond
	jobs := []Job{{Path: "heavy.rst"}}
	for i := range 8 {
		jobs = append(jobs, Job{Path: fmt.Sprintf("light%d.rst", i)})
	}

	pool := &Pool{Size: 2, Spawner: InProcessSpawner{Parse: func(job ParseJob) (*ParseResult, error) {
		cost := light
		if strings.HasPrefix(job.Path, "heavy") {
			cost = heavy
		}
		time.Sleep(cost)
		return &ParseResult{Path: job.Path, Elapsed: cost}, nil
	}}}

	start := time.Now()
	res, err := pool.Run(context.Background(), jobs)
	require.NoError(t, err)
	elapsed := time.Since(start)

	// A static half split would cost heavy + 4*light = 280ms.
	assert.Less(t, elapsed, 260*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, heavy)

	var heavyWorker WorkerStats
	for _, w := range res.Workers {
		if w.Busy >= heavy {
			heavyWorker = w
		}
	}
	assert.Equal(t, 1, heavyWorker.Jobs, res.Summary())
}

func TestPool_NoJobs(t *testing.T) {
	res, err := (&Pool{Size: 4}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Docs)
}

func TestFormatProgress(t *testing.T) {
	got := FormatProgress(Progress{Worker: 3, Done: 12, Total: 340, Path: "x.rst", Elapsed: 1230 * time.Microsecond})
	assert.Equal(t, `[worker 03] ( 12/340) Parsed "x.rst" [1.23ms]`, got)
}
