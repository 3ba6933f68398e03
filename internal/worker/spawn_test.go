package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rstdocs/internal/ast"
)

const serveWorkerEnv = "RSTDOCS_TEST_SERVE_WORKER"

// TestMain lets the test binary act as a parse worker when re-executed
// by ProcessSpawner.
func TestMain(m *testing.M) {
	if os.Getenv(serveWorkerEnv) == "1" {
		if err := Serve(context.Background(), NewConn(os.Stdin, os.Stdout, nil), DefaultParse); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestProcessSpawner_ParsesInChildProcess(t *testing.T) {
	t.Setenv(serveWorkerEnv, "1")
	var stderr bytes.Buffer
	pool := &Pool{
		Size: 2,
		Spawner: ProcessSpawner{
			Executable: os.Args[0],
			Args:       []string{"-test.run=^$"},
			Stderr:     &stderr,
		},
	}

	var jobs []Job
	for i := range 4 {
		jobs = append(jobs, Job{
			Path: fmt.Sprintf("doc%d.rst", i),
			Text: fmt.Sprintf("Doc %d\n=====\n\n.. note:: hi\n\nUse :kbd:`K`.\n", i),
		})
	}
	res, err := pool.Run(context.Background(), jobs)
	require.NoError(t, err, stderr.String())
	require.Len(t, res.Docs, 4)

	doc := res.Docs["doc2.rst"]
	assert.Equal(t, []string{"note"}, doc.Directives)
	assert.Equal(t, []string{"kbd"}, doc.Roles)
	root, err := ast.Unmarshal(doc.Root)
	require.NoError(t, err)
	assert.Equal(t, "Doc 2", root.Children[0].Text)
	assert.Len(t, res.Workers, 2)
}

func TestProcessSpawner_ReportsParseFailure(t *testing.T) {
	t.Setenv(serveWorkerEnv, "1")
	pool := &Pool{
		Size:    1,
		Spawner: ProcessSpawner{Executable: os.Args[0], Args: []string{"-test.run=^$"}, Stderr: &bytes.Buffer{}},
	}

	_, err := pool.Run(context.Background(), []Job{{Path: "bad.rst", Text: "Title\n=====\n\n::\n"}})
	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "bad.rst", werr.Path)
	assert.Equal(t, 1, werr.Worker)
}

func TestProcessSpawner_MissingExecutable(t *testing.T) {
	_, err := ProcessSpawner{Executable: "/nonexistent/rstdocs"}.Spawn(context.Background(), 0)
	assert.ErrorContains(t, err, "start /nonexistent/rstdocs")
}
