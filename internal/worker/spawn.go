package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// InProcessSpawner runs each worker as a goroutine connected through an
// in-memory pipe.
type InProcessSpawner struct {
	Parse ParseFunc
}

func (s InProcessSpawner) Spawn(ctx context.Context, id int) (*Conn, error) {
	coordinator, worker := net.Pipe()
	go func() {
		defer worker.Close()
		conn := NewConn(worker, worker, nil)
		if err := Serve(ctx, conn, s.Parse); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, io.EOF) {
			log.Debug().Int("worker", id).Err(err).Msg("worker stopped")
		}
	}()
	return NewConn(coordinator, coordinator, coordinator), nil
}

// ProcessSpawner re-executes a binary that serves the protocol on its
// stdin and stdout, such as "rstdocs parse-worker".
type ProcessSpawner struct {
	Executable string
	Args       []string
	// Stderr receives worker logs; nil means the parent's stderr.
	Stderr io.Writer
}

func (s ProcessSpawner) Spawn(ctx context.Context, id int) (*Conn, error) {
	exe := s.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, err
		}
		exe = self
	}

	cmd := exec.CommandContext(ctx, exe, s.Args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("RSTDOCS_WORKER_ID=%d", id))
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", exe, err)
	}
	return NewConn(stdout, stdin, &process{cmd: cmd, stdin: stdin}), nil
}

type process struct {
	cmd   *exec.Cmd
	stdin io.Closer
}

// Close ends the worker's input and waits for it to exit.
func (p *process) Close() error {
	_ = p.stdin.Close()
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
