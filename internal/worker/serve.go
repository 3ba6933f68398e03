package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"rstdocs/internal/ast"
	"rstdocs/internal/parser"
)

// ParseFunc turns one job into a result. A returned error is sent back as
// a ParseFailure.
type ParseFunc func(job ParseJob) (*ParseResult, error)

// DefaultParse parses the job text and serializes the tree.
func DefaultParse(job ParseJob) (*ParseResult, error) {
	start := time.Now()
	opts := job.Options
	opts.Path = job.Path

	res, err := parser.Parse(job.Text, opts)
	if err != nil {
		return nil, err
	}
	root, err := ast.Marshal(res.Root)
	if err != nil {
		return nil, err
	}
	return &ParseResult{
		Path:       job.Path,
		Root:       root,
		Elapsed:    time.Since(start),
		Directives: res.Directives,
		Roles:      res.Roles,
		ModTime:    job.ModTime,
	}, nil
}

// Serve runs the worker side of the protocol until it receives Terminate
// or the stream fails. Each job runs to completion; ctx is only checked
// between jobs.
func Serve(ctx context.Context, conn *Conn, parse ParseFunc) error {
	if parse == nil {
		parse = DefaultParse
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SendResponse(Ready{}); err != nil {
			return err
		}
		req, err := conn.ReadRequest()
		if err != nil {
			return err
		}

		switch m := req.(type) {
		case Terminate:
			return conn.SendResponse(Terminated{})
		case ParseJob:
			if err := conn.SendResponse(runJob(m, parse)); err != nil {
				return err
			}
		}
	}
}

func runJob(job ParseJob, parse ParseFunc) Response {
	res, err := parse(job)
	if err == nil {
		if res.Path == "" {
			res.Path = job.Path
		}
		return *res
	}

	failure := ParseFailure{Path: job.Path, Message: err.Error()}
	var perr *parser.ParseError
	if errors.As(err, &perr) {
		failure.Line = perr.Line
		failure.Message = perr.Msg
	}
	log.Debug().Str("path", job.Path).Err(err).Msg("parse failed")
	return failure
}
