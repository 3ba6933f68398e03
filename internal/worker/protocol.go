// Package worker distributes parsing over a pool of workers. The
// coordinator and each worker exchange CBOR messages over a byte stream:
// a worker announces Ready, receives a ParseJob or Terminate, and answers
// with ParseResult, ParseFailure or Terminated.
package worker

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"rstdocs/internal/codec"
	"rstdocs/internal/parser"
)

// Request is a coordinator to worker message.
type Request interface{ isRequest() }

// Response is a worker to coordinator message.
type Response interface{ isResponse() }

// ParseJob asks a worker to parse one source file.
type ParseJob struct {
	Path    string         `cbor:"1,keyasint"`
	Text    string         `cbor:"2,keyasint"`
	ModTime time.Time      `cbor:"3,keyasint,omitempty"`
	Options parser.Options `cbor:"4,keyasint"`
}

// Terminate is the poison pill sent once the queue is empty.
type Terminate struct{}

// Ready tells the coordinator the worker can take a job.
type Ready struct{}

// ParseResult carries a serialized tree back to the coordinator.
type ParseResult struct {
	Path       string        `cbor:"1,keyasint"`
	Root       []byte        `cbor:"2,keyasint"`
	Elapsed    time.Duration `cbor:"3,keyasint"`
	Directives []string      `cbor:"4,keyasint,omitempty"`
	Roles      []string      `cbor:"5,keyasint,omitempty"`
	ModTime    time.Time     `cbor:"6,keyasint,omitempty"`
}

// ParseFailure reports a file that did not parse.
type ParseFailure struct {
	Path    string `cbor:"1,keyasint"`
	Line    int    `cbor:"2,keyasint,omitempty"`
	Message string `cbor:"3,keyasint"`
}

// Terminated is the last message a worker sends.
type Terminated struct{}

func (ParseJob) isRequest()  {}
func (Terminate) isRequest() {}

func (Ready) isResponse()        {}
func (ParseResult) isResponse()  {}
func (ParseFailure) isResponse() {}
func (Terminated) isResponse()   {}

const (
	kindParseJob     = "parse_job"
	kindTerminate    = "terminate"
	kindReady        = "ready"
	kindParseResult  = "parse_result"
	kindParseFailure = "parse_error"
	kindTerminated   = "terminated"
)

type envelope struct {
	Kind string           `cbor:"1,keyasint"`
	Body codec.RawMessage `cbor:"2,keyasint,omitempty"`
}

// ErrUnknownMessage is returned for an envelope whose kind is not part of
// the protocol.
var ErrUnknownMessage = errors.New("worker: unknown message kind")

// Conn is one end of a coordinator/worker stream. Writes are serialized;
// reads must come from a single goroutine.
type Conn struct {
	enc    *codec.Encoder
	dec    *codec.Decoder
	closer io.Closer

	mu sync.Mutex
}

// NewConn wraps a reader and writer. closer, if not nil, is called by
// Close.
func NewConn(r io.Reader, w io.Writer, closer io.Closer) *Conn {
	return &Conn{enc: codec.NewEncoder(w), dec: codec.NewDecoder(r), closer: closer}
}

// Close releases the underlying stream.
func (c *Conn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Conn) send(kind string, body any) error {
	env := envelope{Kind: kind}
	if body != nil {
		raw, err := codec.Marshal(body)
		if err != nil {
			return fmt.Errorf("worker: encode %s: %w", kind, err)
		}
		env.Body = raw
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(env)
}

func (c *Conn) receive() (envelope, error) {
	var env envelope
	err := c.dec.Decode(&env)
	return env, err
}

// SendRequest writes a coordinator message.
func (c *Conn) SendRequest(req Request) error {
	switch m := req.(type) {
	case ParseJob:
		return c.send(kindParseJob, m)
	case Terminate:
		return c.send(kindTerminate, nil)
	default:
		return fmt.Errorf("worker: unsupported request %T", req)
	}
}

// ReadRequest reads the next coordinator message.
func (c *Conn) ReadRequest() (Request, error) {
	env, err := c.receive()
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case kindParseJob:
		var job ParseJob
		if err := codec.Unmarshal(env.Body, &job); err != nil {
			return nil, fmt.Errorf("worker: decode %s: %w", env.Kind, err)
		}
		return job, nil
	case kindTerminate:
		return Terminate{}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownMessage, env.Kind)
}

// SendResponse writes a worker message.
func (c *Conn) SendResponse(resp Response) error {
	switch m := resp.(type) {
	case Ready:
		return c.send(kindReady, nil)
	case ParseResult:
		return c.send(kindParseResult, m)
	case ParseFailure:
		return c.send(kindParseFailure, m)
	case Terminated:
		return c.send(kindTerminated, nil)
	default:
		return fmt.Errorf("worker: unsupported response %T", resp)
	}
}

// ReadResponse reads the next worker message.
func (c *Conn) ReadResponse() (Response, error) {
	env, err := c.receive()
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case kindReady:
		return Ready{}, nil
	case kindParseResult:
		var res ParseResult
		if err := codec.Unmarshal(env.Body, &res); err != nil {
			return nil, fmt.Errorf("worker: decode %s: %w", env.Kind, err)
		}
		return res, nil
	case kindParseFailure:
		var f ParseFailure
		if err := codec.Unmarshal(env.Body, &f); err != nil {
			return nil, fmt.Errorf("worker: decode %s: %w", env.Kind, err)
		}
		return f, nil
	case kindTerminated:
		return Terminated{}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownMessage, env.Kind)
}
