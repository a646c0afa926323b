// Package worker runs a learned text recognizer in a subprocess. The parent
// sends newline-delimited JSON requests on the child's stdin and reads
// responses from its stdout, so a crashing model never takes the
// interpreter down with it.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/backend"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed is returned for requests issued after the worker went away.
var ErrClosed = errors.New("worker closed")

// Request is sent from client to worker as one JSON line.
type Request struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Image    []byte `json:"image"`
}

// Response is sent from worker to client as one JSON line.
type Response struct {
	ID         string                  `json:"id"`
	Candidates []backend.TextCandidate `json:"candidates,omitempty"`
	Err        string                  `json:"err,omitempty"`
}

type result struct {
	resp Response
	err  error
}

// Client talks to one worker. It implements backend.VisionBackend.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger

	encMu sync.Mutex
	enc   *jsoniter.Encoder

	pendingMu sync.Mutex
	pending   map[string]chan result
	readErr   error
	done      chan struct{}

	idCounter uint64
}

// DefaultCommand re-executes the running binary in worker mode.
func DefaultCommand() ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	exe, _ = filepath.Abs(exe)
	return []string{exe, "ocr-worker"}, nil
}

// Spawn starts command (DefaultCommand when empty) and connects to it.
func Spawn(command []string, logger *zap.Logger) (*Client, error) {
	if len(command) == 0 {
		var err error
		if command, err = DefaultCommand(); err != nil {
			return nil, fmt.Errorf("resolve worker command: %w", err)
		}
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %q: %w", command[0], err)
	}

	c := NewClient(stdin, stdout, logger)
	c.cmd = cmd
	c.logger.Info("Worker started", zap.Int("pid", c.Pid()))
	return c, nil
}

// NewClient connects to a worker over an existing pair of streams.
func NewClient(w io.WriteCloser, r io.Reader, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		stdin:   w,
		logger:  logger.Named("worker"),
		enc:     json.NewEncoder(w),
		pending: make(map[string]chan result),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// readLoop delivers responses until the stream ends, then fails every
// request still waiting.
func (c *Client) readLoop(r io.Reader) {
	defer close(c.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			c.logger.Warn("Malformed worker response", zap.Error(err))
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pendingMu.Unlock()

		if ok {
			ch <- result{resp: resp}
		} else {
			c.logger.Warn("Response for unknown request", zap.String("id", resp.ID))
		}
	}

	err := ErrClosed
	if serr := scanner.Err(); serr != nil {
		c.logger.Error("Worker stream failed", zap.Error(serr))
		err = fmt.Errorf("%w: %v", ErrClosed, serr)
	}

	c.pendingMu.Lock()
	c.readErr = err
	for id, ch := range c.pending {
		ch <- result{err: err}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// ReadText sends one image to the worker and waits for its candidates.
func (c *Client) ReadText(ctx context.Context, png []byte, language string) ([]backend.TextCandidate, error) {
	id := strconv.FormatUint(atomic.AddUint64(&c.idCounter, 1), 10)
	ch := make(chan result, 1)

	c.pendingMu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.pendingMu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.encMu.Lock()
	err := c.enc.Encode(Request{ID: id, Language: language, Image: png})
	c.encMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send worker request: %w", err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Err != "" {
			return nil, errors.New(res.resp.Err)
		}
		return res.resp.Candidates, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// Name implements backend.VisionBackend.
func (c *Client) Name() string {
	return "worker"
}

// Close shuts the worker down by closing its input and waits for it.
func (c *Client) Close() error {
	err := c.stdin.Close()
	<-c.done
	if c.cmd != nil {
		err = errors.Join(err, c.cmd.Wait())
	}
	return err
}

// Pid returns the process ID of a spawned worker, or 0.
func (c *Client) Pid() int {
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Pid
	}
	return 0
}
