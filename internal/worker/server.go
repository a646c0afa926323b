package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/backend"
)

// Handler answers recognition requests inside the worker process.
type Handler interface {
	ReadText(ctx context.Context, png []byte, language string) ([]backend.TextCandidate, error)
}

// Server runs inside a worker process and handles requests one at a time.
type Server struct {
	handler Handler
	logger  *zap.Logger
}

// NewServer creates a new worker server with the given handler.
func NewServer(handler Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{handler: handler, logger: logger.Named("worker")}
}

// Run serves stdin/stdout until stdin is closed.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads requests from r and writes responses to w. It returns nil
// when r reaches EOF.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.logger.Info("Worker starting", zap.Int("pid", os.Getpid()))
	defer s.logger.Info("Worker exiting", zap.Int("pid", os.Getpid()))

	out := bufio.NewWriter(w)
	enc := json.NewEncoder(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req Request
		resp := Response{}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp.ID = req.ID
			resp.Err = fmt.Sprintf("invalid request: %v", err)
		} else {
			resp.ID = req.ID
			resp.Candidates, err = s.handler.ReadText(ctx, req.Image, req.Language)
			if err != nil {
				resp.Err = err.Error()
				s.logger.Warn("Recognition failed", zap.String("id", req.ID), zap.Error(err))
			}
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("worker input: %w", err)
	}
	return nil
}
