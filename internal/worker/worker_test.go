package worker_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/LiboWorks/screenflow/internal/backend"
	"github.com/LiboWorks/screenflow/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoHandler struct{}

func (echoHandler) ReadText(ctx context.Context, png []byte, language string) ([]backend.TextCandidate, error) {
	if language == "xx" {
		return nil, errors.New("unsupported language xx")
	}
	return []backend.TextCandidate{{Text: language + ":" + string(png), Confidence: 0.5}}, nil
}

// connect wires a client to an in-process server over pipes.
func connect(t *testing.T, h worker.Handler) (*worker.Client, <-chan error) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	served := make(chan error, 1)
	go func() {
		err := worker.NewServer(h, nil).Serve(context.Background(), reqR, respW)
		respW.Close()
		served <- err
	}()
	return worker.NewClient(reqW, respR, nil), served
}

func TestRoundTrip(t *testing.T) {
	client, served := connect(t, echoHandler{})

	got, err := client.ReadText(context.Background(), []byte("PLAY"), "en")
	if err != nil {
		t.Fatalf("ReadText() error = %v", err)
	}
	if len(got) != 1 || got[0].Text != "en:PLAY" || got[0].Confidence != 0.5 {
		t.Errorf("ReadText() = %+v", got)
	}

	if _, err := client.ReadText(context.Background(), []byte("x"), "xx"); err == nil || err.Error() != "unsupported language xx" {
		t.Errorf("expected handler error to cross the pipe, got %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestConcurrentRequests(t *testing.T) {
	client, served := connect(t, echoHandler{})

	langs := []string{"en", "de", "fr", "ja"}
	errs := make(chan error, len(langs))
	for _, lang := range langs {
		lang := lang
		go func() {
			got, err := client.ReadText(context.Background(), []byte("ok"), lang)
			if err == nil && (len(got) != 1 || got[0].Text != lang+":ok") {
				err = errors.New("mismatched response for " + lang)
			}
			errs <- err
		}()
	}
	for range langs {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}

	client.Close()
	<-served
}

type blockingHandler struct{ release chan struct{} }

func (h blockingHandler) ReadText(ctx context.Context, png []byte, language string) ([]backend.TextCandidate, error) {
	<-h.release
	return nil, nil
}

func TestReadTextHonoursContext(t *testing.T) {
	h := blockingHandler{release: make(chan struct{})}
	client, served := connect(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.ReadText(ctx, nil, "en"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}

	close(h.release)
	client.Close()
	<-served
}

func TestPendingRequestsFailWhenWorkerDies(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	client := worker.NewClient(reqW, respR, nil)

	// Swallow the request, then die without answering.
	go func() {
		buf := make([]byte, 4096)
		reqR.Read(buf)
		respW.Close()
		io.Copy(io.Discard, reqR)
	}()

	if _, err := client.ReadText(context.Background(), []byte("a"), "en"); !errors.Is(err, worker.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := client.ReadText(context.Background(), []byte("b"), "en"); !errors.Is(err, worker.ErrClosed) {
		t.Errorf("requests after the worker died should fail fast, got %v", err)
	}
	client.Close()
	reqR.Close()
}

func TestServeRejectsMalformedLines(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		worker.NewServer(echoHandler{}, nil).Serve(context.Background(), reqR, respW)
		respW.Close()
	}()
	go func() {
		io.WriteString(reqW, "not json\n")
		reqW.Close()
	}()

	out, err := io.ReadAll(respR)
	if err != nil {
		t.Fatal(err)
	}
	if want := "invalid request"; !strings.Contains(string(out), want) {
		t.Errorf("response %q should mention %q", out, want)
	}
}
