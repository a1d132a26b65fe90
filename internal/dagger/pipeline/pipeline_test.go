package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

func upper() *Func {
	return &Func{Label: "upper", Fn: func(_ context.Context, in io.Reader, out io.Writer) error {
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		_, err = out.Write(bytes.ToUpper(data))
		return err
	}}
}

func failing(label string, err error) *Func {
	return &Func{Label: label, Fn: func(context.Context, io.Reader, io.Writer) error {
		return err
	}}
}

func TestRunChainsStages(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	p := New(upper(), &Func{Label: "reverse-words", Fn: func(_ context.Context, in io.Reader, out io.Writer) error {
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		words := strings.Fields(string(data))
		for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
			words[i], words[j] = words[j], words[i]
		}
		_, err = io.WriteString(out, strings.Join(words, " "))
		return err
	}})
	if err := p.Run(context.Background(), strings.NewReader("hello dagger engine"), &out); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.String() != "ENGINE DAGGER HELLO" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunEmpty(t *testing.T) {
	t.Parallel()
	if err := New().Run(context.Background(), nil, nil); !errors.Is(err, helpers.ErrEmptyPipeline) {
		t.Fatalf("expected ErrEmptyPipeline, got %v", err)
	}
}

func TestRunUpstreamFailurePropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("tar exploded")
	var out bytes.Buffer
	err := New(failing("tar", boom), upper()).Run(context.Background(), nil, &out)
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "tar" {
		t.Fatalf("expected StageError for tar, got %v", err)
	}
}

func TestRunDownstreamFailurePropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk full")
	producer := &Func{Label: "producer", Fn: func(_ context.Context, _ io.Reader, out io.Writer) error {
		chunk := bytes.Repeat([]byte("x"), 32<<10)
		for range 64 {
			if _, err := out.Write(chunk); err != nil {
				return err
			}
		}
		return nil
	}}
	err := New(producer, failing("sink", boom)).Run(context.Background(), nil, io.Discard)
	if !errors.Is(err, boom) {
		t.Fatalf("expected downstream root cause, got %v", err)
	}
}

func TestRunEarlyReaderDoesNotFailUpstream(t *testing.T) {
	t.Parallel()
	producer := &Func{Label: "producer", Fn: func(_ context.Context, _ io.Reader, out io.Writer) error {
		_, err := out.Write(bytes.Repeat([]byte("y"), 1<<20))
		return err
	}}
	head := &Func{Label: "head", Fn: func(_ context.Context, in io.Reader, out io.Writer) error {
		buf := make([]byte, 10)
		if _, err := io.ReadFull(in, buf); err != nil {
			return err
		}
		_, err := out.Write(buf)
		return err
	}}
	var out bytes.Buffer
	if err := New(producer, head).Run(context.Background(), nil, &out); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.Len() != 10 {
		t.Fatalf("expected 10 bytes, got %d", out.Len())
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	blocker := &Func{Label: "blocker", Fn: func(ctx context.Context, _ io.Reader, _ io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := New(blocker, upper()).Run(ctx, nil, io.Discard)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	stage := &Func{Label: "never", Fn: func(context.Context, io.Reader, io.Writer) error {
		called = true
		return nil
	}}
	if err := New(stage).Run(ctx, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("stage must not run after cancellation")
	}
}

func TestCommandStages(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	var out bytes.Buffer
	if err := New(NewCommand("cat"), upper(), NewCommand("cat")).Run(context.Background(), strings.NewReader("volume"), &out); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.String() != "VOLUME" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestCommandExitCode(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	err := New(NewCommand("sh", "-c", "echo broken archive >&2; exit 3"), NewCommand("cat")).Run(context.Background(), nil, io.Discard)
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", stageErr.ExitCode)
	}
	if !strings.Contains(stageErr.Stderr, "broken archive") {
		t.Fatalf("expected stderr tail, got %q", stageErr.Stderr)
	}
}

func TestCommandCancelSendsSIGTERM(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	marker := filepath.Join(t.TempDir(), "stopped")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewCommand("sh", "-c", `trap 'echo term > "$0"; exit 0' TERM; while :; do sleep 0.05; done`, marker).
		Run(ctx, nil, io.Discard)
	if err == nil {
		t.Fatalf("expected an error after cancellation")
	}
	if elapsed := time.Since(start); elapsed >= waitDelay {
		t.Fatalf("command must stop on SIGTERM before the kill fallback, took %s", elapsed)
	}
	data, readErr := os.ReadFile(marker)
	if readErr != nil || strings.TrimSpace(string(data)) != "term" {
		t.Fatalf("expected the command to handle SIGTERM, got %q err=%v", data, readErr)
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()
	tail := newTailBuffer(4)
	_, _ = tail.Write([]byte("abc"))
	_, _ = tail.Write([]byte("defg"))
	if tail.String() != "defg" {
		t.Fatalf("expected last 4 bytes, got %q", tail.String())
	}
}
