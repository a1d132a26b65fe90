package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
)

// waitDelay bounds how long a cancelled command may take to stop after
// SIGTERM before it is killed.
const waitDelay = 5 * time.Second

// StageError reports a failed pipeline stage.
type StageError struct {
	// Stage is the stage name, the command line for command stages.
	Stage string
	// ExitCode is the process exit code, -1 when the stage did not exit normally.
	ExitCode int
	// Stderr is the tail of the stage's standard error.
	Stderr string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %q failed with exit code %d", e.Stage, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Command runs an external process as a stage.
type Command struct {
	Args []string
	Env  []string
	// Stderr, when set, also receives the process stderr as it is written.
	Stderr io.Writer
}

// NewCommand returns a command stage for argv.
func NewCommand(args ...string) *Command {
	return &Command{Args: args}
}

// Name returns the command line.
func (c *Command) Name() string {
	return strings.Join(c.Args, " ")
}

// Run starts the process with in as stdin and out as stdout and waits for it.
func (c *Command) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if len(c.Args) == 0 {
		return helpers.ErrEmptyCommand
	}
	//nolint:gosec // arguments are assembled by this program, not by a shell.
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	if in != nil {
		cmd.Stdin = in
	}
	if out != nil {
		cmd.Stdout = out
	}
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	tail := newTailBuffer(helpers.StderrTailBytes)
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(tail, c.Stderr)
	} else {
		cmd.Stderr = tail
	}
	// docker run forwards SIGTERM to its container; SIGKILL would orphan it
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &StageError{Stage: c.Name(), ExitCode: code, Stderr: tail.String(), Err: err}
	}
	return nil
}

// Func runs an in-process transformation as a stage.
type Func struct {
	Label string
	Fn    func(ctx context.Context, in io.Reader, out io.Writer) error
}

// Name returns the stage label.
func (f *Func) Name() string {
	return f.Label
}

// Run calls Fn, substituting an empty reader and io.Discard for nil ends.
func (f *Func) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if in == nil {
		in = strings.NewReader("")
	}
	if out == nil {
		out = io.Discard
	}
	if err := f.Fn(ctx, in, out); err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			return err
		}
		return &StageError{Stage: f.Label, ExitCode: -1, Err: err}
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(maxBytes int) *tailBuffer {
	return &tailBuffer{max: maxBytes}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
