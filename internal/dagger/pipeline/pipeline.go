package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/greeddj/dagger-cache/internal/dagger/helpers"
	"golang.org/x/sync/errgroup"
)

// Stage is one step of a Pipeline. It reads its input from in and writes its
// output to out; either may be nil for the first and last stage.
type Stage interface {
	Name() string
	Run(ctx context.Context, in io.Reader, out io.Writer) error
}

// Pipeline connects stages with in-memory pipes and fails as a whole when any
// stage fails, like a shell pipeline with pipefail.
type Pipeline struct {
	stages []Stage
}

// New builds a pipeline from ordered stages.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Run executes all stages concurrently. src feeds the first stage and dst
// receives the output of the last one. The returned error is the first stage
// failure, or the context cause when ctx ends before the pipeline does.
func (p *Pipeline) Run(ctx context.Context, src io.Reader, dst io.Writer) error {
	if p == nil || len(p.stages) == 0 {
		return helpers.ErrEmptyPipeline
	}
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := len(p.stages)
	readers := make([]*io.PipeReader, n-1)
	writers := make([]*io.PipeWriter, n-1)
	for i := range n - 1 {
		readers[i], writers[i] = io.Pipe()
	}

	var (
		mu    sync.Mutex
		first error
	)
	closeAll := func(err error) {
		for i := range n - 1 {
			_ = writers[i].CloseWithError(err)
			_ = readers[i].CloseWithError(err)
		}
	}
	fail := func(err error) {
		mu.Lock()
		if first == nil {
			first = err
		}
		mu.Unlock()
		closeAll(err)
		cancel()
	}

	stopAfter := context.AfterFunc(ctx, func() {
		closeAll(context.Cause(ctx))
	})
	defer stopAfter()

	var g errgroup.Group
	for i, stage := range p.stages {
		var in io.Reader
		var out io.Writer
		if i == 0 {
			in = src
		} else {
			in = readers[i-1]
		}
		if i == n-1 {
			out = dst
		} else {
			out = writers[i]
		}
		g.Go(func() error {
			if err := stage.Run(runCtx, in, out); err != nil {
				fail(err)
				return err
			}
			// Drain what the stage left unread so the upstream writer does not fail.
			if i > 0 {
				_, _ = io.Copy(io.Discard, readers[i-1])
				_ = readers[i-1].Close()
			}
			if i < n-1 {
				_ = writers[i].Close()
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	mu.Lock()
	defer mu.Unlock()
	return first
}
