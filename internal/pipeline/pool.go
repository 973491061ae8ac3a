package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result pairs a request with the outcome of its run.
type Result struct {
	Request Request
	Report  *Report
	Err     error
}

// Pool runs independent transcripts concurrently through one Runner, so they
// share its quota tracker and enrichment cache.
type Pool struct {
	runner *Runner
	limit  int
}

// NewPool bounds concurrent runs to limit. limit <= 0 means one at a time.
func NewPool(runner *Runner, limit int) *Pool {
	if limit <= 0 {
		limit = 1
	}
	return &Pool{runner: runner, limit: limit}
}

// RunAll processes every request and returns results in request order. A
// failing run never cancels the others; the returned error joins every
// per-run error.
func (p *Pool) RunAll(ctx context.Context, requests []Request) ([]Result, error) {
	results := make([]Result, len(requests))
	var g errgroup.Group
	g.SetLimit(p.limit)
	for i, req := range requests {
		results[i].Request = req
		g.Go(func() error {
			report, err := p.runner.Run(ctx, req)
			results[i].Report = report
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Request.SourceName, res.Err))
		}
	}
	return results, errors.Join(errs...)
}
