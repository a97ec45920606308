package batch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/bcrpdata/internal/infra"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

// FetchFunc fetches one chunk. index is the chunk position assigned by Split.
type FetchFunc func(ctx context.Context, index int, codes []string) (*models.Table, error)

// Result is the outcome of one chunk fetch. Index ties the result back to
// its originating chunk independently of completion order.
type Result struct {
	Index int
	Codes []string
	Table *models.Table
	Err   error
}

// RunOptions controls chunk scheduling.
type RunOptions struct {
	Parallel bool
	Workers  int // worker pool size in parallel mode; <= 0 means 1
	Logger   *slog.Logger
	// OnResult is called once per chunk as soon as it finishes. It must be
	// safe for concurrent use in parallel mode.
	OnResult func(Result)
}

// Run fetches every chunk and returns one Result per chunk in chunk order.
// A failing chunk never stops the others: in sequential mode the failure is
// logged and the loop moves on, in parallel mode each worker owns its result
// slot and reports its error there instead of cancelling its siblings.
func Run(ctx context.Context, chunks [][]string, fetch FetchFunc, opts RunOptions) []Result {
	logger := infra.OrDiscard(opts.Logger)
	results := make([]Result, len(chunks))
	for i, c := range chunks {
		results[i] = Result{Index: i, Codes: c}
	}

	if !opts.Parallel {
		for i := range chunks {
			results[i] = runOne(ctx, i, chunks[i], fetch)
			report(logger, results[i], len(chunks))
			if opts.OnResult != nil {
				opts.OnResult(results[i])
			}
		}
		return results
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range chunks {
		g.Go(func() error {
			results[i] = runOne(ctx, i, chunks[i], fetch)
			report(logger, results[i], len(chunks))
			if opts.OnResult != nil {
				opts.OnResult(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runOne isolates a single chunk fetch, converting panics into errors so one
// bad chunk cannot take down the pool.
func runOne(ctx context.Context, index int, codes []string, fetch FetchFunc) (res Result) {
	res = Result{Index: index, Codes: codes}
	defer func() {
		if r := recover(); r != nil {
			res.Table = nil
			res.Err = fmt.Errorf("chunk %d panicked: %v", index+1, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	t, err := fetch(ctx, index, append([]string(nil), codes...))
	if err != nil {
		res.Err = err
		return res
	}
	if t == nil {
		t = models.Empty()
	}
	res.Table = t
	return res
}

func report(logger *slog.Logger, r Result, total int) {
	if r.Err != nil {
		logger.Warn("chunk fetch failed",
			slog.Int("chunk", r.Index+1),
			slog.Int("chunks", total),
			slog.Int("codes", len(r.Codes)),
			slog.String("error", r.Err.Error()))
		return
	}
	logger.Info("chunk fetched",
		slog.Int("chunk", r.Index+1),
		slog.Int("chunks", total),
		slog.Int("columns", r.Table.NumCols()),
		slog.Int("rows", r.Table.NumRows()))
}
