package processor

import (
	"context"
	"errors"

	"github.com/gouthamgo/privascan/internal/config"
	"golang.org/x/sync/errgroup"
)

// BatchItem is one image of a batch run.
type BatchItem struct {
	Name  string
	Image []byte
}

// BatchResult pairs a batch item with its outcome. Err is per item; one
// failed image does not stop the others.
type BatchResult struct {
	Name   string
	Result Result
	Err    error
}

// RunBatch processes items with at most workers concurrent pipeline runs.
// Results are returned in input order. The returned error is non-nil only
// when ctx is cancelled.
func (p *Pipeline) RunBatch(ctx context.Context, items []BatchItem, profile *config.Profile, workers int) ([]BatchResult, error) {
	if workers < 1 {
		workers = 1
	}

	results := make([]BatchResult, len(items))
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)

	for i, item := range items {
		i, item := i, item
		results[i].Name = item.Name
		grp.Go(func() error {
			if err := grpCtx.Err(); err != nil {
				return err
			}
			res, err := p.Run(grpCtx, item.Image, profile, nil)
			results[i].Result, results[i].Err = res, err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
