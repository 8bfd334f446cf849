package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run scans for due queue items on a fixed interval until the context is
// cancelled. The first scan happens immediately so a restart does not wait
// a full interval before draining the backlog.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := e.Dispatch(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("initial dispatch cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.Dispatch(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.logger.Error("dispatch cycle failed", zap.Error(err))
			}
		}
	}
}

// Dispatch runs one scan cycle: fetch due pending items, claim each with a
// conditional update, and execute the claimed ones on a bounded worker pool.
// Items another instance claims first are skipped silently. Returns the
// number of items this instance executed.
func (e *Engine) Dispatch(ctx context.Context) (int, error) {
	now := e.now().UTC()

	due, err := e.queue.GetDue(ctx, now, e.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due queue items: %w", err)
	}
	e.metrics.ObserveDispatchBatch(len(due))
	if len(due) == 0 {
		return 0, nil
	}

	claimed := make([]string, 0, len(due))
	for i := range due {
		ok, err := e.queue.Claim(ctx, due[i].ID)
		if err != nil {
			e.logger.Error("failed to claim queue item",
				zap.String("itemId", due[i].ID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			claimed = append(claimed, due[i].ID)
		}
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, itemID := range claimed {
		itemID := itemID
		g.Go(func() error {
			e.metrics.IncExecutionsInFlight()
			defer e.metrics.DecExecutionsInFlight()

			if err := e.executeItem(groupCtx, itemID); err != nil {
				if groupCtx.Err() != nil {
					return nil
				}
				e.logger.Error("queue item execution failed",
					zap.String("itemId", itemID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(claimed), err
	}

	return len(claimed), nil
}
