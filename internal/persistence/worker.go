package persistence

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/coachbot/internal/domain"
)

// Source looks up live sessions by id.
type Source interface {
	Get(id int64) (*domain.UserSession, bool)
}

// Serializer runs fn on the goroutine that owns the mutations of userID and
// waits for it. The server passes the per-user dispatcher.
type Serializer func(ctx context.Context, userID int64, fn func(context.Context)) error

// WorkerConfig configures RunWorker.
type WorkerConfig struct {
	FlushInterval time.Duration
	PruneInterval time.Duration
	RetentionDays int
	// Serialize, when set, runs each dirty flush in line with the user's
	// other mutations.
	Serialize Serializer
}

// RunWorker periodically flushes dirty sessions from src and prunes
// inactive durable records until ctx is done. It blocks.
func RunWorker(ctx context.Context, a *Adapter, src Source, cfg WorkerConfig) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = 6 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = int(defaultRetention / (24 * time.Hour))
	}

	flushTicker := time.NewTicker(cfg.FlushInterval)
	defer flushTicker.Stop()
	pruneTicker := time.NewTicker(cfg.PruneInterval)
	defer pruneTicker.Stop()

	a.logger.Info("Persistence worker started",
		"flush_interval", cfg.FlushInterval,
		"prune_interval", cfg.PruneInterval,
		"retention_days", cfg.RetentionDays)

	for {
		select {
		case <-flushTicker.C:
			a.FlushDirty(ctx, src, cfg.Serialize)
		case <-pruneTicker.C:
			_, _ = a.PruneOlderThan(ctx, cfg.RetentionDays)
		case <-ctx.Done():
			a.logger.Info("Persistence worker shutting down", "reason", ctx.Err())
			return
		}
	}
}

// FlushDirty writes every dirty session still present in src and returns
// how many were written. A copy that is superseded by a newer save while
// the flush runs is dropped; the newer save owns the record and the dirty
// mark.
func (a *Adapter) FlushDirty(ctx context.Context, src Source, serialize Serializer) int {
	ids := a.Dirty()
	if len(ids) == 0 {
		return 0
	}

	var flushed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flushParallelism)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			flush := func(jobCtx context.Context) {
				if a.flushOne(jobCtx, src, id) {
					flushed.Add(1)
				}
			}
			if serialize == nil {
				flush(gctx)
				return nil
			}
			if err := serialize(gctx, id, flush); err != nil {
				a.logger.Debug("Dirty flush deferred", "user_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(flushed.Load())
	if n > 0 {
		a.logger.Debug("Flushed dirty sessions", "count", n)
	}
	return n
}

func (a *Adapter) flushOne(ctx context.Context, src Source, id int64) bool {
	v := a.currentVersion(id)
	sess, ok := src.Get(id)
	if !ok {
		a.mu.Lock()
		if a.version[id] == v {
			delete(a.dirty, id)
		}
		a.mu.Unlock()
		return false
	}

	err := a.write(ctx, sess, v, true)
	if errors.Is(err, errStaleSnapshot) {
		a.logger.Debug("Skipped stale session snapshot", "user_id", id)
	}
	return err == nil
}
