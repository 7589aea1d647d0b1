package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/store"
)

const (
	defaultWindow    = 5 * time.Second
	defaultRetention = 14 * 24 * time.Hour
	flushParallelism = 8
)

// errStaleSnapshot reports a flush whose session copy was superseded by a
// newer save before it could be written.
var errStaleSnapshot = errors.New("stale session snapshot")

// Options configures an Adapter. Zero values select the defaults.
type Options struct {
	// Window is the debounce window of SaveDebounced.
	Window time.Duration
	// Retention discards records inactive for longer on load.
	Retention time.Duration
	// QuestionCount bounds the interview stage of loaded sessions.
	QuestionCount func(scenarioID string) int
	Logger        *slog.Logger
	Now           func() time.Time
}

// Adapter coalesces session writes to a store.Repository. Write and read
// failures are logged and swallowed so they never abort message handling.
type Adapter struct {
	repo          store.Repository
	window        time.Duration
	retention     time.Duration
	questionCount func(string) int
	logger        *slog.Logger
	now           func() time.Time

	// writes holds one *sync.Mutex per user id; Upserts for the same id
	// never overlap.
	writes sync.Map

	mu        sync.Mutex
	lastWrite map[int64]time.Time
	dirty     map[int64]struct{}
	// version counts save requests per id. A write only clears the dirty
	// mark when no newer save arrived while it was in flight.
	version map[int64]uint64
}

// NewAdapter creates an Adapter over repo.
func NewAdapter(repo store.Repository, opts Options) *Adapter {
	a := &Adapter{
		repo:          repo,
		window:        opts.Window,
		retention:     opts.Retention,
		questionCount: opts.QuestionCount,
		logger:        opts.Logger,
		now:           opts.Now,
		lastWrite:     make(map[int64]time.Time),
		dirty:         make(map[int64]struct{}),
		version:       make(map[int64]uint64),
	}
	if a.window <= 0 {
		a.window = defaultWindow
	}
	if a.retention <= 0 {
		a.retention = defaultRetention
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// SaveDebounced writes sess unless the previous successful write for the
// same id happened within the debounce window. Skipped and failed saves
// leave the id dirty for the next flush. It reports whether a write happened.
func (a *Adapter) SaveDebounced(ctx context.Context, sess *domain.UserSession) bool {
	now := a.now()

	a.mu.Lock()
	a.version[sess.UserID]++
	v := a.version[sess.UserID]
	if last, ok := a.lastWrite[sess.UserID]; ok && now.Sub(last) < a.window {
		a.dirty[sess.UserID] = struct{}{}
		a.mu.Unlock()
		return false
	}
	a.mu.Unlock()

	return a.write(ctx, sess, v, false) == nil
}

// SaveForce writes sess regardless of the debounce window.
func (a *Adapter) SaveForce(ctx context.Context, sess *domain.UserSession) error {
	a.mu.Lock()
	a.version[sess.UserID]++
	v := a.version[sess.UserID]
	a.mu.Unlock()

	return a.write(ctx, sess, v, false)
}

func (a *Adapter) userLock(id int64) *sync.Mutex {
	mu, _ := a.writes.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (a *Adapter) currentVersion(id int64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version[id]
}

// write persists sess as save request v. With ifCurrent set the write is
// dropped with errStaleSnapshot when a newer save request exists.
func (a *Adapter) write(ctx context.Context, sess *domain.UserSession, v uint64, ifCurrent bool) error {
	lock := a.userLock(sess.UserID)
	lock.Lock()
	defer lock.Unlock()

	if ifCurrent && a.currentVersion(sess.UserID) != v {
		return errStaleSnapshot
	}

	data, err := Encode(sess)
	if err == nil {
		err = a.repo.Upsert(ctx, sess.UserID, data, sess.LastActivityAt)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.dirty[sess.UserID] = struct{}{}
		a.logger.Warn("Failed to persist session", "user_id", sess.UserID, "error", err)
		return err
	}
	a.lastWrite[sess.UserID] = a.now()
	if a.version[sess.UserID] == v {
		delete(a.dirty, sess.UserID)
	}
	return nil
}

// Dirty returns the ids with unsaved changes in ascending order.
func (a *Adapter) Dirty() []int64 {
	a.mu.Lock()
	ids := make([]int64, 0, len(a.dirty))
	for id := range a.dirty {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LoadAll reads every stored session. Records past the retention horizon
// and records that fail to decode are skipped.
func (a *Adapter) LoadAll(ctx context.Context) (map[int64]*domain.UserSession, error) {
	records, err := a.repo.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}

	horizon := a.now().Add(-a.retention)
	out := make(map[int64]*domain.UserSession, len(records))
	var expired, malformed int
	for _, rec := range records {
		sess, err := Decode(rec.Data, rec.UserID, rec.LastActivityAt)
		if err != nil {
			malformed++
			a.logger.Warn("Skipping malformed session record", "user_id", rec.UserID, "error", err)
			continue
		}
		if sess.LastActivityAt.Before(horizon) {
			expired++
			continue
		}
		if a.questionCount != nil {
			if n := a.questionCount(sess.ScenarioID); sess.InterviewStage > n {
				sess.InterviewStage = n
				sess.InterviewAnswers = sess.InterviewAnswers[:n]
			}
		}
		out[rec.UserID] = sess
	}

	a.logger.Info("Loaded sessions from store",
		"loaded", len(out),
		"expired", expired,
		"malformed", malformed)
	return out, nil
}

// PruneOlderThan deletes durable records inactive for more than days.
func (a *Adapter) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	deleted, err := a.repo.DeleteOlderThan(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		a.logger.Error("Failed to prune sessions", "days", days, "error", err)
		return 0, err
	}
	if deleted > 0 {
		a.logger.Info("Pruned inactive sessions", "count", deleted, "days", days)
	}
	return deleted, nil
}

// FlushAll force-saves every session with bounded parallelism. It stops
// scheduling writes once ctx is done and returns the number flushed.
func (a *Adapter) FlushAll(ctx context.Context, sessions []*domain.UserSession) (int, error) {
	var flushed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flushParallelism)

	for _, sess := range sessions {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := a.SaveForce(gctx, sess); err == nil {
				flushed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(flushed.Load())
	if err := ctx.Err(); err != nil {
		a.logger.Warn("Session flush interrupted", "flushed", n, "total", len(sessions), "error", err)
		return n, err
	}
	return n, nil
}
