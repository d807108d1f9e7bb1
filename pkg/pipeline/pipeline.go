// Package pipeline runs the sync cycle: find changed films, fetch and merge
// their rows, index the documents, then advance the checkpoint.
//
// Cycles run one at a time on the calling goroutine. The checkpoint saved
// at the end of a cycle is the time the cycle started, so rows modified
// while it ran are picked up again by the next one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/filmindex/filmsync/pkg/logger"
	"github.com/filmindex/filmsync/pkg/models"
	"github.com/filmindex/filmsync/pkg/retry"
	"github.com/filmindex/filmsync/pkg/search"
	"github.com/filmindex/filmsync/pkg/transform"
	"github.com/google/uuid"
)

const (
	DefaultInterval        = 10 * time.Second
	DefaultMaxRedeliveries = 3
)

// Source is where changes come from.
type Source interface {
	FindChangedFilmIDs(ctx context.Context, since time.Time) ([]string, error)
	FilmRows(ctx context.Context, ids []string) iter.Seq2[models.FilmRow, error]
	PersonRows(ctx context.Context, ids []string) iter.Seq2[models.LinkRow, error]
	GenreRows(ctx context.Context, ids []string) iter.Seq2[models.LinkRow, error]
}

// Sink is where documents go.
type Sink interface {
	EnsureIndices(ctx context.Context, mappings search.Mappings) error
	Send(ctx context.Context, batch models.Batch) (*search.Report, error)
}

type Checkpointer interface {
	Load() (time.Time, error)
	Save(t time.Time) error
}

type Config struct {
	// Interval is the pause between the end of one cycle and the next.
	Interval time.Duration
	Mappings search.Mappings
	// MaxRedeliveries is how many later cycles retry a rejected movie
	// before it is dropped.
	MaxRedeliveries int
}

type Pipeline struct {
	src  Source
	sink Sink
	cp   Checkpointer
	cfg  Config
	log  logger.Logger
	now  func() time.Time

	mu      sync.Mutex
	stats   Stats
	pending map[string]int
}

type Option func(*Pipeline)

func WithLogger(log logger.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(src Source, sink Sink, cp Checkpointer, cfg Config, opts ...Option) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxRedeliveries < 0 {
		cfg.MaxRedeliveries = 0
	}
	p := &Pipeline{
		src:     src,
		sink:    sink,
		cp:      cp,
		cfg:     cfg,
		log:     logger.Nop(),
		now:     time.Now,
		pending: make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CycleResult describes one finished cycle.
type CycleResult struct {
	ID          string
	Started     time.Time
	Since       time.Time
	Changed     int
	Redelivered int
	Movies      int
	Persons     int
	Genres      int
	Indexed     int
	Failed      int
	Duration    time.Duration
}

// Run ensures the indices, then runs cycles until ctx is done. A cycle in
// progress when ctx is cancelled keeps its requests running, but a backoff
// wait between retries ends it without advancing the checkpoint. Any other
// cycle error stops the loop and is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.sink.EnsureIndices(ctx, p.cfg.Mappings); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	p.log.Info("pipeline started", "interval", p.cfg.Interval.String())

	for {
		cycleCtx := retry.WithInterrupt(context.WithoutCancel(ctx), ctx.Done())
		if _, err := p.RunCycle(cycleCtx); err != nil {
			if errors.Is(err, retry.ErrInterrupted) {
				p.log.Warn("cycle interrupted", "error", err.Error())
				p.log.Info("pipeline stopped")
				return nil
			}
			return err
		}

		timer := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.log.Info("pipeline stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle runs a single cycle. An empty change set still advances the
// checkpoint.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{
		ID:      uuid.NewString(),
		Started: p.now().UTC().Truncate(time.Second),
	}
	log := p.log.With("cycle", res.ID)
	err := p.cycle(logger.NewContext(ctx, log), log, &res)
	res.Duration = p.now().Sub(res.Started)
	p.record(&res, err)
	if err != nil {
		log.Error("cycle failed", "error", err.Error())
		return res, err
	}
	log.Info("cycle finished",
		"changed", res.Changed, "redelivered", res.Redelivered,
		"indexed", res.Indexed, "failed", res.Failed,
		"duration", res.Duration.String())
	return res, nil
}

func (p *Pipeline) cycle(ctx context.Context, log logger.Logger, res *CycleResult) error {
	since, err := p.cp.Load()
	if err != nil {
		return err
	}
	res.Since = since
	log.Info("cycle started", "since", since.Format(time.DateTime))

	changed, err := p.src.FindChangedFilmIDs(ctx, since)
	if err != nil {
		return err
	}
	res.Changed = len(changed)
	ids, redelivered := p.withPending(changed)
	res.Redelivered = redelivered

	if len(ids) == 0 {
		log.Info("no changes")
		return p.advance(res)
	}

	merger := transform.NewMovieMerger()
	for row, err := range p.src.FilmRows(ctx, ids) {
		if err != nil {
			return err
		}
		merger.Add(row)
	}
	if n := merger.Skipped(); n > 0 {
		log.Debug("rows with unknown role skipped", "rows", n)
	}
	movies := merger.Movies()

	personRows, err := collect(p.src.PersonRows(ctx, merger.PersonIDs()))
	if err != nil {
		return err
	}
	genreRows, err := collect(p.src.GenreRows(ctx, merger.GenreIDs()))
	if err != nil {
		return err
	}
	persons := transform.MergePersons(personRows)
	genres := transform.MergeGenres(genreRows)
	res.Movies, res.Persons, res.Genres = len(movies), len(persons), len(genres)

	if err := p.sink.EnsureIndices(ctx, p.cfg.Mappings); err != nil {
		return err
	}

	batches := []models.Batch{
		models.MovieBatch(movies),
		models.PersonBatch(persons),
		models.GenreBatch(genres),
	}
	var rejected []string
	for _, batch := range batches {
		if batch.Len() == 0 {
			continue
		}
		report, err := p.sink.Send(ctx, batch)
		if err != nil {
			return err
		}
		res.Indexed += report.Indexed
		res.Failed += len(report.Failed)
		if batch.Kind() == models.KindMovie {
			rejected = report.FailedIDs()
		}
	}
	p.settle(log, ids, rejected)

	return p.advance(res)
}

func (p *Pipeline) advance(res *CycleResult) error {
	if err := p.cp.Save(res.Started); err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return nil
}

// withPending adds the ids of earlier rejected movies to changed, keeping
// changed's order and appending the rest sorted.
func (p *Pipeline) withPending(changed []string) ([]string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return changed, 0
	}
	seen := make(map[string]struct{}, len(changed))
	for _, id := range changed {
		seen[id] = struct{}{}
	}
	var extra []string
	for id := range p.pending {
		if _, ok := seen[id]; !ok {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	return append(slices.Clone(changed), extra...), len(extra)
}

// settle updates the pending set after the movie batch of a cycle. Ids sent
// this cycle that were not rejected leave the set. Rejected ids stay until
// they have been rejected more than MaxRedeliveries times.
func (p *Pipeline) settle(log logger.Logger, sent, failed []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rejected := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		rejected[id] = struct{}{}
	}
	for _, id := range sent {
		if _, ok := rejected[id]; !ok {
			delete(p.pending, id)
		}
	}
	for _, id := range failed {
		n := p.pending[id] + 1
		if n > p.cfg.MaxRedeliveries {
			delete(p.pending, id)
			log.Error("giving up on document", "id", id, "rejections", n)
			continue
		}
		p.pending[id] = n
		log.Warn("document queued for redelivery", "id", id, "rejections", n)
	}
}

// Pending returns the ids waiting for redelivery, sorted.
func (p *Pipeline) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.pending))
	for id := range p.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
