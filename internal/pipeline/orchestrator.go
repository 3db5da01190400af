// Package pipeline runs searches: it pulls records from a source, evaluates
// them against a validated query and keeps the matches in a buffer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sha1n/kseek/internal/buffer"
	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/query"
	"github.com/sha1n/kseek/internal/search"
	"github.com/sha1n/kseek/internal/source"
)

// Defaults for Config fields left zero.
const (
	DefaultBatchSize          = 1000
	DefaultBatchTimeout       = 10 * time.Millisecond
	DefaultSortInterval       = time.Second
	DefaultCheckpointInterval = 5 * time.Second
)

// State is the lifecycle state of a search.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateStreaming
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SourceError reports a source that failed to assign or stream.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("record source failed: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

var errLimitReached = errors.New("search limit reached")

// Config tunes the pipeline.
type Config struct {
	// BatchSize bounds the number of records pulled per batch.
	BatchSize int
	// BatchTimeout bounds how long a started batch waits for more records.
	BatchTimeout time.Duration
	// SortInterval is the period of the buffer re-sort for ordered queries.
	SortInterval time.Duration
	// CheckpointInterval is the period of progress logs. Negative disables them.
	CheckpointInterval time.Duration
	// OnMatch, when set, receives every matched record in evaluation order.
	OnMatch func(domain.Record)
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.SortInterval <= 0 {
		c.SortInterval = DefaultSortInterval
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}
	return c
}

// Orchestrator runs one search at a time over a source, into a buffer.
type Orchestrator struct {
	src    source.Source
	buf    *buffer.Buffer
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	run *run
}

type run struct {
	id     string
	query  *search.ValidQuery
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

func (r *run) setState(s State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.err = err
}

func (r *run) result() (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.err
}

// New creates an idle orchestrator. A nil logger uses slog.Default().
func New(src source.Source, buf *buffer.Buffer, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		src:    src,
		buf:    buf,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Buffer returns the buffer matches are stored in.
func (o *Orchestrator) Buffer() *buffer.Buffer {
	return o.buf
}

// Start begins a new search for q, cancelling any search in progress. It
// returns the search ID, or a *SourceError when the source cannot be
// positioned. The search runs until ctx ends, Stop is called, the limit is
// reached or the source is exhausted. Stop and Start may cancel a search that
// is still positioning its source.
func (o *Orchestrator) Start(ctx context.Context, q *search.ValidQuery) (string, error) {
	o.mu.Lock()
	o.stopLocked()
	o.buf.Reset()

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:     uuid.NewString(),
		query:  q,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateResolving,
	}
	o.run = r
	o.mu.Unlock()

	start := q.StartPosition()
	o.logger.Info("Starting search", "search_id", r.id, "query", q.String(), "start", describeStart(start))

	err := o.src.Assign(runCtx, start)
	if runCtx.Err() != nil {
		o.abandon(r, nil)
		return r.id, nil
	}
	if err != nil {
		srcErr := &SourceError{Err: err}
		o.abandon(r, srcErr)
		o.logger.Error("Failed to assign record source", "search_id", r.id, "error", err)
		return r.id, srcErr
	}

	total, err := o.src.EstimateTotal(runCtx)
	if runCtx.Err() != nil {
		o.abandon(r, nil)
		return r.id, nil
	}
	if err != nil {
		o.logger.Warn("Failed to estimate records to read", "search_id", r.id, "error", err)
	}
	o.buf.SetTotalToRead(total)
	o.buf.DispatchMetrics()

	r.setState(StateStreaming, nil)
	go o.stream(runCtx, r)
	return r.id, nil
}

// abandon ends a run that never reached streaming. It must not take o.mu:
// Stop holds it while waiting for r.done.
func (o *Orchestrator) abandon(r *run, err error) {
	r.cancel()
	r.setState(StateCancelled, err)
	close(r.done)
	if err == nil {
		o.logger.Info("Search cancelled while resolving", "search_id", r.id)
	}
}

func describeStart(start *search.FromDescriptor) string {
	if start == nil {
		return "default"
	}
	return start.String()
}

// stream runs the tasks of one search and records its terminal state.
func (o *Orchestrator) stream(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel()

	q := newQueue()
	var wg sync.WaitGroup
	var pullErr, evalErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		pullErr = o.pull(ctx, q)
		if pullErr != nil {
			r.cancel()
		}
	}()
	go func() {
		defer wg.Done()
		evalErr = o.evaluate(ctx, r, q)
		if evalErr != nil {
			r.cancel()
		}
	}()

	if order := r.query.Order(); order != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.sortPeriodically(ctx, *order)
		}()
	}
	if o.cfg.CheckpointInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.checkpoint(ctx, r.id)
		}()
	}

	wg.Wait()

	if order := r.query.Order(); order != nil {
		o.buf.Sort(*order)
	}
	o.buf.DispatchMetrics()

	state, err := StateCancelled, error(nil)
	var srcErr *SourceError
	switch {
	case errors.As(pullErr, &srcErr):
		err = srcErr
	case errors.Is(evalErr, io.EOF):
		state = StateCompleted
	}
	r.setState(state, err)

	stats := o.buf.Stats()
	o.logger.Info("Search finished",
		"search_id", r.id,
		"state", state.String(),
		"read", stats.Read,
		"matched", stats.Matched,
		"limit_reached", errors.Is(evalErr, errLimitReached),
	)
}

// pull forwards micro-batches from the source into q. It returns nil when
// the source is exhausted or ctx ends, and a *SourceError otherwise.
func (o *Orchestrator) pull(ctx context.Context, q *queue) error {
	for {
		batch, err := o.nextBatch(ctx)
		if ctx.Err() != nil {
			// a partial batch of a cancelled search is dropped
			return nil
		}
		q.push(batch...)

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			q.close()
			return nil
		default:
			o.logger.Error("Record source failed", "error", err)
			return &SourceError{Err: err}
		}
	}
}

// nextBatch waits for one record, then collects up to BatchSize records
// for at most BatchTimeout.
func (o *Orchestrator) nextBatch(ctx context.Context) ([]domain.Record, error) {
	first, err := o.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	batch := make([]domain.Record, 1, min(o.cfg.BatchSize, 64))
	batch[0] = first

	batchCtx, cancel := context.WithTimeout(ctx, o.cfg.BatchTimeout)
	defer cancel()
	for len(batch) < o.cfg.BatchSize {
		rec, err := o.src.Next(batchCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, rec)
	}
	return batch, nil
}

// evaluate drains q into the buffer. It returns io.EOF when the source is
// exhausted, errLimitReached on the last allowed match and the context error
// on cancellation.
func (o *Orchestrator) evaluate(ctx context.Context, r *run, q *queue) error {
	limit := uint64(r.query.Limit())
	for {
		items, err := q.popAll(ctx)
		if err != nil {
			return err
		}
		for i := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec := &items[i]
			o.buf.NewRecordRead()
			if !r.query.Matches(ctx, rec) {
				continue
			}
			matched := o.buf.Push(*rec)
			if o.cfg.OnMatch != nil {
				o.cfg.OnMatch(*rec)
			}
			if limit > 0 && matched >= limit {
				o.buf.DispatchMetrics()
				return errLimitReached
			}
		}
		o.buf.DispatchMetrics()
	}
}

func (o *Orchestrator) sortPeriodically(ctx context.Context, order query.OrderBy) {
	ticker := time.NewTicker(o.cfg.SortInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.buf.Sort(order)
		}
	}
}

func (o *Orchestrator) checkpoint(ctx context.Context, id string) {
	ticker := time.NewTicker(o.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := o.buf.Stats()
			o.logger.Info("Search checkpoint",
				"search_id", id,
				"read", stats.Read,
				"matched", stats.Matched,
				"total_to_read", stats.TotalToRead,
			)
		}
	}
}

// Wait blocks until the current search ends and returns its terminal state
// and error. It returns StateIdle when no search was started.
func (o *Orchestrator) Wait() (State, error) {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return StateIdle, nil
	}
	<-r.done
	return r.result()
}

// State returns the state of the current search.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return StateIdle
	}
	s, _ := r.result()
	return s
}

// SearchID returns the ID of the current search, empty when idle.
func (o *Orchestrator) SearchID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return ""
	}
	return o.run.id
}

// Stop cancels the current search, waits for it to end and resets the buffer.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	o.buf.Reset()
}

func (o *Orchestrator) stopLocked() {
	if o.run == nil {
		return
	}
	o.run.cancel()
	<-o.run.done
}
