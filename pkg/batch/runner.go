package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dbehnke/dvbs2-tablegen/pkg/artifact"
	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
	"github.com/dbehnke/dvbs2-tablegen/pkg/ldpc"
	"github.com/dbehnke/dvbs2-tablegen/pkg/logger"
	"github.com/dbehnke/dvbs2-tablegen/pkg/metrics"
)

// Status is the outcome of one compilation task
type Status string

const (
	StatusCompiled Status = metrics.StatusCompiled
	StatusSkipped  Status = metrics.StatusSkipped
	StatusFailed   Status = metrics.StatusFailed
)

// Result is the outcome of compiling one code
type Result struct {
	Key      dvbs2.Key      `json:"key"`
	Status   Status         `json:"status"`
	Entries  int            `json:"entries"`
	Bytes    int64          `json:"bytes"`
	Duration time.Duration  `json:"duration"`
	Metadata *ldpc.Metadata `json:"metadata,omitempty"`
	Err      error          `json:"-"`
}

// Report collects the results of a run in the order the keys were given
type Report struct {
	RunID    string        `json:"run_id"`
	Results  []Result      `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Count returns the number of results with status s
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Err joins the errors of all failed tasks, or returns nil
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Metadata returns the ROM metadata of every code that has a table, laid
// out in report order
func (r *Report) Metadata() []ldpc.Metadata {
	var metas []ldpc.Metadata
	for _, res := range r.Results {
		if res.Metadata != nil {
			metas = append(metas, *res.Metadata)
		}
	}
	return ldpc.Layout(metas)
}

// Options configures a Runner
type Options struct {
	// InputDir holds the ldpc_table_<FRAME>_<RATE>.csv coefficient files
	InputDir string
	Workers  int
	// Force recompiles even when a valid artifact exists
	Force bool
}

// Runner compiles address tables for many codes concurrently. Tasks share
// nothing but read-only parameter tables; a failing task never stops its
// siblings.
type Runner struct {
	opts    Options
	store   *artifact.Store
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	onEvent []func(Event)
}

// NewRunner creates a runner writing into store. m may be nil.
func NewRunner(opts Options, store *artifact.Store, log *logger.Logger, m *metrics.Metrics) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{
		opts:    opts,
		store:   store,
		logger:  log.WithComponent("batch"),
		metrics: m,
	}
}

// OnEvent registers a progress callback. Callbacks are invoked one at a time.
func (r *Runner) OnEvent(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = append(r.onEvent, fn)
}

func (r *Runner) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatch(ev)
}

// dispatch must be called with r.mu held
func (r *Runner) dispatch(ev Event) {
	for _, fn := range r.onEvent {
		fn(ev)
	}
}

// Run compiles every key. The returned error is non-nil only when ctx ended
// the run early; per-task failures are in the report.
func (r *Runner) Run(ctx context.Context, keys []dvbs2.Key) (*Report, error) {
	runID := uuid.NewString()
	log := r.logger.WithRun(runID)
	start := time.Now()

	report := &Report{RunID: runID, Results: make([]Result, len(keys))}

	log.Info("Batch run started",
		logger.Int("tasks", len(keys)),
		logger.Int("workers", r.opts.Workers),
		logger.Bool("force", r.opts.Force))
	r.metrics.RunStarted()
	r.emit(Event{Type: EventRunStarted, RunID: runID, Total: len(keys), Time: start})

	var (
		g    errgroup.Group
		done int // guarded by r.mu
	)
	g.SetLimit(r.opts.Workers)

	for i, key := range keys {
		g.Go(func() error {
			res := r.runTask(ctx, log, key)
			report.Results[i] = res

			r.mu.Lock()
			done++
			r.dispatch(taskEvent(runID, res, done, len(keys)))
			r.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	failed := report.Count(StatusFailed)
	r.metrics.RunFinished(report.Duration, failed)

	log.Info("Batch run finished",
		logger.Int("compiled", report.Count(StatusCompiled)),
		logger.Int("skipped", report.Count(StatusSkipped)),
		logger.Int("failed", failed),
		logger.Duration("duration", report.Duration))
	r.emit(Event{
		Type:     EventRunFinished,
		RunID:    runID,
		Done:     len(keys),
		Total:    len(keys),
		Failed:   failed,
		Duration: report.Duration.Seconds(),
		Time:     time.Now(),
	})

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("batch run %s interrupted: %w", runID, err)
	}
	return report, nil
}

func (r *Runner) runTask(ctx context.Context, log *logger.Logger, key dvbs2.Key) Result {
	log = log.WithKey(key)
	frame := key.Frame.String()
	start := time.Now()

	fail := func(err error) Result {
		log.Error("Compilation failed", logger.Error(err))
		r.metrics.TaskFailed(frame)
		return Result{Key: key, Status: StatusFailed, Duration: time.Since(start), Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%s: %w", key, err))
	}

	if !r.opts.Force {
		if table, err := r.store.Load(key); err == nil {
			md, err := ldpc.DescribeTable(table)
			if err != nil {
				return fail(fmt.Errorf("%s: %w", r.store.Path(key), err))
			}
			res := Result{Key: key, Status: StatusSkipped, Entries: len(table.Entries), Duration: time.Since(start), Metadata: &md}
			log.Debug("Valid artifact found, skipping", logger.String("path", r.store.Path(key)))
			r.metrics.TaskSkipped(frame)
			return res
		} else if !artifact.IsMissing(err) {
			log.Warn("Existing artifact is invalid, recompiling", logger.Error(err))
		}
	}

	params, err := dvbs2.LookupLDPC(key.Frame, key.Rate)
	if err != nil {
		return fail(err)
	}

	path := filepath.Join(r.opts.InputDir, ldpc.TableFileName(key))
	groups, err := ldpc.LoadGroups(path)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", key, err))
	}

	table, err := ldpc.Compile(groups, params)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", path, err))
	}

	// A table without ROM metadata would shift every later code's ROM address
	md, err := ldpc.Describe(groups, params)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", path, err))
	}

	n, err := r.store.Save(table)
	if err != nil {
		return fail(fmt.Errorf("%s: %w", key, err))
	}

	res := Result{
		Key:      key,
		Status:   StatusCompiled,
		Entries:  len(table.Entries),
		Bytes:    n,
		Duration: time.Since(start),
		Metadata: &md,
	}
	log.Info("Address table compiled",
		logger.Int("entries", res.Entries),
		logger.Int64("bytes", n),
		logger.Duration("duration", res.Duration))
	r.metrics.TaskCompiled(frame, res.Duration, res.Entries, int(n))
	return res
}
