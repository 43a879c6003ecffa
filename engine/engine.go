package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogzhanolguncu/mr-multiplex/dispatch"
	"github.com/ogzhanolguncu/mr-multiplex/job"
	"github.com/ogzhanolguncu/mr-multiplex/map_reduce"
	"github.com/ogzhanolguncu/mr-multiplex/wire"
	"github.com/spf13/afero"
	"golang.org/x/exp/slog"
)

const (
	DefaultWorkers = 4

	// SuccessMarker is written into the staging directory once every reduce
	// task completed.
	SuccessMarker = "_SUCCESS"

	pollInterval = 5 * time.Millisecond
)

type Options struct {
	Workers     int
	MaxAttempts int
	Logger      *slog.Logger
}

// LocalEngine runs multiplexed jobs in-process: a pool of goroutine workers
// pulls map tasks and then reduce tasks from a TaskTracker.
type LocalEngine struct {
	fs          afero.Fs
	functions   *map_reduce.Functions
	logger      *slog.Logger
	workers     int
	maxAttempts int
}

var _ job.Engine = (*LocalEngine)(nil)

func NewLocalEngine(fs afero.Fs, functions *map_reduce.Functions, opts Options) *LocalEngine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LocalEngine{
		fs:          fs,
		functions:   functions,
		logger:      opts.Logger,
		workers:     opts.Workers,
		maxAttempts: opts.MaxAttempts,
	}
}

// Run executes cfg and blocks until the reduce phase finished, a task ran out
// of attempts, or ctx is cancelled. Intermediate files are removed on return.
func (e *LocalEngine) Run(ctx context.Context, cfg *job.Config) error {
	logger := e.logger.With("job", cfg.JobID)

	run, err := e.prepare(cfg)
	if err != nil {
		return err
	}

	var splits []Split
	for _, in := range cfg.Inputs {
		s, err := listSplits(e.fs, in.Index, in.Path, in.Format)
		if err != nil {
			return err
		}
		splits = append(splits, s...)
	}

	if err := e.fs.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("create intermediate directory: %w", err)
	}
	defer e.cleanup(cfg.TempDir, logger)

	tracker := NewTaskTracker(cfg.NumReducers, e.maxAttempts, logger)
	tracker.InitMapTasks(splits)
	logger.Info("map phase started", "tasks", len(splits), "workers", e.workers)
	if err := e.runPhase(ctx, run, tracker, logger); err != nil {
		return fmt.Errorf("map phase: %w", err)
	}

	if err := tracker.TransitionToReducePhase(); err != nil {
		return err
	}
	logger.Info("reduce phase started", "tasks", cfg.NumReducers)
	if err := e.runPhase(ctx, run, tracker, logger); err != nil {
		return fmt.Errorf("reduce phase: %w", err)
	}

	if err := afero.WriteFile(e.fs, filepath.Join(cfg.StagingDir, SuccessMarker), nil, 0o644); err != nil {
		return err
	}
	logger.Info("job complete", "staging", cfg.StagingDir)
	return nil
}

// prepare rebuilds the wire types, the partitioner and the dispatcher from
// the serialized configuration and the broadcast tables.
func (e *LocalEngine) prepare(cfg *job.Config) (*jobRun, error) {
	if cfg.NumReducers <= 0 {
		return nil, fmt.Errorf("invalid reducer count %d", cfg.NumReducers)
	}
	registry, err := wire.NewRegistry(cfg.Types)
	if err != nil {
		return nil, err
	}
	partitioner, err := wire.LookupPartitioner(cfg.Partitioner)
	if err != nil {
		return nil, err
	}
	tables, err := dispatch.Load(dispatch.NewFSBroadcast(e.fs, cfg.BroadcastDir))
	if err != nil {
		return nil, fmt.Errorf("load dispatch tables: %w", err)
	}
	for _, tag := range tables.Tags() {
		if _, err := registry.Entry(tag); err != nil {
			return nil, fmt.Errorf("dispatch tables and wire types disagree: %w", err)
		}
	}
	dispatcher, err := dispatch.Bind(tables, e.functions)
	if err != nil {
		return nil, err
	}

	outputs := make(map[[2]int]job.NamedOutput, len(cfg.Outputs))
	for _, o := range cfg.Outputs {
		outputs[[2]int{o.Tag, o.Sink}] = o
	}
	return &jobRun{
		fs:          e.fs,
		cfg:         cfg,
		registry:    registry,
		partitioner: partitioner,
		dispatcher:  dispatcher,
		combine:     cfg.Roles.Combiner != "",
		outputs:     outputs,
	}, nil
}

// runPhase drives the tracker's current phase to completion with the worker
// pool. The first fatal task error cancels the remaining workers.
func (e *LocalEngine) runPhase(ctx context.Context, run *jobRun, tracker *TaskTracker, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	mapTasks := tracker.NumMapTasks()
	for i := 0; i < e.workers; i++ {
		w := &Worker{run: run, workerID: uuid.New().String()}
		w.logger = logger.With("worker", w.workerID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.processTasks(ctx, tracker, mapTasks); err != nil {
				fail(err)
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (w *Worker) processTasks(ctx context.Context, tracker *TaskTracker, mapTasks int) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		task := tracker.AssignTask(w.workerID)
		if task == nil {
			if tracker.PhaseDone() {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
				continue
			}
		}

		var taskErr error
		switch task.Type {
		case MapTask:
			taskErr = w.executeMapTask(ctx, task)
		case ReduceTask:
			taskErr = w.executeReduceTask(ctx, task, mapTasks)
		}

		if taskErr == nil {
			if err := tracker.MarkComplete(task.ID); err != nil {
				return err
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		w.logger.Warn("task failed", "task", task.ID, "type", task.Type, "attempt", task.Metadata.Attempts, "error", taskErr)
		if err := tracker.ReassignFailedTask(task.ID, w.workerID); err != nil {
			return fmt.Errorf("%w: %w", err, taskErr)
		}
	}
}

func (e *LocalEngine) cleanup(dir string, logger *slog.Logger) {
	if err := e.fs.RemoveAll(dir); err != nil {
		logger.Error("failed to remove intermediate files", "dir", dir, "error", err)
		return
	}
	logger.Debug("removed intermediate files", "dir", dir)
}
