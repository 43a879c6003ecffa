package job

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ogzhanolguncu/mr-multiplex/dispatch"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"golang.org/x/exp/slog"
)

type State int

const (
	StateBuilt State = iota
	StateSubmitted
	StateCompleted
	StateDemuxed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSubmitted:
		return "submitted"
	case StateCompleted:
		return "completed"
	case StateDemuxed:
		return "demuxed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var transitions = map[State][]State{
	StateBuilt:     {StateSubmitted, StateFailed},
	StateSubmitted: {StateCompleted, StateFailed},
	StateCompleted: {StateDemuxed},
}

// Report describes one submission.
type Report struct {
	JobID   string
	RunID   string
	State   State
	History []State
	Config  Config
	Demux   *DemuxReport
}

func (r *Report) advance(to State) {
	for _, next := range transitions[r.State] {
		if next == to {
			r.State = to
			r.History = append(r.History, to)
			return
		}
	}
	panic(fmt.Sprintf("job %s: illegal transition %s -> %s", r.JobID, r.State, to))
}

// Submitter runs compiled plans on an engine and publishes their output.
type Submitter struct {
	fs     afero.Fs
	engine Engine
	logger *slog.Logger
}

func NewSubmitter(fs afero.Fs, engine Engine, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{fs: fs, engine: engine, logger: logger}
}

// Run submits p and blocks until the engine finishes. The engine writes into a
// fresh staging directory; only after it succeeds are the files moved to
// their sinks. The run directory is removed whatever the outcome.
func (s *Submitter) Run(ctx context.Context, p *Plan) (*Report, error) {
	runID := ulid.Make().String()
	runDir := filepath.Join(p.Options.StagingRoot, p.Config.JobID+"-"+runID)

	cfg := p.Config
	cfg.StagingDir = filepath.Join(runDir, "output")
	cfg.TempDir = filepath.Join(runDir, "_temporary")
	cfg.BroadcastDir = filepath.Join(runDir, "_broadcast")

	report := &Report{
		JobID:   cfg.JobID,
		RunID:   runID,
		State:   StateBuilt,
		History: []State{StateBuilt},
	}
	logger := s.logger.With("job", cfg.JobID, "run", runID)

	defer func() {
		if err := s.fs.RemoveAll(runDir); err != nil {
			logger.Error("cleanup failed", "dir", runDir, "error", err)
			return
		}
		logger.Debug("removed run directory", "dir", runDir)
	}()

	fail := func(stage string, err error) (*Report, error) {
		report.advance(StateFailed)
		report.Config = cfg
		logger.Error("job failed", "stage", stage, "error", err)
		return report, &SubmissionError{JobID: cfg.JobID, Stage: stage, Err: err}
	}

	for _, dir := range []string{cfg.StagingDir, cfg.TempDir} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fail("setup", fmt.Errorf("create %s: %w", dir, err))
		}
	}
	keys, err := dispatch.Publish(dispatch.NewFSBroadcast(s.fs, cfg.BroadcastDir), p.Tables)
	if err != nil {
		return fail("setup", fmt.Errorf("publish dispatch tables: %w", err))
	}
	cfg.BroadcastKeys = keys
	report.Config = cfg

	report.advance(StateSubmitted)
	logger.Info("job submitted", "staging", cfg.StagingDir, "reducers", cfg.NumReducers)
	if err := s.engine.Run(ctx, &cfg); err != nil {
		return fail("execute", err)
	}
	report.advance(StateCompleted)

	demux, err := Demux(s.fs, cfg.StagingDir, cfg.Outputs, logger)
	report.Demux = demux
	report.advance(StateDemuxed)
	if err != nil {
		return report, fmt.Errorf("job %s: demux: %w", cfg.JobID, err)
	}
	logger.Info("job finished", "moved", len(demux.Moved), "skipped", len(demux.Mismatched))
	return report, nil
}
