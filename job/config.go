package job

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ogzhanolguncu/mr-multiplex/wire"
	"golang.org/x/exp/slog"
)

const (
	DefaultNumReducers = 1

	GenericMapper   = "dispatch.mapper"
	GenericCombiner = "dispatch.combiner"
	GenericReducer  = "dispatch.reducer"
)

// Options configure compilation and submission.
type Options struct {
	Name        string
	NumReducers int
	// StagingRoot holds per-run staging directories. It should live on the
	// same file system as the sink paths so demux can rename.
	StagingRoot string
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "multiplexed-job"
	}
	if o.NumReducers <= 0 {
		o.NumReducers = DefaultNumReducers
	}
	if o.StagingRoot == "" {
		o.StagingRoot = filepath.Join(os.TempDir(), "mr-multiplex")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// InputSpec registers one input channel under its index.
type InputSpec struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Format string `json:"format"`
}

// NamedOutput is one physical output: a sink of one output channel.
type NamedOutput struct {
	Name   string `json:"name"`
	Tag    int    `json:"tag"`
	Sink   int    `json:"sink"`
	Path   string `json:"path"`
	Format string `json:"format"`
}

// Roles names the physical mapper, combiner and reducer. Combiner is empty
// when the shuffle skips combining.
type Roles struct {
	Mapper   string `json:"mapper"`
	Combiner string `json:"combiner,omitempty"`
	Reducer  string `json:"reducer"`
}

// Config is everything an engine needs to run the job. The directory fields
// are filled in at submission.
type Config struct {
	JobID         string            `json:"job_id"`
	Name          string            `json:"name"`
	Inputs        []InputSpec       `json:"inputs"`
	Types         []wire.Descriptor `json:"types"`
	Partitioner   string            `json:"partitioner"`
	Roles         Roles             `json:"roles"`
	Outputs       []NamedOutput     `json:"outputs"`
	NumReducers   int               `json:"num_reducers"`
	StagingDir    string            `json:"staging_dir,omitempty"`
	TempDir       string            `json:"temp_dir,omitempty"`
	BroadcastDir  string            `json:"broadcast_dir,omitempty"`
	BroadcastKeys []string          `json:"broadcast_keys,omitempty"`
}

// Engine runs a configured job to completion. Run blocks; cancellation is the
// engine's business through ctx.
type Engine interface {
	Run(ctx context.Context, cfg *Config) error
}
