package job

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ogzhanolguncu/mr-multiplex/dispatch"
	"github.com/ogzhanolguncu/mr-multiplex/plan"
	"github.com/ogzhanolguncu/mr-multiplex/wire"
)

// Plan is a compiled job. Each field is the immutable result of one step:
// tagging, then registry, then dispatch tables, then the job configuration.
type Plan struct {
	Graph    *plan.Graph
	Tagging  *plan.Tagging
	Registry *wire.Registry
	Tables   *dispatch.Tables
	Config   Config
	Options  Options
}

// Compile turns a finalized channel graph into a single physical job.
func Compile(g *plan.Graph, opts Options) (*Plan, error) {
	opts = opts.withDefaults()

	tagging, err := plan.AssignTags(g)
	if err != nil {
		return nil, fmt.Errorf("assign tags: %w", err)
	}

	registry, err := buildRegistry(g, tagging)
	if err != nil {
		return nil, fmt.Errorf("build type registry: %w", err)
	}

	tables, err := dispatch.Build(g, tagging)
	if err != nil {
		return nil, fmt.Errorf("build dispatch tables: %w", err)
	}

	cfg := assemble(g, registry, tables, opts)
	opts.Logger.Info("compiled job",
		"job", cfg.JobID,
		"name", cfg.Name,
		"inputs", len(cfg.Inputs),
		"tags", tagging.NumTags,
		"outputs", len(cfg.Outputs),
		"combiner", cfg.Roles.Combiner != "")

	return &Plan{
		Graph:    g,
		Tagging:  tagging,
		Registry: registry,
		Tables:   tables,
		Config:   cfg,
		Options:  opts,
	}, nil
}

// buildRegistry registers, for every output channel, the record types of each
// node in its origin set under the channel's tag.
func buildRegistry(g *plan.Graph, tagging *plan.Tagging) (*wire.Registry, error) {
	b := wire.NewRegistryBuilder()
	for tag, out := range g.Outputs {
		for _, n := range out.Origin.Nodes {
			if err := b.Register(tag, n.KeyType, n.ValueType); err != nil {
				return nil, fmt.Errorf("output channel %s, node %s: %w", out.Name, n.ID, err)
			}
		}
	}
	return b.Build(tagging.NumTags)
}

func assemble(g *plan.Graph, registry *wire.Registry, tables *dispatch.Tables, opts Options) Config {
	cfg := Config{
		JobID:       uuid.New().String(),
		Name:        opts.Name,
		Types:       registry.Descriptors(),
		Partitioner: wire.HashPartitioner{}.Name(),
		Roles: Roles{
			Mapper:  GenericMapper,
			Reducer: GenericReducer,
		},
		NumReducers: opts.NumReducers,
	}
	if tables.Combine != nil {
		cfg.Roles.Combiner = GenericCombiner
	}

	for idx, in := range g.Inputs {
		cfg.Inputs = append(cfg.Inputs, InputSpec{
			Index:  idx,
			Path:   in.Source.Path,
			Format: in.Source.Format,
		})
	}

	for tag, out := range g.Outputs {
		for sink, s := range out.Sinks {
			cfg.Outputs = append(cfg.Outputs, NamedOutput{
				Name:   OutputName(tag, sink),
				Tag:    tag,
				Sink:   sink,
				Path:   s.Path,
				Format: s.Format,
			})
		}
	}
	return cfg
}
