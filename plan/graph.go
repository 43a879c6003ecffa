// Package plan models the channel graph handed over by the logical optimizer
// and assigns the multiplexing tags.
package plan

import (
	"errors"
	"fmt"
)

var ErrInvalidGraph = errors.New("invalid channel graph")

type NodeKind int

const (
	NodeMap NodeKind = iota
	NodeGroupByKey
	NodeFlatten
	NodeIdentity
)

func (k NodeKind) String() string {
	switch k {
	case NodeMap:
		return "map"
	case NodeGroupByKey:
		return "group-by-key"
	case NodeFlatten:
		return "flatten"
	case NodeIdentity:
		return "identity"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// Node is a logical node as produced by the optimizer. Function names a mapper
// in the worker's function catalog; KeyType and ValueType are wire codec
// descriptors of the records the node emits.
type Node struct {
	ID        string
	Kind      NodeKind
	Function  string
	KeyType   string
	ValueType string
}

const (
	FormatText  = "text"
	FormatKV    = "kv"
	FormatJSONL = "jsonl"
)

func validFormat(f string) bool {
	return f == FormatText || f == FormatKV || f == FormatJSONL
}

// Source is a physical input: a file or a directory of files.
type Source struct {
	Path   string
	Format string
}

type Sink struct {
	Path   string
	Format string
}

// InputChannel pairs one source with the mapping nodes reading it. All nodes
// of a channel accept the same source record type.
type InputChannel struct {
	Source Source
	Nodes  []*Node
}

type OriginKind int

const (
	OriginGroup OriginKind = iota
	OriginFlatten
	OriginBypass
)

// Origin describes which upstream nodes feed an output channel.
type Origin struct {
	Kind  OriginKind
	Nodes []*Node
}

type ReduceRole int

const (
	RoleReducer ReduceRole = iota
	RoleCombinerOnly
	RoleCombineThenReduce
	RoleIdentity
)

func (r ReduceRole) String() string {
	switch r {
	case RoleReducer:
		return "reducer"
	case RoleCombinerOnly:
		return "combiner"
	case RoleCombineThenReduce:
		return "combine-reduce"
	case RoleIdentity:
		return "identity"
	}
	return fmt.Sprintf("ReduceRole(%d)", int(r))
}

// OutputChannel is one reduce-side function with the sinks it writes to.
type OutputChannel struct {
	Name     string
	Origin   Origin
	Role     ReduceRole
	Combiner string
	Reducer  string
	Sinks    []Sink
}

func (o OutputChannel) HasCombiner() bool {
	return o.Role == RoleCombinerOnly || o.Role == RoleCombineThenReduce
}

// Graph is the finalized channel graph. Output channel order is the tag order.
type Graph struct {
	Inputs  []InputChannel
	Outputs []OutputChannel
}

// Validate checks the structural rules the compiler relies on.
func (g *Graph) Validate() error {
	if len(g.Outputs) == 0 {
		return fmt.Errorf("%w: no output channels", ErrInvalidGraph)
	}

	fed := make(map[string]int)
	for i, in := range g.Inputs {
		if in.Source.Path == "" {
			return fmt.Errorf("%w: input channel %d has no source path", ErrInvalidGraph, i)
		}
		if !validFormat(in.Source.Format) {
			return fmt.Errorf("%w: input channel %d: unknown format %q", ErrInvalidGraph, i, in.Source.Format)
		}
		if len(in.Nodes) == 0 {
			return fmt.Errorf("%w: input channel %d has no mapping nodes", ErrInvalidGraph, i)
		}
		for _, n := range in.Nodes {
			if n == nil || n.ID == "" {
				return fmt.Errorf("%w: input channel %d has a node without id", ErrInvalidGraph, i)
			}
			if n.Function == "" {
				return fmt.Errorf("%w: node %s has no mapping function", ErrInvalidGraph, n.ID)
			}
			if _, dup := fed[n.ID]; dup {
				return fmt.Errorf("%w: node %s appears in more than one input channel", ErrInvalidGraph, n.ID)
			}
			fed[n.ID] = i
		}
	}

	for i, out := range g.Outputs {
		if err := out.validate(fed); err != nil {
			return fmt.Errorf("%w: output channel %d (%s): %v", ErrInvalidGraph, i, out.Name, err)
		}
	}
	return nil
}

func (o OutputChannel) validate(fed map[string]int) error {
	switch o.Origin.Kind {
	case OriginGroup, OriginBypass:
		if len(o.Origin.Nodes) != 1 {
			return fmt.Errorf("origin needs exactly one node, has %d", len(o.Origin.Nodes))
		}
	case OriginFlatten:
		if len(o.Origin.Nodes) == 0 {
			return fmt.Errorf("flatten origin has no nodes")
		}
	default:
		return fmt.Errorf("unknown origin kind %d", o.Origin.Kind)
	}
	for _, n := range o.Origin.Nodes {
		if n == nil {
			return fmt.Errorf("nil origin node")
		}
		if _, ok := fed[n.ID]; !ok {
			return fmt.Errorf("origin node %s is not read from any input channel", n.ID)
		}
	}

	switch o.Role {
	case RoleReducer:
		if o.Reducer == "" {
			return fmt.Errorf("reducer role without reducer")
		}
	case RoleCombinerOnly:
		if o.Combiner == "" {
			return fmt.Errorf("combiner role without combiner")
		}
	case RoleCombineThenReduce:
		if o.Combiner == "" || o.Reducer == "" {
			return fmt.Errorf("combine-reduce role needs combiner and reducer")
		}
	case RoleIdentity:
	default:
		return fmt.Errorf("unknown reduce role %d", o.Role)
	}

	if len(o.Sinks) == 0 {
		return fmt.Errorf("no sinks")
	}
	for j, s := range o.Sinks {
		if s.Path == "" {
			return fmt.Errorf("sink %d has no path", j)
		}
		if !validFormat(s.Format) {
			return fmt.Errorf("sink %d: unknown format %q", j, s.Format)
		}
	}
	return nil
}
