// Package dispatch builds the per-role dispatch tables of a multiplexed job,
// ships them to workers and runs the generic map, combine and reduce logic
// that looks functions up by tag.
package dispatch

import (
	"fmt"

	"github.com/ogzhanolguncu/mr-multiplex/plan"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MapEntry is one mapping function of an input channel together with every
// tag its output is emitted under.
type MapEntry struct {
	NodeID   string `json:"node"`
	Function string `json:"function"`
	Tags     []int  `json:"tags"`
}

// MapTable is keyed by input channel index.
type MapTable map[int][]MapEntry

type CombineEntry struct {
	Tag      int    `json:"tag"`
	Function string `json:"function"`
}

type CombineTable map[int]CombineEntry

// ReduceEntry describes the reduce-side work of one tag. Sinks is the number
// of named outputs the tag writes.
type ReduceEntry struct {
	Tag      int             `json:"tag"`
	Role     plan.ReduceRole `json:"role"`
	Combiner string          `json:"combiner,omitempty"`
	Reducer  string          `json:"reducer,omitempty"`
	Sinks    int             `json:"sinks"`
}

type ReduceTable map[int]ReduceEntry

// Tables holds every dispatch table of one job. Combine is nil when no output
// channel combines.
type Tables struct {
	Map     MapTable
	Combine CombineTable
	Reduce  ReduceTable
}

// Build derives the tables from the graph and its tagging. A node that feeds
// several output channels gets a single map entry listing all of its tags, so
// one invocation produces one record stream per tag.
func Build(g *plan.Graph, t *plan.Tagging) (*Tables, error) {
	tables := &Tables{
		Map:    make(MapTable),
		Reduce: make(ReduceTable),
	}

	for idx, in := range g.Inputs {
		for _, n := range in.Nodes {
			tags := t.Tags(n.ID)
			if len(tags) == 0 {
				continue
			}
			tables.Map[idx] = append(tables.Map[idx], MapEntry{
				NodeID:   n.ID,
				Function: n.Function,
				Tags:     tags,
			})
		}
	}

	for tag, out := range g.Outputs {
		if tag >= t.NumTags {
			return nil, fmt.Errorf("output channel %d has no tag", tag)
		}
		tables.Reduce[tag] = ReduceEntry{
			Tag:      tag,
			Role:     out.Role,
			Combiner: out.Combiner,
			Reducer:  out.Reducer,
			Sinks:    len(out.Sinks),
		}
		if out.HasCombiner() {
			if tables.Combine == nil {
				tables.Combine = make(CombineTable)
			}
			tables.Combine[tag] = CombineEntry{Tag: tag, Function: out.Combiner}
		}
	}
	return tables, nil
}

// Tags lists the tags present in the reduce table, sorted.
func (t *Tables) Tags() []int {
	tags := maps.Keys(t.Reduce)
	slices.Sort(tags)
	return tags
}
