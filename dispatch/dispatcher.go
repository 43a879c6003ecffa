package dispatch

import (
	"fmt"

	"github.com/ogzhanolguncu/mr-multiplex/map_reduce"
	"github.com/ogzhanolguncu/mr-multiplex/plan"
	"github.com/ogzhanolguncu/mr-multiplex/wire"
)

type boundMapper struct {
	nodeID string
	fn     map_reduce.Mapper
	tags   []int
}

type boundReducer struct {
	entry    ReduceEntry
	combiner map_reduce.Combiner
	reducer  map_reduce.Reducer
}

// Dispatcher is the generic mapper, combiner and reducer of a multiplexed
// job: the tables resolved against a function catalog. It is read-only after
// Bind and safe for concurrent tasks.
type Dispatcher struct {
	mappers   map[int][]boundMapper
	combiners map[int]map_reduce.Combiner
	reducers  map[int]boundReducer
}

// Bind resolves every function name in the tables.
func Bind(t *Tables, fns *map_reduce.Functions) (*Dispatcher, error) {
	d := &Dispatcher{
		mappers:   make(map[int][]boundMapper),
		combiners: make(map[int]map_reduce.Combiner),
		reducers:  make(map[int]boundReducer),
	}

	for channel, entries := range t.Map {
		for _, e := range entries {
			m, err := fns.Mapper(e.Function)
			if err != nil {
				return nil, fmt.Errorf("input channel %d node %s: %w", channel, e.NodeID, err)
			}
			d.mappers[channel] = append(d.mappers[channel], boundMapper{nodeID: e.NodeID, fn: m, tags: e.Tags})
		}
	}

	for tag, e := range t.Combine {
		c, err := fns.Combiner(e.Function)
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", tag, err)
		}
		d.combiners[tag] = c
	}

	for tag, e := range t.Reduce {
		b := boundReducer{entry: e}
		var err error
		switch e.Role {
		case plan.RoleReducer, plan.RoleCombineThenReduce:
			b.reducer, err = fns.Reducer(e.Reducer)
		case plan.RoleCombinerOnly:
			b.combiner, err = fns.Combiner(e.Combiner)
		case plan.RoleIdentity:
		default:
			err = fmt.Errorf("unknown reduce role %d", e.Role)
		}
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", tag, err)
		}
		d.reducers[tag] = b
	}
	return d, nil
}

// Map runs every mapping function of the input channel on record. Each output
// pair is emitted once per tag of the function that produced it.
func (d *Dispatcher) Map(channel int, record map_reduce.KeyValue, emit func(wire.TaggedKey, wire.TaggedValue) error) error {
	for _, m := range d.mappers[channel] {
		kvs, err := m.fn.Map(record)
		if err != nil {
			return fmt.Errorf("node %s: %w", m.nodeID, err)
		}
		for _, tag := range m.tags {
			for _, kv := range kvs {
				if err := emit(wire.TaggedKey{Tag: tag, Key: kv.Key}, wire.TaggedValue{Tag: tag, Value: kv.Value}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// HasCombiner reports whether map-side combining applies to tag.
func (d *Dispatcher) HasCombiner(tag int) bool {
	_, ok := d.combiners[tag]
	return ok
}

// Combine folds one tag-key run. Calling it for a tag without a combiner is an
// invariant violation.
func (d *Dispatcher) Combine(tag int, key any, values []any) (any, error) {
	c, ok := d.combiners[tag]
	if !ok {
		panic(fmt.Sprintf("dispatch: %v: no combiner for tag %d", wire.ErrUnresolvedTag, tag))
	}
	return c.Combine(key, values)
}

// Sinks returns the number of named outputs of tag.
func (d *Dispatcher) Sinks(tag int) int {
	return d.reducer(tag).entry.Sinks
}

// Reduce runs the reduce-side function of tag on one grouped key and writes
// every result to each of the tag's sinks. A tag absent from the reduce table
// can only appear if tagging and registry disagree, so it panics.
func (d *Dispatcher) Reduce(tag int, key any, values []any, out func(sink int, kv map_reduce.KeyValue) error) error {
	b := d.reducer(tag)

	var kvs []map_reduce.KeyValue
	switch b.entry.Role {
	case plan.RoleReducer, plan.RoleCombineThenReduce:
		res, err := b.reducer.Reduce(key, values)
		if err != nil {
			return fmt.Errorf("reduce tag %d: %w", tag, err)
		}
		kvs = res
	case plan.RoleCombinerOnly:
		v, err := b.combiner.Combine(key, values)
		if err != nil {
			return fmt.Errorf("combine tag %d: %w", tag, err)
		}
		kvs = []map_reduce.KeyValue{{Key: key, Value: v}}
	case plan.RoleIdentity:
		kvs = make([]map_reduce.KeyValue, 0, len(values))
		for _, v := range values {
			kvs = append(kvs, map_reduce.KeyValue{Key: key, Value: v})
		}
	}

	for sink := 0; sink < b.entry.Sinks; sink++ {
		for _, kv := range kvs {
			if err := out(sink, kv); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dispatcher) reducer(tag int) boundReducer {
	b, ok := d.reducers[tag]
	if !ok {
		panic(fmt.Sprintf("dispatch: %v: no reduce entry for tag %d", wire.ErrUnresolvedTag, tag))
	}
	return b
}
