package dispatch

import (
	"fmt"
	"testing"

	"github.com/ogzhanolguncu/mr-multiplex/map_reduce"
	"github.com/ogzhanolguncu/mr-multiplex/plan"
	"github.com/ogzhanolguncu/mr-multiplex/wire"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type countingMapper struct {
	calls int
}

func (m *countingMapper) Map(record map_reduce.KeyValue) ([]map_reduce.KeyValue, error) {
	m.calls++
	return []map_reduce.KeyValue{{Key: record.Value, Value: int64(1)}}, nil
}

// fanOutGraph has eight output channels; "shared" feeds tags 3 and 7 through
// flatten origins, "other" feeds everything.
func fanOutGraph() *plan.Graph {
	shared := &plan.Node{ID: "shared", Kind: plan.NodeMap, Function: "counting", KeyType: "string", ValueType: "int64"}
	other := &plan.Node{ID: "other", Kind: plan.NodeMap, Function: "counting", KeyType: "string", ValueType: "int64"}
	g := &plan.Graph{
		Inputs: []plan.InputChannel{
			{Source: plan.Source{Path: "/in/a", Format: plan.FormatText}, Nodes: []*plan.Node{shared}},
			{Source: plan.Source{Path: "/in/b", Format: plan.FormatText}, Nodes: []*plan.Node{other}},
		},
	}
	for i := 0; i < 8; i++ {
		out := plan.OutputChannel{
			Name:    fmt.Sprintf("out%d", i),
			Origin:  plan.Origin{Kind: plan.OriginGroup, Nodes: []*plan.Node{other}},
			Role:    plan.RoleReducer,
			Reducer: "count",
			Sinks:   []plan.Sink{{Path: fmt.Sprintf("/out/%d", i), Format: plan.FormatText}},
		}
		if i == 3 || i == 7 {
			out.Origin = plan.Origin{Kind: plan.OriginFlatten, Nodes: []*plan.Node{shared, other}}
			out.Role = plan.RoleCombineThenReduce
			out.Combiner = "sum"
			out.Reducer = "sum"
		}
		g.Outputs = append(g.Outputs, out)
	}
	return g
}

func TestBuildFanOut(t *testing.T) {
	g := fanOutGraph()
	tagging, err := plan.AssignTags(g)
	require.NoError(t, err)

	tables, err := Build(g, tagging)
	require.NoError(t, err)

	require.Equal(t, []MapEntry{{NodeID: "shared", Function: "counting", Tags: []int{3, 7}}}, tables.Map[0])
	require.Len(t, tables.Map[1], 1)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, tables.Map[1][0].Tags)
	require.Equal(t, CombineTable{
		3: {Tag: 3, Function: "sum"},
		7: {Tag: 7, Function: "sum"},
	}, tables.Combine)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, tables.Tags())
	require.Equal(t, 1, tables.Reduce[5].Sinks)
}

func TestMapEmitsOneStreamPerTag(t *testing.T) {
	g := fanOutGraph()
	tagging, err := plan.AssignTags(g)
	require.NoError(t, err)
	tables, err := Build(g, tagging)
	require.NoError(t, err)

	mapper := &countingMapper{}
	fns := map_reduce.Builtins()
	fns.RegisterMapper("counting", mapper)
	d, err := Bind(tables, fns)
	require.NoError(t, err)

	var emitted []wire.TaggedKey
	err = d.Map(0, map_reduce.KeyValue{Key: int64(0), Value: "word"}, func(k wire.TaggedKey, v wire.TaggedValue) error {
		require.Equal(t, k.Tag, v.Tag)
		emitted = append(emitted, k)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, mapper.calls)
	require.Equal(t, []wire.TaggedKey{{Tag: 3, Key: "word"}, {Tag: 7, Key: "word"}}, emitted)

	require.True(t, d.HasCombiner(3))
	require.False(t, d.HasCombiner(0))

	require.NoError(t, d.Map(42, map_reduce.KeyValue{}, func(wire.TaggedKey, wire.TaggedValue) error {
		t.Fatal("channel without mappers must not emit")
		return nil
	}))
}

func TestBindUnknownFunction(t *testing.T) {
	g := fanOutGraph()
	tagging, err := plan.AssignTags(g)
	require.NoError(t, err)
	tables, err := Build(g, tagging)
	require.NoError(t, err)

	_, err = Bind(tables, map_reduce.Builtins())
	require.ErrorIs(t, err, map_reduce.ErrUnknownFunction)
}

func TestReduceRoles(t *testing.T) {
	tables := &Tables{
		Map:     MapTable{},
		Combine: CombineTable{1: {Tag: 1, Function: "sum"}},
		Reduce: ReduceTable{
			0: {Tag: 0, Role: plan.RoleReducer, Reducer: "count", Sinks: 2},
			1: {Tag: 1, Role: plan.RoleCombinerOnly, Combiner: "sum", Sinks: 1},
			2: {Tag: 2, Role: plan.RoleIdentity, Sinks: 1},
		},
	}
	d, err := Bind(tables, map_reduce.Builtins())
	require.NoError(t, err)

	type written struct {
		sink int
		kv   map_reduce.KeyValue
	}
	collect := func(tag int, key any, values []any) []written {
		var out []written
		err := d.Reduce(tag, key, values, func(sink int, kv map_reduce.KeyValue) error {
			out = append(out, written{sink, kv})
			return nil
		})
		require.NoError(t, err)
		return out
	}

	require.Equal(t, []written{
		{0, map_reduce.KeyValue{Key: "k", Value: int64(3)}},
		{1, map_reduce.KeyValue{Key: "k", Value: int64(3)}},
	}, collect(0, "k", []any{"a", "b", "c"}))

	require.Equal(t, []written{
		{0, map_reduce.KeyValue{Key: "k", Value: int64(6)}},
	}, collect(1, "k", []any{int64(1), int64(5)}))

	require.Equal(t, []written{
		{0, map_reduce.KeyValue{Key: "k", Value: "x"}},
		{0, map_reduce.KeyValue{Key: "k", Value: "y"}},
	}, collect(2, "k", []any{"x", "y"}))

	combined, err := d.Combine(1, "k", []any{int64(2), int64(2)})
	require.NoError(t, err)
	require.Equal(t, int64(4), combined)

	require.Equal(t, 2, d.Sinks(0))
}

func TestUnknownTagIsInvariantViolation(t *testing.T) {
	d, err := Bind(&Tables{Map: MapTable{}, Reduce: ReduceTable{}}, map_reduce.Builtins())
	require.NoError(t, err)

	require.Panics(t, func() {
		_ = d.Reduce(9, "k", nil, func(int, map_reduce.KeyValue) error { return nil })
	})
	require.Panics(t, func() {
		_, _ = d.Combine(9, "k", nil)
	})
}

func TestPublishLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	bc := NewFSBroadcast(fs, "/job/_broadcast")

	g := fanOutGraph()
	tagging, err := plan.AssignTags(g)
	require.NoError(t, err)
	tables, err := Build(g, tagging)
	require.NoError(t, err)

	keys, err := Publish(bc, tables)
	require.NoError(t, err)
	require.Equal(t, []string{KeyMap, KeyCombine, KeyReduce}, keys)

	loaded, err := Load(bc)
	require.NoError(t, err)
	require.Equal(t, tables, loaded)
}

func TestPublishWithoutCombiner(t *testing.T) {
	fs := afero.NewMemMapFs()
	bc := NewFSBroadcast(fs, "/job/_broadcast")
	tables := &Tables{
		Map:    MapTable{0: {{NodeID: "n", Function: "identity", Tags: []int{0}}}},
		Reduce: ReduceTable{0: {Tag: 0, Role: plan.RoleIdentity, Sinks: 1}},
	}

	keys, err := Publish(bc, tables)
	require.NoError(t, err)
	require.Equal(t, []string{KeyMap, KeyReduce}, keys)

	exists, err := afero.Exists(fs, "/job/_broadcast/"+KeyCombine)
	require.NoError(t, err)
	require.False(t, exists)

	loaded, err := Load(bc)
	require.NoError(t, err)
	require.Nil(t, loaded.Combine)
	require.Equal(t, tables.Reduce, loaded.Reduce)

	_, err = Load(NewFSBroadcast(fs, "/elsewhere"))
	require.ErrorIs(t, err, ErrNotFound)
}
