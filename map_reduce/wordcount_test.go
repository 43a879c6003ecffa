package map_reduce

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWordCountMapper(t *testing.T) {
	m := &WordCountMapper{}

	got, err := m.Map(KeyValue{Key: int64(0), Value: "the quick Brown fox!"})
	require.NoError(t, err)
	require.Equal(t, []KeyValue{
		{"the", int64(1)},
		{"quick", int64(1)},
		{"brown", int64(1)},
		{"fox", int64(1)},
	}, got)

	_, err = m.Map(KeyValue{Key: int64(0), Value: 42})
	require.Error(t, err)
}

func TestWordCountReducer(t *testing.T) {
	r := &WordCountReducer{}

	tests := []struct {
		name   string
		key    string
		values []any
		want   int64
	}{
		{
			name:   "single value",
			key:    "fox",
			values: []any{int64(1)},
			want:   1,
		},
		{
			name:   "partial sums",
			key:    "the",
			values: []any{int64(2), int64(1), float64(3)},
			want:   6,
		},
		{
			name:   "no values",
			key:    "empty",
			values: nil,
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Reduce(tt.key, tt.values)
			require.NoError(t, err)
			require.Equal(t, []KeyValue{{Key: tt.key, Value: tt.want}}, got)
		})
	}

	_, err := r.Reduce("bad", []any{"1"})
	require.Error(t, err)
}

func TestSumCombinerIsAssociative(t *testing.T) {
	c := SumCombiner{}

	left, err := c.Combine("k", []any{int64(1), int64(2)})
	require.NoError(t, err)
	right, err := c.Combine("k", []any{int64(3)})
	require.NoError(t, err)
	folded, err := c.Combine("k", []any{left, right})
	require.NoError(t, err)

	all, err := c.Combine("k", []any{int64(1), int64(2), int64(3)})
	require.NoError(t, err)
	require.Equal(t, all, folded)
}

func TestIdentityAndUpperCase(t *testing.T) {
	kvs, err := IdentityReducer{}.Reduce("k", []any{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []KeyValue{{"k", "a"}, {"k", "b"}}, kvs)

	kvs, err = UpperCaseMapper{}.Map(KeyValue{Key: int64(3), Value: "shout"})
	require.NoError(t, err)
	require.Equal(t, []KeyValue{{int64(3), "SHOUT"}}, kvs)

	kvs, err = CountReducer{}.Reduce("k", []any{"x", "y", "z"})
	require.NoError(t, err)
	require.Equal(t, []KeyValue{{"k", int64(3)}}, kvs)
}
