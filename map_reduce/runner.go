package map_reduce

import (
	"fmt"
	"sort"
)

// Runner evaluates one logical channel in memory: a mapper, an optional
// combiner and a reducer, with no tagging involved. It is the reference a
// multiplexed job's per-channel output must agree with.
type Runner struct {
	mapper   Mapper
	combiner Combiner
	reducer  Reducer
}

func NewRunner(m Mapper, c Combiner, r Reducer) *Runner {
	return &Runner{
		mapper:   m,
		combiner: c,
		reducer:  r,
	}
}

// Run maps every record, groups by key and reduces each group. Keys must be
// comparable; results are sorted by the key's printed form.
func (r *Runner) Run(records []KeyValue) ([]KeyValue, error) {
	groups := make(map[any][]any)
	var order []any
	for _, record := range records {
		kvs, err := r.mapper.Map(record)
		if err != nil {
			return nil, fmt.Errorf("mapping error: %w", err)
		}
		for _, kv := range kvs {
			if _, seen := groups[kv.Key]; !seen {
				order = append(order, kv.Key)
			}
			groups[kv.Key] = append(groups[kv.Key], kv.Value)
		}
	}

	var results []KeyValue
	for _, key := range order {
		values := groups[key]
		if r.combiner != nil {
			combined, err := r.combiner.Combine(key, values)
			if err != nil {
				return nil, fmt.Errorf("combine error for key %v: %w", key, err)
			}
			values = []any{combined}
		}
		if r.reducer == nil {
			for _, v := range values {
				results = append(results, KeyValue{Key: key, Value: v})
			}
			continue
		}
		kvs, err := r.reducer.Reduce(key, values)
		if err != nil {
			return nil, fmt.Errorf("reduce error for key %v: %w", key, err)
		}
		results = append(results, kvs...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return fmt.Sprint(results[i].Key) < fmt.Sprint(results[j].Key)
	})
	return results, nil
}
