package map_reduce

import (
	"fmt"
	"strings"
)

type WordCountMapper struct{}

func (m *WordCountMapper) Map(record KeyValue) ([]KeyValue, error) {
	line, ok := record.Value.(string)
	if !ok {
		return nil, fmt.Errorf("wordcount: expected string value, got %T", record.Value)
	}

	var kvs []KeyValue
	for _, word := range strings.Fields(line) {
		word = strings.ToLower(strings.Trim(word, ".,!?\"':;()"))
		if word != "" {
			kvs = append(kvs, KeyValue{Key: word, Value: int64(1)})
		}
	}
	return kvs, nil
}

// WordCountReducer sums the partial counts of a word.
type WordCountReducer struct{}

func (r *WordCountReducer) Reduce(key any, values []any) ([]KeyValue, error) {
	total, err := sumInt64(values)
	if err != nil {
		return nil, fmt.Errorf("sum reduce for key %v: %w", key, err)
	}
	return []KeyValue{{Key: key, Value: total}}, nil
}

type SumCombiner struct{}

func (SumCombiner) Combine(key any, values []any) (any, error) {
	total, err := sumInt64(values)
	if err != nil {
		return nil, fmt.Errorf("sum combine for key %v: %w", key, err)
	}
	return total, nil
}

// CountReducer emits the number of values grouped under a key.
type CountReducer struct{}

func (CountReducer) Reduce(key any, values []any) ([]KeyValue, error) {
	return []KeyValue{{Key: key, Value: int64(len(values))}}, nil
}

type IdentityMapper struct{}

func (IdentityMapper) Map(record KeyValue) ([]KeyValue, error) {
	return []KeyValue{record}, nil
}

type IdentityReducer struct{}

func (IdentityReducer) Reduce(key any, values []any) ([]KeyValue, error) {
	kvs := make([]KeyValue, 0, len(values))
	for _, v := range values {
		kvs = append(kvs, KeyValue{Key: key, Value: v})
	}
	return kvs, nil
}

// UpperCaseMapper upper-cases string values and keeps the key.
type UpperCaseMapper struct{}

func (UpperCaseMapper) Map(record KeyValue) ([]KeyValue, error) {
	s, ok := record.Value.(string)
	if !ok {
		return nil, fmt.Errorf("uppercase: expected string value, got %T", record.Value)
	}
	return []KeyValue{{Key: record.Key, Value: strings.ToUpper(s)}}, nil
}

func sumInt64(values []any) (int64, error) {
	var total int64
	for _, v := range values {
		switch n := v.(type) {
		case int64:
			total += n
		case int:
			total += int64(n)
		case float64:
			total += int64(n)
		default:
			return 0, fmt.Errorf("expected numeric value, got %T", v)
		}
	}
	return total, nil
}
