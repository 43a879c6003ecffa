package map_reduce

// KeyValue is a single record flowing through a mapper, combiner or reducer.
// Keys and values carry the concrete Go types of their codec descriptors
// (string, int64, float64, []byte, proto messages or decoded JSON).
type KeyValue struct {
	Key   any
	Value any
}

type Mapper interface {
	Map(record KeyValue) ([]KeyValue, error)
}

// Combiner folds the values of one key into a single partial value. It may be
// applied any number of times on the map side, so it has to be associative.
type Combiner interface {
	Combine(key any, values []any) (any, error)
}

type Reducer interface {
	Reduce(key any, values []any) ([]KeyValue, error)
}

// MapperFunc adapts a plain function to Mapper.
type MapperFunc func(record KeyValue) ([]KeyValue, error)

func (f MapperFunc) Map(record KeyValue) ([]KeyValue, error) { return f(record) }

type CombinerFunc func(key any, values []any) (any, error)

func (f CombinerFunc) Combine(key any, values []any) (any, error) { return f(key, values) }

type ReducerFunc func(key any, values []any) ([]KeyValue, error)

func (f ReducerFunc) Reduce(key any, values []any) ([]KeyValue, error) { return f(key, values) }
