package map_reduce

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrUnknownFunction = errors.New("unknown function")

// Functions maps names to user functions. Dispatch tables only carry names, so
// every process that executes tasks resolves them against its own catalog.
type Functions struct {
	mu        sync.RWMutex
	mappers   map[string]Mapper
	combiners map[string]Combiner
	reducers  map[string]Reducer
}

func NewFunctions() *Functions {
	return &Functions{
		mappers:   make(map[string]Mapper),
		combiners: make(map[string]Combiner),
		reducers:  make(map[string]Reducer),
	}
}

func (f *Functions) RegisterMapper(name string, m Mapper) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappers[name] = m
}

func (f *Functions) RegisterCombiner(name string, c Combiner) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.combiners[name] = c
}

func (f *Functions) RegisterReducer(name string, r Reducer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reducers[name] = r
}

func (f *Functions) Mapper(name string) (Mapper, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.mappers[name]
	if !ok {
		return nil, fmt.Errorf("mapper %q: %w", name, ErrUnknownFunction)
	}
	return m, nil
}

func (f *Functions) Combiner(name string) (Combiner, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.combiners[name]
	if !ok {
		return nil, fmt.Errorf("combiner %q: %w", name, ErrUnknownFunction)
	}
	return c, nil
}

func (f *Functions) Reducer(name string) (Reducer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.reducers[name]
	if !ok {
		return nil, fmt.Errorf("reducer %q: %w", name, ErrUnknownFunction)
	}
	return r, nil
}

// Names lists the registered mapper, combiner and reducer names, each sorted.
func (f *Functions) Names() (mappers, combiners, reducers []string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	mappers = maps.Keys(f.mappers)
	combiners = maps.Keys(f.combiners)
	reducers = maps.Keys(f.reducers)
	slices.Sort(mappers)
	slices.Sort(combiners)
	slices.Sort(reducers)
	return mappers, combiners, reducers
}

// Builtins returns a catalog holding the functions shipped with this module.
func Builtins() *Functions {
	f := NewFunctions()
	f.RegisterMapper("wordcount", &WordCountMapper{})
	f.RegisterMapper("identity", IdentityMapper{})
	f.RegisterMapper("uppercase", UpperCaseMapper{})
	f.RegisterCombiner("sum", SumCombiner{})
	f.RegisterReducer("sum", &WordCountReducer{})
	f.RegisterReducer("count", CountReducer{})
	f.RegisterReducer("identity", IdentityReducer{})
	return f
}
