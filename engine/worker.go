package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ogzhanolguncu/mr-multiplex/dispatch"
	"github.com/ogzhanolguncu/mr-multiplex/job"
	"github.com/ogzhanolguncu/mr-multiplex/map_reduce"
	"github.com/ogzhanolguncu/mr-multiplex/wire"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// shuffleRecord is one line of an intermediate file: the encoded tagged key
// and value exactly as the partitioner saw them.
type shuffleRecord struct {
	Key   []byte `json:"k"`
	Value []byte `json:"v"`
}

// pair is one mapper output. The encoded forms are nil until known.
type pair struct {
	key        wire.TaggedKey
	value      wire.TaggedValue
	keyBytes   []byte
	valueBytes []byte
}

// jobRun is the per-run state shared by all workers. Everything in it is
// read-only once the run starts.
type jobRun struct {
	fs          afero.Fs
	cfg         *job.Config
	registry    *wire.Registry
	partitioner wire.Partitioner
	dispatcher  *dispatch.Dispatcher
	combine     bool
	outputs     map[[2]int]job.NamedOutput
}

func (r *jobRun) intermediateFile(mapID, reduceID int) string {
	return filepath.Join(r.cfg.TempDir, fmt.Sprintf("mr-%d-%d", mapID, reduceID))
}

type Worker struct {
	run      *jobRun
	logger   *slog.Logger
	workerID string
}

func (w *Worker) executeMapTask(ctx context.Context, task *Task) error {
	split := task.Split
	nReduce := w.run.cfg.NumReducers

	var pairs []pair
	emit := func(k wire.TaggedKey, v wire.TaggedValue) error {
		p, err := w.canonical(k, v)
		if err != nil {
			return err
		}
		pairs = append(pairs, p)
		return nil
	}
	err := readRecords(w.run.fs, split.Path, split.Format, func(kv map_reduce.KeyValue) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return w.run.dispatcher.Map(split.Channel, kv, emit)
	})
	if err != nil {
		return fmt.Errorf("map %s: %w", split.Path, err)
	}

	if w.run.combine {
		if pairs, err = w.combine(pairs); err != nil {
			return err
		}
	}

	files := make([]afero.File, nReduce)
	bufs := make([]*bufio.Writer, nReduce)
	encoders := make([]*json.Encoder, nReduce)
	defer func() {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}()
	for i := 0; i < nReduce; i++ {
		files[i], err = w.run.fs.Create(w.run.intermediateFile(task.ID, i))
		if err != nil {
			return err
		}
		bufs[i] = bufio.NewWriter(files[i])
		encoders[i] = json.NewEncoder(bufs[i])
	}

	for _, p := range pairs {
		kb, vb := p.keyBytes, p.valueBytes
		if kb == nil {
			if kb, err = w.run.registry.EncodeKey(p.key); err != nil {
				return fmt.Errorf("map %s: %w", split.Path, err)
			}
		}
		if vb == nil {
			if vb, err = w.run.registry.EncodeValue(p.value); err != nil {
				return fmt.Errorf("map %s: %w", split.Path, err)
			}
		}
		r := w.run.partitioner.Partition(kb, nReduce)
		if err := encoders[r].Encode(shuffleRecord{Key: kb, Value: vb}); err != nil {
			return err
		}
	}

	for i, b := range bufs {
		if err := b.Flush(); err != nil {
			return err
		}
		if err := files[i].Close(); err != nil {
			return err
		}
		files[i] = nil
	}

	w.logger.Debug("map task done", "task", task.ID, "file", split.Path, "records", len(pairs))
	return nil
}

// canonical encodes one mapper output. With combining on, the pair is also
// decoded back so sorting and combiners see the codec's own types: an int key
// on an int64 tag becomes int64, and a key its codec rejects fails the task
// here rather than in the sort.
func (w *Worker) canonical(k wire.TaggedKey, v wire.TaggedValue) (pair, error) {
	reg := w.run.registry
	kb, err := reg.EncodeKey(k)
	if err != nil {
		return pair{}, err
	}
	vb, err := reg.EncodeValue(v)
	if err != nil {
		return pair{}, err
	}
	p := pair{key: k, value: v, keyBytes: kb, valueBytes: vb}
	if !w.run.combine {
		return p, nil
	}
	if p.key, err = reg.DecodeKey(kb); err != nil {
		return pair{}, err
	}
	if p.value, err = reg.DecodeValue(vb); err != nil {
		return pair{}, err
	}
	return p, nil
}

// combine folds each run of equal keys whose tag has a combiner into one
// value. Runs of other tags pass through untouched.
func (w *Worker) combine(pairs []pair) ([]pair, error) {
	reg := w.run.registry
	slices.SortStableFunc(pairs, func(a, b pair) int { return reg.CompareKeys(a.key, b.key) })

	out := make([]pair, 0, len(pairs))
	for i := 0; i < len(pairs); {
		j := i + 1
		for j < len(pairs) && reg.CompareKeys(pairs[i].key, pairs[j].key) == 0 {
			j++
		}
		tag := pairs[i].key.Tag
		if !w.run.dispatcher.HasCombiner(tag) {
			out = append(out, pairs[i:j]...)
			i = j
			continue
		}

		values := make([]any, 0, j-i)
		for _, p := range pairs[i:j] {
			values = append(values, p.value.Value)
		}
		combined, err := w.run.dispatcher.Combine(tag, pairs[i].key.Key, values)
		if err != nil {
			return nil, fmt.Errorf("combine tag %d: %w", tag, err)
		}
		out = append(out, pair{
			key:      pairs[i].key,
			keyBytes: pairs[i].keyBytes,
			value:    wire.TaggedValue{Tag: tag, Value: combined},
		})
		i = j
	}
	return out, nil
}

func (w *Worker) executeReduceTask(ctx context.Context, task *Task, mapTasks int) error {
	reduceID := task.ID
	var pairs []pair

	for mapID := 0; mapID < mapTasks; mapID++ {
		filename := w.run.intermediateFile(mapID, reduceID)
		file, err := w.run.fs.Open(filename)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}

		dec := json.NewDecoder(file)
		for {
			var rec shuffleRecord
			if err := dec.Decode(&rec); err != nil {
				if err == io.EOF {
					break
				}
				file.Close()
				return fmt.Errorf("read %s: %w", filename, err)
			}
			k, err := w.run.registry.DecodeKey(rec.Key)
			if err != nil {
				file.Close()
				return fmt.Errorf("read %s: %w", filename, err)
			}
			v, err := w.run.registry.DecodeValue(rec.Value)
			if err != nil {
				file.Close()
				return fmt.Errorf("read %s: %w", filename, err)
			}
			pairs = append(pairs, pair{key: k, value: v})
		}
		file.Close()
	}
	w.logger.Debug("reduce task input", "task", reduceID, "records", len(pairs))

	reg := w.run.registry
	slices.SortStableFunc(pairs, func(a, b pair) int { return reg.CompareKeys(a.key, b.key) })

	sinks := make(map[[2]int]*sinkWriter)
	closeAll := func() error {
		var errs []error
		for _, s := range sinks {
			errs = append(errs, s.Close())
		}
		clear(sinks)
		return errors.Join(errs...)
	}
	defer closeAll()

	for i := 0; i < len(pairs); {
		if err := ctx.Err(); err != nil {
			return err
		}
		j := i + 1
		for j < len(pairs) && reg.CompareKeys(pairs[i].key, pairs[j].key) == 0 {
			j++
		}

		tag := pairs[i].key.Tag
		values := make([]any, 0, j-i)
		for _, p := range pairs[i:j] {
			values = append(values, p.value.Value)
		}
		err := w.run.dispatcher.Reduce(tag, pairs[i].key.Key, values, func(sink int, kv map_reduce.KeyValue) error {
			s, err := w.sink(sinks, tag, sink, reduceID)
			if err != nil {
				return err
			}
			return s.Write(kv)
		})
		if err != nil {
			return err
		}
		i = j
	}

	if err := closeAll(); err != nil {
		return err
	}
	w.logger.Debug("reduce task done", "task", reduceID)
	return nil
}

// sink opens the named output of (tag, sink) for this reducer on first use.
// A retried task starts from scratch, so a leftover file is replaced.
func (w *Worker) sink(open map[[2]int]*sinkWriter, tag, sink, reduceID int) (*sinkWriter, error) {
	id := [2]int{tag, sink}
	if s, ok := open[id]; ok {
		return s, nil
	}
	out, ok := w.run.outputs[id]
	if !ok {
		return nil, fmt.Errorf("tag %d sink %d: no named output", tag, sink)
	}
	name := job.OutputFileName(tag, sink, fmt.Sprintf("r-%05d", reduceID))
	path := filepath.Join(w.run.cfg.StagingDir, name)
	if err := w.run.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s, err := createSink(w.run.fs, path, out.Format)
	if err != nil {
		return nil, err
	}
	open[id] = s
	return s, nil
}
