package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/ogzhanolguncu/mr-multiplex/job"
	"github.com/ogzhanolguncu/mr-multiplex/map_reduce"
	"github.com/ogzhanolguncu/mr-multiplex/plan"
	"github.com/ogzhanolguncu/mr-multiplex/wire"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var corpus = map[string]string{
	"/data/a/part-0.txt": "the quick fox\nthe lazy dog\n",
	"/data/a/part-1.txt": "quick quick\n",
	"/data/a/_SUCCESS":   "",
	"/data/b.tsv":        "k1\tv1\nk2\tv2\n",
}

func writeCorpus(t *testing.T, fs afero.Fs) {
	t.Helper()
	for path, content := range corpus {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
}

// multiplexedGraph reads input A twice (word count with a combiner, and an
// upper-casing pass) and passes input B through untouched.
func multiplexedGraph() *plan.Graph {
	wc := &plan.Node{ID: "A/wordcount", Kind: plan.NodeMap, Function: "wordcount", KeyType: "string", ValueType: "int64"}
	up := &plan.Node{ID: "A/upper", Kind: plan.NodeMap, Function: "uppercase", KeyType: "int64", ValueType: "string"}
	b := &plan.Node{ID: "B", Kind: plan.NodeIdentity, Function: "identity", KeyType: "string", ValueType: "string"}
	return &plan.Graph{
		Inputs: []plan.InputChannel{
			{Source: plan.Source{Path: "/data/a", Format: plan.FormatText}, Nodes: []*plan.Node{wc, up}},
			{Source: plan.Source{Path: "/data/b.tsv", Format: plan.FormatKV}, Nodes: []*plan.Node{b}},
		},
		Outputs: []plan.OutputChannel{
			{
				Name:     "words",
				Origin:   plan.Origin{Kind: plan.OriginGroup, Nodes: []*plan.Node{wc}},
				Role:     plan.RoleCombineThenReduce,
				Combiner: "sum",
				Reducer:  "sum",
				Sinks: []plan.Sink{
					{Path: "/out/words", Format: plan.FormatText},
					{Path: "/out/words-json", Format: plan.FormatJSONL},
				},
			},
			{
				Name:   "lines",
				Origin: plan.Origin{Kind: plan.OriginGroup, Nodes: []*plan.Node{up}},
				Role:   plan.RoleIdentity,
				Sinks:  []plan.Sink{{Path: "/out/lines", Format: plan.FormatJSONL}},
			},
			{
				Name:   "passthrough",
				Origin: plan.Origin{Kind: plan.OriginBypass, Nodes: []*plan.Node{b}},
				Role:   plan.RoleIdentity,
				Sinks:  []plan.Sink{{Path: "/out/pass", Format: plan.FormatKV}},
			},
		},
	}
}

// readOutput returns the sorted "key\tvalue" lines of every output file
// below dir.
func readOutput(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)

	var lines []string
	for _, e := range entries {
		parsed, ok := job.ParseOutputFile(e.Name())
		require.True(t, ok, e.Name())
		require.True(t, strings.HasPrefix(parsed.Suffix, "r-"), e.Name())

		f, err := fs.Open(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "{") {
				var rec jsonRecord
				require.NoError(t, json.Unmarshal([]byte(line), &rec))
				line = fmt.Sprintf("%v\t%v", rec.Key, rec.Value)
			}
			lines = append(lines, line)
		}
		require.NoError(t, scanner.Err())
		f.Close()
	}
	sort.Strings(lines)
	return lines
}

func expected(t *testing.T, r *map_reduce.Runner, records []map_reduce.KeyValue) []string {
	t.Helper()
	kvs, err := r.Run(records)
	require.NoError(t, err)
	lines := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		lines = append(lines, fmt.Sprintf("%v\t%v", kv.Key, kv.Value))
	}
	sort.Strings(lines)
	return lines
}

func textRecords(files ...string) []map_reduce.KeyValue {
	var records []map_reduce.KeyValue
	for _, f := range files {
		for i, line := range strings.Split(strings.TrimSuffix(corpus[f], "\n"), "\n") {
			records = append(records, map_reduce.KeyValue{Key: int64(i), Value: line})
		}
	}
	return records
}

func TestLocalEngineMatchesPerChannelJobs(t *testing.T) {
	for _, reducers := range []int{1, 3} {
		t.Run(fmt.Sprintf("reducers=%d", reducers), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeCorpus(t, fs)

			p, err := job.Compile(multiplexedGraph(), job.Options{NumReducers: reducers, StagingRoot: "/staging"})
			require.NoError(t, err)
			require.Equal(t, job.GenericCombiner, p.Config.Roles.Combiner)

			engine := NewLocalEngine(fs, map_reduce.Builtins(), Options{Workers: 2})
			report, err := job.NewSubmitter(fs, engine, nil).Run(context.Background(), p)
			require.NoError(t, err)
			require.Equal(t, job.StateDemuxed, report.State)
			require.Equal(t, []string{SuccessMarker}, report.Demux.Mismatched)

			a := textRecords("/data/a/part-0.txt", "/data/a/part-1.txt")
			words := expected(t, map_reduce.NewRunner(&map_reduce.WordCountMapper{}, map_reduce.SumCombiner{}, &map_reduce.WordCountReducer{}), a)
			require.Equal(t, []string{"dog\t1", "fox\t1", "lazy\t1", "quick\t3", "the\t2"}, words)
			require.Equal(t, words, readOutput(t, fs, "/out/words"))
			require.Equal(t, words, readOutput(t, fs, "/out/words-json"))

			lines := expected(t, map_reduce.NewRunner(map_reduce.UpperCaseMapper{}, nil, nil), a)
			require.Equal(t, lines, readOutput(t, fs, "/out/lines"))

			require.Equal(t, []string{"k1\tv1", "k2\tv2"}, readOutput(t, fs, "/out/pass"))

			entries, err := afero.ReadDir(fs, "/staging")
			require.NoError(t, err)
			require.Empty(t, entries, "run directory is removed")
		})
	}
}

func TestLocalEngineSharedNodeFansOut(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs)

	wc := &plan.Node{ID: "A/wordcount", Kind: plan.NodeMap, Function: "wordcount", KeyType: "string", ValueType: "int64"}
	g := &plan.Graph{
		Inputs: []plan.InputChannel{
			{Source: plan.Source{Path: "/data/a/part-0.txt", Format: plan.FormatText}, Nodes: []*plan.Node{wc}},
		},
		Outputs: []plan.OutputChannel{
			{
				Name:    "totals",
				Origin:  plan.Origin{Kind: plan.OriginGroup, Nodes: []*plan.Node{wc}},
				Role:    plan.RoleReducer,
				Reducer: "sum",
				Sinks:   []plan.Sink{{Path: "/out/totals", Format: plan.FormatKV}},
			},
			{
				Name:    "occurrences",
				Origin:  plan.Origin{Kind: plan.OriginGroup, Nodes: []*plan.Node{wc}},
				Role:    plan.RoleReducer,
				Reducer: "count",
				Sinks:   []plan.Sink{{Path: "/out/occurrences", Format: plan.FormatKV}},
			},
		},
	}

	p, err := job.Compile(g, job.Options{NumReducers: 2, StagingRoot: "/staging"})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, p.Tagging.Tags("A/wordcount"))

	engine := NewLocalEngine(fs, map_reduce.Builtins(), Options{Workers: 3})
	_, err = job.NewSubmitter(fs, engine, nil).Run(context.Background(), p)
	require.NoError(t, err)

	a := textRecords("/data/a/part-0.txt")
	require.Equal(t,
		expected(t, map_reduce.NewRunner(&map_reduce.WordCountMapper{}, nil, &map_reduce.WordCountReducer{}), a),
		readOutput(t, fs, "/out/totals"))
	require.Equal(t,
		expected(t, map_reduce.NewRunner(&map_reduce.WordCountMapper{}, nil, map_reduce.CountReducer{}), a),
		readOutput(t, fs, "/out/occurrences"))
}

func TestLocalEngineTaskFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs)

	fns := map_reduce.Builtins()
	calls := 0
	fns.RegisterMapper("boom", map_reduce.MapperFunc(func(map_reduce.KeyValue) ([]map_reduce.KeyValue, error) {
		calls++
		return nil, errors.New("boom")
	}))

	n := &plan.Node{ID: "A/boom", Kind: plan.NodeMap, Function: "boom", KeyType: "string", ValueType: "string"}
	g := &plan.Graph{
		Inputs: []plan.InputChannel{
			{Source: plan.Source{Path: "/data/a/part-1.txt", Format: plan.FormatText}, Nodes: []*plan.Node{n}},
		},
		Outputs: []plan.OutputChannel{{
			Name:   "out",
			Origin: plan.Origin{Kind: plan.OriginGroup, Nodes: []*plan.Node{n}},
			Role:   plan.RoleIdentity,
			Sinks:  []plan.Sink{{Path: "/out/boom", Format: plan.FormatKV}},
		}},
	}
	p, err := job.Compile(g, job.Options{StagingRoot: "/staging"})
	require.NoError(t, err)

	engine := NewLocalEngine(fs, fns, Options{Workers: 1, MaxAttempts: 2})
	report, err := job.NewSubmitter(fs, engine, nil).Run(context.Background(), p)
	require.ErrorIs(t, err, job.ErrSubmissionFailure)
	require.ErrorContains(t, err, "boom")
	require.Equal(t, job.StateFailed, report.State)
	require.Equal(t, 2, calls, "one call per attempt")

	exists, err := afero.Exists(fs, "/out/boom")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestLocalEngineCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs)

	p, err := job.Compile(multiplexedGraph(), job.Options{StagingRoot: "/staging"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewLocalEngine(fs, map_reduce.Builtins(), Options{})
	_, err = job.NewSubmitter(fs, engine, nil).Run(ctx, p)
	require.ErrorIs(t, err, context.Canceled)

	exists, err := afero.DirExists(fs, "/out/words")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestLocalEngineRejectsUnknownFunction(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs)

	p, err := job.Compile(multiplexedGraph(), job.Options{StagingRoot: "/staging"})
	require.NoError(t, err)

	engine := NewLocalEngine(fs, map_reduce.NewFunctions(), Options{})
	_, err = job.NewSubmitter(fs, engine, nil).Run(context.Background(), p)
	require.ErrorIs(t, err, map_reduce.ErrUnknownFunction)
}

// lineLengths emits (len(line), line) with a plain Go int key.
var lineLengths = map_reduce.MapperFunc(func(record map_reduce.KeyValue) ([]map_reduce.KeyValue, error) {
	s := record.Value.(string)
	return []map_reduce.KeyValue{{Key: len(s), Value: s}}, nil
})

func intKeyGraph(keyType string) *plan.Graph {
	wc := &plan.Node{ID: "A/wordcount", Kind: plan.NodeMap, Function: "wordcount", KeyType: "string", ValueType: "int64"}
	ln := &plan.Node{ID: "A/lengths", Kind: plan.NodeMap, Function: "lengths", KeyType: keyType, ValueType: "string"}
	return &plan.Graph{
		Inputs: []plan.InputChannel{
			{Source: plan.Source{Path: "/data/a", Format: plan.FormatText}, Nodes: []*plan.Node{wc, ln}},
		},
		Outputs: []plan.OutputChannel{
			{
				Name:     "words",
				Origin:   plan.Origin{Kind: plan.OriginGroup, Nodes: []*plan.Node{wc}},
				Role:     plan.RoleCombineThenReduce,
				Combiner: "sum",
				Reducer:  "sum",
				Sinks:    []plan.Sink{{Path: "/out/words", Format: plan.FormatKV}},
			},
			{
				Name:   "lengths",
				Origin: plan.Origin{Kind: plan.OriginGroup, Nodes: []*plan.Node{ln}},
				Role:   plan.RoleIdentity,
				Sinks:  []plan.Sink{{Path: "/out/lengths", Format: plan.FormatKV}},
			},
		},
	}
}

func TestLocalEngineIntKeysBesideCombiningChannel(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs)

	fns := map_reduce.Builtins()
	fns.RegisterMapper("lengths", lineLengths)

	p, err := job.Compile(intKeyGraph("int64"), job.Options{NumReducers: 2, StagingRoot: "/staging"})
	require.NoError(t, err)
	require.Equal(t, job.GenericCombiner, p.Config.Roles.Combiner)

	engine := NewLocalEngine(fs, fns, Options{Workers: 2})
	_, err = job.NewSubmitter(fs, engine, nil).Run(context.Background(), p)
	require.NoError(t, err)

	a := textRecords("/data/a/part-0.txt", "/data/a/part-1.txt")
	require.Equal(t,
		expected(t, map_reduce.NewRunner(lineLengths, nil, nil), a),
		readOutput(t, fs, "/out/lengths"))
	require.Equal(t, []string{"dog\t1", "fox\t1", "lazy\t1", "quick\t3", "the\t2"}, readOutput(t, fs, "/out/words"))
}

func TestLocalEngineKeyTypeMismatchFailsTask(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs)

	fns := map_reduce.Builtins()
	fns.RegisterMapper("lengths", lineLengths)

	p, err := job.Compile(intKeyGraph("string"), job.Options{StagingRoot: "/staging"})
	require.NoError(t, err)

	engine := NewLocalEngine(fs, fns, Options{Workers: 2, MaxAttempts: 1})
	report, err := job.NewSubmitter(fs, engine, nil).Run(context.Background(), p)
	require.ErrorIs(t, err, job.ErrSubmissionFailure)
	require.ErrorContains(t, err, "string codec: got int")
	require.Equal(t, job.StateFailed, report.State)
}

func TestLocalEngineRejectsTablesWithoutWireTypes(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeCorpus(t, fs)

	p, err := job.Compile(multiplexedGraph(), job.Options{StagingRoot: "/staging"})
	require.NoError(t, err)
	p.Config.Types = p.Config.Types[:2]

	engine := NewLocalEngine(fs, map_reduce.Builtins(), Options{})
	_, err = job.NewSubmitter(fs, engine, nil).Run(context.Background(), p)
	require.ErrorIs(t, err, wire.ErrUnresolvedTag)
}
