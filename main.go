package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ogzhanolguncu/mr-multiplex/engine"
	"github.com/ogzhanolguncu/mr-multiplex/job"
	"github.com/ogzhanolguncu/mr-multiplex/map_reduce"
	"github.com/ogzhanolguncu/mr-multiplex/plan"
	"github.com/spf13/afero"
	"golang.org/x/exp/slog"
)

func main() {
	var (
		inputFiles = flag.String("input", "", "Comma-separated list of text input files or directories")
		outputDir  = flag.String("output", "out", "Directory receiving one subdirectory per output channel")
		stagingDir = flag.String("staging-dir", "", "Directory for per-run staging (defaults to the system temp dir)")
		nReduce    = flag.Int("reduce", 5, "Number of reduce tasks")
		nWorkers   = flag.Int("workers", runtime.NumCPU(), "Number of workers to spawn (defaults to number of CPU cores)")
		verbose    = flag.Bool("v", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *inputFiles == "" {
		logger.Error("input files required")
		os.Exit(2)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
		time.AfterFunc(5*time.Second, func() {
			logger.Error("force exiting due to timeout")
			os.Exit(1)
		})
	}()

	if err := run(ctx, logger, strings.Split(*inputFiles, ","), *outputDir, *stagingDir, *nReduce, *nWorkers); err != nil {
		logger.Error("job failed", "error", err)
		os.Exit(1)
	}
}

// run reads every input once and produces three outputs from it: word
// totals, per-word occurrence counts and an upper-cased copy of the text.
func run(ctx context.Context, logger *slog.Logger, inputs []string, outputDir, stagingDir string, nReduce, nWorkers int) error {
	g := demoGraph(inputs, outputDir)

	p, err := job.Compile(g, job.Options{
		Name:        "wordcount-multiplex",
		NumReducers: nReduce,
		StagingRoot: stagingDir,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	fs := afero.NewOsFs()
	eng := engine.NewLocalEngine(fs, map_reduce.Builtins(), engine.Options{Workers: nWorkers, Logger: logger})
	report, err := job.NewSubmitter(fs, eng, logger).Run(ctx, p)
	if err != nil {
		return err
	}

	for _, m := range report.Demux.Moved {
		fmt.Println(m.To)
	}
	return nil
}

func demoGraph(inputs []string, outputDir string) *plan.Graph {
	g := &plan.Graph{}

	var words, upper []*plan.Node
	for i, path := range inputs {
		wc := &plan.Node{
			ID:        fmt.Sprintf("input-%d/wordcount", i),
			Kind:      plan.NodeMap,
			Function:  "wordcount",
			KeyType:   "string",
			ValueType: "int64",
		}
		up := &plan.Node{
			ID:        fmt.Sprintf("input-%d/uppercase", i),
			Kind:      plan.NodeMap,
			Function:  "uppercase",
			KeyType:   "int64",
			ValueType: "string",
		}
		g.Inputs = append(g.Inputs, plan.InputChannel{
			Source: plan.Source{Path: path, Format: plan.FormatText},
			Nodes:  []*plan.Node{wc, up},
		})
		words = append(words, wc)
		upper = append(upper, up)
	}

	wordsOrigin := plan.Origin{Kind: plan.OriginGroup, Nodes: words}
	if len(words) > 1 {
		wordsOrigin.Kind = plan.OriginFlatten
	}
	upperOrigin := plan.Origin{Kind: plan.OriginGroup, Nodes: upper}
	if len(upper) > 1 {
		upperOrigin.Kind = plan.OriginFlatten
	}

	g.Outputs = []plan.OutputChannel{
		{
			Name:     "totals",
			Origin:   wordsOrigin,
			Role:     plan.RoleCombineThenReduce,
			Combiner: "sum",
			Reducer:  "sum",
			Sinks:    []plan.Sink{{Path: filepath.Join(outputDir, "totals"), Format: plan.FormatText}},
		},
		{
			Name:    "occurrences",
			Origin:  wordsOrigin,
			Role:    plan.RoleReducer,
			Reducer: "count",
			Sinks:   []plan.Sink{{Path: filepath.Join(outputDir, "occurrences"), Format: plan.FormatJSONL}},
		},
		{
			Name:   "upper",
			Origin: upperOrigin,
			Role:   plan.RoleIdentity,
			Sinks:  []plan.Sink{{Path: filepath.Join(outputDir, "upper"), Format: plan.FormatKV}},
		},
	}
	return g
}
