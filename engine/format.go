package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ogzhanolguncu/mr-multiplex/map_reduce"
	"github.com/ogzhanolguncu/mr-multiplex/plan"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
)

const maxLineSize = 1 << 20

type jsonRecord struct {
	Key   any `json:"key"`
	Value any `json:"value"`
}

// listSplits expands an input path into its files. A directory contributes
// every regular file directly below it, except hidden and "_" prefixed ones.
func listSplits(fs afero.Fs, channel int, path, format string) ([]Split, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input channel %d: %w", channel, err)
	}
	if !info.IsDir() {
		return []Split{{Channel: channel, Path: path, Format: format}}, nil
	}

	entries, err := afero.ReadDir(fs, path)
	if err != nil {
		return nil, fmt.Errorf("input channel %d: %w", channel, err)
	}
	var splits []Split
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		splits = append(splits, Split{Channel: channel, Path: filepath.Join(path, name), Format: format})
	}
	slices.SortFunc(splits, func(a, b Split) int { return strings.Compare(a.Path, b.Path) })
	return splits, nil
}

// readRecords calls fn for each record of the file, in file order.
//
//	text:  key is the int64 line number, value the line
//	kv:    key and value are the strings around the first tab
//	jsonl: one {"key": ..., "value": ...} object per line
func readRecords(fs afero.Fs, path, format string, fn func(map_reduce.KeyValue) error) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var line int64
	for scanner.Scan() {
		text := scanner.Text()
		var kv map_reduce.KeyValue
		switch format {
		case plan.FormatText:
			kv = map_reduce.KeyValue{Key: line, Value: text}
		case plan.FormatKV:
			key, value, _ := strings.Cut(text, "\t")
			kv = map_reduce.KeyValue{Key: key, Value: value}
		case plan.FormatJSONL:
			if strings.TrimSpace(text) == "" {
				line++
				continue
			}
			var rec jsonRecord
			if err := json.Unmarshal([]byte(text), &rec); err != nil {
				return fmt.Errorf("%s:%d: %w", path, line+1, err)
			}
			kv = map_reduce.KeyValue{Key: rec.Key, Value: rec.Value}
		default:
			return fmt.Errorf("%s: unsupported format %q", path, format)
		}
		line++
		if err := fn(kv); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// sinkWriter writes the records of one named output file.
type sinkWriter struct {
	file   afero.File
	buf    *bufio.Writer
	enc    *json.Encoder
	format string
}

func createSink(fs afero.Fs, path, format string) (*sinkWriter, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := &sinkWriter{file: f, buf: bufio.NewWriter(f), format: format}
	if format == plan.FormatJSONL {
		w.enc = json.NewEncoder(w.buf)
	}
	return w, nil
}

func (w *sinkWriter) Write(kv map_reduce.KeyValue) error {
	if w.enc != nil {
		return w.enc.Encode(jsonRecord{Key: kv.Key, Value: kv.Value})
	}
	_, err := fmt.Fprintf(w.buf, "%v\t%v\n", kv.Key, kv.Value)
	return err
}

func (w *sinkWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
