package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Well-known broadcast keys of the dispatch tables.
const (
	KeyMap     = "mr.dispatch.map"
	KeyCombine = "mr.dispatch.combine"
	KeyReduce  = "mr.dispatch.reduce"
)

var ErrNotFound = errors.New("broadcast key not found")

// Broadcast makes blobs available to every worker before tasks start.
type Broadcast interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
}

// FSBroadcast keeps one file per key in a directory every worker can read.
type FSBroadcast struct {
	fs  afero.Fs
	dir string
}

func NewFSBroadcast(fs afero.Fs, dir string) *FSBroadcast {
	return &FSBroadcast{fs: fs, dir: dir}
}

func (b *FSBroadcast) Put(key string, data []byte) error {
	if err := b.fs.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create broadcast dir: %w", err)
	}
	if err := afero.WriteFile(b.fs, filepath.Join(b.dir, key), data, 0o644); err != nil {
		return fmt.Errorf("write broadcast key %s: %w", key, err)
	}
	return nil
}

func (b *FSBroadcast) Get(key string) ([]byte, error) {
	data, err := afero.ReadFile(b.fs, filepath.Join(b.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read broadcast key %s: %w", key, err)
	}
	return data, nil
}

// Publish writes the tables under their well-known keys and returns the keys
// written. The combine key is only written when the job combines.
func Publish(bc Broadcast, t *Tables) ([]string, error) {
	blobs := []struct {
		key   string
		table any
	}{
		{KeyMap, t.Map},
		{KeyCombine, t.Combine},
		{KeyReduce, t.Reduce},
	}

	var keys []string
	for _, blob := range blobs {
		if blob.key == KeyCombine && t.Combine == nil {
			continue
		}
		data, err := json.Marshal(blob.table)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", blob.key, err)
		}
		if err := bc.Put(blob.key, data); err != nil {
			return nil, err
		}
		keys = append(keys, blob.key)
	}
	return keys, nil
}

// Load reads back what Publish wrote.
func Load(bc Broadcast) (*Tables, error) {
	t := &Tables{}
	if err := get(bc, KeyMap, &t.Map); err != nil {
		return nil, err
	}
	if err := get(bc, KeyReduce, &t.Reduce); err != nil {
		return nil, err
	}
	err := get(bc, KeyCombine, &t.Combine)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return t, nil
}

func get(bc Broadcast, key string, dst any) error {
	data, err := bc.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
