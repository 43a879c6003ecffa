package job

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/exp/slog"
)

type MovedFile struct {
	From string
	To   string
	Tag  int
	Sink int
}

// DemuxReport lists what one demux pass did.
type DemuxReport struct {
	Moved      []MovedFile
	Mismatched []string
	Conflicts  []string
}

type outputKey struct{ tag, sink int }

// Demux moves every staging file named ch<tag>out<sink>-<suffix> into the
// directory of the matching named output, keeping the file name. Every
// output directory is created, even for sinks that received no file. Files that
// match nothing are logged and left alone. An existing destination file is
// never replaced; such files are reported as conflicts and the rest still
// move. A missing staging directory is not an error, so demux can be re-run.
func Demux(fs afero.Fs, stagingDir string, outputs []NamedOutput, logger *slog.Logger) (*DemuxReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	report := &DemuxReport{}

	exists, err := afero.DirExists(fs, stagingDir)
	if err != nil {
		return nil, fmt.Errorf("stat staging dir: %w", err)
	}
	if !exists {
		logger.Debug("staging dir absent, nothing to demux", "dir", stagingDir)
		return report, nil
	}

	var errs []error
	byKey := make(map[outputKey]NamedOutput, len(outputs))
	for _, o := range outputs {
		byKey[outputKey{o.Tag, o.Sink}] = o
		if err := fs.MkdirAll(o.Path, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("create output dir %s: %w", o.Path, err))
		}
	}

	entries, err := afero.ReadDir(fs, stagingDir)
	if err != nil {
		return nil, fmt.Errorf("list staging dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		parsed, ok := ParseOutputFile(name)
		if entry.IsDir() || !ok {
			report.Mismatched = append(report.Mismatched, name)
			logger.Warn("skipping staging file", "file", name, "error", ErrDemuxMismatch)
			continue
		}
		out, ok := byKey[outputKey{parsed.Tag, parsed.Sink}]
		if !ok {
			report.Mismatched = append(report.Mismatched, name)
			logger.Warn("skipping staging file", "file", name, "tag", parsed.Tag, "sink", parsed.Sink, "error", ErrDemuxMismatch)
			continue
		}

		src := filepath.Join(stagingDir, name)
		dst := filepath.Join(out.Path, name)
		taken, err := afero.Exists(fs, dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("stat %s: %w", dst, err))
			continue
		}
		if taken {
			report.Conflicts = append(report.Conflicts, dst)
			errs = append(errs, fmt.Errorf("%w: %s", ErrDemuxConflict, dst))
			continue
		}
		if err := fs.Rename(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("move %s: %w", name, err))
			continue
		}
		report.Moved = append(report.Moved, MovedFile{From: src, To: dst, Tag: parsed.Tag, Sink: parsed.Sink})
		logger.Debug("moved output", "file", name, "tag", parsed.Tag, "sink", parsed.Sink, "dest", out.Path)
	}

	return report, errors.Join(errs...)
}
