package job

import (
	"errors"
	"fmt"

	"github.com/ogzhanolguncu/mr-multiplex/wire"
)

var (
	ErrTypeConflict  = wire.ErrTypeConflict
	ErrUnresolvedTag = wire.ErrUnresolvedTag

	ErrSubmissionFailure = errors.New("job submission failed")
	ErrDemuxMismatch     = errors.New("staging file matches no named output")
	ErrDemuxConflict     = errors.New("destination file already exists")
)

// SubmissionError carries the engine's (or setup step's) diagnostic. It
// matches ErrSubmissionFailure under errors.Is.
type SubmissionError struct {
	JobID string
	Stage string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmissionFailure }
