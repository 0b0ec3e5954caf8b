package pipeline

import "errors"

// Stage names a pipeline step. Values double as metric and log labels.
type Stage string

const (
	StageBackgroundRemoval Stage = "background_removal"
	StageOutline           Stage = "outline"
	StageEncode            Stage = "encode"
)

// Result is the outcome of one pipeline run. Degraded lists the stages that
// failed but forwarded their input; Err is set only for a fatal failure, in
// which case Data is nil.
type Result struct {
	Data     []byte
	Degraded []Stage
	Err      error
}

func (r Result) Success() bool {
	return r.Err == nil && len(r.Data) > 0
}

// FailureStage returns the stage that failed fatally, or "" on success.
func (r Result) FailureStage() Stage {
	if r.Err == nil {
		return ""
	}
	var se *StageError
	if errors.As(r.Err, &se) {
		return se.Stage
	}
	return StageEncode
}
