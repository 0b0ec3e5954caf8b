package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyOutput     = errors.New("stage produced empty output")
	ErrUndecodable     = errors.New("image could not be decoded")
	ErrEncodeFailed    = errors.New("sticker encoding failed")
	ErrRemoverTimeout  = errors.New("background removal timed out")
	ErrInvalidWebP     = errors.New("invalid webp container")
	ErrInvalidCropMode = errors.New("unknown crop mode")
)

// StageError attributes a failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
