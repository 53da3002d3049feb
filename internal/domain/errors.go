package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRuleNotFound    = errors.New("no rule matches pipeline")
	ErrDetailsNotFound = errors.New("pipeline details not found")
	ErrStageNotFound   = errors.New("stage not found in pipeline")
	ErrUnknownStatus   = errors.New("unknown pipeline status")
)

type StageNotFoundError struct {
	Pipeline string
	Stage    string
}

func (e *StageNotFoundError) Error() string {
	return fmt.Sprintf("pipeline %q has no stage %q for which the notification was sent", e.Pipeline, e.Stage)
}

func (e *StageNotFoundError) Unwrap() error { return ErrStageNotFound }

type UnknownStatusError struct {
	Value string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown pipeline status %q", e.Value)
}

func (e *UnknownStatusError) Unwrap() error { return ErrUnknownStatus }

type LinkConstructionError struct {
	Host string
	Job  string
	Err  error
}

func (e *LinkConstructionError) Error() string {
	if e.Job == "" {
		return fmt.Sprintf("console link for host %q: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("console link for job %q on host %q: %v", e.Job, e.Host, e.Err)
}

func (e *LinkConstructionError) Unwrap() error { return e.Err }
