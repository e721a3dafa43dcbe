package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a cache or store miss.
	ErrNotFound = errors.New("domain: not found")
	// ErrPrecondition indicates required inputs were missing before an operation started.
	ErrPrecondition = errors.New("precondition failed")
	// ErrProvider indicates an AI provider or audio collaborator call failed.
	ErrProvider = errors.New("provider failed")
	// ErrParse indicates a provider answered with a payload that could not be interpreted.
	ErrParse = errors.New("unparseable provider response")
	// ErrSessionNotFound indicates an unknown mix session id.
	ErrSessionNotFound = errors.New("mix session not found")
	// ErrPipelineFinished indicates an operation on a pipeline that already reached a terminal state.
	ErrPipelineFinished = errors.New("pipeline already finished")
	// ErrPipelineBusy indicates the pipeline is running and cannot accept the request.
	ErrPipelineBusy = errors.New("pipeline is running")
	// ErrStageNotFailed indicates a retry was requested for a stage that has not failed.
	ErrStageNotFailed = errors.New("stage has not failed")
)

// PreconditionError names the missing input. It is never retried.
type PreconditionError struct {
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s is required", e.Missing)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// ProviderError wraps a failed call to one provider or collaborator.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// ParseError reports a response that arrived but could not be used.
// It matches both ErrParse and ErrProvider so fallback logic treats it as a provider failure.
type ParseError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool {
	return target == ErrParse || target == ErrProvider
}

// StageError reports a failed render inside a non-final pipeline stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FatalPipelineError reports a Finalize failure; the session is over.
type FatalPipelineError struct {
	Err error
}

func (e *FatalPipelineError) Error() string {
	return fmt.Sprintf("finalize failed: %v", e.Err)
}

func (e *FatalPipelineError) Unwrap() error { return e.Err }
