// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import "fmt"

// Stage names a pipeline step. They appear in logs, reports and errors.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageDedup     Stage = "dedup"
	StageKeyword   Stage = "keyword"
	StageRelevance Stage = "relevance"
	StageSeen      Stage = "seen"
	StageTranslate Stage = "translate"
	StagePersist   Stage = "persist"
	StageDeliver   Stage = "deliver"
)

// StageError is a fatal failure of one stage. The run stops at the first one.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
