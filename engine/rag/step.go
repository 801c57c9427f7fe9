package rag

import (
	"errors"
	"fmt"

	"github.com/intellia-labs/nexus/engine/graph"
	"github.com/intellia-labs/nexus/engine/vectorindex"
)

// StepStatus classifies the outcome of one retrieval sub-step.
type StepStatus int

const (
	StepData     StepStatus = iota // succeeded with content
	StepEmpty                      // succeeded with nothing to add
	StepDegraded                   // failed, replaced by its placeholder
	StepFailed                     // failed, aborts the query
)

func (s StepStatus) String() string {
	switch s {
	case StepData:
		return "data"
	case StepEmpty:
		return "empty"
	case StepDegraded:
		return "degraded"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Step is the result of one retrieval sub-step.
type Step[T any] struct {
	Status StepStatus
	Value  T
	Err    error
}

func data[T any](v T, empty bool) Step[T] {
	if empty {
		return Step[T]{Status: StepEmpty, Value: v}
	}
	return Step[T]{Status: StepData, Value: v}
}

func failed[T any](err error) Step[T] {
	return Step[T]{Status: StepFailed, Err: err}
}

func degraded[T any](err error) Step[T] {
	return Step[T]{Status: StepDegraded, Err: err}
}

// Retrieved is the merged retrieval context handed to the composer.
type Retrieved struct {
	Hits     []vectorindex.Hit
	Stats    string
	Graph    []graph.Record
	Degraded []string
}

var errStepPanic = errors.New("rag: step panicked")

// errAbandoned marks a graph lookup cut short because the query itself was
// cancelled, typically by a failing sibling sub-step. The store is not at
// fault, so the breaker ignores it.
var errAbandoned = errors.New("rag: graph lookup abandoned")

// merge folds the three sub-step results into one context. Vector search and
// statistics are required; the graph step may degrade.
func merge(vec Step[[]vectorindex.Hit], stats Step[string], gr Step[[]graph.Record]) (Retrieved, error) {
	var out Retrieved
	var errs []error

	switch vec.Status {
	case StepFailed, StepDegraded:
		errs = append(errs, fmt.Errorf("rag: vector search: %w", vec.Err))
	default:
		out.Hits = vec.Value
	}

	switch stats.Status {
	case StepFailed, StepDegraded:
		errs = append(errs, fmt.Errorf("rag: summarize: %w", stats.Err))
	default:
		out.Stats = stats.Value
	}

	switch gr.Status {
	case StepFailed:
		errs = append(errs, fmt.Errorf("rag: graph: %w", gr.Err))
	case StepDegraded:
		out.Degraded = append(out.Degraded, "graph")
	default:
		out.Graph = gr.Value
	}

	if len(errs) > 0 {
		return Retrieved{}, errors.Join(errs...)
	}
	return out, nil
}
