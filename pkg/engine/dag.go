package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

// DAGBuilder builds the dependency graph of a plan's steps.
type DAGBuilder struct {
	g     graph.Graph[string, *Step]
	steps map[string]*Step
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		g:     graph.New(stepHash, graph.Directed(), graph.Acyclic(), graph.PreventCycles()),
		steps: make(map[string]*Step),
	}
}

func stepHash(s *Step) string {
	return s.ID
}

// BuildGraph validates the dependencies of steps and computes their
// execution order. Unrelated steps keep their Position order.
func (b *DAGBuilder) BuildGraph(steps []*Step) (*ExecutionGraph, error) {
	if len(steps) == 0 {
		return &ExecutionGraph{Order: []string{}, Levels: map[string]int{}}, nil
	}

	for _, step := range steps {
		if step.ID == "" {
			return nil, NewPermanentError("step has empty ID", nil).
				WithCode(ErrCodeValidation)
		}
		if err := b.g.AddVertex(step, graph.VertexAttribute("label", step.Name)); err != nil {
			if errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, NewPermanentError(fmt.Sprintf("duplicate step ID: %s", step.ID), nil).
					WithCode(ErrCodeValidation)
			}
			return nil, NewPermanentError("failed to add step", err).WithStep(step.ID)
		}
		b.steps[step.ID] = step
	}

	for _, step := range steps {
		for _, dep := range step.Dependencies {
			if _, ok := b.steps[dep]; !ok {
				return nil, NewPermanentError(
					fmt.Sprintf("step %s depends on non-existent step %s", step.ID, dep), nil,
				).WithCode(ErrCodeValidation).WithStep(step.ID)
			}
			// The dependency must complete before the step can start.
			if err := b.g.AddEdge(dep, step.ID); err != nil {
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, NewPermanentError(
						fmt.Sprintf("circular dependency detected: %s -> %s", dep, step.ID), err,
					).WithCode(ErrCodeValidation).WithStep(step.ID)
				}
				if errors.Is(err, graph.ErrEdgeAlreadyExists) {
					continue
				}
				return nil, NewPermanentError("failed to add dependency", err).WithStep(step.ID)
			}
		}
	}

	order, err := graph.StableTopologicalSort(b.g, b.less)
	if err != nil {
		return nil, NewPermanentError("failed to order steps", err).WithCode(ErrCodeValidation)
	}

	levels, depth, err := b.computeLevels(order)
	if err != nil {
		return nil, err
	}

	return &ExecutionGraph{Order: order, Levels: levels, Depth: depth}, nil
}

// less orders independent steps by position, then by ID.
func (b *DAGBuilder) less(a, c string) bool {
	sa, sc := b.steps[a], b.steps[c]
	if sa.Position != sc.Position {
		return sa.Position < sc.Position
	}
	return a < c
}

// computeLevels assigns each step the length of the longest dependency
// chain leading to it.
func (b *DAGBuilder) computeLevels(order []string) (map[string]int, int, error) {
	predecessors, err := b.g.PredecessorMap()
	if err != nil {
		return nil, 0, NewPermanentError("failed to read predecessors", err)
	}

	levels := make(map[string]int, len(order))
	depth := 0
	for _, id := range order {
		level := 0
		for pred := range predecessors[id] {
			if levels[pred]+1 > level {
				level = levels[pred] + 1
			}
		}
		levels[id] = level
		if level+1 > depth {
			depth = level + 1
		}
	}
	return levels, depth, nil
}

// WriteDOT renders the graph in Graphviz DOT format.
func (b *DAGBuilder) WriteDOT(w io.Writer) error {
	return draw.DOT(b.g, w, draw.GraphAttribute("rankdir", "LR"))
}

// OrderedSteps returns the plan's steps in execution order. The plan's
// graph is built when it has not been computed yet.
func OrderedSteps(plan *Plan) ([]*Step, error) {
	if plan.Graph == nil {
		g, err := NewDAGBuilder().BuildGraph(plan.Steps)
		if err != nil {
			return nil, err
		}
		plan.Graph = g
	}

	byID := make(map[string]*Step, len(plan.Steps))
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}

	ordered := make([]*Step, 0, len(plan.Graph.Order))
	for _, id := range plan.Graph.Order {
		step, ok := byID[id]
		if !ok {
			return nil, NewPermanentError(fmt.Sprintf("graph references unknown step %s", id), nil).
				WithCode(ErrCodeInternal)
		}
		ordered = append(ordered, step)
	}
	return ordered, nil
}
