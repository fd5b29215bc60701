package stagehand

import (
	"fmt"
	"time"

	"github.com/okarv/stagehand/pkg/api"
)

// PipelineBuilder provides a fluent API for defining pipelines:
//
//	def, err := stagehand.NewPipeline("factory", "feature-build").
//	    Stage("research", "research-agent", 30*time.Minute).
//	    DecisionStage("critique", "critique-agent", 15*time.Minute).
//	    StageWithRetry("backend", "backend-agent", 45*time.Minute, 1).
//	    Build()
//
// Stage names must be unique within a pipeline; they double as the stage
// kind in announcement subjects.
type PipelineBuilder struct {
	def api.WorkflowDefinition
}

// NewPipeline creates a new pipeline builder for the given subject domain
// and workflow name.
func NewPipeline(domain, name string) *PipelineBuilder {
	return &PipelineBuilder{
		def: api.WorkflowDefinition{
			Domain: domain,
			Name:   name,
			Stages: make([]api.StageDefinition, 0),
		},
	}
}

// Name returns the workflow name.
func (b *PipelineBuilder) Name() string {
	return b.def.Name
}

// Stage appends a plain stage: advance on COMPLETE, block on failure,
// no retries. The stage name is also used as the deliverable stream.
func (b *PipelineBuilder) Stage(name, agentID string, timeout time.Duration) *PipelineBuilder {
	return b.Add(api.StageDefinition{
		Name:      name,
		AgentID:   agentID,
		Stream:    name,
		Timeout:   timeout,
		OnSuccess: api.SuccessNext,
		OnFailure: api.FailureBlock,
	})
}

// StageWithRetry appends a stage that re-dispatches up to maxRetries
// extra times before its failure policy applies.
func (b *PipelineBuilder) StageWithRetry(name, agentID string, timeout time.Duration, maxRetries int) *PipelineBuilder {
	return b.Add(api.StageDefinition{
		Name:       name,
		AgentID:    agentID,
		Stream:     name,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		OnSuccess:  api.SuccessNext,
		OnFailure:  api.FailureBlock,
	})
}

// DecisionStage appends an approval gate: the deliverable's verdict
// decides between advancing and blocking.
func (b *PipelineBuilder) DecisionStage(name, agentID string, timeout time.Duration) *PipelineBuilder {
	return b.Add(api.StageDefinition{
		Name:      name,
		AgentID:   agentID,
		Stream:    name,
		Timeout:   timeout,
		OnSuccess: api.SuccessDecision,
		OnFailure: api.FailureBlock,
	})
}

// FinalStage appends a stage that completes the workflow on success
// regardless of position.
func (b *PipelineBuilder) FinalStage(name, agentID string, timeout time.Duration) *PipelineBuilder {
	return b.Add(api.StageDefinition{
		Name:      name,
		AgentID:   agentID,
		Stream:    name,
		Timeout:   timeout,
		OnSuccess: api.SuccessComplete,
		OnFailure: api.FailureBlock,
	})
}

// Add appends a fully specified stage definition.
func (b *PipelineBuilder) Add(def api.StageDefinition) *PipelineBuilder {
	if def.Name == "" {
		panic("stagehand: stage name must not be empty")
	}
	for _, existing := range b.def.Stages {
		if existing.Name == def.Name {
			panic(fmt.Sprintf("stagehand: duplicate stage name %q", def.Name))
		}
	}
	b.def.Stages = append(b.def.Stages, def)
	return b
}

// Build validates and returns the definition.
func (b *PipelineBuilder) Build() (api.WorkflowDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return api.WorkflowDefinition{}, err
	}
	return b.def, nil
}

// MustBuild is Build that panics on an invalid definition. Intended for
// static pipelines wired at program start.
func (b *PipelineBuilder) MustBuild() api.WorkflowDefinition {
	def, err := b.Build()
	if err != nil {
		panic("stagehand: " + err.Error())
	}
	return def
}
