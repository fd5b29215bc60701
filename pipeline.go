package stagehand

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/okarv/stagehand/pkg/api"
)

// DefaultPipeline is the six-stage product-delivery pipeline the
// orchestrator ships with: research, a critique approval gate, backend
// and frontend implementation, QA, and a closing statistics pass.
func DefaultPipeline(domain string) api.WorkflowDefinition {
	return NewPipeline(domain, "feature-build").
		Stage("research", "research-agent", 30*time.Minute).
		DecisionStage("critique", "critique-agent", 15*time.Minute).
		StageWithRetry("backend", "backend-agent", 45*time.Minute, 1).
		StageWithRetry("frontend", "frontend-agent", 45*time.Minute, 1).
		Stage("qa", "qa-agent", 30*time.Minute).
		FinalStage("statistics", "statistics-agent", 10*time.Minute).
		MustBuild()
}

// pipelineFile is the YAML shape of a pipeline definition:
//
//	domain: factory
//	name: feature-build
//	stages:
//	  - name: research
//	    agent: research-agent
//	    timeout: 30m
//	    max_retries: 1
//	    on_success: next
//	    on_failure: block
type pipelineFile struct {
	Domain string      `yaml:"domain"`
	Name   string      `yaml:"name"`
	Stages []stageFile `yaml:"stages"`
}

type stageFile struct {
	Name          string `yaml:"name"`
	Agent         string `yaml:"agent"`
	Stream        string `yaml:"stream"`
	Timeout       string `yaml:"timeout"`
	MaxRetries    int    `yaml:"max_retries"`
	OnSuccess     string `yaml:"on_success"`
	OnFailure     string `yaml:"on_failure"`
	OnConditional string `yaml:"on_conditional"`
}

// LoadPipeline reads a YAML pipeline definition. Omitted per-stage fields
// default to the plain-stage behavior: stream = stage name, on_success =
// next, on_failure = block. The result is validated before it is
// returned.
func LoadPipeline(r io.Reader) (api.WorkflowDefinition, error) {
	var file pipelineFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return api.WorkflowDefinition{}, fmt.Errorf("parse pipeline: %w", err)
	}

	def := api.WorkflowDefinition{
		Domain: file.Domain,
		Name:   file.Name,
	}
	for _, sf := range file.Stages {
		stage := api.StageDefinition{
			Name:          sf.Name,
			AgentID:       sf.Agent,
			Stream:        sf.Stream,
			MaxRetries:    sf.MaxRetries,
			OnSuccess:     api.SuccessPolicy(sf.OnSuccess),
			OnFailure:     api.FailurePolicy(sf.OnFailure),
			OnConditional: api.FailurePolicy(sf.OnConditional),
		}
		if stage.Stream == "" {
			stage.Stream = stage.Name
		}
		if stage.OnSuccess == "" {
			stage.OnSuccess = api.SuccessNext
		}
		if stage.OnFailure == "" {
			stage.OnFailure = api.FailureBlock
		}
		if sf.Timeout != "" {
			timeout, err := time.ParseDuration(sf.Timeout)
			if err != nil {
				return api.WorkflowDefinition{}, fmt.Errorf("stage %q: invalid timeout %q: %w", sf.Name, sf.Timeout, err)
			}
			stage.Timeout = timeout
		}
		def.Stages = append(def.Stages, stage)
	}

	if err := def.Validate(); err != nil {
		return api.WorkflowDefinition{}, err
	}
	return def, nil
}
