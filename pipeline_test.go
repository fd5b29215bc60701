package stagehand

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okarv/stagehand/pkg/api"
)

func TestDefaultPipeline(t *testing.T) {
	def := DefaultPipeline("factory")
	require.NoError(t, def.Validate())

	var names []string
	for _, st := range def.Stages {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"research", "critique", "backend", "frontend", "qa", "statistics"}, names)

	assert.Equal(t, api.SuccessDecision, def.Stages[1].OnSuccess)
	assert.Equal(t, 1, def.Stages[2].MaxRetries)
	assert.Equal(t, api.SuccessComplete, def.Stages[5].OnSuccess)
}

const pipelineYAML = `
domain: factory
name: feature-build
stages:
  - name: research
    agent: research-agent
    timeout: 30m
  - name: critique
    agent: critique-agent
    timeout: 15m
    on_success: decision
    on_conditional: notify
  - name: backend
    agent: backend-agent
    stream: implementation
    timeout: 45m
    max_retries: 2
    on_failure: retry
  - name: statistics
    agent: statistics-agent
    timeout: 10m
    on_success: complete
`

func TestLoadPipeline(t *testing.T) {
	def, err := LoadPipeline(strings.NewReader(pipelineYAML))
	require.NoError(t, err)

	assert.Equal(t, "factory", def.Domain)
	assert.Equal(t, "feature-build", def.Name)
	require.Len(t, def.Stages, 4)

	// Omitted fields fall back to plain-stage behavior.
	research := def.Stages[0]
	assert.Equal(t, "research", research.Stream)
	assert.Equal(t, 30*time.Minute, research.Timeout)
	assert.Equal(t, api.SuccessNext, research.OnSuccess)
	assert.Equal(t, api.FailureBlock, research.OnFailure)

	critique := def.Stages[1]
	assert.Equal(t, api.SuccessDecision, critique.OnSuccess)
	assert.Equal(t, api.FailureNotify, critique.OnConditional)

	backend := def.Stages[2]
	assert.Equal(t, "implementation", backend.Stream)
	assert.Equal(t, 2, backend.MaxRetries)
	assert.Equal(t, api.FailureRetry, backend.OnFailure)
}

func TestLoadPipelineRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown field": `
domain: factory
name: p
stages:
  - name: research
    agent: a
    timeout: 5m
    retries: 3
`,
		"bad duration": `
domain: factory
name: p
stages:
  - name: research
    agent: a
    timeout: thirty minutes
`,
		"missing timeout": `
domain: factory
name: p
stages:
  - name: research
    agent: a
`,
		"missing agent": `
domain: factory
name: p
stages:
  - name: research
    timeout: 5m
`,
		"not yaml": `{{{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPipeline(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
