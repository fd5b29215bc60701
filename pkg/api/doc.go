// Package api defines the public types of the stagehand orchestrator:
// workflow and stage definitions, instance state, deliverables, lifecycle
// events, and the Observer and Orchestrator contracts.
//
// Most applications import the root stagehand package, which re-exports
// everything here.
package api
