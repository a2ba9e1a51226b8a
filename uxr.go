// Package uxr provides a minimal public API for embedding the uxrcoder hub
// in other Go programs.
//
// Most integrations should talk to a running hub over its HTTP API instead.
// This package exports only the core scene-graph types and the entry points
// needed to build a graph, inspect it, and mount the hub's HTTP surface
// programmatically.
package uxr

import (
	"github.com/UXPLIMA/uxrcoder-hub/internal/scenegraph"
	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// Core types for working with the scene graph and its mutations.
type (
	Instance = types.Instance
	Value    = types.Value
	Change   = types.Change
	Conflict = types.Conflict
	Scenario = types.Scenario
	TestRun  = types.TestRun
)

// Change kind constants.
const (
	ChangeCreate   = types.ChangeCreate
	ChangeUpdate   = types.ChangeUpdate
	ChangeDelete   = types.ChangeDelete
	ChangeReparent = types.ChangeReparent
)

// Conflict reason constants.
const (
	ReasonNotFound         = types.ReasonNotFound
	ReasonLocked           = types.ReasonLocked
	ReasonRevisionMismatch = types.ReasonRevisionMismatch
	ReasonValidationFailed = types.ReasonValidationFailed
)

// Run status constants.
const (
	RunQueued      = types.RunQueued
	RunDispatching = types.RunDispatching
	RunRunning     = types.RunRunning
	RunPassed      = types.RunPassed
	RunFailed      = types.RunFailed
	RunAborted     = types.RunAborted
	RunError       = types.RunError
)

// Graph is the canonical revision-tracked scene graph.
type Graph = scenegraph.Graph

// NewGraph returns an empty scene graph at revision zero. Extensions that
// drive the graph directly are responsible for their own change delivery;
// the hub's HTTP surface handles that for plugin and agent traffic.
func NewGraph() *Graph {
	return scenegraph.New()
}
