// Package plugins generalizes feature collection to a weighted union of
// data sources with parallel, fault-isolated collection.
package plugins

import (
	"context"
	"time"
)

// Health reports whether a source is reachable and why not.
type Health struct {
	Up      bool   `json:"up"`
	Message string `json:"message,omitempty"`
}

// Plugin is the four-operation capability set every data source
// implements. Concrete sources are registered by name in the registry,
// not arranged in a hierarchy.
type Plugin interface {
	// Collect fetches the source's normalized features for [start, end).
	Collect(ctx context.Context, start, end time.Time) (*Frame, error)

	// Features declares the column names this plugin contributes.
	Features() []string

	// HealthCheck probes the underlying source.
	HealthCheck(ctx context.Context) Health

	// Weight is the plugin's share of the blended risk score, in [0,1].
	Weight() float64
}

// State tracks a plugin through one collection cycle.
type State string

const (
	StateRegistered State = "registered"
	StateCollecting State = "collecting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// RegistryState tracks the registry across one collection cycle.
type RegistryState string

const (
	RegistryIdle          RegistryState = "idle"
	RegistryCollectingAll RegistryState = "collecting_all"
	RegistryMerged        RegistryState = "merged"
)
