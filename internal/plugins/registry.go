package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// WeightTolerance is the allowed deviation of the enabled-plugin weight
// sum from 1.0.
const WeightTolerance = 0.01

// DefaultMaxWorkers bounds the collection pool when no limit is
// configured.
const DefaultMaxWorkers = 5

// PluginError wraps a single plugin's collection failure. It is recorded
// in the cycle result and logged, never propagated registry-wide unless
// fail-fast is enabled.
type PluginError struct {
	Plugin string
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s: %v", e.Plugin, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// Registration holds a plugin's runtime settings. Weight and Enabled are
// read at merge time; external configuration updates are assumed to be
// serialized by the caller.
type Registration struct {
	Plugin  Plugin
	Enabled bool
	Weight  float64
	Timeout time.Duration
}

// Registry dispatches collection cycles across registered data sources.
type Registry struct {
	mu         sync.RWMutex
	plugins    map[string]*Registration
	order      []string
	maxWorkers int
	failFast   bool
	state      RegistryState
	logger     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxWorkers bounds the collection worker pool.
func WithMaxWorkers(n int) Option {
	return func(r *Registry) { r.maxWorkers = n }
}

// WithFailFast makes the first plugin failure abort the cycle. Opt-in
// override; the default isolates failures per plugin.
func WithFailFast() Option {
	return func(r *Registry) { r.failFast = true }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		plugins:    make(map[string]*Registration),
		maxWorkers: DefaultMaxWorkers,
		state:      RegistryIdle,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a plugin under a unique name. Fails if the name already
// exists.
func (r *Registry) Register(name string, reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	if reg.Plugin == nil {
		return fmt.Errorf("plugin %q is nil", name)
	}
	r.plugins[name] = &reg
	r.order = append(r.order, name)
	sort.Strings(r.order)
	return nil
}

// SetWeight updates a plugin's weight at runtime.
func (r *Registry) SetWeight(name string, weight float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.plugins[name]
	if !ok {
		return fmt.Errorf("plugin %q not registered", name)
	}
	reg.Weight = weight
	return nil
}

// SetEnabled flips a plugin's enable flag at runtime.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.plugins[name]
	if !ok {
		return fmt.Errorf("plugin %q not registered", name)
	}
	reg.Enabled = enabled
	return nil
}

// State returns the registry's cycle state.
func (r *Registry) State() RegistryState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// PluginStatus is the per-plugin outcome of one collection cycle.
type PluginStatus struct {
	Name    string  `json:"name"`
	State   State   `json:"state"`
	Weight  float64 `json:"weight"`
	Enabled bool    `json:"enabled"`
	Error   string  `json:"error,omitempty"`
}

// CollectionResult is the settled outcome of one CollectAll cycle.
type CollectionResult struct {
	Merged   *MergedFrame
	Statuses []PluginStatus
	Failures []*PluginError

	order    []string
	declared map[string][]string
	weights  map[string]float64
	frames   map[string]*Frame
}

// CollectAll dispatches one collection task per enabled plugin onto a
// bounded pool and blocks until every task settles. A failing or
// timed-out plugin is logged and contributes nothing; it never blocks or
// corrupts the other plugins' results. There is no early cancellation of
// still-running plugins on failure — partial success is the point.
func (r *Registry) CollectAll(ctx context.Context, start, end time.Time) (*CollectionResult, error) {
	r.mu.Lock()
	r.state = RegistryCollectingAll
	type task struct {
		name string
		reg  Registration
	}
	var tasks []task
	for _, name := range r.order {
		reg := r.plugins[name]
		if reg.Enabled {
			tasks = append(tasks, task{name: name, reg: *reg})
		}
	}
	failFast := r.failFast
	limit := r.maxWorkers
	r.mu.Unlock()

	if limit <= 0 || limit > DefaultMaxWorkers {
		limit = DefaultMaxWorkers
	}
	if len(tasks) < limit {
		limit = len(tasks)
	}

	result := &CollectionResult{
		frames:  make(map[string]*Frame),
		weights: make(map[string]float64),
	}
	var resultMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	result.declared = make(map[string][]string, len(tasks))
	for _, t := range tasks {
		t := t
		result.order = append(result.order, t.name)
		result.declared[t.name] = t.reg.Plugin.Features()
		g.Go(func() error {
			frame, err := r.collectOne(gctx, t.reg, start, end)

			resultMu.Lock()
			defer resultMu.Unlock()
			status := PluginStatus{
				Name:    t.name,
				Weight:  t.reg.Weight,
				Enabled: true,
				State:   StateSucceeded,
			}
			if err != nil {
				perr := &PluginError{Plugin: t.name, Err: err}
				status.State = StateFailed
				status.Error = err.Error()
				result.Failures = append(result.Failures, perr)
				r.logger.Warn("plugin collection failed", "plugin", t.name, "error", err)
				if failFast {
					result.Statuses = append(result.Statuses, status)
					return perr
				}
			} else {
				result.frames[t.name] = frame
				result.weights[t.name] = t.reg.Weight
			}
			result.Statuses = append(result.Statuses, status)
			return nil
		})
	}

	err := g.Wait()

	sort.Slice(result.Statuses, func(i, j int) bool {
		return result.Statuses[i].Name < result.Statuses[j].Name
	})
	result.Merged = mergeFrames(result.order, result.declared, result.frames)

	r.mu.Lock()
	r.state = RegistryMerged
	r.mu.Unlock()

	if err != nil {
		return result, err
	}
	return result, nil
}

// collectOne runs a single plugin's collection under its configured
// timeout. A timeout is treated identically to a raised error, and is
// enforced even against a plugin that ignores its context.
func (r *Registry) collectOne(ctx context.Context, reg Registration, start, end time.Time) (*Frame, error) {
	if reg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reg.Timeout)
		defer cancel()
	}

	type outcome struct {
		frame *Frame
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		frame, err := reg.Plugin.Collect(ctx, start, end)
		done <- outcome{frame: frame, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("collect timed out: %w", ctx.Err())
	case out := <-done:
		return out.frame, out.err
	}
}

// WeightValidation is the advisory result of ValidateWeights. It never
// throws; callers decide whether to proceed on stale weights.
type WeightValidation struct {
	Valid   bool    `json:"valid"`
	Sum     float64 `json:"sum"`
	Enabled int     `json:"enabled"`
	Message string  `json:"message,omitempty"`
}

// ValidateWeights checks that the weights of currently enabled plugins
// sum to 1.0 within WeightTolerance.
func (r *Registry) ValidateWeights() WeightValidation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v := WeightValidation{}
	for _, reg := range r.plugins {
		if !reg.Enabled {
			continue
		}
		v.Enabled++
		v.Sum += reg.Weight
	}
	if v.Enabled == 0 {
		v.Message = "no plugins enabled"
		return v
	}
	if math.Abs(v.Sum-1.0) <= WeightTolerance {
		v.Valid = true
	} else {
		v.Message = fmt.Sprintf("enabled plugin weights sum to %.4f, expected 1.0 ±%.2f", v.Sum, WeightTolerance)
	}
	return v
}

// Statuses reports every registered plugin with a live health probe.
func (r *Registry) Statuses(ctx context.Context) []PluginStatus {
	r.mu.RLock()
	type probe struct {
		name string
		reg  Registration
	}
	var probes []probe
	for _, name := range r.order {
		probes = append(probes, probe{name: name, reg: *r.plugins[name]})
	}
	r.mu.RUnlock()

	out := make([]PluginStatus, 0, len(probes))
	for _, p := range probes {
		status := PluginStatus{
			Name:    p.name,
			State:   StateRegistered,
			Weight:  p.reg.Weight,
			Enabled: p.reg.Enabled,
		}
		if h := p.reg.Plugin.HealthCheck(ctx); !h.Up {
			status.Error = h.Message
		}
		out = append(out, status)
	}
	return out
}

// CombinedRisk sums each timestamp's per-plugin risk sub-scores by
// configured weight, keyed by Unix seconds so lookups are
// location-independent. A plugin's sub-score for a row is the mean of
// its non-nil normalized features; rows where a plugin contributed
// nothing simply omit that plugin's term.
func (res *CollectionResult) CombinedRisk() map[int64]float64 {
	out := make(map[int64]float64)
	if res.Merged == nil {
		return out
	}
	for _, row := range res.Merged.Rows {
		var total float64
		col := 0
		for _, name := range res.order {
			columns := res.declared[name]
			if frame, ok := res.frames[name]; ok {
				columns = frame.Columns
			}
			var sum float64
			var n int
			for range columns {
				if v := row.Values[col]; v != nil {
					sum += *v
					n++
				}
				col++
			}
			if n > 0 {
				total += res.weights[name] * (sum / float64(n))
			}
		}
		out[row.Timestamp.Unix()] = total
	}
	return out
}
