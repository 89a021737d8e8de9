// Package plugin implements the engine's plugin hook registry (spec
// §6.1): a fixed set of named hook points, dispatched as a straightforward
// fan-out over registered callbacks in registration order (spec §9 "Plugin
// hook dispatch is a straightforward fan-out over the registry; not
// specified further here"). Grounded on standardbeagle-lci's
// internal/mcp.Server tool registration (internal/mcp/server.go
// registerTools: an ordered, name-keyed registration list invoked by the
// server at dispatch time), generalized from MCP tool calls to lifecycle
// hook points.
package plugin

import "context"

// Point is one of the engine's fixed hook points (spec §6.1).
type Point string

const (
	PointCollectionStart      Point = "collection-start"
	PointCollectionModifyItems Point = "collection-modify-items"
	PointCollectionFinish     Point = "collection-finish"
	PointSessionStart         Point = "session-start"
	PointSessionFinish        Point = "session-finish"
	PointRunTestSetup         Point = "runtest-setup"
	PointRunTestCall          Point = "runtest-call"
	PointRunTestTeardown      Point = "runtest-teardown"
	PointRunTestLogReport     Point = "runtest-logreport"
)

// allPoints is used to validate registrations against the fixed set spec
// §6.1 defines; an unknown point is a caller error, not a silent no-op.
var allPoints = map[Point]bool{
	PointCollectionStart:       true,
	PointCollectionModifyItems: true,
	PointCollectionFinish:      true,
	PointSessionStart:          true,
	PointSessionFinish:         true,
	PointRunTestSetup:          true,
	PointRunTestCall:           true,
	PointRunTestTeardown:       true,
	PointRunTestLogReport:      true,
}

// Hook is a registered callback. Payload and return value are both
// advisory in the core spec (§6.1): the core never blocks on or branches
// behavior off a hook's return value. An implementer may extend the
// registry so PointCollectionModifyItems hooks mutate the filtered vector
// in place — that extension point is exposed here as Event.Items, a pure
// transformation of the filtered slice, but nothing in this package forces
// a caller to use it.
type Hook func(ctx context.Context, event Event) error

// Event is the payload handed to a hook at dispatch time. Fields unrelated
// to a given Point are left zero.
type Event struct {
	Point Point
	Items []interface{} // e.g. []types.TestItem for collection-modify-items
	Data  map[string]interface{}
}

// Registry holds hooks in registration order, per Point.
type Registry struct {
	hooks map[Point][]Hook
	order []Point // first-registered point ordering, for deterministic iteration of All()
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[Point][]Hook)}
}

// Register attaches fn to point, appended after any hooks already
// registered there (spec §6.1 "invoked in registration order"). Returns an
// error if point is not one of the fixed hook points.
func (r *Registry) Register(point Point, fn Hook) error {
	if !allPoints[point] {
		return &UnknownPointError{Point: point}
	}
	if _, seen := r.hooks[point]; !seen {
		r.order = append(r.order, point)
	}
	r.hooks[point] = append(r.hooks[point], fn)
	return nil
}

// Dispatch invokes every hook registered at point, in registration order,
// stopping at the first error (a plugin hook raising is the plugin's
// failure to surface, not something the core papers over).
func (r *Registry) Dispatch(ctx context.Context, event Event) error {
	for _, fn := range r.hooks[event.Point] {
		if err := fn(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Count returns how many hooks are registered at point, for diagnostics.
func (r *Registry) Count(point Point) int {
	return len(r.hooks[point])
}

// UnknownPointError reports a Register call against a Point outside the
// fixed set spec §6.1 defines.
type UnknownPointError struct {
	Point Point
}

func (e *UnknownPointError) Error() string {
	return "plugin: unknown hook point " + string(e.Point)
}
