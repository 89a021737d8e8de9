package scheduler

import (
	"context"
	"fmt"

	"github.com/standardbeagle/gofast-runner/internal/bridge"
	"github.com/standardbeagle/gofast-runner/internal/rerrors"
	"github.com/standardbeagle/gofast-runner/internal/types"
)

// scopeInstance identifies a fixture's scope-instance (spec §4.5
// "Scope-instance identity"): call -> TestItem, class -> parent class,
// module -> defining file, session -> the run.
type scopeInstance struct {
	scope types.Scope
	key   string
}

func scopeInstanceFor(scope types.Scope, item types.TestItem) scopeInstance {
	switch scope {
	case types.ScopeCall:
		return scopeInstance{scope, item.ID}
	case types.ScopeClass:
		return scopeInstance{scope, item.ClassKey()}
	case types.ScopeModule:
		return scopeInstance{scope, item.ModuleKey()}
	default:
		return scopeInstance{types.ScopeSession, "session"}
	}
}

type fixtureEntry struct {
	token       string
	yieldActive bool
}

// FixtureCache is per-worker (spec §5 "there is no cross-process fixture
// sharing"), mutated only from the scheduling goroutine that owns it —
// no internal locking is needed as a result.
type FixtureCache struct {
	values map[scopeInstance]map[string]fixtureEntry
	order  map[scopeInstance][]string // entry order, for reverse-order teardown
}

func NewFixtureCache() *FixtureCache {
	return &FixtureCache{
		values: make(map[scopeInstance]map[string]fixtureEntry),
		order:  make(map[scopeInstance][]string),
	}
}

func (c *FixtureCache) get(inst scopeInstance, name string) (fixtureEntry, bool) {
	m, ok := c.values[inst]
	if !ok {
		return fixtureEntry{}, false
	}
	e, ok := m[name]
	return e, ok
}

func (c *FixtureCache) set(inst scopeInstance, name string, e fixtureEntry) {
	if c.values[inst] == nil {
		c.values[inst] = make(map[string]fixtureEntry)
	}
	c.values[inst][name] = e
	c.order[inst] = append(c.order[inst], name)
}

// Resolve ensures every fixture in plan is active for item's scope
// instances, invoking the bridge on a cache miss (spec §4.6 step 2). It
// returns the (name -> token) bindings for item's own direct fixture
// dependencies, the set bound into the test invocation itself.
func (c *FixtureCache) Resolve(ctx context.Context, item types.TestItem, plan []types.Fixture, br bridge.Bridge) (map[string]string, error) {
	byName := make(map[string]types.Fixture, len(plan))
	for _, f := range plan {
		byName[f.Name] = f
	}
	tokens := make(map[string]string, len(plan))

	for _, f := range plan {
		inst := scopeInstanceFor(f.Scope, item)
		if e, ok := c.get(inst, f.Name); ok {
			tokens[f.Name] = e.token
			continue
		}

		var argNames, argTokens []string
		for _, dep := range f.Deps {
			depFixture, ok := byName[dep]
			if !ok {
				continue // resolved in an earlier test's plan for this scope instance
			}
			depInst := scopeInstanceFor(depFixture.Scope, item)
			depEntry, ok := c.get(depInst, dep)
			if !ok {
				return nil, rerrors.NewSetupError(item.ID, f.Name, fmt.Errorf("dependency %q not active at invocation time", dep))
			}
			argNames = append(argNames, dep)
			argTokens = append(argTokens, depEntry.token)
		}

		result, err := br.InvokeFixture(ctx, bridge.FixtureInvocation{
			Name: f.Name, File: f.File, ArgNames: argNames, ArgTokens: argTokens, ParamValue: firstOrEmpty(f.ParamValues),
		})
		if err != nil {
			return nil, rerrors.NewSetupError(item.ID, f.Name, err)
		}
		if result.Err != nil {
			return nil, rerrors.NewSetupError(item.ID, f.Name, fmt.Errorf("%s: %s", result.Err.ExceptionType, result.Err.Message))
		}
		entry := fixtureEntry{token: result.Token, yieldActive: f.YieldStyle}
		c.set(inst, f.Name, entry)
		tokens[f.Name] = entry.token
	}

	out := make(map[string]string, len(item.FixtureDeps))
	for _, name := range item.FixtureDeps {
		out[name] = tokens[name]
	}
	return out, nil
}

// TeardownScope tears down every yield-style fixture entered in inst, in
// reverse entry order (spec §4.6 "Invoke teardown hooks ... unconditionally").
func (c *FixtureCache) TeardownScope(ctx context.Context, scope types.Scope, key string, br bridge.Bridge) []error {
	inst := scopeInstance{scope, key}
	names := c.order[inst]
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		entry := c.values[inst][name]
		if !entry.yieldActive {
			continue
		}
		if _, err := br.InvokeFixture(ctx, bridge.FixtureInvocation{Name: name, Teardown: true, Token: entry.token}); err != nil {
			errs = append(errs, rerrors.NewTeardownError("", name, err))
		}
	}
	delete(c.values, inst)
	delete(c.order, inst)
	return errs
}

func firstOrEmpty(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
