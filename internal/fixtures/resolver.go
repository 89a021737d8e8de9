// Package fixtures implements the Fixture Resolver (spec §4.5): per-test
// fixture lookup across the same-file / shared-fixtures-file-upward /
// built-in resolution order, dependency-graph construction with cycle
// detection, and a topological execution order. Grounded on
// standardbeagle-lci's internal/semantic fuzzy-matching helpers for
// "did you mean" suggestions on unresolved names (go-edlib), and on the
// layered, directory-depth symbol table shape used throughout that
// package for scoped lookups.
package fixtures

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/gofast-runner/internal/rerrors"
	"github.com/standardbeagle/gofast-runner/internal/types"
)

// sharedFixturesFilename is the host ecosystem's per-directory shared
// fixtures file, e.g. pytest's conftest.py (spec §4.5 "the ecosystem's
// convention for per-directory shared fixtures").
const sharedFixturesFilename = "conftest.py"

// builtinFixtures are provided by the engine itself (spec §4.5 "Built-in
// fixtures"): temporary path, output capture handle, attribute-patch
// utility, request-introspection handle.
var builtinFixtures = map[string]types.Fixture{
	"tmp_path":  {Name: "tmp_path", Scope: types.ScopeCall},
	"capsys":    {Name: "capsys", Scope: types.ScopeCall},
	"monkeypatch": {Name: "monkeypatch", Scope: types.ScopeCall},
	"request":   {Name: "request", Scope: types.ScopeCall},
}

// Layer is one directory's shared-fixtures-file contribution, keyed by
// directory depth (spec §9 "layered symbol table keyed by directory
// depth").
type Layer struct {
	Dir      string
	Fixtures map[string]types.Fixture
}

// Resolver holds the full set of fixtures discovered across a run,
// partitioned by defining file, plus the shared-fixtures layers indexed
// by directory.
type Resolver struct {
	root string

	byFile   map[string]map[string]types.Fixture // file -> name -> Fixture
	byDir    map[string]map[string]types.Fixture  // dir containing a conftest-equivalent -> name -> Fixture
	allNames []string                              // for suggestion ranking
}

// New builds a Resolver from every file's parsed fixtures. scanRoot
// bounds the upward conftest-equivalent walk (spec §4.5 "walking upwards
// ... to the scan root").
func New(scanRoot string, fixturesByFile map[string][]types.Fixture) *Resolver {
	r := &Resolver{
		root:   scanRoot,
		byFile: make(map[string]map[string]types.Fixture),
		byDir:  make(map[string]map[string]types.Fixture),
	}
	seen := map[string]struct{}{}
	for file, fxs := range fixturesByFile {
		m := make(map[string]types.Fixture, len(fxs))
		for _, f := range fxs {
			m[f.Name] = f
			if _, ok := seen[f.Name]; !ok {
				seen[f.Name] = struct{}{}
				r.allNames = append(r.allNames, f.Name)
			}
		}
		r.byFile[file] = m
		if strings.HasSuffix(filepath.Base(file), sharedFixturesFilename) {
			r.byDir[filepath.Dir(file)] = m
		}
	}
	sort.Strings(r.allNames)
	return r
}

// Lookup resolves name for a test defined in testFile, applying the
// resolution order from spec §4.5: same file, then nearest
// shared-fixtures file walking upward to the scan root, then built-ins.
func (r *Resolver) Lookup(testFile, name string) (types.Fixture, bool) {
	if m, ok := r.byFile[testFile]; ok {
		if f, ok := m[name]; ok {
			return f, true
		}
	}
	dir := filepath.Dir(testFile)
	for {
		if m, ok := r.byDir[dir]; ok {
			if f, ok := m[name]; ok {
				return f, true
			}
		}
		if dir == r.root || dir == "." || dir == string(filepath.Separator) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if f, ok := builtinFixtures[name]; ok {
		return f, true
	}
	return types.Fixture{}, false
}

// AutouseAt returns every autouse fixture visible from testFile (same
// file plus every shared-fixtures layer from the file's directory up to
// the scan root), per spec §4.5 "Autouse fixtures at a given scope are
// activated implicitly".
func (r *Resolver) AutouseAt(testFile string) []types.Fixture {
	var out []types.Fixture
	if m, ok := r.byFile[testFile]; ok {
		for _, f := range m {
			if f.Autouse {
				out = append(out, f)
			}
		}
	}
	dir := filepath.Dir(testFile)
	for {
		if m, ok := r.byDir[dir]; ok {
			for _, f := range m {
				if f.Autouse {
					out = append(out, f)
				}
			}
		}
		if dir == r.root || dir == "." || dir == string(filepath.Separator) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// suggest returns the closest known fixture name to name by Jaro-Winkler
// similarity (spec's supplemented "did you mean" feature), empty if
// nothing is close enough to be useful.
func (r *Resolver) suggest(name string) string {
	best := ""
	bestScore := 0.60 // below this, a suggestion is more confusing than helpful
	for _, candidate := range r.allNames {
		score, err := edlib.StringsSimilarity(name, candidate, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if float64(score) > bestScore {
			bestScore = float64(score)
			best = candidate
		}
	}
	return best
}

// Plan is the resolved, ordered set of fixtures a single TestItem must
// have active at call time (spec §4.5/§8 "transitive dependency closure
// ... plus all autouse fixtures").
type Plan struct {
	Order []types.Fixture // topological order, outermost (broadest scope) first
}

// Resolve builds the execution Plan for one TestItem: the transitive
// fixture-dependency closure plus enclosing autouse fixtures, cycle
// checked and topologically ordered (spec §4.5).
func (r *Resolver) Resolve(item types.TestItem) (*Plan, error) {
	needed := make(map[string]types.Fixture)
	order := []string{} // declaration order for tie-breaking, first-seen

	var addNeeded func(name string) error
	visiting := map[string]bool{}
	var visit func(name string, path []string) error

	addNeeded = func(name string) error {
		if _, ok := needed[name]; ok {
			return nil
		}
		f, ok := r.Lookup(item.File, name)
		if !ok {
			suggestion := r.suggest(name)
			ce := rerrors.NewCollectionError(item.ID, item.File, fmt.Sprintf("unresolved fixture %q", name), nil)
			if suggestion != "" {
				ce = ce.WithSuggestion(suggestion)
			}
			return ce
		}
		needed[name] = f
		order = append(order, name)
		return visit(name, nil)
	}

	visit = func(name string, path []string) error {
		if visiting[name] {
			return rerrors.NewCollectionError(item.ID, item.File, fmt.Sprintf("cyclic fixture dependency: %s -> %s", strings.Join(path, " -> "), name), nil)
		}
		visiting[name] = true
		defer delete(visiting, name)

		f := needed[name]
		for _, dep := range f.Deps {
			if _, ok := needed[dep]; !ok {
				depFixture, ok := r.Lookup(item.File, dep)
				if !ok {
					suggestion := r.suggest(dep)
					ce := rerrors.NewCollectionError(item.ID, item.File, fmt.Sprintf("unresolved fixture %q (dependency of %q)", dep, name), nil)
					if suggestion != "" {
						ce = ce.WithSuggestion(suggestion)
					}
					return ce
				}
				needed[dep] = depFixture
				order = append(order, dep)
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		return nil
	}

	for _, dep := range item.FixtureDeps {
		if err := addNeeded(dep); err != nil {
			return nil, err
		}
	}
	for _, auto := range r.AutouseAt(item.File) {
		if _, ok := needed[auto.Name]; !ok {
			needed[auto.Name] = auto
			order = append(order, auto.Name)
		}
		if err := visit(auto.Name, nil); err != nil {
			return nil, err
		}
	}

	sorted, err := topoSort(needed, order)
	if err != nil {
		return nil, rerrors.NewCollectionError(item.ID, item.File, err.Error(), err)
	}
	return &Plan{Order: sorted}, nil
}

// topoSort orders fixtures so each appears after its dependencies, ties
// broken by (scope coarseness descending, declaration order ascending)
// per spec §4.5 "to favour broader fixtures being warmed earlier".
func topoSort(needed map[string]types.Fixture, declOrder []string) ([]types.Fixture, error) {
	declIndex := make(map[string]int, len(declOrder))
	for i, name := range declOrder {
		declIndex[name] = i
	}

	visited := map[string]int{} // 0=unvisited, 1=in-progress, 2=done
	var out []types.Fixture

	names := make([]string, 0, len(needed))
	for n := range needed {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		fi, fj := needed[names[i]], needed[names[j]]
		if fi.Scope != fj.Scope {
			return fi.Scope.Coarseness() > fj.Scope.Coarseness()
		}
		return declIndex[names[i]] < declIndex[names[j]]
	})

	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("cyclic fixture dependency involving %q", name)
		}
		visited[name] = 1
		f := needed[name]
		deps := append([]string(nil), f.Deps...)
		sort.Slice(deps, func(i, j int) bool {
			fi, fj := needed[deps[i]], needed[deps[j]]
			if fi.Scope != fj.Scope {
				return fi.Scope.Coarseness() > fj.Scope.Coarseness()
			}
			return declIndex[deps[i]] < declIndex[deps[j]]
		})
		for _, dep := range deps {
			if _, ok := needed[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[name] = 2
		out = append(out, f)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}
