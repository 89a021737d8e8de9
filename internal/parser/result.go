// Package parser implements the engine's dual-tier Parser (spec §4.2): a
// byte-level fast-path scan (Tier A) over the file's bytes as already read
// into memory (the file is not memory-mapped), falling
// back to a full tree-sitter AST parse (Tier B) for files that exceed the
// fast path's size or complexity budget. Mirrors lci's internal/parser
// TreeSitterParser design (per-language parser/query pool, panic-recovery
// wrapper) narrowed to one grammar, tree-sitter-python.
package parser

import (
	"github.com/standardbeagle/gofast-runner/internal/types"
)

// FileResult is the vector of TestItems and Fixtures parsed from one file,
// plus any lifecycle hooks discovered at module or class scope and
// non-fatal issues encountered along the way.
type FileResult struct {
	File             string
	Items            []types.TestItem
	Fixtures         []types.Fixture
	Hooks            map[string]types.LifecycleHooks // key: "" for module scope, ClassName for class scope
	CollectionErrors []CollectionIssue
	Tier             Tier
}

// CollectionIssue is a per-file or per-test collection-time problem: parse
// failure, or an unrecognised decorator argument form (spec §4.2
// "Failure modes"). It does not abort the run.
type CollectionIssue struct {
	TestID string // empty for whole-file issues
	Reason string
	Err    error
}

// Tier identifies which parsing strategy produced a FileResult.
type Tier uint8

const (
	TierA Tier = iota
	TierB
)

func (t Tier) String() string {
	if t == TierA {
		return "A"
	}
	return "B"
}

// TierAFastPathSizeThreshold is the default size cutoff below which Tier A
// is attempted (spec §4.2: "default 64 KiB").
const TierAFastPathSizeThreshold = 64 * 1024

// TierAInlineArgBudget bounds how many bytes of decorator-argument source a
// Tier A scan will consume looking for a balanced, single-line paren group
// before concluding the construct is complex enough to require Tier B.
const TierAInlineArgBudget = 512
