package parser

import (
	"fmt"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/standardbeagle/gofast-runner/internal/debug"
	"github.com/standardbeagle/gofast-runner/internal/rerrors"
)

// Parser selects between Tier A and Tier B per file and owns a pool of
// tree-sitter parser instances so concurrent discovery workers (spec §5:
// "each parser task runs to completion on its thread") never share one
// across goroutines — tree-sitter parsers are not safe for concurrent use.
type Parser struct {
	SizeThreshold int // spec §4.2 default 64 KiB
	pool          sync.Pool
}

// New builds a Parser with the spec-default Tier A size threshold.
func New() *Parser {
	p := &Parser{SizeThreshold: TierAFastPathSizeThreshold}
	p.pool.New = func() interface{} {
		ts, err := newPythonParser()
		if err != nil {
			return err
		}
		return ts
	}
	return p
}

// ParseFile parses one source file, choosing Tier A when the file is small
// and structurally simple, Tier B otherwise (spec §4.2 "Selection
// heuristic"). A Tier B parse failure is returned as an error for this
// file only; the caller (engine.Discover) turns it into a synthetic error
// TestItem rather than aborting the run (spec §4.2 "Failure modes").
func (p *Parser) ParseFile(path string, content []byte) (*FileResult, error) {
	if len(content) <= p.SizeThreshold {
		if result, ok := scanTierA(path, content); ok {
			return result, nil
		}
		debug.LogDiscovery("%s: tier A bailed, falling back to tier B", path)
	}

	v := p.pool.Get()
	ts, ok := v.(*tree_sitter.Parser)
	if !ok {
		return nil, rerrors.NewDiscoveryError("init-tier-b", path, fmt.Errorf("%v", v))
	}
	defer p.pool.Put(ts)

	result, err := parseTierB(ts, path, content)
	if err != nil {
		return nil, rerrors.NewDiscoveryError("parse-tier-b", path, err)
	}
	return result, nil
}
