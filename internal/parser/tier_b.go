package parser

import (
	"fmt"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/standardbeagle/gofast-runner/internal/debug"
	"github.com/standardbeagle/gofast-runner/internal/types"
)

// pythonOnce/pythonLanguage lazily build the one tree-sitter-python
// Language the whole process shares (each Parser is separate, see
// newPythonParser), mirroring lci's TreeSitterParser per-language pool
// narrowed to a single grammar.
var (
	pythonOnce     sync.Once
	pythonLanguage *tree_sitter.Language
)

func languagePython() *tree_sitter.Language {
	pythonOnce.Do(func() {
		pythonLanguage = tree_sitter.NewLanguage(tree_sitter_python.Language())
	})
	return pythonLanguage
}

// newPythonParser returns a fresh *tree_sitter.Parser bound to the Python
// grammar. Parsers are not safe for concurrent use, so callers (the
// sync.Pool inside parser.Parser) must own one each.
func newPythonParser() (*tree_sitter.Parser, error) {
	p := tree_sitter.NewParser()
	if err := p.SetLanguage(languagePython()); err != nil {
		return nil, fmt.Errorf("tier B: failed to set python language: %w", err)
	}
	return p, nil
}

// parseTierB runs the full AST parse (spec §4.2 Tier B), recovering from
// any panic in the cgo-backed tree-sitter bindings the way lci's parser
// wraps its own Parse calls.
func parseTierB(ts *tree_sitter.Parser, path string, content []byte) (result *FileResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tier B: panic parsing %s: %v", path, r)
		}
	}()

	tree := ts.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("tier B: parse returned nil tree for %s", path)
	}
	defer tree.Close()

	root := tree.RootNode()
	v := &tierBVisitor{path: path, content: content, result: &FileResult{
		File:  path,
		Hooks: make(map[string]types.LifecycleHooks),
		Tier:  TierB,
	}}
	v.visitModule(root)
	debug.LogDiscovery("tier B parsed %s: %d items, %d fixtures", path, len(v.result.Items), len(v.result.Fixtures))
	return v.result, nil
}

type tierBVisitor struct {
	path    string
	content []byte
	result  *FileResult
}

func (v *tierBVisitor) text(n *tree_sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(v.content[n.StartByte():n.EndByte()])
}

func (v *tierBVisitor) line(n *tree_sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

func (v *tierBVisitor) visitModule(root *tree_sitter.Node) {
	for i := uint(0); i < root.ChildCount(); i++ {
		child := root.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "decorated_definition":
			v.visitDecoratedTopLevel(child)
		case "function_definition":
			v.visitTopLevelFunction(child, nil)
		case "class_definition":
			v.visitClass(child)
		}
	}
}

func (v *tierBVisitor) visitDecoratedTopLevel(n *tree_sitter.Node) {
	decs := v.collectDecorators(n)
	def := n.ChildByFieldName("definition")
	if def == nil {
		return
	}
	switch def.Kind() {
	case "function_definition":
		v.visitTopLevelFunction(def, decs)
	case "class_definition":
		v.visitClass(def)
	}
}

func (v *tierBVisitor) visitTopLevelFunction(fn *tree_sitter.Node, decs []rawDecorator) {
	nameNode := fn.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := v.text(nameNode)

	if isLifecycleHook(name) {
		h := v.result.Hooks[""]
		assignHook(&h, name)
		v.result.Hooks[""] = h
		return
	}

	if hasFixtureDecorator(decs) {
		v.result.Fixtures = append(v.result.Fixtures, v.buildFixture(fn, nameNode, decs, false))
		return
	}

	if !hasPrefix(name, "test") {
		return
	}
	v.emitTestItem(fn, nameNode, "", decs, false)
}

func (v *tierBVisitor) visitClass(cls *tree_sitter.Node) {
	nameNode := cls.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	className := v.text(nameNode)
	if !hasPrefix(className, "Test") {
		return
	}

	body := cls.ChildByFieldName("body")
	if body == nil {
		return
	}
	classHooks := types.LifecycleHooks{}
	for i := uint(0); i < body.ChildCount(); i++ {
		member := body.Child(i)
		if member == nil {
			continue
		}
		switch member.Kind() {
		case "decorated_definition":
			decs := v.collectDecorators(member)
			def := member.ChildByFieldName("definition")
			if def != nil && def.Kind() == "function_definition" {
				v.visitClassMethod(def, className, decs, &classHooks)
			}
		case "function_definition":
			v.visitClassMethod(member, className, nil, &classHooks)
		}
	}
	if !classHooks.IsZero() {
		v.result.Hooks[className] = classHooks
	}
}

func (v *tierBVisitor) visitClassMethod(fn *tree_sitter.Node, className string, decs []rawDecorator, classHooks *types.LifecycleHooks) {
	nameNode := fn.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := v.text(nameNode)

	if isLifecycleHook(name) {
		assignHook(classHooks, name)
		return
	}

	if hasFixtureDecorator(decs) {
		v.result.Fixtures = append(v.result.Fixtures, v.buildFixture(fn, nameNode, decs, true))
		return
	}

	if !hasPrefix(name, "test") {
		return
	}
	v.emitTestItem(fn, nameNode, className, decs, true)
}

func (v *tierBVisitor) emitTestItem(fn, nameNode *tree_sitter.Node, className string, decs []rawDecorator, isMethod bool) {
	kind := types.CallableFunction
	if isMethod {
		kind = types.CallableMethod
	}
	if isAsyncDef(v, fn) {
		if isMethod {
			kind = types.CallableAsyncMethod
		} else {
			kind = types.CallableAsyncFunction
		}
	}

	name := v.text(nameNode)
	typedDecs := toTypedDecorators(decs)

	base := types.TestItem{
		File:         v.path,
		ClassName:    className,
		CallableName: name,
		Location:     types.Location{File: v.path, Line: v.line(fn)},
		Kind:         kind,
		FixtureDeps:  v.paramNames(fn, isMethod),
		Decorators:   typedDecs,
	}
	markers, parametrizes := classifyDecorators(typedDecs)
	base.Markers = markers

	expanded, issues := expandParametrize(base, parametrizes)
	for idx := range expanded {
		expanded[idx].ID = expanded[idx].DisplayID()
	}
	v.result.Items = append(v.result.Items, expanded...)
	v.result.CollectionErrors = append(v.result.CollectionErrors, issues...)
}

func isAsyncDef(v *tierBVisitor, fn *tree_sitter.Node) bool {
	// tree-sitter-python represents `async def` as a function_definition
	// whose source begins with "async"; the grammar does not expose a
	// dedicated field, so check the leading token directly.
	text := v.text(fn)
	return hasPrefix(text, "async")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (v *tierBVisitor) paramNames(fn *tree_sitter.Node, isMethod bool) []string {
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	var out []string
	first := true
	for i := uint(0); i < params.ChildCount(); i++ {
		child := params.Child(i)
		if child == nil {
			continue
		}
		var name string
		switch child.Kind() {
		case "identifier":
			name = v.text(child)
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			if n := child.ChildByFieldName("name"); n != nil {
				name = v.text(n)
			} else if n := child.Child(0); n != nil && n.Kind() == "identifier" {
				name = v.text(n)
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			for j := uint(0); j < child.ChildCount(); j++ {
				if sub := child.Child(j); sub != nil && sub.Kind() == "identifier" {
					name = v.text(sub)
					break
				}
			}
		default:
			continue
		}
		if name == "" {
			continue
		}
		if isMethod && first {
			first = false
			continue
		}
		first = false
		out = append(out, name)
	}
	return out
}

func (v *tierBVisitor) buildFixture(fn, nameNode *tree_sitter.Node, decs []rawDecorator, isMethod bool) types.Fixture {
	f := types.Fixture{
		Name:     v.text(nameNode),
		File:     v.path,
		Location: types.Location{File: v.path, Line: v.line(fn)},
		Deps:     v.paramNames(fn, isMethod),
	}
	for _, d := range decs {
		if decoratorKind(d.namePath) != decFixture {
			continue
		}
		f.Scope = types.ParseScope(kwArg(d.rawArgs, "scope"))
		f.Autouse = kwArgBool(d.rawArgs, "autouse")
		if params := kwArg(d.rawArgs, "params"); params != "" {
			f.ParamValues = splitTopLevel(trimBrackets(params), ',')
		}
	}
	return f
}

func trimBrackets(s string) string {
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

// collectDecorators extracts the (decorator)+ children of a
// decorated_definition node into the shared rawDecorator form used by
// both parsing tiers.
func (v *tierBVisitor) collectDecorators(n *tree_sitter.Node) []rawDecorator {
	var out []rawDecorator
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if child == nil || child.Kind() != "decorator" {
			continue
		}
		out = append(out, v.parseDecoratorNode(child))
	}
	return out
}

func (v *tierBVisitor) parseDecoratorNode(dec *tree_sitter.Node) rawDecorator {
	var expr *tree_sitter.Node
	for i := uint(0); i < dec.ChildCount(); i++ {
		child := dec.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "identifier", "attribute", "call":
			expr = child
		}
	}
	if expr == nil {
		return rawDecorator{}
	}
	if expr.Kind() != "call" {
		return rawDecorator{namePath: v.text(expr)}
	}
	fn := expr.ChildByFieldName("function")
	args := expr.ChildByFieldName("arguments")
	namePath := v.text(fn)
	rawArgs := ""
	if args != nil {
		argText := v.text(args)
		rawArgs = trimOuterParens(argText)
	}
	return rawDecorator{namePath: namePath, rawArgs: rawArgs}
}

func trimOuterParens(s string) string {
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		return s[1 : len(s)-1]
	}
	return s
}
