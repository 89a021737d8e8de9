package parser

import (
	"strconv"
	"strings"

	"github.com/standardbeagle/gofast-runner/internal/types"
)

// scanTierA is the byte-level fast path (spec §4.2 Tier A): a line-oriented
// scan over the raw source looking for the fixed pattern set (`def test_`,
// `async def test_`, `class Test`, decorator prefixes). It fails closed
// (returns ok=false) when it meets a construct beyond its inline budget, at
// which point the caller retries the file under Tier B.
func scanTierA(path string, content []byte) (*FileResult, bool) {
	lines := splitLinesKeepEmpty(content)

	result := &FileResult{
		File:  path,
		Hooks: make(map[string]types.LifecycleHooks),
		Tier:  TierA,
	}

	var pendingDecorators []rawDecorator
	currentClass := ""
	classHooks := types.LifecycleHooks{}
	moduleHooks := types.LifecycleHooks{}

	flushClassHooks := func() {
		if currentClass != "" && !classHooks.IsZero() {
			result.Hooks[currentClass] = classHooks
		}
		classHooks = types.LifecycleHooks{}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indent := leadingSpaces(line)

		if strings.HasPrefix(trimmed, "@") {
			dec, consumed, ok := consumeDecorator(lines, i)
			if !ok {
				return nil, false
			}
			pendingDecorators = append(pendingDecorators, dec)
			i += consumed
			continue
		}

		if indent == 0 && strings.HasPrefix(trimmed, "class ") {
			flushClassHooks()
			name, ok := extractClassName(trimmed)
			if !ok {
				return nil, false
			}
			if strings.HasPrefix(name, "Test") {
				currentClass = name
			} else {
				currentClass = ""
			}
			pendingDecorators = nil
			continue
		}

		isDef := strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "async def ")
		if isDef {
			sig, consumed, ok := consumeDefSignature(lines, i)
			if !ok {
				return nil, false
			}
			decs := pendingDecorators
			pendingDecorators = nil
			i += consumed

			inClass := currentClass != "" && indent > 0
			isMethod := inClass
			hookName := sig.name

			if isLifecycleHook(hookName) {
				target := &moduleHooks
				if inClass {
					target = &classHooks
				}
				assignHook(target, hookName)
				continue
			}

			if hasFixtureDecorator(decs) {
				f := buildFixtureFromTierA(path, i+1, sig, decs, isMethod)
				result.Fixtures = append(result.Fixtures, f)
				continue
			}

			if !strings.HasPrefix(hookName, "test") {
				continue
			}

			kind := types.CallableFunction
			if isMethod {
				kind = types.CallableMethod
			}
			if strings.HasPrefix(trimmed, "async def ") {
				if isMethod {
					kind = types.CallableAsyncMethod
				} else {
					kind = types.CallableAsyncFunction
				}
			}

			className := ""
			if inClass {
				className = currentClass
			}

			typedDecs := toTypedDecorators(decs)
			base := types.TestItem{
				File:         path,
				ClassName:    className,
				CallableName: hookName,
				Location:     types.Location{File: path, Line: i + 1},
				Kind:         kind,
				FixtureDeps:  parseParamNames(sig.params, isMethod),
			}
			markers, parametrizes := classifyDecorators(typedDecs)
			base.Markers = markers
			base.Decorators = typedDecs

			expanded, issues := expandParametrize(base, parametrizes)
			for idx := range expanded {
				expanded[idx].ID = expanded[idx].DisplayID()
			}
			for _, it := range expanded {
				result.Items = append(result.Items, it)
			}
			result.CollectionErrors = append(result.CollectionErrors, issues...)
			continue
		}

		// Any other top-level statement ends the current class scope.
		if indent == 0 {
			flushClassHooks()
			currentClass = ""
			pendingDecorators = nil
		}
	}
	flushClassHooks()
	if !moduleHooks.IsZero() {
		result.Hooks[""] = moduleHooks
	}

	return result, true
}

type rawDecorator struct {
	namePath string
	rawArgs  string
}

type defSignature struct {
	name   string
	params string
}

func leadingSpaces(s string) int {
	n := 0
	for _, r := range s {
		if r == ' ' {
			n++
		} else if r == '\t' {
			n += 8
		} else {
			break
		}
	}
	return n
}

func splitLinesKeepEmpty(content []byte) []string {
	return strings.Split(string(content), "\n")
}

// consumeDecorator parses a decorator starting at lines[i], consuming
// further lines if its argument list spans multiple lines. Returns the
// number of additional lines consumed and ok=false if the argument list
// exceeds the inline budget (spec §4.2: "fails closed to Tier B").
func consumeDecorator(lines []string, i int) (rawDecorator, int, bool) {
	trimmed := strings.TrimSpace(lines[i])
	body := strings.TrimPrefix(trimmed, "@")

	parenIdx := strings.IndexByte(body, '(')
	if parenIdx < 0 {
		return rawDecorator{namePath: strings.TrimSpace(body)}, 0, true
	}

	namePath := strings.TrimSpace(body[:parenIdx])
	_, consumed, ok := consumeBalanced(lines, i, 0, '(', ')')
	if !ok {
		return rawDecorator{}, 0, false
	}
	full := joinLines(lines, i, consumed)
	full = full[strings.IndexByte(full, '(')+1:]
	full = trimLastParen(full)
	return rawDecorator{namePath: namePath, rawArgs: full}, consumed, true
}

// consumeDefSignature parses a def/async def line's name and parameter
// list, consuming further lines if the signature spans multiple lines.
func consumeDefSignature(lines []string, i int) (defSignature, int, bool) {
	trimmed := strings.TrimSpace(lines[i])
	rest := strings.TrimPrefix(trimmed, "async ")
	rest = strings.TrimPrefix(rest, "def ")
	parenIdx := strings.IndexByte(rest, '(')
	if parenIdx < 0 {
		return defSignature{}, 0, false
	}
	name := strings.TrimSpace(rest[:parenIdx])

	_, consumed, ok := consumeBalanced(lines, i, 0, '(', ')')
	if !ok {
		return defSignature{}, 0, false
	}
	full := joinLines(lines, i, consumed)
	openIdx := strings.IndexByte(full, '(')
	full = full[openIdx+1:]
	full = trimLastParen(full)
	return defSignature{name: name, params: full}, consumed, true
}

func joinLines(lines []string, start, extra int) string {
	end := start + extra
	if end >= len(lines) {
		end = len(lines) - 1
	}
	return strings.Join(lines[start:end+1], "\n")
}

func trimLastParen(s string) string {
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 {
		return s
	}
	return s[:idx]
}

// consumeBalanced scans forward from lines[startLine] (from its first
// occurrence of open) until the given bracket pair balances to zero,
// bounded by TierAInlineArgBudget total bytes scanned. Returns the number
// of ADDITIONAL lines beyond startLine that were consumed.
func consumeBalanced(lines []string, startLine, _ int, open, close byte) (string, int, bool) {
	depth := 0
	started := false
	total := 0
	for ln := startLine; ln < len(lines); ln++ {
		line := lines[ln]
		var quote byte
		for ci := 0; ci < len(line); ci++ {
			c := line[ci]
			total++
			if total > TierAInlineArgBudget {
				return "", 0, false
			}
			if quote != 0 {
				if c == quote && (ci == 0 || line[ci-1] != '\\') {
					quote = 0
				}
				continue
			}
			switch c {
			case '"', '\'':
				quote = c
			case open:
				depth++
				started = true
			case close:
				depth--
			}
		}
		if started && depth <= 0 {
			return "", ln - startLine, true
		}
	}
	return "", 0, false
}

func extractClassName(trimmed string) (string, bool) {
	rest := strings.TrimPrefix(trimmed, "class ")
	for i := 0; i < len(rest); i++ {
		if rest[i] == '(' || rest[i] == ':' {
			return strings.TrimSpace(rest[:i]), true
		}
	}
	return "", false
}

func isLifecycleHook(name string) bool {
	switch name {
	case "setup_method", "teardown_method", "setup_class", "teardown_class",
		"setup_module", "teardown_module", "setUp", "tearDown":
		return true
	}
	return false
}

func assignHook(h *types.LifecycleHooks, name string) {
	switch name {
	case "setup_method":
		h.SetupMethod = name
	case "teardown_method":
		h.TeardownMethod = name
	case "setup_class":
		h.SetupClass = name
	case "teardown_class":
		h.TeardownClass = name
	case "setup_module":
		h.SetupModule = name
	case "teardown_module":
		h.TeardownModule = name
	case "setUp":
		h.SetUp = name
	case "tearDown":
		h.TearDown = name
	}
}

func toTypedDecorators(decs []rawDecorator) []types.Decorator {
	out := make([]types.Decorator, 0, len(decs))
	for _, d := range decs {
		out = append(out, types.Decorator{
			NamePath:   d.namePath,
			RawArgs:    d.rawArgs,
			Recognised: decoratorKind(d.namePath) != "",
		})
	}
	return out
}

func hasFixtureDecorator(decs []rawDecorator) bool {
	for _, d := range decs {
		if decoratorKind(d.namePath) == decFixture {
			return true
		}
	}
	return false
}

func buildFixtureFromTierA(path string, line int, sig defSignature, decs []rawDecorator, isMethod bool) types.Fixture {
	f := types.Fixture{
		Name:     sig.name,
		File:     path,
		Location: types.Location{File: path, Line: line},
		Deps:     parseParamNames(sig.params, isMethod),
	}
	for _, d := range decs {
		if decoratorKind(d.namePath) != decFixture {
			continue
		}
		f.Scope = types.ParseScope(kwArg(d.rawArgs, "scope"))
		f.Autouse = kwArgBool(d.rawArgs, "autouse")
		if params := kwArg(d.rawArgs, "params"); params != "" {
			f.ParamValues = splitTopLevel(strings.Trim(params, "[]"), ',')
		}
	}
	return f
}

func kwArg(raw, key string) string {
	for _, arg := range splitTopLevelDecs(raw) {
		arg = strings.TrimSpace(arg)
		if strings.HasPrefix(arg, key+"=") {
			return unquote(strings.TrimSpace(arg[len(key)+1:]))
		}
	}
	return ""
}

func kwArgBool(raw, key string) bool {
	v := kwArg(raw, key)
	b, _ := strconv.ParseBool(v)
	return b
}

func splitTopLevelDecs(raw string) []string {
	if raw == "" {
		return nil
	}
	return splitTopLevel(raw, ',')
}

// parseParamNames extracts fixture-dependency names from a callable's
// parameter-list source, skipping `self`/`cls` for methods (spec §4.2
// "Fixture dependency extraction").
func parseParamNames(paramsSrc string, isMethod bool) []string {
	if strings.TrimSpace(paramsSrc) == "" {
		return nil
	}
	var out []string
	for i, raw := range splitTopLevel(paramsSrc, ',') {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if p == "/" || p == "*" {
			continue
		}
		if isMethod && i == 0 {
			continue // self / cls
		}
		p = strings.TrimPrefix(p, "**")
		p = strings.TrimPrefix(p, "*")
		name := p
		if idx := strings.IndexAny(name, ":="); idx >= 0 {
			name = name[:idx]
		}
		name = strings.TrimSpace(name)
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
