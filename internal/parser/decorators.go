package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/standardbeagle/gofast-runner/internal/types"
)

// Recognised decorator name suffixes (spec §4.2). The engine matches on the
// trailing path component so both "pytest.mark.parametrize" and a bare
// "parametrize" (re-exported into a conftest namespace) are recognised.
const (
	decParametrize   = "parametrize"
	decFixture       = "fixture"
	decSkip          = "skip"
	decSkipIf        = "skipif"
	decExpectedFail  = "xfail"
)

func decoratorKind(namePath string) string {
	parts := strings.Split(namePath, ".")
	last := parts[len(parts)-1]
	switch last {
	case decParametrize, decFixture, decSkip, decSkipIf, decExpectedFail:
		return last
	default:
		return ""
	}
}

// classifyDecorators partitions a callable's decorators into markers and
// parametrize decorators, in source order (stacked parametrize decorators
// apply outer-to-inner per spec §4.2's "Cartesian product").
func classifyDecorators(decorators []types.Decorator) (markers types.MarkerSet, parametrizes []types.Decorator) {
	markers = types.NewMarkerSet()
	for _, d := range decorators {
		switch decoratorKind(d.NamePath) {
		case decParametrize:
			parametrizes = append(parametrizes, d)
		case decSkip:
			markers.Add(types.Marker{Name: types.MarkerSkip, Reason: firstStringLiteral(d.RawArgs, "reason")})
		case decSkipIf:
			markers.Add(types.Marker{Name: types.MarkerSkipIf, Condition: firstArg(d.RawArgs), Reason: firstStringLiteral(d.RawArgs, "reason")})
		case decExpectedFail:
			markers.Add(types.Marker{Name: types.MarkerExpectedFail, Reason: firstStringLiteral(d.RawArgs, "reason")})
		default:
			if d.Recognised {
				continue
			}
			// Unrecognised decorators are retained verbatim as custom
			// markers, usable in filter expressions (spec §4.2).
			markers.Add(types.Marker{Name: customMarkerName(d.NamePath)})
		}
	}
	return markers, parametrizes
}

func customMarkerName(namePath string) string {
	parts := strings.Split(namePath, ".")
	return parts[len(parts)-1]
}

// expandParametrize applies every parametrize decorator to base, producing
// the Cartesian product of TestItems (spec §4.2 "Parametrize expansion").
// A parametrize with zero cases yields zero items plus a discovery warning
// (spec §8 boundary behaviour), surfaced via the returned CollectionIssue
// slice so the caller can log it without treating it as fatal.
func expandParametrize(base types.TestItem, decs []types.Decorator) ([]types.TestItem, []CollectionIssue) {
	if len(decs) == 0 {
		return []types.TestItem{base}, nil
	}

	items := []types.TestItem{base}
	var issues []CollectionIssue

	for _, d := range decs {
		names, cases, err := parseParametrizeArgs(d.RawArgs)
		if err != nil {
			issues = append(issues, CollectionIssue{
				TestID: base.DisplayID(),
				Reason: "unrecognised parametrize argument form",
				Err:    err,
			})
			continue
		}
		if len(cases) == 0 {
			issues = append(issues, CollectionIssue{
				TestID: base.DisplayID(),
				Reason: "parametrize decorator produced zero cases",
			})
			items = nil
			continue
		}

		var next []types.TestItem
		for _, existing := range items {
			for _, c := range cases {
				clone := existing
				clone.ParamCase = &types.ParamCase{CaseID: c.caseID, Names: names, Values: c.values}
				if existing.CaseID == "" {
					clone.CaseID = c.caseID
				} else {
					clone.CaseID = existing.CaseID + "-" + c.caseID
				}
				// Drop parametrize-bound names from the fixture dependency
				// list: they're bound positionally, not via fixture lookup
				// (spec §4.2 "Fixture dependency extraction").
				clone.FixtureDeps = subtractNames(existing.FixtureDeps, names)
				next = append(next, clone)
			}
		}
		items = next
	}

	return items, issues
}

func subtractNames(all, remove []string) []string {
	removeSet := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		removeSet[r] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, n := range all {
		if _, ok := removeSet[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

type paramCaseRaw struct {
	caseID string
	values []string
}

// parseParametrizeArgs parses the raw argument source of a parametrize
// decorator: `"x,y,expected", [(1,2,3),(2,3,5)]` or `"x,y,expected",
// [(1,2,3)], ids=["a","b"]`. Argument values are kept as opaque
// host-language source fragments (spec §4.2): the engine never interprets
// them as its own values.
func parseParametrizeArgs(raw string) (names []string, cases []paramCaseRaw, err error) {
	topArgs := splitTopLevel(raw, ',')
	if len(topArgs) < 2 {
		return nil, nil, fmt.Errorf("parametrize requires at least (names, values), got %d top-level args", len(topArgs))
	}

	nameArg := strings.TrimSpace(topArgs[0])
	names = splitParamNames(unquote(nameArg))

	valuesArg := strings.TrimSpace(topArgs[1])
	if strings.HasPrefix(valuesArg, "[") {
		valuesArg = strings.TrimSuffix(strings.TrimPrefix(valuesArg, "["), "]")
	} else {
		valuesArg = strings.TrimSuffix(strings.TrimPrefix(valuesArg, "("), ")")
	}

	var explicitIDs []string
	for _, extra := range topArgs[2:] {
		extra = strings.TrimSpace(extra)
		if strings.HasPrefix(extra, "ids=") || strings.HasPrefix(extra, "ids =") {
			idsSrc := extra[strings.Index(extra, "=")+1:]
			idsSrc = strings.TrimSpace(idsSrc)
			idsSrc = strings.TrimPrefix(idsSrc, "[")
			idsSrc = strings.TrimSuffix(idsSrc, "]")
			for _, id := range splitTopLevel(idsSrc, ',') {
				explicitIDs = append(explicitIDs, unquote(strings.TrimSpace(id)))
			}
		}
	}

	rawCases := splitTopLevelTuples(valuesArg)
	for i, rc := range rawCases {
		var values []string
		if len(names) == 1 {
			values = []string{strings.TrimSpace(rc)}
		} else {
			values = splitTopLevel(trimTuple(rc), ',')
			for j := range values {
				values[j] = strings.TrimSpace(values[j])
			}
		}
		id := canonicalCaseID(values)
		if i < len(explicitIDs) && explicitIDs[i] != "" {
			id = explicitIDs[i]
		}
		cases = append(cases, paramCaseRaw{caseID: id, values: values})
	}

	return names, cases, nil
}

func trimTuple(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	return s
}

func splitParamNames(s string) []string {
	var parts []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// canonicalCaseID implements the repo's documented rule for deterministic
// parameter-case id canonicalization (spec §9's open question): each bound
// value is rendered as a sanitized, repr-like token, and the tokens are
// joined with "-". TestCanonicalCaseID_Stability and
// TestCanonicalCaseID_StringValues lock this rule down.
func canonicalCaseID(values []string) string {
	tokens := make([]string, len(values))
	for i, v := range values {
		tokens[i] = sanitizeToken(unquote(strings.TrimSpace(v)))
	}
	return strings.Join(tokens, "-")
}

func sanitizeToken(s string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		if r == ' ' {
			// a run of spaces collapses to one "_"
			if !prevSpace {
				b.WriteRune('_')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "None"
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			if unq, err := strconv.Unquote(`"` + strings.Trim(s[1:len(s)-1], `"`) + `"`); err == nil {
				return unq
			}
			return s[1 : len(s)-1]
		}
	}
	return s
}

func firstArg(raw string) string {
	args := splitTopLevel(raw, ',')
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}

// firstStringLiteral extracts the value of a keyword argument like
// reason="not ready", falling back to a positional string literal.
func firstStringLiteral(raw, keyword string) string {
	for _, arg := range splitTopLevel(raw, ',') {
		arg = strings.TrimSpace(arg)
		if strings.HasPrefix(arg, keyword+"=") {
			return unquote(arg[len(keyword)+1:])
		}
	}
	args := splitTopLevel(raw, ',')
	if len(args) > 0 {
		v := strings.TrimSpace(args[len(args)-1])
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') {
			return unquote(v)
		}
	}
	return ""
}

// splitTopLevel splits s on sep, ignoring separators nested inside (), [],
// {} or string literals.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote && (i == 0 || s[i-1] != '\\') {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if start <= len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// splitTopLevelTuples splits a parametrize values list into its individual
// case sources, each a tuple "(1,2,3)" or bare scalar, at the top level.
func splitTopLevelTuples(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	raw := splitTopLevel(s, ',')
	var cases []string
	var pending string
	depth := 0
	for _, part := range raw {
		opens := strings.Count(part, "(")
		closes := strings.Count(part, ")")
		if pending != "" {
			pending += "," + part
		} else {
			pending = part
		}
		depth += opens - closes
		if depth <= 0 {
			// an empty part comes from a trailing comma and is not a case
			if strings.TrimSpace(pending) != "" {
				cases = append(cases, strings.TrimSpace(pending))
			}
			pending = ""
			depth = 0
		}
	}
	if strings.TrimSpace(pending) != "" {
		cases = append(cases, strings.TrimSpace(pending))
	}
	return cases
}
