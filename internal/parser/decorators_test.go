package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/gofast-runner/internal/types"
)

func TestSplitTopLevel_RespectsNesting(t *testing.T) {
	got := splitTopLevel(`"x,y,expected", [(1,2,3), (2,3,5)], ids=["a", "b"]`, ',')
	require.Len(t, got, 3)
	assert.Equal(t, `"x,y,expected"`, got[0])
}

func TestParseParametrizeArgs_SimpleTuples(t *testing.T) {
	names, cases, err := parseParametrizeArgs(`"x,y,expected", [(1,2,3), (2,3,5), (0,0,0)]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "expected"}, names)
	require.Len(t, cases, 3)
	assert.Equal(t, []string{"1", "2", "3"}, cases[0].values)
	assert.Equal(t, "1-2-3", cases[0].caseID)
	assert.Equal(t, "2-3-5", cases[1].caseID)
	assert.Equal(t, "0-0-0", cases[2].caseID)
}

func TestParseParametrizeArgs_SingleName(t *testing.T) {
	names, cases, err := parseParametrizeArgs(`"n", [1, 2, 3]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"n"}, names)
	require.Len(t, cases, 3)
	assert.Equal(t, "2", cases[1].caseID)
}

func TestParseParametrizeArgs_ExplicitIDs(t *testing.T) {
	_, cases, err := parseParametrizeArgs(`"x", [1, 2], ids=["one", "two"]`)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "one", cases[0].caseID)
	assert.Equal(t, "two", cases[1].caseID)
}

func TestParseParametrizeArgs_ZeroCases(t *testing.T) {
	_, cases, err := parseParametrizeArgs(`"x", []`)
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestCanonicalCaseID_Stability(t *testing.T) {
	id1 := canonicalCaseID([]string{"1", "2", "3"})
	id2 := canonicalCaseID([]string{"1", "2", "3"})
	assert.Equal(t, id1, id2, "canonicalization must be deterministic across runs")
	assert.Equal(t, "1-2-3", id1)
}

func TestCanonicalCaseID_StringValues(t *testing.T) {
	id := canonicalCaseID([]string{`"hello world"`})
	assert.Equal(t, "hello_world", id)
}

func TestExpandParametrize_CartesianProduct(t *testing.T) {
	decs := []rawDecorator{
		{namePath: "parametrize", rawArgs: `"x", [1, 2]`},
		{namePath: "parametrize", rawArgs: `"y", [3, 4]`},
	}
	typed := toTypedDecorators(decs)
	_, parametrizes := classifyDecorators(typed)

	base := types.TestItem{File: "test_a.py", CallableName: "test_add", FixtureDeps: []string{"x", "y"}}
	items, issues := expandParametrize(base, parametrizes)
	assert.Empty(t, issues)
	require.Len(t, items, 4)
	assert.Empty(t, items[0].FixtureDeps, "parametrize-bound names are dropped from fixture deps")
}
