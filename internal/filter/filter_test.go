package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/gofast-runner/internal/types"
)

func withMarkers(names ...string) types.MarkerSet {
	m := types.NewMarkerSet()
	for _, n := range names {
		m.Add(types.Marker{Name: n})
	}
	return m
}

// Scenario F (spec §8): `slow and not flaky` over three items.
func TestFilter_ScenarioF(t *testing.T) {
	items := []types.TestItem{
		{File: "t.py", CallableName: "test_one", Markers: withMarkers("slow")},
		{File: "t.py", CallableName: "test_two", Markers: withMarkers()},
		{File: "t.py", CallableName: "test_three", Markers: withMarkers("slow", "flaky")},
	}
	f, err := New("", "slow and not flaky")
	require.NoError(t, err)

	got := f.Apply(items)
	require.Len(t, got, 1)
	assert.Equal(t, "test_one", got[0].CallableName)
}

func TestFilter_KeywordOnly(t *testing.T) {
	items := []types.TestItem{
		{File: "t.py", CallableName: "test_add"},
		{File: "t.py", CallableName: "test_sub"},
	}
	f, err := New("add", "")
	require.NoError(t, err)
	got := f.Apply(items)
	require.Len(t, got, 1)
	assert.Equal(t, "test_add", got[0].CallableName)
}

func TestFilter_BothCriteria_RequireBoth(t *testing.T) {
	items := []types.TestItem{
		{File: "t.py", CallableName: "test_add", Markers: withMarkers("slow")},
		{File: "t.py", CallableName: "test_add_fast", Markers: withMarkers()},
	}
	f, err := New("add", "slow")
	require.NoError(t, err)
	got := f.Apply(items)
	require.Len(t, got, 1)
	assert.Equal(t, "test_add", got[0].CallableName)
}

func TestFilter_NoCriteria_ReturnsAllUnmodified(t *testing.T) {
	items := []types.TestItem{{CallableName: "a"}, {CallableName: "b"}}
	f, err := New("", "")
	require.NoError(t, err)
	assert.Equal(t, items, f.Apply(items))
}

func TestParse_Parentheses(t *testing.T) {
	expr, err := Parse("(slow or flaky) and not skip")
	require.NoError(t, err)

	assert.True(t, expr.eval(withMarkers("slow")))
	assert.True(t, expr.eval(withMarkers("flaky")))
	assert.False(t, expr.eval(withMarkers("slow", "skip")))
	assert.False(t, expr.eval(withMarkers()))
}

func TestParse_HyphenatedIdentifier(t *testing.T) {
	expr, err := Parse("needs-network")
	require.NoError(t, err)
	assert.True(t, expr.eval(withMarkers("needs-network")))
}

func TestParse_UnbalancedParens_Errors(t *testing.T) {
	_, err := Parse("(slow and flaky")
	assert.Error(t, err)
}

func TestParse_DanglingOperator_Errors(t *testing.T) {
	_, err := Parse("slow and")
	assert.Error(t, err)
}

func TestParse_EmptyInput_Errors(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
}
