package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/gofast-runner/internal/types"
)

// Scenario A (spec §8): two trivial passing tests.
func TestScanTierA_TrivialTests(t *testing.T) {
	src := []byte(`def test_one():
    assert True


def test_two():
    assert True
`)
	result, ok := scanTierA("test_a.py", src)
	require.True(t, ok)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "test_a.py::test_one", result.Items[0].DisplayID())
	assert.Equal(t, "test_a.py::test_two", result.Items[1].DisplayID())
}

// Scenario B (spec §8): parametrize expansion.
func TestScanTierA_ParametrizeExpansion(t *testing.T) {
	src := []byte(`@pytest.mark.parametrize("x,y,expected", [(1,2,3), (2,3,5), (0,0,0)])
def test_add(x, y, expected):
    assert x + y == expected
`)
	result, ok := scanTierA("test_b.py", src)
	require.True(t, ok)
	require.Len(t, result.Items, 3)
	assert.Equal(t, "test_b.py::test_add[1-2-3]", result.Items[0].DisplayID())
	assert.Equal(t, "test_b.py::test_add[2-3-5]", result.Items[1].DisplayID())
	assert.Equal(t, "test_b.py::test_add[0-0-0]", result.Items[2].DisplayID())
}

// Scenario D (spec §8): skip and expected-fail markers.
func TestScanTierA_SkipAndExpectedFail(t *testing.T) {
	src := []byte(`@pytest.mark.skip(reason="not ready")
def test_s():
    assert False


@pytest.mark.xfail
def test_xf():
    assert False


@pytest.mark.xfail
def test_xp():
    assert True
`)
	result, ok := scanTierA("test_d.py", src)
	require.True(t, ok)
	require.Len(t, result.Items, 3)

	s := result.Items[0]
	require.True(t, s.Markers.Has(types.MarkerSkip))
	m, _ := s.Markers.Get(types.MarkerSkip)
	assert.Equal(t, "not ready", m.Reason)

	xf := result.Items[1]
	assert.True(t, xf.Markers.Has(types.MarkerExpectedFail))
}

// Scenario E (spec §8): class scope with lifecycle hooks.
func TestScanTierA_ClassScopeHooks(t *testing.T) {
	src := []byte(`class TestA:
    def setup_class(cls):
        pass

    def teardown_class(cls):
        pass

    def test_1(self):
        assert True

    def test_2(self):
        assert True


def test_free():
    assert True
`)
	result, ok := scanTierA("test_e.py", src)
	require.True(t, ok)

	var names []string
	for _, it := range result.Items {
		names = append(names, it.DisplayID())
	}
	assert.Contains(t, names, "test_e.py::TestA::test_1")
	assert.Contains(t, names, "test_e.py::TestA::test_2")
	assert.Contains(t, names, "test_e.py::test_free")

	hooks, ok := result.Hooks["TestA"]
	require.True(t, ok)
	assert.Equal(t, "setup_class", hooks.SetupClass)
	assert.Equal(t, "teardown_class", hooks.TeardownClass)
}

func TestScanTierA_FixtureDependencyExtraction(t *testing.T) {
	src := []byte(`@pytest.fixture(scope="module")
def a():
    return 1


@pytest.fixture
def b(a):
    return a + 1


def test_x(b):
    assert b == 2
`)
	result, ok := scanTierA("test_c.py", src)
	require.True(t, ok)
	require.Len(t, result.Fixtures, 2)
	require.Len(t, result.Items, 1)

	var byName = map[string]types.Fixture{}
	for _, f := range result.Fixtures {
		byName[f.Name] = f
	}
	assert.Equal(t, types.ScopeModule, byName["a"].Scope)
	assert.Equal(t, []string{"a"}, byName["b"].Deps)
	assert.Equal(t, []string{"b"}, result.Items[0].FixtureDeps)
}

func TestScanTierA_AutouseFixture(t *testing.T) {
	src := []byte(`@pytest.fixture(autouse=True)
def setup_env():
    yield
`)
	result, ok := scanTierA("test_f.py", src)
	require.True(t, ok)
	require.Len(t, result.Fixtures, 1)
	assert.True(t, result.Fixtures[0].Autouse)
}

func TestScanTierA_ParametrizeZeroCasesWarns(t *testing.T) {
	src := []byte(`@pytest.mark.parametrize("x", [])
def test_none(x):
    assert x
`)
	result, ok := scanTierA("test_g.py", src)
	require.True(t, ok)
	assert.Empty(t, result.Items)
	require.Len(t, result.CollectionErrors, 1)
}

func TestScanTierA_FallsBackWhenDecoratorExceedsBudget(t *testing.T) {
	huge := make([]byte, 0, TierAInlineArgBudget+200)
	huge = append(huge, []byte("@pytest.mark.parametrize(\"x\", [")...)
	for i := 0; i < 100; i++ {
		huge = append(huge, []byte("(1,2,3,4,5,6,7,8,9,10),")...)
	}
	huge = append(huge, []byte("])\ndef test_many(x):\n    assert x\n")...)

	_, ok := scanTierA("test_h.py", huge)
	assert.False(t, ok, "a decorator argument list beyond the inline budget must fail closed to tier B")
}
