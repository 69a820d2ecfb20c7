package preprocess

import (
	"testing"

	"github.com/gomlx/nnbridge/bitmap"
	"github.com/gomlx/nnbridge/nnrt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv(DriverEnv, "")
	t.Setenv(LegacyIndexingEnv, "")
	t.Setenv(CollapseEnv, "")
	cfg := DefaultConfig()
	require.Equal(t, nnrt.DefaultDriverName, cfg.DriverName)
	require.Equal(t, nnrt.PreferFastSingleAnswer, cfg.Preference)
	require.Equal(t, bitmap.MaterializeOptions{}, cfg.Materialize)

	t.Setenv(DriverEnv, "npu")
	t.Setenv(LegacyIndexingEnv, "true")
	t.Setenv(CollapseEnv, "Mean")
	cfg = DefaultConfig()
	require.Equal(t, "npu", cfg.DriverName)
	require.Equal(t, bitmap.IndexLegacy, cfg.Materialize.Indexing)
	require.Equal(t, bitmap.CollapseMean, cfg.Materialize.Collapse)

	// Invalid values are ignored.
	t.Setenv(LegacyIndexingEnv, "maybe")
	t.Setenv(CollapseEnv, "median")
	cfg = DefaultConfig()
	require.Equal(t, bitmap.IndexRowMajor, cfg.Materialize.Indexing)
	require.Equal(t, bitmap.CollapseFirst, cfg.Materialize.Collapse)
}

func TestParseCollapse(t *testing.T) {
	c, err := ParseCollapse(" first ")
	require.NoError(t, err)
	require.Equal(t, bitmap.CollapseFirst, c)
	_, err = ParseCollapse("max")
	require.Error(t, err)
}

func TestBuildResize(t *testing.T) {
	compilations := nnrt.CompilationsAlive()
	g := capture(BuildResize([4]int{1, 10, 20, 3}, OutputDimensions(), testConfig())).Test(t)
	require.Equal(t, compilations+1, nnrt.CompilationsAlive())
	require.Equal(t, []int{1, 10, 20, 3}, g.InputType().Dimensions)
	require.Equal(t, []int{1, 224, 224, 3}, g.OutputType().Dimensions)
	require.Equal(t, "resize_20x10_to_224x224", g.Model().Name())
	require.Equal(t, g.InputType().Memory(), g.Compilation().Inputs()[0].Memory())
	require.NoError(t, g.Free())
	require.NoError(t, g.Free())
	require.Equal(t, compilations, nnrt.CompilationsAlive())

	_, err := BuildResize([4]int{1, 0, 20, 3}, OutputDimensions(), testConfig())
	require.True(t, errors.Is(err, ErrGraphBuild))
	_, err = BuildResize([4]int{1, 10, 20, 4}, OutputDimensions(), testConfig())
	require.True(t, errors.Is(err, ErrGraphBuild), "channels mismatch")
	require.Equal(t, compilations, nnrt.CompilationsAlive())
}

func TestRun(t *testing.T) {
	g := capture(BuildResize([4]int{1, 1, 1, 3}, [4]int{1, 2, 2, 3}, testConfig())).Test(t)
	defer func() { require.NoError(t, g.Free()) }()
	in := capture(arenaAllocate(t, 12)).Test(t)
	out := capture(arenaAllocate(t, 48)).Test(t)
	copy(in.Float32s(), []float32{0.25, 0.5, 0.75})

	require.NoError(t, Run(g, in, out, 12, 48))
	for ii, v := range out.Float32s() {
		require.Equal(t, []float32{0.25, 0.5, 0.75}[ii%3], v)
	}

	err := Run(g, in, out, 12, 40)
	require.True(t, errors.Is(err, ErrExecution))
	require.Equal(t, nnrt.BadData, nnrt.CodeOf(err))

	err = Run(nil, in, out, 12, 48)
	require.True(t, errors.Is(err, ErrExecution))
}

func TestCleanupStack(t *testing.T) {
	var order []string
	var s cleanupStack
	for _, name := range []string{"a", "b", "c"} {
		s.push(name, func() error {
			order = append(order, name)
			if name == "b" {
				return errors.New("b failed")
			}
			return nil
		})
	}
	require.ErrorContains(t, s.rewind(), "b failed")
	require.Equal(t, []string{"c", "b", "a"}, order)
	require.NoError(t, s.rewind(), "rewinding an empty stack")
}
