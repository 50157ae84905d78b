package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydro-sim/hydro-sim/sim"
	"github.com/hydro-sim/hydro-sim/sim/bundle"
	"github.com/hydro-sim/hydro-sim/sim/schedule"
	"github.com/hydro-sim/hydro-sim/sim/trace"
)

// testdata resolves a file in the repository's testdata directory.
func testdata(t *testing.T, name string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(thisFile), "..", "testdata", name)
}

// freshRunCmd returns a command with the run flags bound and reset to their
// defaults.
func freshRunCmd(t *testing.T, path string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "run"}
	registerRunFlags(c)
	require.NoError(t, c.Flags().Set("model", path))
	return c
}

func load(t *testing.T, path string) *bundle.ModelBundle {
	t.Helper()
	b, err := bundle.LoadModelBundle(path)
	require.NoError(t, err)
	return b
}

func TestResolveOptions_BundleValuesUsedWhenFlagsUnset(t *testing.T) {
	// GIVEN the timeseries bundle, which sets workers 2 and iteration_limit fail
	path := testdata(t, "timeseries_product.yaml")
	c := freshRunCmd(t, path)

	// WHEN options are resolved without further flags
	opts, err := resolveOptions(c, load(t, path))
	require.NoError(t, err)

	// THEN bundle values apply and the backend falls back to the flag default
	assert.Equal(t, 2, opts.Workers)
	assert.Equal(t, schedule.FailIterationLimit, opts.IterationLimit)
	assert.Equal(t, defaultBackend, opts.Backend)
}

func TestResolveOptions_ExplicitFlagsOverrideBundle(t *testing.T) {
	// GIVEN the storage routing bundle, which selects ipm-scalar at 1e-9
	path := testdata(t, "storage_routing.yaml")
	c := freshRunCmd(t, path)
	require.NoError(t, c.Flags().Set("solver", "ipm-lanes"))
	require.NoError(t, c.Flags().Set("tolerance", "1e-7"))
	require.NoError(t, c.Flags().Set("workers", "3"))
	require.NoError(t, c.Flags().Set("iteration-limit", "fail"))

	// WHEN options are resolved
	opts, err := resolveOptions(c, load(t, path))
	require.NoError(t, err)

	// THEN every explicitly set flag wins
	assert.Equal(t, "ipm-lanes", opts.Backend)
	assert.Equal(t, 1e-7, opts.Settings.Tolerance)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, schedule.FailIterationLimit, opts.IterationLimit)
}

func TestResolveOptions_BundleBackendKeptWithoutFlag(t *testing.T) {
	path := testdata(t, "storage_routing.yaml")
	opts, err := resolveOptions(freshRunCmd(t, path), load(t, path))
	require.NoError(t, err)
	assert.Equal(t, "ipm-scalar", opts.Backend)
	assert.Equal(t, 1e-9, opts.Settings.Tolerance)
}

func TestResolveOptions_InvalidValues_ReturnError(t *testing.T) {
	path := testdata(t, "storage_routing.yaml")
	for flag, value := range map[string]string{
		"solver":          "cplex",
		"iteration-limit": "retry",
		"tolerance":       "2",
		"threads":         "0",
	} {
		t.Run(flag, func(t *testing.T) {
			c := freshRunCmd(t, path)
			require.NoError(t, c.Flags().Set(flag, value))
			_, err := resolveOptions(c, load(t, path))
			assert.Error(t, err)
		})
	}
}

func TestRunModel_StorageRouting_ReportsFinalVolumes(t *testing.T) {
	// GIVEN the storage routing bundle on the simplex backend with a solve trace
	path := testdata(t, "storage_routing.yaml")
	c := freshRunCmd(t, path)
	require.NoError(t, c.Flags().Set("solver", "simplex"))
	opts, err := resolveOptions(c, load(t, path))
	require.NoError(t, err)
	opts.TraceLevel = trace.TraceLevelSolves

	// WHEN the model is run and reported
	res, summary, err := runModel(context.Background(), load(t, path), opts)
	require.NoError(t, err)
	report := buildReport(res, summary, time.Second)

	// THEN the single scenario finished with full reservoirs
	require.Len(t, report.Scenarios, 1)
	sc := report.Scenarios[0]
	assert.Equal(t, "finished", sc.State)
	assert.Equal(t, 4, sc.Timesteps)
	assert.InDelta(t, 10, sc.FinalVolumes["storage1"], 1e-6)
	assert.InDelta(t, 10, sc.FinalVolumes["storage2"], 1e-6)
	assert.InDelta(t, 15, sc.FinalVolumes["storage3"], 1e-6)
	require.NotNil(t, report.Trace)
	assert.Equal(t, 4, report.Trace.TotalSolves)
	assert.Empty(t, report.FirstFailure)
}

func TestRunModel_InfeasibleWithAbort_ReturnsResultsAndError(t *testing.T) {
	// GIVEN a bundle that is infeasible at its first timestep and aborts on failure
	path := testdata(t, "infeasible_output.yaml")
	c := freshRunCmd(t, path)
	require.NoError(t, c.Flags().Set("workers", "1"))
	opts, err := resolveOptions(c, load(t, path))
	require.NoError(t, err)
	require.True(t, opts.AbortOnFailure)

	// WHEN it is run
	res, _, err := runModel(context.Background(), load(t, path), opts)

	// THEN the error wraps the infeasibility and results are still available
	require.Error(t, err)
	assert.True(t, errors.Is(err, sim.ErrInfeasible))
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Finished())
	report := buildReport(res, nil, 0)
	assert.Contains(t, report.FirstFailure, "scenario_0")
}

func TestPrintResults_WritesHeaderAndJSON(t *testing.T) {
	// GIVEN a finished run
	path := testdata(t, "storage_routing.yaml")
	opts, err := resolveOptions(freshRunCmd(t, path), load(t, path))
	require.NoError(t, err)
	res, _, err := runModel(context.Background(), load(t, path), opts)
	require.NoError(t, err)

	// WHEN the results are printed
	var buf bytes.Buffer
	printResults(&buf, res, nil, 1500*time.Millisecond)

	// THEN a header precedes a JSON document
	out := buf.String()
	require.True(t, strings.HasPrefix(out, "=== Simulation Results ===\n"))
	var report RunReport
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(out, "=== Simulation Results ===\n")), &report))
	assert.Equal(t, "ipm-scalar", report.Backend)
	assert.Equal(t, 1, report.Finished)
	assert.Equal(t, int64(1500), report.ElapsedMs)
}

func TestListSolvers_PrintsRegisteredBackends(t *testing.T) {
	var buf bytes.Buffer
	listSolvers(&buf)
	for _, name := range []string{"simplex", "ipm-scalar", "ipm-lanes", "ipm-gpu"} {
		assert.Contains(t, buf.String(), name+"\n")
	}
}
