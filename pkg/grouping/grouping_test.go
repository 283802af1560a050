package grouping_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine/enginetest"
	"github.com/Sumatoshi-tech/genexbench/pkg/grouping"
)

type fixture struct {
	fake    *enginetest.Fake
	catalog *catalog.Catalog
	sched   *grouping.Scheduler
	layout  grouping.Layout
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	dataRoot := filepath.Join(dir, "datasets")

	fake := enginetest.New()
	fake.AddFile(catalog.DataFile(dataRoot, "ECG200"), engine.DatasetInfo{Count: 100, Length: 96})

	c, err := catalog.Open(filepath.Join(dir, "info.json"))
	require.NoError(t, err)

	c.Put("ECG200", 100, 96)

	layout := grouping.Layout{Root: filepath.Join(dir, "groups")}

	sched := grouping.New(fake, c, grouping.Config{
		Layout:      layout,
		DatasetRoot: dataRoot,
		LoadOptions: engine.DefaultLoadOptions,
		Now:         func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})

	return &fixture{fake: fake, catalog: c, sched: sched, layout: layout, dir: dir}
}

func sweepOpts(from, to float64, dists ...string) grouping.Options {
	return grouping.Options{
		From:      grouping.ThresholdOf(from),
		To:        grouping.ThresholdOf(to),
		Distances: dists,
		Threads:   4,
	}
}

func TestRun_ResumesFromProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.catalog.AddProgress("ECG200", "ECG200 euclidean 0.1"))
	require.NoError(t, f.catalog.AddProgress("ECG200", "ECG200 euclidean 0.2"))

	res, err := f.sched.Run(context.Background(), "ECG200", sweepOpts(0.1, 0.4, "euclidean"))
	require.NoError(t, err)

	assert.Equal(t, 1, f.fake.Calls(engine.OpBuildGrouping))
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Records, 1)
	assert.Equal(t, grouping.Threshold(3), res.Records[0].Threshold)
	assert.True(t, f.catalog.HasProgress("ECG200", "ECG200 euclidean 0.3"))
	assert.False(t, f.fake.Loaded("ECG200"))

	_, err = os.Stat(f.layout.GroupsPath("ECG200", "euclidean", 3))
	require.NoError(t, err)
	_, err = os.Stat(f.layout.SizesPath("ECG200", "euclidean", 3))
	require.NoError(t, err)
}

func TestRun_ProgressIsPersistedPerUnit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fake.FailAfter(engine.OpBuildGrouping, 2, nil)

	_, err := f.sched.Run(context.Background(), "ECG200", sweepOpts(0.1, 0.6, "euclidean"))
	require.ErrorIs(t, err, enginetest.ErrInjected)
	assert.False(t, f.fake.Loaded("ECG200"), "dataset unloaded after failure")

	reopened, err := catalog.Open(f.catalog.Path())
	require.NoError(t, err)

	ds, _ := reopened.Get("ECG200")
	assert.Equal(t, []string{"ECG200 euclidean 0.1", "ECG200 euclidean 0.2"}, ds.Progress)

	f.fake.Heal()

	res, err := f.sched.Run(context.Background(), "ECG200", sweepOpts(0.1, 0.6, "euclidean"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, res.Records, 3)
	assert.Equal(t, 3+3, f.fake.Calls(engine.OpBuildGrouping))
}

func TestRun_WritesSweepRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.sched.Run(context.Background(), "ECG200", sweepOpts(0.1, 0.3, "euclidean", "manhattan"))
	require.NoError(t, err)
	require.Len(t, res.Records, 4)

	records, err := grouping.ReadSweep(res.SweepPath)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "manhattan", records[3].Distance)
	assert.Equal(t, grouping.Threshold(2), records[3].Threshold)
	assert.Equal(t, 21, records[3].GroupCount)

	raw, err := os.ReadFile(res.SweepPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "dist_name,st,group_count,path,size_path,duration\n")
	assert.Contains(t, string(raw), "euclidean,0.1,11,")
	assert.Contains(t, filepath.Base(res.SweepPath), "ECG200_records_2024_01_02_03_04_05")
}

func TestRun_StartOverClearsProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.catalog.AddProgress("ECG200", "ECG200 euclidean 0.1"))

	opts := sweepOpts(0.1, 0.3, "euclidean")
	opts.StartOver = true

	res, err := f.sched.Run(context.Background(), "ECG200", opts)
	require.NoError(t, err)

	assert.Zero(t, res.Skipped)
	assert.Equal(t, 2, f.fake.Calls(engine.OpBuildGrouping))
}

func TestRun_DryRunTouchesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.catalog.AddProgress("ECG200", "ECG200 euclidean 0.2"))

	opts := sweepOpts(0.1, 0.4, "euclidean")
	opts.DryRun = true
	opts.StartOver = false

	res, err := f.sched.Run(context.Background(), "ECG200", opts)
	require.NoError(t, err)

	assert.Zero(t, f.fake.TotalCalls())
	assert.Equal(t, []grouping.Unit{{Distance: "euclidean", Threshold: 1}, {Distance: "euclidean", Threshold: 3}}, res.Planned)
	assert.Equal(t, 1, res.Skipped)

	_, err = os.Stat(f.catalog.Path())
	assert.True(t, os.IsNotExist(err), "catalog not written in dry run")
}

func TestRun_NothingPendingSkipsLoad(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.catalog.AddProgress("ECG200", "ECG200 euclidean 0.1"))

	res, err := f.sched.Run(context.Background(), "ECG200", sweepOpts(0.1, 0.2, "euclidean"))
	require.NoError(t, err)

	assert.Zero(t, f.fake.Calls(engine.OpLoadDataset))
	assert.Empty(t, res.SweepPath)
}
