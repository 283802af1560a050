package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/genexbench/cmd/genexbench/commands"
	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/config"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine/enginetest"
	"github.com/Sumatoshi-tech/genexbench/pkg/report"
)

type workspace struct {
	dir      string
	config   string
	dataRoot string
	catalog  string
	fake     *enginetest.Fake
}

// newWorkspace writes a config rooted in a temp dir and registers ECG200
// and its sibling with a fake engine.
func newWorkspace(t *testing.T) *workspace {
	t.Helper()

	dir := t.TempDir()
	ws := &workspace{
		dir:      dir,
		config:   filepath.Join(dir, "genexbench.yaml"),
		dataRoot: filepath.Join(dir, "datasets"),
		catalog:  filepath.Join(dir, "groups", "grouping_records.json"),
		fake:     enginetest.New(),
	}

	yaml := fmt.Sprintf(`paths:
  dataset_root: %q
  groups_root: %q
  experiment_root: %q
  catalog: %q
experiment:
  seed: 7
`, ws.dataRoot, filepath.Join(dir, "groups"), filepath.Join(dir, "experiments"), ws.catalog)
	require.NoError(t, os.WriteFile(ws.config, []byte(yaml), 0o600))

	info := engine.DatasetInfo{Count: 100, Length: 96}
	ws.fake.AddFile(catalog.DataFile(ws.dataRoot, "ECG200"), info)
	ws.fake.AddFile(catalog.SiblingFile(ws.dataRoot, "ECG200"), info)

	return ws
}

func (ws *workspace) writeCatalog(t *testing.T) {
	t.Helper()

	cat, err := catalog.Open(ws.catalog)
	require.NoError(t, err)

	cat.Put("ECG200", 100, 96)
	cat.Put(catalog.SiblingName("ECG200"), 100, 96)
	require.NoError(t, cat.Save())
}

func (ws *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := commands.NewRootCommand(commands.WithEngine(ws.fake), commands.WithLogOutput(io.Discard))

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", ws.config}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	root := commands.NewRootCommand()

	for _, name := range []string{"extract", "bruteforce", "paa", "genex", "group", "status", "plot", "version"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cmd, _, err := root.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, cmd.Name())
		})
	}
}

func TestMethodCommand_FlagDefaults(t *testing.T) {
	t.Parallel()

	cmd, _, err := commands.NewRootCommand().Find([]string{"bruteforce"})
	require.NoError(t, err)

	k, err := cmd.Flags().GetInt("k")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultK, k)

	nQuery, err := cmd.Flags().GetInt("nquery")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultNQuery, nQuery)

	lo, err := cmd.Flags().GetInt64("subseq-count-min")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), lo)

	hi, err := cmd.Flags().GetInt64("subseq-count-max")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), hi)

	for _, name := range []string{"dist", "dry-run", "email-addr", "metrics-addr"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag --%s should be registered", name)
	}
}

func TestGroupCommand_FlagDefaults(t *testing.T) {
	t.Parallel()

	cmd, _, err := commands.NewRootCommand().Find([]string{"group"})
	require.NoError(t, err)

	from, err := cmd.Flags().GetFloat64("from-st")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, from, 1e-9)

	to, err := cmd.Flags().GetFloat64("to-st")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, to, 1e-9)

	threads, err := cmd.Flags().GetInt("threads")
	require.NoError(t, err)
	assert.Equal(t, 15, threads)

	assert.NotNil(t, cmd.Flags().Lookup("start-over"))
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)

	out, err := ws.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "genexbench")
}

func TestExtractCommand_WritesCatalog(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	require.NoError(t, os.MkdirAll(ws.dataRoot, 0o750))
	require.NoError(t, os.WriteFile(catalog.DataFile(ws.dataRoot, "ECG200"), nil, 0o600))
	require.NoError(t, os.WriteFile(catalog.SiblingFile(ws.dataRoot, "ECG200"), nil, 0o600))

	out, err := ws.run(t, "extract")
	require.NoError(t, err)
	assert.Contains(t, out, "2 dataset file(s)")

	cat, err := catalog.Open(ws.catalog)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())

	ds, ok := cat.Get("ECG200")
	require.True(t, ok)
	assert.Equal(t, int64(100), ds.Count)
	assert.Equal(t, 0, ws.fake.LoadedNames())
}

func TestBruteforceCommand_ResumesToNoOp(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.writeCatalog(t)

	_, err := ws.run(t, "bruteforce", "--nquery", "4", "--k", "3")
	require.NoError(t, err)
	assert.Equal(t, 4, ws.fake.Calls(engine.OpQueryBruteforce))

	before := ws.fake.TotalCalls()

	_, err = ws.run(t, "bruteforce", "--nquery", "4", "--k", "3")
	require.NoError(t, err)
	assert.Equal(t, before, ws.fake.TotalCalls())
}

func TestBruteforceCommand_DryRunPrintsPlan(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.writeCatalog(t)

	out, err := ws.run(t, "bruteforce", "--dry-run", "--nquery", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "ECG200")
	assert.Zero(t, ws.fake.TotalCalls())
}

func TestBruteforceCommand_BoundsExcludeDataset(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.writeCatalog(t)

	_, err := ws.run(t, "bruteforce", "--nquery", "2", "--subseq-count-max", "10")
	require.NoError(t, err)
	assert.Zero(t, ws.fake.TotalCalls())
}

func TestMethodCommand_InvalidK(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.writeCatalog(t)

	_, err := ws.run(t, "paa", "--k", "0")
	require.ErrorIs(t, err, config.ErrInvalidK)
	assert.Zero(t, ws.fake.TotalCalls())
}

func TestGroupCommand_DryRunListsUnits(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.writeCatalog(t)

	out, err := ws.run(t, "group", "--dry-run", "--from-st", "0.1", "--to-st", "0.3")
	require.NoError(t, err)
	assert.Contains(t, out, "euclidean 0.1")
	assert.Contains(t, out, "euclidean 0.2")
	assert.NotContains(t, out, "euclidean 0.3")
	assert.Zero(t, ws.fake.TotalCalls())
}

func TestGroupCommand_RecordsProgress(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.writeCatalog(t)

	_, err := ws.run(t, "group", "--from-st", "0.1", "--to-st", "0.3")
	require.NoError(t, err)
	assert.Equal(t, 2, ws.fake.Calls(engine.OpBuildGrouping))

	cat, err := catalog.Open(ws.catalog)
	require.NoError(t, err)
	assert.True(t, cat.HasProgress("ECG200", "ECG200 euclidean 0.1"))
	assert.True(t, cat.HasProgress("ECG200", "ECG200 euclidean 0.2"))
}

func TestStatusCommand_JSON(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.writeCatalog(t)

	_, err := ws.run(t, "bruteforce", "--nquery", "3")
	require.NoError(t, err)

	out, err := ws.run(t, "status", "--format", "json")
	require.NoError(t, err)

	var st report.Status

	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Len(t, st.Datasets, 1)
	assert.Equal(t, "ECG200", st.Datasets[0].Name)
	assert.Equal(t, 3, st.Datasets[0].Queries)
}

func TestStatusCommand_UnknownFormat(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.writeCatalog(t)

	_, err := ws.run(t, "status", "--format", "xml")
	require.ErrorIs(t, err, report.ErrUnknownFormat)
}

func TestPlotCommand_WritesPage(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	ws.writeCatalog(t)

	_, err := ws.run(t, "bruteforce", "--nquery", "3")
	require.NoError(t, err)

	page := filepath.Join(ws.dir, "ECG200.html")

	out, err := ws.run(t, "plot", "ECG200", "--out", page)
	require.NoError(t, err)
	assert.Contains(t, out, page)

	data, err := os.ReadFile(page)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ECG200")
}

func TestPlotCommand_NothingRecorded(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	page := filepath.Join(ws.dir, "empty.html")

	_, err := ws.run(t, "plot", "ECG200", "--out", page)
	require.ErrorIs(t, err, report.ErrNothingToPlot)
	assert.NoFileExists(t, page)
}
