package query_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/genexbench/pkg/query"
)

func TestStore_GeneratesSplitAndPersists(t *testing.T) {
	t.Parallel()

	store := query.NewStore(t.TempDir(), 11, nil)

	queries, err := store.GetOrGenerate("ECG200", 7,
		query.Shape{Count: 100, Length: 96}, query.Shape{Count: 100, Length: 96})
	require.NoError(t, err)
	require.Len(t, queries, 7)

	for i, q := range queries {
		assert.Equal(t, i >= 3, q.Outside, "query %d", i)
	}

	assert.FileExists(t, store.Path("ECG200"))
}

func TestStore_ReusesPersistedFileVerbatim(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	shape := query.Shape{Count: 30, Length: 24}

	first, err := query.NewStore(dir, 1, nil).GetOrGenerate("wafer", 10, shape, shape)
	require.NoError(t, err)

	before, err := os.ReadFile(query.NewStore(dir, 0, nil).Path("wafer"))
	require.NoError(t, err)

	// A different seed must not matter once the file exists.
	second, err := query.NewStore(dir, 999, nil).GetOrGenerate("wafer", 10, shape, shape)
	require.NoError(t, err)

	after, err := os.ReadFile(query.NewStore(dir, 0, nil).Path("wafer"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, after)
}

func TestStore_DegenerateSiblingFails(t *testing.T) {
	t.Parallel()

	store := query.NewStore(t.TempDir(), 3, nil)

	_, err := store.GetOrGenerate("tiny", 4, query.Shape{Count: 5, Length: 50}, query.Shape{Count: 5, Length: 2})
	require.ErrorIs(t, err, query.ErrNoValidSubsequence)
	assert.NoFileExists(t, store.Path("tiny"))
}

func TestStore_ShortFileIsRejected(t *testing.T) {
	t.Parallel()

	store := query.NewStore(t.TempDir(), 5, nil)
	shape := query.Shape{Count: 30, Length: 24}

	// Four generated rows (two inside, two outside) with the last outside row lost.
	short := "index,start,end,outside\n0,1,9,0\n3,0,5,0\n7,2,20,1\n"
	require.NoError(t, os.WriteFile(store.Path("wafer"), []byte(short), 0o600))

	_, err := store.GetOrGenerate("wafer", 4, shape, shape)
	require.ErrorIs(t, err, query.ErrShortFile)

	for _, body := range []string{"index,start,end,outside\n", "index,start,end,outside\n0,1,9,0\n"} {
		require.NoError(t, os.WriteFile(store.Path("wafer"), []byte(body), 0o600))

		_, err = store.GetOrGenerate("wafer", 100, shape, shape)
		require.ErrorIs(t, err, query.ErrShortFile, body)
	}
}

func TestStore_ReusesFileWhateverCountIsAsked(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	shape := query.Shape{Count: 30, Length: 24}

	first, err := query.NewStore(dir, 1, nil).GetOrGenerate("wafer", 5, shape, shape)
	require.NoError(t, err)

	second, err := query.NewStore(dir, 2, nil).GetOrGenerate("wafer", 100, shape, shape)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStore_TornFileIsRejected(t *testing.T) {
	t.Parallel()

	store := query.NewStore(t.TempDir(), 5, nil)
	shape := query.Shape{Count: 30, Length: 24}

	require.NoError(t, os.WriteFile(store.Path("wafer"), []byte("index,start,end,outside\n0,1,9,0\n1,4\n"), 0o600))

	_, err := store.GetOrGenerate("wafer", 2, shape, shape)
	require.ErrorIs(t, err, query.ErrBadRow)
}

func TestWriteFile_ReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "wafer_query.csv")

	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	want := []query.Query{{Index: 0, Start: 2, End: 10}, {Index: 1, Start: 0, End: 8, Outside: true}}
	require.NoError(t, query.WriteFile(path, want))

	got, err := query.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wafer_query.csv", entries[0].Name())
}

func TestReadWrite_Format(t *testing.T) {
	t.Parallel()

	queries := []query.Query{
		{Index: 3, Start: 10, End: 40},
		{Index: 0, Start: 2, End: 9, Outside: true},
	}

	var buf bytes.Buffer

	require.NoError(t, query.Write(&buf, queries))
	assert.Equal(t, "index,start,end,outside\n3,10,40,0\n0,2,9,1\n", buf.String())

	back, err := query.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, queries, back)
}

func TestRead_Rejects(t *testing.T) {
	t.Parallel()

	_, err := query.Read(strings.NewReader("a,b,c,d\n1,2,3,0\n"))
	require.ErrorIs(t, err, query.ErrBadHeader)

	_, err = query.Read(strings.NewReader("index,start,end,outside\n1,x,3,0\n"))
	require.ErrorIs(t, err, query.ErrBadRow)

	_, err = query.Read(strings.NewReader(""))
	require.ErrorIs(t, err, query.ErrBadHeader)
}
