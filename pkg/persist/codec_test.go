package persist

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testState is a struct for round-trip codec testing.
type testState struct {
	Name   string         `json:"name"`
	Count  int            `json:"count"`
	Values map[string]int `json:"values"`
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()

	original := testState{
		Name:   "test",
		Count:  42,
		Values: map[string]int{"a": 1, "b": 2},
	}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, original))

	var decoded testState

	require.NoError(t, codec.Decode(&buf, &decoded))

	assert.Equal(t, original, decoded)
}

func TestJSONCodec_Extension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".json", NewJSONCodec().Extension())
}

func TestJSONCodec_DefaultIsCompact(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, NewJSONCodec().Encode(&buf, testState{Name: "compact", Count: 1}))

	assert.LessOrEqual(t, strings.Count(buf.String(), "\n"), 1)
}

func TestJSONCodec_Indent(t *testing.T) {
	t.Parallel()

	codec := &JSONCodec{Indent: "  "}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, testState{Name: "pretty", Count: 1}))

	assert.Contains(t, buf.String(), "\n  \"name\"")
}

func TestSaveFile_OverwritesPrevious(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	codec := NewJSONCodec()

	require.NoError(t, SaveFile(path, codec, testState{Name: "first"}))
	require.NoError(t, SaveFile(path, codec, testState{Name: "second"}))

	var got testState

	require.NoError(t, LoadFile(path, codec, &got))
	assert.Equal(t, "second", got.Name)
}

func TestLoadFile_Truncated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"cut`), 0o600))

	var got testState

	err := LoadFile(path, NewJSONCodec(), &got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotExist)
}

func TestExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f")

	assert.False(t, Exists(path))
	assert.False(t, Exists(dir))

	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.True(t, Exists(path))
}
