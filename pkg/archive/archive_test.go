package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/genexbench/pkg/archive"
)

type memRemote struct {
	mu   sync.Mutex
	objs map[string][]byte
	err  error
}

func (m *memRemote) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	if m.objs == nil {
		m.objs = make(map[string][]byte)
	}

	m.objs[key] = append([]byte(nil), data...)

	return nil
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
}

func TestSnapshot_RoundTripsAndMirrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "ECG200.json")
	payload := []byte(`{"euclidean":[{"query":{"index":3,"start":10,"end":40,"outside":0}}]}`)
	require.NoError(t, os.WriteFile(src, payload, 0o600))

	remote := &memRemote{}
	a := archive.New(filepath.Join(dir, "archive"), nil, archive.WithRemote(remote), archive.WithClock(fixedClock))

	written, err := a.Snapshot(context.Background(), "ECG200", []string{src, filepath.Join(dir, "missing.json")})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "archive", "ECG200", "ECG200.json.20240506T070809Z.lz4")}, written)

	restored, err := archive.Restore(written[0])
	require.NoError(t, err)
	assert.Equal(t, payload, restored)

	assert.Contains(t, remote.objs, "ECG200/ECG200.json.20240506T070809Z.lz4")
}

func TestSnapshot_RemoteFailureKeepsLocalCopy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "ECG200.json")
	require.NoError(t, os.WriteFile(src, []byte("{}"), 0o600))

	errDown := errors.New("bucket unreachable")
	a := archive.New(filepath.Join(dir, "archive"), nil, archive.WithRemote(&memRemote{err: errDown}))

	_, err := a.Snapshot(context.Background(), "ECG200", []string{src})
	require.ErrorIs(t, err, errDown)

	matches, globErr := filepath.Glob(filepath.Join(dir, "archive", "ECG200", "*.lz4"))
	require.NoError(t, globErr)
	assert.Len(t, matches, 1)
}

func TestSnapshot_NilArchiver(t *testing.T) {
	t.Parallel()

	var a *archive.Archiver

	written, err := a.Snapshot(context.Background(), "ECG200", []string{"x"})
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestNewS3(t *testing.T) {
	t.Parallel()

	_, err := archive.NewS3(archive.S3Config{Endpoint: "localhost:9000"})
	require.ErrorIs(t, err, archive.ErrNoBucket)

	s3, err := archive.NewS3(archive.S3Config{
		Endpoint:        "localhost:9000",
		Bucket:          "ledgers",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.NotNil(t, s3)
}
