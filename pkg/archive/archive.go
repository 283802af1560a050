// Package archive keeps compressed, timestamped snapshots of result ledgers
// and grouping sweep files, optionally mirrored to an S3-compatible bucket.
// The local files stay the system of record: archive failures are reported
// to the caller to log, never to abort a run.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/genexbench/pkg/persist"
)

const stampLayout = "20060102T150405Z"

// Remote receives a copy of every snapshot.
type Remote interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Archiver writes snapshots under Dir/<dataset>/.
type Archiver struct {
	dir    string
	remote Remote
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithRemote mirrors snapshots to r.
func WithRemote(r Remote) Option {
	return func(a *Archiver) { a.remote = r }
}

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// New returns an Archiver rooted at dir. A nil *Archiver archives nothing.
func New(dir string, logger *slog.Logger, opts ...Option) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Archiver{dir: dir, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Snapshot archives each existing file in paths and returns the snapshot
// paths written. Missing files are skipped.
func (a *Archiver) Snapshot(ctx context.Context, dataset string, paths []string) ([]string, error) {
	if a == nil {
		return nil, nil
	}

	stamp := a.now().UTC().Format(stampLayout)

	var (
		written []string
		errs    []error
	)

	for _, src := range paths {
		if !persist.Exists(src) {
			continue
		}

		dst, err := a.snapshot(ctx, dataset, src, stamp)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		written = append(written, dst)
	}

	return written, errors.Join(errs...)
}

func (a *Archiver) snapshot(ctx context.Context, dataset, src, stamp string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src, err)
	}

	name := filepath.Base(src) + "." + stamp + lz4Extension
	dst := filepath.Join(a.dir, dataset, name)

	err = persist.SaveFile(dst, lz4Codec{}, data)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", src, err)
	}

	a.logger.InfoContext(ctx, "archived ledger",
		slog.String("dataset", dataset), slog.String("snapshot", dst), slog.String("size", humanize.Bytes(uint64(len(data)))))

	if a.remote == nil {
		return dst, nil
	}

	compressed, err := os.ReadFile(dst)
	if err != nil {
		return dst, fmt.Errorf("read snapshot %s: %w", dst, err)
	}

	err = a.remote.Put(ctx, path.Join(dataset, name), compressed)
	if err != nil {
		return dst, err
	}

	return dst, nil
}

// Restore returns the uncompressed contents of a snapshot.
func Restore(snapshot string) ([]byte, error) {
	var data []byte

	err := persist.LoadFile(snapshot, lz4Codec{}, &data)
	if err != nil {
		return nil, err
	}

	return data, nil
}
