// Package extract builds the dataset catalog by loading every dataset file
// under the dataset root through the engine once and recording its shape.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
)

// ErrNoDatasets is returned when the dataset root holds no dataset file.
var ErrNoDatasets = errors.New("no dataset files found")

// File is one dataset file found under the root.
type File struct {
	// Entry is the catalog key: the dataset name, or its sibling name for
	// out-of-distribution files.
	Entry string
	Path  string
}

// Scan lists the dataset files under root, sorted by catalog key.
func Scan(root string) ([]File, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	var files []File

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()

		switch {
		case strings.HasSuffix(name, catalog.DataSuffix):
			ds := strings.TrimSuffix(name, catalog.DataSuffix)
			files = append(files, File{Entry: ds, Path: catalog.DataFile(root, ds)})
		case strings.HasSuffix(name, catalog.QuerySuffix):
			ds := strings.TrimSuffix(name, catalog.QuerySuffix)
			files = append(files, File{Entry: catalog.SiblingName(ds), Path: catalog.SiblingFile(root, ds)})
		}
	}

	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Entry, b.Entry) })

	return files, nil
}

// Extractor fills a catalog from dataset files.
type Extractor struct {
	port   engine.Port
	cat    *catalog.Catalog
	opts   engine.LoadOptions
	logger *slog.Logger
	tracer trace.Tracer
}

// New returns an Extractor writing into cat.
func New(port engine.Port, cat *catalog.Catalog, opts engine.LoadOptions, logger *slog.Logger, tracer trace.Tracer) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}

	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	return &Extractor{port: port, cat: cat, opts: opts, logger: logger, tracer: tracer}
}

// Run loads and unloads every file under root and records its shape. The
// catalog is saved after each file; progress tags of re-extracted datasets
// are kept. It returns the number of entries written.
func (x *Extractor) Run(ctx context.Context, root string) (int, error) {
	ctx, span := x.tracer.Start(ctx, "extract.Run", trace.WithAttributes(attribute.String("root", root)))
	defer span.End()

	files, err := Scan(root)
	if err != nil {
		return 0, err
	}

	if len(files) == 0 {
		return 0, fmt.Errorf("%w in %s", ErrNoDatasets, root)
	}

	for i, f := range files {
		x.logger.InfoContext(ctx, "processing dataset file",
			slog.String("dataset", f.Entry), slog.String("progress", fmt.Sprintf("%d/%d", i+1, len(files))))

		info, err := x.extract(ctx, f)
		if err != nil {
			return i, err
		}

		x.cat.Put(f.Entry, info.Count, info.Length)

		err = x.cat.Save()
		if err != nil {
			return i, err
		}

		x.logger.InfoContext(ctx, "recorded dataset shape",
			slog.String("dataset", f.Entry),
			slog.Int64("count", info.Count),
			slog.Int64("length", info.Length),
			slog.String("subsequences", humanize.Comma(catalog.SubsequenceCount(info.Count, info.Length))))
	}

	return len(files), nil
}

func (x *Extractor) extract(ctx context.Context, f File) (info engine.DatasetInfo, err error) {
	info, err = x.port.LoadDataset(ctx, f.Entry, f.Path, x.opts)
	if err != nil {
		return info, fmt.Errorf("load %s: %w", f.Path, err)
	}

	defer func() {
		unloadErr := x.port.UnloadDataset(context.WithoutCancel(ctx), f.Entry)
		if unloadErr != nil {
			err = errors.Join(err, fmt.Errorf("unload %s: %w", f.Entry, unloadErr))
		}
	}()

	return info, nil
}
