// Package report summarizes what the ledgers and the catalog record: progress
// tables for the status command and HTML charts for the plot command.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/experiment"
	"github.com/Sumatoshi-tech/genexbench/pkg/ledger"
	"github.com/Sumatoshi-tech/genexbench/pkg/persist"
	"github.com/Sumatoshi-tech/genexbench/pkg/query"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ErrUnknownFormat is returned for an output format other than text, json or yaml.
var ErrUnknownFormat = errors.New("unknown output format")

// MethodStatus counts the recorded results of one method.
type MethodStatus struct {
	Method      string  `json:"method" yaml:"method"`
	Done        int     `json:"done" yaml:"done"`
	MeanElapsed float64 `json:"mean_elapsed_sec" yaml:"mean_elapsed_sec"`
	MeanScore   float64 `json:"mean_accuracy,omitempty" yaml:"mean_accuracy,omitempty"`
}

// DistanceStatus groups method counts under one distance.
type DistanceStatus struct {
	Distance string         `json:"distance" yaml:"distance"`
	Methods  []MethodStatus `json:"methods" yaml:"methods"`
}

// DatasetStatus is the progress of one dataset.
type DatasetStatus struct {
	Name        string           `json:"name" yaml:"name"`
	Subsequence int64            `json:"subsequence" yaml:"subsequence"`
	Queries     int              `json:"queries" yaml:"queries"`
	Results     []DistanceStatus `json:"results,omitempty" yaml:"results,omitempty"`
	Curves      []DistanceStatus `json:"curves,omitempty" yaml:"curves,omitempty"`
	Grouped     []string         `json:"grouped,omitempty" yaml:"grouped,omitempty"`
}

// Status is the progress of a set of datasets.
type Status struct {
	Datasets []DatasetStatus `json:"datasets" yaml:"datasets"`
}

// Sources locates what Collect reads.
type Sources struct {
	Catalog        *catalog.Catalog
	Queries        *query.Store
	ExperimentRoot string
	// K selects the k-NN curve ledger.
	K int
}

// Collect reads the progress of names, or of every primary dataset in the
// catalog when names is empty.
func Collect(src Sources, names []string) (Status, error) {
	if len(names) == 0 {
		for _, n := range src.Catalog.Names() {
			if !catalog.IsSibling(n) {
				names = append(names, n)
			}
		}
	}

	var st Status

	for _, name := range names {
		ds, ok := src.Catalog.Get(name)
		if !ok {
			return st, fmt.Errorf("%w: %s", catalog.ErrUnknownDataset, name)
		}

		row := DatasetStatus{Name: name, Subsequence: ds.Subsequence, Grouped: ds.Progress}

		if path := src.Queries.Path(name); persist.Exists(path) {
			queries, err := query.ReadFile(path)
			if err != nil {
				return st, err
			}

			row.Queries = len(queries)
		}

		results, err := ledger.Open(src.ExperimentRoot, name)
		if err != nil {
			return st, err
		}

		row.Results = summarize(results)

		curves, err := ledger.Open(src.ExperimentRoot, experiment.CurveLedgerName(name, src.K))
		if err != nil {
			return st, err
		}

		row.Curves = summarize(curves)

		st.Datasets = append(st.Datasets, row)
	}

	return st, nil
}

func summarize(store *ledger.Store) []DistanceStatus {
	var out []DistanceStatus

	for _, d := range store.Distances() {
		elapsed := make(map[string][]float64)
		scores := make(map[string][]float64)

		for _, rec := range store.Records(d) {
			for _, m := range rec.Methods() {
				e, _ := rec.Entry(m)

				switch e.Kind {
				case ledger.KindMatches:
					elapsed[m] = append(elapsed[m], e.Elapsed)
				case ledger.KindCurve:
					elapsed[m] = append(elapsed[m], floats.Sum(e.CurveElapsed))
					scores[m] = append(scores[m], stat.Mean(e.Curve, nil))
				}
			}
		}

		methods := make([]string, 0, len(elapsed))
		for m := range elapsed {
			methods = append(methods, m)
		}

		slices.Sort(methods)

		ds := DistanceStatus{Distance: d}
		for _, m := range methods {
			ms := MethodStatus{Method: m, Done: len(elapsed[m]), MeanElapsed: stat.Mean(elapsed[m], nil)}
			if len(scores[m]) > 0 {
				ms.MeanScore = stat.Mean(scores[m], nil)
			}

			ds.Methods = append(ds.Methods, ms)
		}

		out = append(out, ds)
	}

	return out
}

// Write renders st in format. Colored applies to the text format only.
func Write(w io.Writer, st Status, format string, colored bool) error {
	switch format {
	case FormatText, "":
		return writeText(w, st, colored)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(st)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()

		return enc.Encode(st)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
