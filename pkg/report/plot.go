package report

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/Sumatoshi-tech/genexbench/pkg/experiment"
	"github.com/Sumatoshi-tech/genexbench/pkg/ledger"
)

const chartHeight = "480px"

// ErrNothingToPlot is returned when a dataset has no recorded result.
var ErrNothingToPlot = errors.New("no results to plot")

// Plot writes an HTML page for dataset: the mean accuracy against extent of
// each genex threshold, and the mean query time of each method.
func Plot(w io.Writer, experimentRoot, dataset string, k int) error {
	results, err := ledger.Open(experimentRoot, dataset)
	if err != nil {
		return err
	}

	curves, err := ledger.Open(experimentRoot, experiment.CurveLedgerName(dataset, k))
	if err != nil {
		return err
	}

	if len(results.Distances()) == 0 && len(curves.Distances()) == 0 {
		return fmt.Errorf("%w: %s", ErrNothingToPlot, dataset)
	}

	page := components.NewPage()
	page.PageTitle = dataset

	for _, d := range curves.Distances() {
		page.AddCharts(accuracyChart(dataset, d, curves))
	}

	for _, d := range results.Distances() {
		page.AddCharts(timingChart(dataset, d, results))
	}

	err = page.Render(w)
	if err != nil {
		return fmt.Errorf("render plot of %s: %w", dataset, err)
	}

	return nil
}

func accuracyChart(dataset, distance string, curves *ledger.Store) *charts.Line {
	byTag := make(map[string][][]float64)
	points := 0

	for _, rec := range curves.Records(distance) {
		for _, tag := range rec.Methods() {
			e, _ := rec.Entry(tag)
			if e.Kind != ledger.KindCurve {
				continue
			}

			byTag[tag] = append(byTag[tag], e.Curve)
			points = max(points, len(e.Curve))
		}
	}

	labels := make([]string, points)
	for i := range labels {
		labels[i] = strconv.FormatFloat(float64(i+1)/10, 'f', 1, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: dataset + " k-NN accuracy", Subtitle: distance}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "extent"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "accuracy"}),
	)
	line.SetXAxis(labels)

	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}

	slices.Sort(tags)

	for _, tag := range tags {
		data := make([]opts.LineData, points)
		for i := range data {
			data[i] = opts.LineData{Value: meanAt(byTag[tag], i)}
		}

		line.AddSeries(tag, data)
	}

	return line
}

// meanAt averages point i over the curves long enough to have it.
func meanAt(curves [][]float64, i int) float64 {
	var xs []float64

	for _, c := range curves {
		if i < len(c) {
			xs = append(xs, c[i])
		}
	}

	if len(xs) == 0 {
		return 0
	}

	return stat.Mean(xs, nil)
}

func timingChart(dataset, distance string, results *ledger.Store) *charts.Bar {
	elapsed := make(map[string][]float64)

	for _, rec := range results.Records(distance) {
		for _, m := range rec.Methods() {
			e, _ := rec.Entry(m)
			if e.Kind == ledger.KindMatches {
				elapsed[m] = append(elapsed[m], e.Elapsed)
			}
		}
	}

	methods := make([]string, 0, len(elapsed))
	for m := range elapsed {
		methods = append(methods, m)
	}

	slices.Sort(methods)

	data := make([]opts.BarData, len(methods))
	for i, m := range methods {
		data[i] = opts.BarData{Value: stat.Mean(elapsed[m], nil)}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: dataset + " mean query time", Subtitle: distance}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	bar.SetXAxis(methods).AddSeries("mean", data)

	return bar
}
