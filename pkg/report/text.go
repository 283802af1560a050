package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

func writeText(w io.Writer, st Status, colored bool) error {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Dataset", "Subsequences", "Queries", "Distance", "Method", "Done", "Mean time", "Accuracy"})

	paint := newPainter(colored)
	rows := 0

	for _, ds := range st.Datasets {
		head := table.Row{ds.Name, humanize.Comma(ds.Subsequence), ds.Queries}

		for _, group := range [][]DistanceStatus{ds.Results, ds.Curves} {
			for _, d := range group {
				for _, m := range d.Methods {
					tbl.AppendRow(append(head, d.Distance, m.Method,
						paint.progress(m.Done, ds.Queries),
						strconv.FormatFloat(m.MeanElapsed, 'f', 3, 64)+"s",
						accuracy(m)))

					rows++
				}
			}
		}

		if len(ds.Grouped) > 0 {
			tbl.AppendRow(append(head, "", "group", paint.ok(strconv.Itoa(len(ds.Grouped))+" thresholds"), "", ""))

			rows++
		}

		if len(ds.Results) == 0 && len(ds.Curves) == 0 && len(ds.Grouped) == 0 {
			tbl.AppendRow(append(head, "", "", paint.pending("not started"), "", ""))

			rows++
		}
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d dataset(s)", len(st.Datasets)), "", "", "", "", strconv.Itoa(rows) + " rows"})
	tbl.Render()

	return nil
}

func accuracy(m MethodStatus) string {
	if m.MeanScore == 0 {
		return ""
	}

	return strconv.FormatFloat(m.MeanScore, 'f', 3, 64)
}

// painter colors progress cells: green when complete, yellow when partial.
type painter struct {
	green  *color.Color
	yellow *color.Color
}

func newPainter(colored bool) painter {
	p := painter{green: color.New(color.FgGreen), yellow: color.New(color.FgYellow)}
	if colored {
		p.green.EnableColor()
		p.yellow.EnableColor()
	} else {
		p.green.DisableColor()
		p.yellow.DisableColor()
	}

	return p
}

func (p painter) ok(s string) string      { return p.green.Sprint(s) }
func (p painter) pending(s string) string { return p.yellow.Sprint(s) }

func (p painter) progress(done, total int) string {
	s := strconv.Itoa(done)
	if total > 0 {
		s += "/" + strconv.Itoa(total)
	}

	if total > 0 && done >= total {
		return p.ok(s)
	}

	return p.pending(s)
}
