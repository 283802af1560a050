package batch

import (
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/genexbench/pkg/experiment"
	"github.com/Sumatoshi-tech/genexbench/pkg/grouping"
)

// Title returns the human name of a method as it appears in notifications.
func Title(method string) string {
	switch method {
	case string(experiment.Bruteforce):
		return "Brute force"
	case string(experiment.PAA):
		return "PAA"
	case string(experiment.Genex):
		return "GENEX"
	case grouping.Method:
		return "Grouping"
	default:
		return method
	}
}

// Summary is the outcome of one batch. Exactly one of Experiments and
// Groupings is filled, one entry per dataset processed.
type Summary struct {
	Method      string
	DryRun      bool
	Experiments []experiment.Result
	Groupings   []grouping.Result
}

// Touched counts the datasets where something was executed.
func (s Summary) Touched() int {
	n := 0

	for _, r := range s.Experiments {
		if r.Executed > 0 {
			n++
		}
	}

	for _, r := range s.Groupings {
		if len(r.Records) > 0 {
			n++
		}
	}

	return n
}

// Datasets counts the datasets processed.
func (s Summary) Datasets() int {
	return len(s.Experiments) + len(s.Groupings)
}

// Headline is the first line of the success notification.
func (s Summary) Headline() string {
	if s.Method == grouping.Method {
		files := 0
		for _, r := range s.Groupings {
			files += len(r.Records)
		}

		return fmt.Sprintf("Touched %d/%d dataset(s). %d grouping files generated.", s.Touched(), s.Datasets(), files)
	}

	executed := 0
	for _, r := range s.Experiments {
		executed += r.Executed
	}

	return fmt.Sprintf("Touched %d/%d dataset(s). %d queries executed.", s.Touched(), s.Datasets(), executed)
}

// Body is the success notification text: the headline, then one block per
// dataset.
func (s Summary) Body() string {
	var b strings.Builder

	b.WriteString(s.Headline())
	b.WriteString("\n")

	for _, r := range s.Groupings {
		fmt.Fprintf(&b, "\n%s\n", r.Dataset)

		for _, rec := range r.Records {
			fmt.Fprintf(&b, "[%s, %.1f] - Group count = %d. Elapsed time = %.2f sec.\n",
				rec.Distance, rec.Threshold.Float64(), rec.GroupCount, rec.Duration.Seconds())
		}
	}

	for _, r := range s.Experiments {
		fmt.Fprintf(&b, "\n%s\n", r.Dataset)
		fmt.Fprintf(&b, "Executed = %d. Skipped = %d.", r.Executed, r.Skipped)

		if r.MissingArtifacts > 0 {
			fmt.Fprintf(&b, " Missing group files = %d.", r.MissingArtifacts)
		}

		b.WriteString("\n")
	}

	return b.String()
}

// SuccessSubject is the subject of the success notification.
func (s Summary) SuccessSubject() string {
	return Title(s.Method) + " finished"
}

// FailureSubject is the subject of the failure notification.
func (s Summary) FailureSubject() string {
	return "Error occurred. " + Title(s.Method) + " stopped"
}

// FailureBody is the failure notification text.
func (s Summary) FailureBody(err error) string {
	return Title(s.Method) + " stopped - " + err.Error()
}
