package schedule_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/schedule"
)

type fixedSource map[string]int64

func (f fixedSource) Names() []string {
	out := make([]string, 0, len(f))
	for name := range f {
		out = append(out, name)
	}

	return out
}

func (f fixedSource) Get(name string) (catalog.Dataset, bool) {
	n, ok := f[name]

	return catalog.Dataset{Subsequence: n}, ok
}

var counts = fixedSource{
	"fifty":       50,
	"ten":         10,
	"twohundred":  200,
	"seventyfive": 75,
	"ten_out":     1,
}

func TestOrder_AscendingBySubsequence(t *testing.T) {
	t.Parallel()

	got := schedule.Order(counts, schedule.Unbounded)
	assert.Equal(t, []string{"ten", "fifty", "seventyfive", "twohundred"}, got)
}

func TestOrder_Bounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		bounds schedule.Bounds
		want   []string
	}{
		{"min only", schedule.Bounds{Min: 60, Max: -1}, []string{"seventyfive", "twohundred"}},
		{"max only", schedule.Bounds{Min: -1, Max: 50}, []string{"ten", "fifty"}},
		{"both inclusive", schedule.Bounds{Min: 50, Max: 75}, []string{"fifty", "seventyfive"}},
		{"empty range", schedule.Bounds{Min: 300, Max: 400}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := schedule.Order(counts, tt.bounds)
			if tt.want == nil {
				assert.Empty(t, got)

				return
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrder_TiesBreakByName(t *testing.T) {
	t.Parallel()

	got := schedule.Order(fixedSource{"b": 5, "a": 5, "c": 1}, schedule.Unbounded)
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestOrder_FromCatalog(t *testing.T) {
	t.Parallel()

	c, err := catalog.Open(filepath.Join(t.TempDir(), "info.json"))
	require.NoError(t, err)

	c.Put("Big", 10, 100)
	c.Put("Small", 2, 10)
	c.Put("Small_out", 2, 10)

	assert.Equal(t, []string{"Small", "Big"}, schedule.Order(c, schedule.Unbounded))
}
