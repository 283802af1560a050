// Package catalog holds the dataset catalog: one JSON object keyed by dataset
// name with each dataset's shape and, for the grouping sweep, the tags of
// completed (distance, threshold) units.
package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/genexbench/pkg/persist"
)

// SiblingSuffix marks the out-of-distribution sibling of a dataset.
const SiblingSuffix = "_out"

// Dataset file suffixes under the dataset root.
const (
	DataSuffix  = "_DATA"
	QuerySuffix = "_QUERY"
)

// Sentinel errors for catalog operations.
var (
	ErrCorrupt        = errors.New("corrupt catalog")
	ErrUnknownDataset = errors.New("dataset not in catalog")
	ErrMissingSibling = errors.New("out-of-distribution sibling not in catalog")
)

// Dataset describes one extracted dataset.
type Dataset struct {
	Count       int64    `json:"count"`
	Length      int64    `json:"length"`
	Subsequence int64    `json:"subsequence"`
	Progress    []string `json:"progress,omitempty"`
}

// SubsequenceCount returns count*length*(length-1)/2, the number of
// contiguous slices with at least two points.
func SubsequenceCount(count, length int64) int64 {
	return count * length * (length - 1) / 2
}

// SiblingName returns the catalog key of name's out-of-distribution sibling.
func SiblingName(name string) string {
	return name + SiblingSuffix
}

// IsSibling reports whether name is an out-of-distribution sibling entry.
func IsSibling(name string) bool {
	return strings.HasSuffix(name, SiblingSuffix)
}

// DataFile is the file of dataset name under root.
func DataFile(root, name string) string {
	return filepath.Join(root, name+DataSuffix)
}

// SiblingFile is the file holding the out-of-distribution sibling of name.
func SiblingFile(root, name string) string {
	return filepath.Join(root, name+QuerySuffix)
}

// Catalog is the in-memory view of the catalog file.
type Catalog struct {
	persister *persist.Persister[map[string]*Dataset]
	datasets  map[string]*Dataset
}

// Open reads the catalog at path. A missing file yields an empty catalog.
func Open(path string) (*Catalog, error) {
	c := &Catalog{
		persister: persist.NewPersister[map[string]*Dataset](path, &persist.JSONCodec{Indent: "  "}),
		datasets:  make(map[string]*Dataset),
	}

	if !c.persister.Exists() {
		return c, nil
	}

	loaded, err := c.persister.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	for name, ds := range *loaded {
		if ds == nil || ds.Count < 0 || ds.Length < 0 || ds.Subsequence < 0 {
			return nil, fmt.Errorf("%w: entry %q", ErrCorrupt, name)
		}

		c.datasets[name] = ds
	}

	return c, nil
}

// Path returns the backing file.
func (c *Catalog) Path() string {
	return c.persister.Path()
}

// Len returns the number of entries, siblings included.
func (c *Catalog) Len() int {
	return len(c.datasets)
}

// Names lists every entry name in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.datasets))
	for name := range c.datasets {
		out = append(out, name)
	}

	slices.Sort(out)

	return out
}

// Get returns a copy of the entry for name.
func (c *Catalog) Get(name string) (Dataset, bool) {
	ds, ok := c.datasets[name]
	if !ok {
		return Dataset{}, false
	}

	cp := *ds
	cp.Progress = slices.Clone(ds.Progress)

	return cp, true
}

// Pair returns name's entry and its sibling's entry.
func (c *Catalog) Pair(name string) (primary, sibling Dataset, err error) {
	primary, ok := c.Get(name)
	if !ok {
		return Dataset{}, Dataset{}, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}

	sibling, ok = c.Get(SiblingName(name))
	if !ok {
		return Dataset{}, Dataset{}, fmt.Errorf("%w: %s", ErrMissingSibling, name)
	}

	return primary, sibling, nil
}

// Put stores the shape of name, deriving the subsequence count. Progress
// already recorded for name is kept.
func (c *Catalog) Put(name string, count, length int64) {
	ds, ok := c.datasets[name]
	if !ok {
		ds = &Dataset{}
		c.datasets[name] = ds
	}

	ds.Count = count
	ds.Length = length
	ds.Subsequence = SubsequenceCount(count, length)
}

// HasProgress reports whether tag is recorded for name.
func (c *Catalog) HasProgress(name, tag string) bool {
	ds, ok := c.datasets[name]

	return ok && slices.Contains(ds.Progress, tag)
}

// AddProgress records tag for name. Adding a tag twice is a no-op.
func (c *Catalog) AddProgress(name, tag string) error {
	ds, ok := c.datasets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}

	if !slices.Contains(ds.Progress, tag) {
		ds.Progress = append(ds.Progress, tag)
	}

	return nil
}

// ClearProgress drops every progress tag of name.
func (c *Catalog) ClearProgress(name string) {
	if ds, ok := c.datasets[name]; ok {
		ds.Progress = nil
	}
}

// Save rewrites the catalog file atomically.
func (c *Catalog) Save() error {
	err := c.persister.Save(&c.datasets)
	if err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}

	return nil
}
