package grouping

import (
	"path/filepath"
	"time"
)

// sweepTimeLayout stamps sweep record files, e.g. 2024_03_01_17_05_09.
const sweepTimeLayout = "2006_01_02_15_04_05"

// Layout names grouping artifacts under a root directory:
//
//	<root>/<dataset>/<distance>/<dataset>_GROUPS_<st>
//	<root>/<dataset>/<distance>/<dataset>_GROUP_SIZES_<st>
//	<root>/<dataset>/<dataset>_records_<timestamp>.csv
type Layout struct {
	Root string
}

// Dir is the directory holding a dataset's artifacts for one distance.
func (l Layout) Dir(dataset, distance string) string {
	return filepath.Join(l.Root, dataset, distance)
}

// GroupsPath is the grouping artifact of one unit.
func (l Layout) GroupsPath(dataset, distance string, st Threshold) string {
	return filepath.Join(l.Dir(dataset, distance), dataset+"_GROUPS_"+st.String())
}

// SizesPath is the size statistics of one unit.
func (l Layout) SizesPath(dataset, distance string, st Threshold) string {
	return filepath.Join(l.Dir(dataset, distance), dataset+"_GROUP_SIZES_"+st.String())
}

// SweepPath is the record file of a sweep started at.
func (l Layout) SweepPath(dataset string, at time.Time) string {
	return filepath.Join(l.Root, dataset, dataset+"_records_"+at.Format(sweepTimeLayout)+".csv")
}

// SweepGlob matches every sweep record file of a dataset.
func (l Layout) SweepGlob(dataset string) string {
	return filepath.Join(l.Root, dataset, dataset+"_records_*.csv")
}

// ProgressTag is the catalog progress entry marking a unit done.
func ProgressTag(dataset, distance string, st Threshold) string {
	return dataset + " " + distance + " " + st.String()
}
