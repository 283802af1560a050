package config

// Path defaults, relative to the working directory.
const (
	DefaultDatasetRoot    = "datasets/UCR"
	DefaultGroupsRoot     = "groups"
	DefaultExperimentRoot = "experiments"
	DefaultCatalog        = "groups/grouping_records.json"
)

// Engine defaults. The loader reads comma-separated rows, takes the last
// column as the label and skips the first.
const (
	DefaultEngineCommand = "genex-engine"
	DefaultDelimiter     = ","
	DefaultLabelColumn   = -1
	DefaultSkipColumns   = 1
	DefaultThreads       = 15
)

// Experiment defaults.
const (
	DefaultK            = 15
	DefaultNQuery       = 100
	DefaultDistance     = "euclidean"
	DefaultPAABlockSize = 3
)

// Grouping sweep defaults: thresholds 0.1 up to, not including, 0.6.
const (
	DefaultFromST = 0.1
	DefaultToST   = 0.6
)

// Notification defaults.
const (
	DefaultFromAddr = "noreply@localhost"
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Observability defaults.
const (
	DefaultSampleRatio = 1.0
)
