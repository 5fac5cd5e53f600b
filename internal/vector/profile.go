package vector

import "strings"

// OptimizationProfile selects a fixed collection parameter table.
type OptimizationProfile string

const (
	ProfileCloudLowLatency  OptimizationProfile = "cloud-low-latency"
	ProfileCloudBalanced    OptimizationProfile = "cloud-balanced"
	ProfileCloudLargeScale  OptimizationProfile = "cloud-large-scale"
	ProfileLocalDevelopment OptimizationProfile = "local-development"
)

// DefaultProfile is used when the configured profile is unknown.
const DefaultProfile = ProfileCloudBalanced

// Profiles lists every supported profile.
var Profiles = []OptimizationProfile{
	ProfileCloudLowLatency,
	ProfileCloudBalanced,
	ProfileCloudLargeScale,
	ProfileLocalDevelopment,
}

// ParseProfile maps a configuration string to a profile, falling back to DefaultProfile.
func ParseProfile(s string) OptimizationProfile {
	p := OptimizationProfile(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Profiles {
		if p == known {
			return p
		}
	}
	return DefaultProfile
}

// HNSWParams are the HNSW index parameters of a collection.
type HNSWParams struct {
	M                 uint64 `json:"m"`
	EfConstruct       uint64 `json:"ef_construct"`
	FullScanThreshold uint64 `json:"full_scan_threshold"`
	OnDisk            bool   `json:"on_disk"`
}

// OptimizerParams are the segment optimizer parameters of a collection.
type OptimizerParams struct {
	DeletedThreshold      float64 `json:"deleted_threshold"`
	VacuumMinVectorNumber uint64  `json:"vacuum_min_vector_number"`
	DefaultSegmentNumber  uint64  `json:"default_segment_number"`
	IndexingThreshold     uint64  `json:"indexing_threshold"`
	MemmapThreshold       uint64  `json:"memmap_threshold"`
	FlushIntervalSec      uint64  `json:"flush_interval_sec"`
}

// CollectionSpec is the full description of a collection: vector schema,
// HNSW and optimizer parameters.
type CollectionSpec struct {
	Name         string              `json:"name"`
	Distance     Distance            `json:"distance"`
	Profile      OptimizationProfile `json:"profile"`
	HNSW         HNSWParams          `json:"hnsw"`
	Optimizer    OptimizerParams     `json:"optimizer"`
	VectorSize   uint64              `json:"vector_size"`
	VectorOnDisk bool                `json:"vector_on_disk"`
}

type profileTable struct {
	hnsw         HNSWParams
	optimizer    OptimizerParams
	vectorOnDisk bool
}

// Every row keeps m, ef_construct and the indexing threshold in proportion:
// larger graphs get larger segments and a later indexing threshold.
var profileTables = map[OptimizationProfile]profileTable{
	ProfileCloudLowLatency: {
		hnsw: HNSWParams{M: 32, EfConstruct: 256, FullScanThreshold: 10000},
		optimizer: OptimizerParams{
			DeletedThreshold: 0.2, VacuumMinVectorNumber: 1000, DefaultSegmentNumber: 4,
			IndexingThreshold: 10000, MemmapThreshold: 0, FlushIntervalSec: 5,
		},
	},
	ProfileCloudBalanced: {
		hnsw: HNSWParams{M: 16, EfConstruct: 128, FullScanThreshold: 10000},
		optimizer: OptimizerParams{
			DeletedThreshold: 0.2, VacuumMinVectorNumber: 1000, DefaultSegmentNumber: 2,
			IndexingThreshold: 20000, MemmapThreshold: 50000, FlushIntervalSec: 5,
		},
	},
	ProfileCloudLargeScale: {
		hnsw: HNSWParams{M: 16, EfConstruct: 100, FullScanThreshold: 20000, OnDisk: true},
		optimizer: OptimizerParams{
			DeletedThreshold: 0.1, VacuumMinVectorNumber: 10000, DefaultSegmentNumber: 8,
			IndexingThreshold: 50000, MemmapThreshold: 20000, FlushIntervalSec: 10,
		},
		vectorOnDisk: true,
	},
	ProfileLocalDevelopment: {
		hnsw: HNSWParams{M: 8, EfConstruct: 64, FullScanThreshold: 1000},
		optimizer: OptimizerParams{
			DeletedThreshold: 0.3, VacuumMinVectorNumber: 100, DefaultSegmentNumber: 1,
			IndexingThreshold: 1000, MemmapThreshold: 0, FlushIntervalSec: 1,
		},
	},
}

// ProfileSpec builds the collection spec for a profile.
func ProfileSpec(profile OptimizationProfile, name string, vectorSize int, distance Distance) CollectionSpec {
	table, ok := profileTables[profile]
	if !ok {
		profile = DefaultProfile
		table = profileTables[DefaultProfile]
	}
	if distance == "" {
		distance = DistanceCosine
	}
	return CollectionSpec{
		Name:         name,
		VectorSize:   uint64(vectorSize),
		Distance:     distance,
		Profile:      profile,
		HNSW:         table.hnsw,
		Optimizer:    table.optimizer,
		VectorOnDisk: table.vectorOnDisk,
	}
}

// IndexSpec names a payload field that must carry an index.
type IndexSpec struct {
	Field string
	Type  FieldType
}

// requiredIndexes is the fixed list of filterable payload fields.
// The metadata.* entries cover records written with the nested v1 layout.
var requiredIndexes = []IndexSpec{
	{Field: "tool_name", Type: FieldKeyword},
	{Field: "user_email", Type: FieldKeyword},
	{Field: "user_id", Type: FieldKeyword},
	{Field: "session_id", Type: FieldKeyword},
	{Field: "payload_type", Type: FieldKeyword},
	{Field: "timestamp", Type: FieldDatetime},
	{Field: "timestamp_unix", Type: FieldInteger},
	{Field: "execution_time_ms", Type: FieldInteger},
	{Field: "compressed", Type: FieldBool},
	{Field: "service", Type: FieldKeyword},
	{Field: "metadata.tool_name", Type: FieldKeyword},
	{Field: "metadata.user_email", Type: FieldKeyword},
}

// RequiredIndexes returns a copy of the payload indexes every collection needs.
func RequiredIndexes() []IndexSpec {
	out := make([]IndexSpec, len(requiredIndexes))
	copy(out, requiredIndexes)
	return out
}

// MissingIndexes returns the required indexes absent from an existing payload schema.
func MissingIndexes(schema map[string]string) []IndexSpec {
	var missing []IndexSpec
	for _, idx := range requiredIndexes {
		if _, ok := schema[idx.Field]; !ok {
			missing = append(missing, idx)
		}
	}
	return missing
}
