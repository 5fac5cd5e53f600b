package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in   string
		want OptimizationProfile
	}{
		{"cloud-low-latency", ProfileCloudLowLatency},
		{" Cloud-Large-Scale ", ProfileCloudLargeScale},
		{"local-development", ProfileLocalDevelopment},
		{"", DefaultProfile},
		{"turbo", DefaultProfile},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProfile(tt.in))
		})
	}
}

func TestProfileSpec_Consistency(t *testing.T) {
	for _, p := range Profiles {
		t.Run(string(p), func(t *testing.T) {
			spec := ProfileSpec(p, "tool_responses", 384, DistanceCosine)
			assert.Equal(t, p, spec.Profile)
			assert.Equal(t, uint64(384), spec.VectorSize)
			assert.Positive(t, spec.HNSW.M)
			assert.GreaterOrEqual(t, spec.HNSW.EfConstruct, spec.HNSW.M)
			assert.Positive(t, spec.Optimizer.IndexingThreshold)
			assert.Greater(t, spec.Optimizer.DeletedThreshold, 0.0)
			assert.Less(t, spec.Optimizer.DeletedThreshold, 1.0)
			if spec.VectorOnDisk {
				assert.True(t, spec.HNSW.OnDisk, "on-disk vectors need an on-disk graph")
			}
		})
	}
}

func TestProfileSpec_UnknownFallsBack(t *testing.T) {
	spec := ProfileSpec("nope", "c", 8, "")
	assert.Equal(t, DefaultProfile, spec.Profile)
	assert.Equal(t, DistanceCosine, spec.Distance)
}

func TestMissingIndexes(t *testing.T) {
	all := RequiredIndexes()
	require.NotEmpty(t, all)

	schema := map[string]string{}
	for _, idx := range all {
		schema[idx.Field] = string(idx.Type)
	}
	assert.Empty(t, MissingIndexes(schema))

	delete(schema, "session_id")
	delete(schema, "timestamp_unix")
	missing := MissingIndexes(schema)
	require.Len(t, missing, 2)
	assert.Equal(t, "session_id", missing[0].Field)
	assert.Equal(t, FieldInteger, missing[1].Type)
}

func TestParseDistance(t *testing.T) {
	assert.Equal(t, DistanceCosine, ParseDistance("cosine"))
	assert.Equal(t, DistanceDot, ParseDistance("dot"))
	assert.Equal(t, DistanceEuclid, ParseDistance("euclidean"))
	assert.Equal(t, DistanceCosine, ParseDistance("weird"))
}
