package qdrant

import (
	"fmt"

	qc "github.com/qdrant/go-client/qdrant"

	"github.com/thebtf/vectorcache/internal/vector"
)

func toDistance(d vector.Distance) qc.Distance {
	switch d {
	case vector.DistanceEuclid:
		return qc.Distance_Euclid
	case vector.DistanceDot:
		return qc.Distance_Dot
	case vector.DistanceManhattan:
		return qc.Distance_Manhattan
	default:
		return qc.Distance_Cosine
	}
}

func toFieldType(t vector.FieldType) qc.FieldType {
	switch t {
	case vector.FieldInteger:
		return qc.FieldType_FieldTypeInteger
	case vector.FieldBool:
		return qc.FieldType_FieldTypeBool
	case vector.FieldDatetime:
		return qc.FieldType_FieldTypeDatetime
	case vector.FieldFloat:
		return qc.FieldType_FieldTypeFloat
	default:
		return qc.FieldType_FieldTypeKeyword
	}
}

func toHNSW(p vector.HNSWParams) *qc.HnswConfigDiff {
	return &qc.HnswConfigDiff{
		M:                 qc.PtrOf(p.M),
		EfConstruct:       qc.PtrOf(p.EfConstruct),
		FullScanThreshold: qc.PtrOf(p.FullScanThreshold),
		OnDisk:            qc.PtrOf(p.OnDisk),
	}
}

func toOptimizer(p vector.OptimizerParams) *qc.OptimizersConfigDiff {
	return &qc.OptimizersConfigDiff{
		DeletedThreshold:      qc.PtrOf(p.DeletedThreshold),
		VacuumMinVectorNumber: qc.PtrOf(p.VacuumMinVectorNumber),
		DefaultSegmentNumber:  qc.PtrOf(p.DefaultSegmentNumber),
		IndexingThreshold:     qc.PtrOf(p.IndexingThreshold),
		MemmapThreshold:       qc.PtrOf(p.MemmapThreshold),
		FlushIntervalSec:      qc.PtrOf(p.FlushIntervalSec),
	}
}

func toFilter(f *vector.Filter) *qc.Filter {
	if f.Empty() {
		return nil
	}
	out := &qc.Filter{}
	for _, c := range f.Must {
		out.Must = append(out.Must, toCondition(c))
	}
	for _, c := range f.MustNot {
		out.MustNot = append(out.MustNot, toCondition(c))
	}
	return out
}

func toCondition(c vector.Condition) *qc.Condition {
	if c.Range != nil {
		return qc.NewRange(c.Field, &qc.Range{
			Gte: c.Range.Gte,
			Gt:  c.Range.Gt,
			Lte: c.Range.Lte,
			Lt:  c.Range.Lt,
		})
	}
	switch v := c.Match.(type) {
	case bool:
		return qc.NewMatchBool(c.Field, v)
	case int:
		return qc.NewMatchInt(c.Field, int64(v))
	case int64:
		return qc.NewMatchInt(c.Field, v)
	case string:
		return qc.NewMatch(c.Field, v)
	default:
		return qc.NewMatch(c.Field, fmt.Sprint(v))
	}
}

func fromScored(points []*qc.ScoredPoint) []vector.ScoredPoint {
	out := make([]vector.ScoredPoint, 0, len(points))
	for _, p := range points {
		out = append(out, vector.ScoredPoint{
			ID:      pointIDString(p.GetId()),
			Score:   p.GetScore(),
			Payload: fromPayload(p.GetPayload()),
		})
	}
	return out
}

func fromRetrieved(points []*qc.RetrievedPoint) []vector.ScoredPoint {
	out := make([]vector.ScoredPoint, 0, len(points))
	for _, p := range points {
		out = append(out, vector.ScoredPoint{
			ID:      pointIDString(p.GetId()),
			Payload: fromPayload(p.GetPayload()),
		})
	}
	return out
}

func fromPayload(payload map[string]*qc.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromValue(v)
	}
	return out
}

// fromValue converts a Qdrant payload value into plain Go values. Integers
// come back as int64, doubles as float64.
func fromValue(v *qc.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *qc.Value_NullValue:
		return nil
	case *qc.Value_BoolValue:
		return k.BoolValue
	case *qc.Value_IntegerValue:
		return k.IntegerValue
	case *qc.Value_DoubleValue:
		return k.DoubleValue
	case *qc.Value_StringValue:
		return k.StringValue
	case *qc.Value_ListValue:
		values := k.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = fromValue(item)
		}
		return list
	case *qc.Value_StructValue:
		fields := k.StructValue.GetFields()
		m := make(map[string]any, len(fields))
		for name, item := range fields {
			m[name] = fromValue(item)
		}
		return m
	default:
		return nil
	}
}
