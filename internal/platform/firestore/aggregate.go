package firestore

import (
	"fmt"

	"cloud.google.com/go/firestore"
	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"
)

// AggregateInt reads an integer aggregate (count or integer sum) from an aggregation result.
func AggregateInt(result firestore.AggregationResult, alias string) (int64, error) {
	raw, ok := result[alias]
	if !ok {
		return 0, fmt.Errorf("firestore: aggregation alias %q missing", alias)
	}
	switch value := raw.(type) {
	case *firestorepb.Value:
		switch v := value.GetValueType().(type) {
		case *firestorepb.Value_IntegerValue:
			return v.IntegerValue, nil
		case *firestorepb.Value_DoubleValue:
			return int64(v.DoubleValue), nil
		case *firestorepb.Value_NullValue:
			return 0, nil
		}
	case int64:
		return value, nil
	}
	return 0, fmt.Errorf("firestore: aggregation alias %q has unexpected type %T", alias, raw)
}

// AggregateFloat reads a numeric sum from an aggregation result. Firestore reports integer sums
// as integers and mixed sums as doubles; empty result sets yield zero.
func AggregateFloat(result firestore.AggregationResult, alias string) (float64, error) {
	raw, ok := result[alias]
	if !ok {
		return 0, fmt.Errorf("firestore: aggregation alias %q missing", alias)
	}
	switch value := raw.(type) {
	case *firestorepb.Value:
		switch v := value.GetValueType().(type) {
		case *firestorepb.Value_IntegerValue:
			return float64(v.IntegerValue), nil
		case *firestorepb.Value_DoubleValue:
			return v.DoubleValue, nil
		case *firestorepb.Value_NullValue:
			return 0, nil
		}
	case float64:
		return value, nil
	case int64:
		return float64(value), nil
	}
	return 0, fmt.Errorf("firestore: aggregation alias %q has unexpected type %T", alias, raw)
}
