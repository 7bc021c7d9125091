package model

import (
	"encoding/json"
	"math"
)

// Reading is one decoded register value. Bit reinterpretation can yield NaN
// or Inf, which JSON cannot carry, so those marshal as null.
type Reading float32

func (r Reading) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return json.Marshal(float32(r))
}

// cleanJSONData recursively cleans data to ensure it's JSON serializable
func cleanJSONData(data map[string]any) map[string]any {
	cleaned := make(map[string]any)
	for k, v := range data {
		switch val := v.(type) {
		case float64:
			cleaned[k] = cleanFloat(val)
		case float32:
			cleaned[k] = cleanFloat(float64(val))
		case map[string]any:
			cleaned[k] = cleanJSONData(val)
		case []any:
			cleaned[k] = cleanJSONSlice(val)
		default:
			cleaned[k] = v
		}
	}
	return cleaned
}

func cleanJSONSlice(slice []any) []any {
	cleaned := make([]any, len(slice))
	for i, v := range slice {
		switch val := v.(type) {
		case float64:
			cleaned[i] = cleanFloat(val)
		case float32:
			cleaned[i] = cleanFloat(float64(val))
		case map[string]any:
			cleaned[i] = cleanJSONData(val)
		case []any:
			cleaned[i] = cleanJSONSlice(val)
		default:
			cleaned[i] = v
		}
	}
	return cleaned
}

func cleanFloat(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

// ValidateJSON ensures the data can be marshaled to JSON
func ValidateJSON(data map[string]any) ([]byte, error) {
	cleaned := cleanJSONData(data)
	return json.Marshal(cleaned)
}
