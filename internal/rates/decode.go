package rates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// RateColumn is the key under which the API may nest the mapping, and the
// name of the rate column in the rate artifact.
const RateColumn = "conversion_rate"

// Decode parses a rate payload. Two shapes are accepted:
//
//	{"2023-01-01": 35.0, ...}
//	{"conversion_rate": {"2023-01-01": 35.0, ...}}
func Decode(body []byte) (map[string]float64, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, domain.Schema("Decode: payload is not a JSON object: %v", err)
	}

	if nested, ok := top[RateColumn]; ok && isObject(nested) {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err != nil {
			return nil, domain.Schema("Decode: %s is not a JSON object: %v", RateColumn, err)
		}
		top = inner
	}

	if len(top) == 0 {
		return nil, domain.Schema("Decode: payload contains no rates")
	}

	out := make(map[string]float64, len(top))
	for date, raw := range top {
		rate, err := parseRate(raw)
		if err != nil {
			return nil, domain.Schema("Decode: rate for %q: %v", date, err)
		}
		out[date] = rate
	}
	return out, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// parseRate accepts a JSON number, or a string holding one.
func parseRate(raw json.RawMessage) (float64, error) {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, fmt.Errorf("not numeric: %s", raw)
	}
	f, err := strconv.ParseFloat(num.String(), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not numeric: %s", raw)
	}
	return f, nil
}
