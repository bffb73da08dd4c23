package api

import (
	"bytes"
	"encoding/json"

	"github.com/utafrali/storefront/internal/domain"
)

// maxDataDepth bounds how far nested data wrappers are followed.
const maxDataDepth = 4

// Response shapes recognised by DecodeCount, in probe order.
const (
	ShapeNumber   = "number"
	ShapeCount    = "count"
	ShapeEnvelope = "envelope"
	ShapeData     = "data"
	ShapeFallback = "fallback"
)

type countMatcher struct {
	shape string
	match func(v any, depth int) (domain.Count, bool)
}

// countMatchers is the fixed probe order for count responses. It is filled
// in init because the data matchers recurse through decodeCount.
var countMatchers []countMatcher

func init() {
	countMatchers = []countMatcher{
		{ShapeNumber, matchNumber},
		{ShapeCount, matchCountField},
		{ShapeEnvelope, matchEnvelope},
		{ShapeData, matchData},
	}
}

// DecodeCountBody parses a JSON body and decodes the count it carries.
func DecodeCountBody(body []byte) (domain.Count, string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, "", err
	}
	n, shape := DecodeCount(v)
	return n, shape, nil
}

// DecodeCount extracts a count from a decoded JSON value. The accepted shapes
// are tried in order: a bare number, {count}, {success: true, data},
// {data}. data may be a number, a numeric string or another object decoded
// the same way. Anything else yields 0 with ShapeFallback.
func DecodeCount(v any) (domain.Count, string) {
	return decodeCount(v, 0)
}

func decodeCount(v any, depth int) (domain.Count, string) {
	for _, m := range countMatchers {
		if n, ok := m.match(v, depth); ok {
			return n, m.shape
		}
	}
	return 0, ShapeFallback
}

func matchNumber(v any, _ int) (domain.Count, bool) {
	switch v.(type) {
	case json.Number, float64:
		return domain.ParseCountOK(v)
	default:
		return 0, false
	}
}

func matchCountField(v any, _ int) (domain.Count, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	raw, ok := obj["count"]
	if !ok {
		return 0, false
	}
	return domain.ParseCountOK(raw)
}

func matchEnvelope(v any, depth int) (domain.Count, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	if success, _ := obj["success"].(bool); !success {
		return 0, false
	}
	return dataValue(obj, depth)
}

func matchData(v any, depth int) (domain.Count, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	return dataValue(obj, depth)
}

func dataValue(obj map[string]any, depth int) (domain.Count, bool) {
	data, ok := obj["data"]
	if !ok || data == nil {
		return 0, false
	}
	if nested, isObj := data.(map[string]any); isObj {
		if depth >= maxDataDepth {
			return 0, false
		}
		n, shape := decodeCount(nested, depth+1)
		return n, shape != ShapeFallback
	}
	return domain.ParseCountOK(data)
}
