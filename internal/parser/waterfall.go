package parser

import "encoding/json"

// candidateSource names where a JSON candidate string came from, for metrics
// (internal/metrics.ParseFallbacks "layer" label).
type candidateSource string

const (
	sourceDirect     candidateSource = "direct"
	sourceFenced     candidateSource = "fenced_json"
	sourceBrace      candidateSource = "brace_substring"
	sourceNormalized candidateSource = "normalized"
	sourceFallback   candidateSource = "fallback"
)

// decodeLayers tries, in order: the whole string, the first fenced JSON
// block, and the first/last brace substring; then retries all three with
// normalize() applied (§4.4 layers 1-4). It returns the first candidate that
// unmarshals into a generic map, along with the layer it came from.
func decodeLayers(raw string) (map[string]interface{}, candidateSource, bool) {
	type attempt struct {
		text   string
		source candidateSource
	}
	var attempts []attempt
	attempts = append(attempts, attempt{raw, sourceDirect})
	if fenced, ok := extractFencedJSON(raw); ok {
		attempts = append(attempts, attempt{fenced, sourceFenced})
	}
	if braced, ok := extractBraceSubstring(raw); ok {
		attempts = append(attempts, attempt{braced, sourceBrace})
	}

	for _, a := range attempts {
		if m, ok := tryUnmarshal(a.text); ok {
			return m, a.source, true
		}
	}
	for _, a := range attempts {
		if m, ok := tryUnmarshal(normalize(a.text)); ok {
			return m, sourceNormalized, true
		}
	}
	return nil, "", false
}

func tryUnmarshal(s string) (map[string]interface{}, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

func str(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func num(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func strSlice(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func nestedMap(m map[string]interface{}, key string) map[string]interface{} {
	v, _ := m[key].(map[string]interface{})
	return v
}
