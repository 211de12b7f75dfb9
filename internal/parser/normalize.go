package parser

import (
	"regexp"
	"strings"
)

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
)

// extractFencedJSON returns the contents of the first fenced code block
// tagged "json" (or untagged), per §4.4 layer 2.
func extractFencedJSON(s string) (string, bool) {
	m := fencedJSONRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// extractBraceSubstring takes the substring from the first '{' to the last
// '}', per §4.4 layer 3.
func extractBraceSubstring(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// normalize applies the repair pipeline of §4.4 layer 4: strip fences, fold
// smart quotes to straight, quote unquoted object keys, convert
// single-quoted strings to doubled, strip trailing commas, fold
// True/False/None to true/false/null.
func normalize(s string) string {
	s = stripFences(s)
	s = foldSmartQuotes(s)
	s = foldPythonLiterals(s)
	s = singleToDoubleQuotedStrings(s)
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return s
}

func foldSmartQuotes(s string) string {
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
	return replacer.Replace(s)
}

func foldPythonLiterals(s string) string {
	// Word-boundary replacement so "True" inside an identifier (unlikely in
	// this context but cheap to guard) isn't mangled.
	re := regexp.MustCompile(`\b(True|False|None)\b`)
	return re.ReplaceAllStringFunc(s, func(tok string) string {
		switch tok {
		case "True":
			return "true"
		case "False":
			return "false"
		default:
			return "null"
		}
	})
}

// singleToDoubleQuotedStrings converts 'single quoted' strings to "double
// quoted" ones. This is a best-effort heuristic, not a full tokenizer: it
// only fires when the source has no double-quoted strings at all, which is
// the common case for a Python-dict-literal leak.
func singleToDoubleQuotedStrings(s string) string {
	if strings.Contains(s, `"`) {
		return s
	}
	re := regexp.MustCompile(`'([^']*)'`)
	return re.ReplaceAllString(s, `"$1"`)
}

// foldConfidenceCase lowercases a raw confidence string before validation.
func foldConfidenceCase(raw string) Confidence {
	return Confidence(strings.ToLower(strings.TrimSpace(raw)))
}

// coerceBool accepts a JSON bool or a "true"/"false" string.
func coerceBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	default:
		return false
	}
}
