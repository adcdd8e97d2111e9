package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const failurePrefix = "failed to interpret structured response: "

var requiredKeys = []string{"icd10_codes", "confidence", "notes"}

var (
	// Python reprs of message blocks, e.g. [{'type': 'text', 'text': '...'}].
	singleQuotedText = regexp.MustCompile(`'text'\s*:\s*'((?:[^'\\]|\\.)*)'`)
	doubleQuotedText = regexp.MustCompile(`'text'\s*:\s*"((?:[^"\\]|\\.)*)"`)
	fences           = regexp.MustCompile("(?i)```json|```|`json|`")
	newlines         = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// Normalize turns a raw model reply into a validated answer. It never panics
// and never returns an error: failures are reported in Result.Failure.
func Normalize(raw any) Result {
	original := stringify(raw)
	payload := stripFences(unwrapText(original))
	obj, err := decodeJSON(payload)
	if err != nil {
		obj, err = decode(unescape(payload))
	}
	if err != nil {
		return fail(failurePrefix+err.Error(), original)
	}
	answer, msg := validate(obj)
	if msg != "" {
		return fail(msg, original)
	}
	return Result{Answer: answer}
}

func fail(msg, raw string) Result {
	return Result{Failure: &ParseFailure{Message: msg, RawOutput: raw}}
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case []string:
		return strings.Join(v, "")
	case []any:
		var b strings.Builder
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					b.WriteString(text)
					continue
				}
			}
			b.WriteString(stringify(part))
		}
		return b.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func unwrapText(s string) string {
	if m := singleQuotedText.FindStringSubmatch(s); m != nil {
		return strings.ReplaceAll(m[1], `\'`, `'`)
	}
	if m := doubleQuotedText.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func stripFences(s string) string {
	return strings.TrimSpace(fences.ReplaceAllString(s, ""))
}

// unescape is only applied once the payload failed to parse as-is, so valid
// JSON escapes are never rewritten.
func unescape(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.ReplaceAll(s, `\"`, `"`)
}

// decode tries strict JSON, then JSON after swapping single quotes, then a
// YAML literal parse. The strict JSON error is reported when all fail.
func decode(s string) (map[string]any, error) {
	obj, jsonErr := decodeJSON(s)
	if jsonErr == nil {
		return obj, nil
	}
	if obj, err := decodeJSON(strings.ReplaceAll(s, "'", `"`)); err == nil {
		return obj, nil
	}
	if obj, err := decodeLiteral(s); err == nil {
		return obj, nil
	}
	return nil, jsonErr
}

func decodeJSON(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("reply is not a JSON object")
	}
	return obj, nil
}

func decodeLiteral(s string) (map[string]any, error) {
	var obj map[string]any
	if err := yaml.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("reply is not a mapping")
	}
	return obj, nil
}

func validate(obj map[string]any) (*StructuredAnswer, string) {
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, "missing required keys: " + strings.Join(missing, ", ")
	}

	codes, ok := stringList(obj["icd10_codes"])
	if !ok || len(codes) == 0 {
		return nil, "icd10_codes must be a non-empty list of strings"
	}

	var conf Confidence
	switch v := obj["confidence"].(type) {
	case []any:
		if len(v) != len(codes) {
			return nil, fmt.Sprintf("confidence length %d does not match icd10_codes length %d", len(v), len(codes))
		}
		scores := make([]float64, len(v))
		for i, item := range v {
			f, ok := number(item)
			if !ok {
				return nil, fmt.Sprintf("confidence[%d] is not a number", i)
			}
			if !inUnitRange(f) {
				return nil, fmt.Sprintf("confidence[%d] %v is outside [0, 1]", i, f)
			}
			scores[i] = f
		}
		conf = PerCode(scores)
	default:
		f, ok := number(v)
		if !ok {
			return nil, "confidence must be a number or a list of numbers"
		}
		if !inUnitRange(f) {
			return nil, fmt.Sprintf("confidence %v is outside [0, 1]", f)
		}
		conf = Single(f)
	}

	notes, ok := notesText(obj["notes"])
	if !ok {
		return nil, "notes must be a string"
	}
	return &StructuredAnswer{ICD10Codes: codes, Confidence: conf, Notes: notes}, ""
}

func stringList(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func inUnitRange(f float64) bool {
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

// notesText accepts a string or a list of strings and removes line breaks.
func notesText(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		return newlines.Replace(n), true
	case []any:
		parts, ok := stringList(n)
		if !ok {
			return "", false
		}
		return newlines.Replace(strings.Join(parts, "; ")), true
	default:
		return "", false
	}
}
