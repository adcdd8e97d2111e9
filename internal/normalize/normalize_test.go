package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wellFormed = `{"icd10_codes": ["A00"], "confidence": 0.9, "notes": "x"}`

func requireAnswer(t *testing.T, r Result) *StructuredAnswer {
	t.Helper()
	require.Nil(t, r.Failure, "unexpected failure: %+v", r.Failure)
	require.NotNil(t, r.Answer)
	require.True(t, r.OK())
	return r.Answer
}

func requireFailure(t *testing.T, r Result) *ParseFailure {
	t.Helper()
	require.Nil(t, r.Answer)
	require.NotNil(t, r.Failure)
	require.False(t, r.OK())
	return r.Failure
}

func TestNormalize_Success(t *testing.T) {
	t.Run("Should recover the fields of a well-formed payload", func(t *testing.T) {
		a := requireAnswer(t, Normalize(`{"icd10_codes": ["A00", "A01.0"], "confidence": [0.92, 0.4], "notes": "Cholera and typhoid"}`))
		assert.Equal(t, []string{"A00", "A01.0"}, a.ICD10Codes)
		assert.Equal(t, ConfidencePerCode, a.Confidence.Kind())
		assert.Equal(t, []float64{0.92, 0.4}, a.Confidence.Values())
		assert.Equal(t, "Cholera and typhoid", a.Notes)
	})

	t.Run("Should keep escaped quotes and backslashes of valid JSON", func(t *testing.T) {
		for _, notes := range []string{
			`Patient describes "pounding" headache`,
			`see C:\new folder`,
			`quoted "term" and a \ backslash`,
		} {
			raw, err := json.Marshal(map[string]any{
				"icd10_codes": []string{"R51.9"},
				"confidence":  0.8,
				"notes":       notes,
			})
			require.NoError(t, err)
			a := requireAnswer(t, Normalize(string(raw)))
			assert.Equal(t, []string{"R51.9"}, a.ICD10Codes)
			assert.Equal(t, 0.8, a.Confidence.Value())
			assert.Equal(t, notes, a.Notes)
		}
	})

	t.Run("Should parse fenced payloads the same as bare ones", func(t *testing.T) {
		fenced := requireAnswer(t, Normalize("```json\n"+wellFormed+"\n```"))
		bare := requireAnswer(t, Normalize(wellFormed))
		assert.Equal(t, bare, fenced)
		assert.Equal(t, ConfidenceSingle, fenced.Confidence.Kind())
		assert.Equal(t, 0.9, fenced.Confidence.Value())
	})

	t.Run("Should strip fences case-insensitively", func(t *testing.T) {
		a := requireAnswer(t, Normalize("```JSON "+wellFormed+" ```"))
		assert.Equal(t, []string{"A00"}, a.ICD10Codes)
		a = requireAnswer(t, Normalize("`json "+wellFormed+"`"))
		assert.Equal(t, []string{"A00"}, a.ICD10Codes)
	})

	t.Run("Should unescape escaped newlines and quotes", func(t *testing.T) {
		a := requireAnswer(t, Normalize(`{\"icd10_codes\": [\"R05.9\"],\n\"confidence\": 1,\n\"notes\": \"cough\"}`))
		assert.Equal(t, []string{"R05.9"}, a.ICD10Codes)
		assert.Equal(t, 1.0, a.Confidence.Value())
	})

	t.Run("Should accept single-quoted Python style dicts", func(t *testing.T) {
		a := requireAnswer(t, Normalize(`{'icd10_codes': ['R50.9'], 'confidence': 0.7, 'notes': 'fever'}`))
		assert.Equal(t, []string{"R50.9"}, a.ICD10Codes)
		assert.Equal(t, "fever", a.Notes)
	})

	t.Run("Should fall back to a literal parse for unquoted keys", func(t *testing.T) {
		a := requireAnswer(t, Normalize(`{icd10_codes: [A00, B01.1], confidence: [0.9, 0], notes: it's chickenpox}`))
		assert.Equal(t, []string{"A00", "B01.1"}, a.ICD10Codes)
		assert.Equal(t, []float64{0.9, 0}, a.Confidence.Values())
		assert.Equal(t, "it's chickenpox", a.Notes)
	})

	t.Run("Should extract the text field of a serialized message block", func(t *testing.T) {
		raw := `[{'type': 'text', 'text': '` + "```json" + `\n{"icd10_codes": ["A00"], "confidence": 0.8, "notes": "It\'s cholera"}\n` + "```" + `', 'extras': {}}]`
		a := requireAnswer(t, Normalize(raw))
		assert.Equal(t, []string{"A00"}, a.ICD10Codes)
		assert.Equal(t, "It's cholera", a.Notes)
	})

	t.Run("Should concatenate fragment lists", func(t *testing.T) {
		a := requireAnswer(t, Normalize([]any{
			`{"icd10_codes": ["A00"], `,
			map[string]any{"type": "text", "text": `"confidence": 0.5, `},
			`"notes": "x"}`,
		}))
		assert.Equal(t, 0.5, a.Confidence.Value())
		a = requireAnswer(t, Normalize([]string{`{"icd10_codes": ["A00"],`, ` "confidence": 0.5, "notes": "x"}`}))
		assert.Equal(t, []string{"A00"}, a.ICD10Codes)
	})

	t.Run("Should collapse newlines in notes", func(t *testing.T) {
		a := requireAnswer(t, Normalize("{\"icd10_codes\": [\"A00\"], \"confidence\": 0.5, \"notes\": \"line one\\nline two\"}"))
		assert.NotContains(t, a.Notes, "\n")
		assert.Equal(t, "line one line two", a.Notes)
	})

	t.Run("Should join notes given as a list", func(t *testing.T) {
		a := requireAnswer(t, Normalize(`{"icd10_codes": ["A00", "R05.9"], "confidence": [0.5, 0.4], "notes": ["Tabular Match: A00", "Index Match: R05.9"]}`))
		assert.Equal(t, "Tabular Match: A00; Index Match: R05.9", a.Notes)
	})
}

func TestNormalize_Failure(t *testing.T) {
	t.Run("Should reject a confidence list whose length differs from the codes", func(t *testing.T) {
		raw := `{"icd10_codes": ["A00","B01"], "confidence": [0.9], "notes": "x"}`
		f := requireFailure(t, Normalize(raw))
		assert.Contains(t, f.Message, "confidence length 1")
		assert.Contains(t, f.Message, "icd10_codes length 2")
		assert.Equal(t, raw, f.RawOutput)
	})

	t.Run("Should reject out-of-range confidences", func(t *testing.T) {
		for _, raw := range []string{
			`{"icd10_codes": ["A00"], "confidence": 1.5, "notes": "x"}`,
			`{"icd10_codes": ["A00"], "confidence": -0.1, "notes": "x"}`,
			`{"icd10_codes": ["A00", "B01"], "confidence": [0.5, 1.5], "notes": "x"}`,
			`{"icd10_codes": ["A00", "B01"], "confidence": [-0.1, 0.5], "notes": "x"}`,
		} {
			f := requireFailure(t, Normalize(raw))
			assert.Contains(t, f.Message, "outside [0, 1]", raw)
		}
	})

	t.Run("Should reject non-numeric confidences", func(t *testing.T) {
		f := requireFailure(t, Normalize(`{"icd10_codes": ["A00"], "confidence": "high", "notes": "x"}`))
		assert.Contains(t, f.Message, "confidence must be a number")
		f = requireFailure(t, Normalize(`{"icd10_codes": ["A00", "B01"], "confidence": [0.5, true], "notes": "x"}`))
		assert.Contains(t, f.Message, "confidence[1] is not a number")
	})

	t.Run("Should name every missing key", func(t *testing.T) {
		f := requireFailure(t, Normalize(`{"icd10_codes": ["A00"]}`))
		assert.Equal(t, "missing required keys: confidence, notes", f.Message)
	})

	t.Run("Should reject empty or malformed code lists", func(t *testing.T) {
		f := requireFailure(t, Normalize(`{"icd10_codes": [], "confidence": 0.5, "notes": "x"}`))
		assert.Contains(t, f.Message, "icd10_codes")
		f = requireFailure(t, Normalize(`{"icd10_codes": "A00", "confidence": 0.5, "notes": "x"}`))
		assert.Contains(t, f.Message, "icd10_codes")
	})

	t.Run("Should report the JSON error for unparseable text", func(t *testing.T) {
		raw := "I could not determine a code for these symptoms."
		f := requireFailure(t, Normalize(raw))
		assert.Contains(t, f.Message, "failed to interpret structured response: ")
		assert.Equal(t, raw, f.RawOutput)
	})

	t.Run("Should treat nil input as unparseable", func(t *testing.T) {
		f := requireFailure(t, Normalize(nil))
		assert.Empty(t, f.RawOutput)
	})
}

func TestResult_MarshalJSON(t *testing.T) {
	t.Run("Should encode a single confidence as a number", func(t *testing.T) {
		data, err := json.Marshal(Result{Answer: &StructuredAnswer{ICD10Codes: []string{"A00"}, Confidence: Single(0.9), Notes: "x"}})
		require.NoError(t, err)
		assert.JSONEq(t, wellFormed, string(data))
	})

	t.Run("Should encode per-code confidences as a list", func(t *testing.T) {
		data, err := json.Marshal(StructuredAnswer{ICD10Codes: []string{"A00", "B01"}, Confidence: PerCode([]float64{0.9, 0.1}), Notes: "x"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"icd10_codes": ["A00", "B01"], "confidence": [0.9, 0.1], "notes": "x"}`, string(data))
	})

	t.Run("Should encode failures with error and raw_output", func(t *testing.T) {
		data, err := json.Marshal(Result{Failure: &ParseFailure{Message: "bad", RawOutput: "raw"}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"error": "bad", "raw_output": "raw"}`, string(data))
	})

	t.Run("Should decode both confidence shapes", func(t *testing.T) {
		var a StructuredAnswer
		require.NoError(t, json.Unmarshal([]byte(`{"icd10_codes": ["A00"], "confidence": [0.3], "notes": "x"}`), &a))
		assert.Equal(t, ConfidencePerCode, a.Confidence.Kind())
		require.NoError(t, json.Unmarshal([]byte(wellFormed), &a))
		assert.Equal(t, ConfidenceSingle, a.Confidence.Kind())
	})
}
