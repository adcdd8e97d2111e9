package normalize

import (
	"encoding/json"
	"fmt"
)

// ConfidenceKind tags which variant a Confidence holds.
type ConfidenceKind int

const (
	ConfidenceSingle ConfidenceKind = iota
	ConfidencePerCode
)

// Confidence is either one score for the whole answer or one score per code.
type Confidence struct {
	kind    ConfidenceKind
	single  float64
	perCode []float64
}

func Single(v float64) Confidence { return Confidence{kind: ConfidenceSingle, single: v} }

func PerCode(vs []float64) Confidence {
	cp := make([]float64, len(vs))
	copy(cp, vs)
	return Confidence{kind: ConfidencePerCode, perCode: cp}
}

func (c Confidence) Kind() ConfidenceKind { return c.kind }

// Value returns the single score. It is zero for per-code confidences.
func (c Confidence) Value() float64 { return c.single }

// Values returns the per-code scores. It is nil for a single confidence.
func (c Confidence) Values() []float64 { return c.perCode }

func (c Confidence) MarshalJSON() ([]byte, error) {
	if c.kind == ConfidencePerCode {
		if c.perCode == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.perCode)
	}
	return json.Marshal(c.single)
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	var single float64
	if err := json.Unmarshal(data, &single); err == nil {
		*c = Single(single)
		return nil
	}
	var list []float64
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("confidence must be a number or a list of numbers: %w", err)
	}
	*c = PerCode(list)
	return nil
}

// StructuredAnswer is a validated coding reply.
type StructuredAnswer struct {
	ICD10Codes []string   `json:"icd10_codes"`
	Confidence Confidence `json:"confidence"`
	Notes      string     `json:"notes"`
}

// ParseFailure describes a reply that could not be turned into a StructuredAnswer.
type ParseFailure struct {
	Message   string `json:"error"`
	RawOutput string `json:"raw_output"`
}

// Result holds exactly one of Answer or Failure.
type Result struct {
	Answer  *StructuredAnswer
	Failure *ParseFailure
}

func (r Result) OK() bool { return r.Answer != nil }

// MarshalJSON emits whichever variant is set.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Answer != nil {
		return json.Marshal(r.Answer)
	}
	return json.Marshal(r.Failure)
}
