package domain

// Ranked is a single entry of a RankedResult.
type Ranked struct {
	Code       string
	Confidence float64
	Note       string
	Source     Source
}

// RankedResult is an ordered list of unique codes sorted by descending confidence.
type RankedResult []Ranked

// Codes returns the codes in rank order.
func (r RankedResult) Codes() []string {
	out := make([]string, len(r))
	for i := range r {
		out[i] = r[i].Code
	}
	return out
}

// Confidences returns the confidences in rank order.
func (r RankedResult) Confidences() []float64 {
	out := make([]float64, len(r))
	for i := range r {
		out[i] = r[i].Confidence
	}
	return out
}

// Notes returns the provenance notes in rank order.
func (r RankedResult) Notes() []string {
	out := make([]string, len(r))
	for i := range r {
		out[i] = r[i].Note
	}
	return out
}

// ToolResult converts the ranking into the positional shape the coding agent consumes.
func (r RankedResult) ToolResult() ToolResult {
	return ToolResult{
		ICD10Codes: r.Codes(),
		Confidence: r.Confidences(),
		Notes:      r.Notes(),
	}
}

// ToolResult is the output of the search_icd10_code tool: three positionally aligned lists.
type ToolResult struct {
	ICD10Codes []string  `json:"icd10_codes"`
	Confidence []float64 `json:"confidence"`
	Notes      []string  `json:"notes"`
}
