package agent

// ToolName is the name the model uses to request a code search.
const ToolName = "search_icd10_code"

const toolDescription = "Receives symptoms and returns the most relevant ICD-10-CM codes by combining " +
	"the tabular catalog and the alphabetical index. Supports several conditions in one input."

// SystemPrompt instructs the model to search once and answer in the structured shape.
const SystemPrompt = `You are a medical coding assistant.
Your task is to analyze the given symptoms and find the most relevant ICD-10-CM codes by using the tool ` + "`" + ToolName + "`" + `.
Never call the tool more than once per user query.
Return your answer strictly with the following format:
{
  "icd10_codes": ["A00", "A01.0"],
  "confidence": 0.92,
  "notes": "Explain briefly why these ICD-10 codes were selected."
}
Where:
- 'icd10_codes' must be valid ICD-10 codes (if multiple, include all).
- 'confidence' is a float between 0 and 1 indicating certainty, or one such float per code.
- 'notes' should be a medium explanation on a single line.
`

var toolParameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"symptoms": map[string]any{
			"type":        "string",
			"description": "Free-text symptom description, possibly listing several conditions.",
		},
	},
	"required": []string{"symptoms"},
}
