package generator

import (
	"encoding/json"
	"time"

	"genai_studio/document"
)

// Request describes one generation the user submitted.
type Request struct {
	Topic          string `json:"topic"`
	Tone           string `json:"tone"`
	ContentType    string `json:"content_type"`
	TargetAudience string `json:"target_audience"`
	Language       string `json:"language,omitempty"`
}

// Result is the backend's answer to a Request. Answer is markdown.
type Result struct {
	Answer      string    `json:"answer"`
	Topic       string    `json:"topic,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Analytics   Analytics `json:"analytics"`
}

// Analytics summarises a generated answer.
type Analytics struct {
	WordCount        int    `json:"word_count"`
	ReadingTime      int    `json:"reading_time"`
	ReadabilityScore int    `json:"readability_score"`
	Sentiment        string `json:"sentiment"`
}

// UnmarshalJSON clamps the readability score to 0..100.
func (a *Analytics) UnmarshalJSON(data []byte) error {
	type plain Analytics
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	v.ReadabilityScore = clampScore(v.ReadabilityScore)
	*a = Analytics(v)
	return nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// RewriteRequest is the body of a regenerate call.
type RewriteRequest struct {
	SelectedText string `json:"selected_text"`
	Instruction  string `json:"instruction"`
}

// Outcome is an applied rewrite: the span the new markup occupies.
type Outcome struct {
	Range  document.Range
	Markup string
}

// Turn records one rewrite applied to the current document.
type Turn struct {
	Instruction string
	Range       document.Range
	Markup      string
	CreatedAt   time.Time
}
