package generator

import (
	"context"
	"fmt"
	"strings"
)

// MockLLM answers without calling a model. Generation prompts get a short
// canned article; rewrite prompts get the text back with a marker appended.
type MockLLM struct{}

func (MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	if _, text, ok := strings.Cut(prompt.User, "\n\nText:\n"); ok {
		text = strings.TrimSpace(text)
		if text == "" {
			return "", nil
		}
		return text + " (revised)", nil
	}

	topic := "Untitled"
	if _, rest, ok := strings.Cut(prompt.User, "about the topic: "); ok {
		topic = strings.Trim(strings.TrimSuffix(strings.TrimSpace(rest), "."), `"`)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", topic))
	sb.WriteString(fmt.Sprintf("This is a short overview of %s.\n\n", topic))
	sb.WriteString("## Key points\n\n")
	sb.WriteString("- What it is\n- Why it matters\n- Where to start\n\n")
	sb.WriteString("Thanks for reading.\n")
	return sb.String(), nil
}

// NewMockBackend returns an Agent over MockLLM.
func NewMockBackend() *Agent {
	return &Agent{llm: MockLLM{}}
}
