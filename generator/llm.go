package generator

import "context"

// LLMClient abstracts a chat model so it can be swapped or mocked.
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMSettings configures a concrete client.
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// Rewriter turns a selection and an instruction into replacement markup.
type Rewriter interface {
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)
}

// Backend produces generations and rewrites. The HTTP client, the direct
// LLM agent and the mock all satisfy it.
type Backend interface {
	Rewriter
	Generate(ctx context.Context, req Request) (Result, error)
}

// ImageSource pages through images for a topic.
type ImageSource interface {
	Images(ctx context.Context, topic string, page int) ([]string, error)
}
