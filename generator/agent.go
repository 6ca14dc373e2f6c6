package generator

import (
	"context"
	"errors"
	"strings"
)

// Agent is a Backend that talks to a model directly instead of going
// through the application backend.
type Agent struct {
	llm LLMClient
}

var _ Backend = (*Agent)(nil)

func NewAgent(llm LLMClient) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	return &Agent{llm: llm}, nil
}

// NewOpenAIBackend returns an Agent over the OpenAI chat completions API.
func NewOpenAIBackend(cfg *LLMSettings) (*Agent, error) {
	llm, err := NewOpenAILLMFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewAgent(llm)
}

// Generate writes a first draft for req.
func (a *Agent) Generate(ctx context.Context, req Request) (Result, error) {
	raw, err := a.llm.Complete(ctx, BuildGenerationPrompt(req))
	if err != nil {
		return Result{}, err
	}
	return PostProcess(raw, req)
}

// Rewrite applies req.Instruction to req.SelectedText.
func (a *Agent) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	raw, err := a.llm.Complete(ctx, BuildRewritePrompt(req))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}
