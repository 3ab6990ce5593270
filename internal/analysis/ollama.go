package analysis

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Ollama analyzes with a local model served by Ollama.
type Ollama struct {
	llm       llms.Model
	modelName string
}

// NewOllama creates an analyzer for model on the Ollama server at host.
func NewOllama(host, model string) (*Ollama, error) {
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return &Ollama{llm: llm, modelName: model}, nil
}

// Name implements Analyzer.
func (o *Ollama) Name() string { return "ollama" }

// Analyze implements Analyzer.
func (o *Ollama) Analyze(ctx context.Context, req Request) (*Result, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(req)),
	}

	response, err := o.llm.GenerateContent(ctx, messages, llms.WithTemperature(0.2))
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", o.modelName, err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("ollama %s: no response choices", o.modelName)
	}

	res, err := parseModelOutput(response.Choices[0].Content)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", o.modelName, err)
	}
	return res, nil
}
