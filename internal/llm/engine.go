package llm

import (
	"context"
	"fmt"
)

// systemPrompt frames every answer. Identifiers never reach the model beyond
// what the authorized data summary already contains.
const systemPrompt = `You are an assistant for educators analyzing student assessment data.
Answer the educator's question using only the data summary provided.
Be concise and concrete. If the data does not support an answer, say so.
Never speculate about individual students beyond what the data shows.`

// Engine turns a question plus an authorized data summary into an answer.
type Engine struct {
	client *Client
}

func NewEngine(client *Client) *Engine {
	return &Engine{client: client}
}

// Generate produces the answer text. With no providers configured it returns
// a deterministic echo of the data summary so development and test
// deployments work without API keys.
func (e *Engine) Generate(ctx context.Context, question, dataSection string) (string, error) {
	if !e.client.HasProviders() {
		return fmt.Sprintf("[no LLM configured] Based on the available data:\n%s", dataSection), nil
	}

	// The model is left unset so each provider in the fallback chain applies
	// its own default; naming one provider's model would break the others.
	resp, err := e.client.Complete(ctx, Request{
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\n%s", question, dataSection)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	return resp.Content, nil
}
