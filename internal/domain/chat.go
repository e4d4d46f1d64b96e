package domain

// ChatMessage is the provider-agnostic chat message shape used by the
// orchestrator and the LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is what every generative provider receives.
type GenerationRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}
