package service

import "fmt"

// Chat message roles, matching the backend wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation. Treat it as immutable once
// built; requests are marshalled as-is.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the ordered conversation plus generation parameters.
// Zero-valued parameters are omitted on the wire and the backend applies
// its own defaults.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Validate checks the generation parameter ranges before a request is sent.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("chat request needs at least one message")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", r.MaxTokens)
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %g", r.Temperature)
	}
	if r.TopP < 0 || r.TopP > 1 {
		return fmt.Errorf("top_p must be within [0, 1], got %g", r.TopP)
	}
	return nil
}

// ChatResponse is the non-streaming completion result.
type ChatResponse struct {
	Message string         `json:"message"`
	Usage   map[string]int `json:"usage"`
	Model   string         `json:"model"`
}
