// Package llm wraps the remote text-completion endpoint behind a small
// client and a set of pure extraction helpers. The client performs exactly
// one network call per invocation; retry policy lives in the intake layer.
package llm

import "encoding/json"

// Role constants for Turn.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is a single message in a conversation. Histories are append-only;
// a turn is never mutated once appended.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Shape identifies which response layout the endpoint returned.
type Shape int

const (
	// ShapeUnrecognized means no known layout matched.
	ShapeUnrecognized Shape = iota
	// ShapeChatCompletion is the choices[0].message.content layout.
	ShapeChatCompletion
	// ShapeLegacyAgent is the flatter output/message layout, where output
	// may itself be a JSON-encoded string containing a message field.
	ShapeLegacyAgent
)

// RawResponse is the decoded completion-endpoint response as a tagged
// union over the layouts the extractor understands. A body that failed to
// decode yields an empty RawResponse with ShapeUnrecognized — decoding
// failure is not an error at the client layer.
type RawResponse struct {
	Shape Shape

	// ShapeChatCompletion fields.
	Choices []Choice

	// ShapeLegacyAgent fields.
	Output  string
	Message string
}

// Choice is one completion alternative in a chat-completion response.
type Choice struct {
	Message Turn `json:"message"`
}

// chatCompletionBody mirrors the chat-completion wire layout.
type chatCompletionBody struct {
	Choices []Choice `json:"choices"`
}

// legacyAgentBody mirrors the legacy agent wire layout. Output is kept as
// raw JSON because some deployments return a string, others an object.
type legacyAgentBody struct {
	Output  json.RawMessage `json:"output"`
	Message string          `json:"message"`
}

// Request is the wire payload posted to the completion endpoint.
type Request struct {
	Model    string `json:"model"`
	Messages []Turn `json:"messages"`
}
