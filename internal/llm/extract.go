package llm

import (
	"encoding/json"
	"strings"
)

// ExtractContent pulls the assistant-authored text out of a decoded
// response. Returns "" when no known layout carries usable content.
func ExtractContent(raw *RawResponse) string {
	if raw == nil {
		return ""
	}
	switch raw.Shape {
	case ShapeChatCompletion:
		if len(raw.Choices) == 0 {
			return ""
		}
		return raw.Choices[0].Message.Content
	case ShapeLegacyAgent:
		if raw.Output != "" {
			// Some deployments ship the payload as a JSON object with a
			// message field inside the output string.
			if obj := DecodeJSONObject(raw.Output); obj != nil {
				if msg, ok := obj["message"].(string); ok && msg != "" {
					return msg
				}
			}
			return raw.Output
		}
		return raw.Message
	default:
		return ""
	}
}

// StripCodeFence removes a surrounding markdown code fence, with optional
// language tag, and trims the result. Unfenced text is returned trimmed.
func StripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return t
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(t, "```"), "```")
	// Drop the language tag on the opening fence line, if any.
	if idx := strings.IndexByte(inner, '\n'); idx >= 0 {
		first := strings.TrimSpace(inner[:idx])
		if !strings.ContainsAny(first, " \t{[") {
			inner = inner[idx+1:]
		}
	} else {
		// Single-line fence: ```json{...}``` is not a thing; treat the
		// whole run as content.
		inner = strings.TrimSpace(inner)
	}
	return strings.TrimSpace(inner)
}

// DecodeJSONObject strips fences and strictly decodes a JSON object.
// Arrays, scalars, and parse failures all yield nil.
func DecodeJSONObject(text string) map[string]any {
	stripped := StripCodeFence(text)
	if stripped == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(stripped), &obj); err != nil {
		return nil
	}
	return obj
}

// LooksLikeJSONObject is a coarse leak-detector: after fence-stripping,
// true iff the text is brace-delimited. Deliberately not a parser.
func LooksLikeJSONObject(text string) bool {
	t := StripCodeFence(text)
	return strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}")
}

// ExtractMessage returns the user-presentable message from a response.
// JSON-object payloads must decode cleanly and carry a string message
// field; content that merely looks like a JSON object but fails to decode
// is rejected so malformed JSON never leaks to the end user. Plain text
// passes through fence-stripped.
func ExtractMessage(raw *RawResponse) string {
	content := ExtractContent(raw)
	if content == "" {
		return ""
	}
	if obj := DecodeJSONObject(content); obj != nil {
		if msg, ok := obj["message"].(string); ok {
			return strings.TrimSpace(msg)
		}
		return ""
	}
	if LooksLikeJSONObject(content) {
		return ""
	}
	return StripCodeFence(content)
}
