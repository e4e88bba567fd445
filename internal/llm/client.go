package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	serrors "github.com/scopedeck/scopedeck/internal/errors"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

// Completer is the client abstraction the dialogue policy depends on.
// The production implementation is Client; tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, turns []Turn) (*RawResponse, error)
}

// Client talks to an OpenAI-compatible chat-completion endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  zerolog.Logger
}

// Option configures the client.
type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient constructs a completion client. Missing credentials are not an
// error here; Complete fails with ErrConfiguration before any network call.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   defaultModel,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Complete posts the turn list to the completion endpoint and returns the
// decoded response. Exactly one outbound call per invocation; no retries.
// Network failures and non-2xx statuses come back as *TransportError, a
// 2xx body that fails to decode comes back as an empty RawResponse.
func (c *Client) Complete(ctx context.Context, turns []Turn) (*RawResponse, error) {
	if c.apiKey == "" || c.baseURL == "" {
		return nil, serrors.ErrConfiguration
	}

	payload, err := json.Marshal(Request{Model: c.model, Messages: turns})
	if err != nil {
		return nil, &serrors.TransportError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &serrors.TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and cancellations feed the same retry path as any
		// other transport failure.
		return nil, &serrors.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &serrors.TransportError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Int("body_len", len(body)).
			Msg("completion endpoint returned non-2xx")
		return nil, serrors.NewTransportError(resp.StatusCode, string(body))
	}

	raw := DecodeRawResponse(body)
	c.logger.Debug().
		Str("model", c.model).
		Int("turns", len(turns)).
		Int("shape", int(raw.Shape)).
		Msg("completion ok")
	return raw, nil
}

// DecodeRawResponse classifies a 2xx response body into one of the known
// layouts. An undecodable body yields ShapeUnrecognized, never an error.
func DecodeRawResponse(body []byte) *RawResponse {
	var chat chatCompletionBody
	if err := json.Unmarshal(body, &chat); err == nil && len(chat.Choices) > 0 {
		return &RawResponse{Shape: ShapeChatCompletion, Choices: chat.Choices}
	}

	var legacy legacyAgentBody
	if err := json.Unmarshal(body, &legacy); err == nil {
		out := &RawResponse{Shape: ShapeLegacyAgent, Message: legacy.Message}
		if len(legacy.Output) > 0 {
			// output may be a plain string or an embedded object;
			// keep the string form for the extractor to interpret.
			var s string
			if err := json.Unmarshal(legacy.Output, &s); err == nil {
				out.Output = s
			} else {
				out.Output = string(legacy.Output)
			}
		}
		if out.Output == "" && out.Message == "" {
			return &RawResponse{Shape: ShapeUnrecognized}
		}
		return out
	}

	return &RawResponse{Shape: ShapeUnrecognized}
}
