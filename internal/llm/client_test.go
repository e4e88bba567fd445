package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/scopedeck/scopedeck/internal/errors"
)

func TestComplete_MissingCredentials(t *testing.T) {
	c := NewClient("", "")
	_, err := c.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "oi"}})
	assert.ErrorIs(t, err, serrors.ErrConfiguration)
}

func TestComplete_SingleCallAndBearerAuth(t *testing.T) {
	var calls int
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gotAuth = r.Header.Get("Authorization")

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Model)
		assert.Len(t, req.Messages, 2)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "olá"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	raw, err := c.Complete(context.Background(), []Turn{
		{Role: RoleSystem, Content: "seja breve"},
		{Role: RoleUser, Content: "oi"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, ShapeChatCompletion, raw.Shape)
	assert.Equal(t, "olá", ExtractContent(raw))
}

func TestComplete_Non2xxPreservesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited, slow down"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "oi"}})

	var te *serrors.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusTooManyRequests, te.Status)
	assert.Equal(t, "rate limited, slow down", te.Body)
	assert.True(t, serrors.IsRetryable(err))
}

func TestComplete_UndecodableBodyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>definitely not json</html>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	raw, err := c.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "oi"}})
	require.NoError(t, err)
	assert.Equal(t, ShapeUnrecognized, raw.Shape)
}

func TestComplete_TimeoutSurfacesAsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", WithTimeout(20*time.Millisecond))
	_, err := c.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "oi"}})

	var te *serrors.TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, serrors.IsRetryable(err))
}

func TestDecodeRawResponse_LegacyShapes(t *testing.T) {
	raw := DecodeRawResponse([]byte(`{"output":"resposta direta"}`))
	assert.Equal(t, ShapeLegacyAgent, raw.Shape)
	assert.Equal(t, "resposta direta", raw.Output)

	// output as a JSON-encoded string holding an object with message
	raw = DecodeRawResponse([]byte(`{"output":"{\"message\":\"oi\"}"}`))
	assert.Equal(t, ShapeLegacyAgent, raw.Shape)
	assert.Equal(t, "oi", ExtractContent(raw))

	raw = DecodeRawResponse([]byte(`{"message":"flat message"}`))
	assert.Equal(t, ShapeLegacyAgent, raw.Shape)
	assert.Equal(t, "flat message", ExtractContent(raw))

	raw = DecodeRawResponse([]byte(`{}`))
	assert.Equal(t, ShapeUnrecognized, raw.Shape)
}
