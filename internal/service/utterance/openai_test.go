package utterance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGenerator(t *testing.T) {
	var gotModel string
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"` + req.Model + `",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Agreed, with caveats."},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("sk-test", server.URL+"/v1", "gpt-4o-mini", time.Second)

	out, err := g.Generate(context.Background(), Request{Persona: testPersona(), Prompt: "Discuss."})
	require.NoError(t, err)
	assert.Equal(t, "Agreed, with caveats.", out)
	assert.Equal(t, "gpt-4o-mini", gotModel)
	assert.Equal(t, "Bearer sk-test", gotAuth)

	_, err = g.Generate(context.Background(), Request{Persona: testPersona(), Route: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", gotModel)
}

func TestOpenAIGenerator_ClientErrorNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("sk-bad", server.URL+"/v1", "gpt-4o-mini", time.Second)
	_, err := g.Generate(context.Background(), Request{Persona: testPersona()})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}
