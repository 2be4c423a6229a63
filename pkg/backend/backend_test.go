package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ignatij/goscout/pkg/backend"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeCompletion(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai", `{"choices":[{"message":{"content":"hello"}}]}`, "hello"},
		{"gemini", `{"candidates":[{"content":{"parts":[{"text":"hel"},{"text":"lo"}]}}]}`, "hello"},
		{"workers ai", `{"result":{"response":"hello"}}`, "hello"},
		{"bare", `{"response":"hello"}`, "hello"},
		{"no text", `{"id":"x"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := backend.NormalizeCompletion([]byte(tt.body))
			assert.NoError(t, err)
			assert.Equal(t, tt.want, c.Text())
		})
	}

	t.Run("not json", func(t *testing.T) {
		_, err := backend.NormalizeCompletion([]byte("<html>"))
		assert.ErrorIs(t, err, backend.ErrUnavailable)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", backend.Truncate("short", 10))
	assert.Equal(t, "abc", backend.Truncate("abcdef", 3))
	// "é" is two bytes; cutting after one byte backs off to the rune start
	assert.Equal(t, "a", backend.Truncate("aé", 2))
	assert.Equal(t, "aé", backend.Truncate("aéb", 3))
	assert.True(t, utf8.ValidString(backend.Truncate("日本語のテキスト", 7)))
}

func TestAIClient_Complete(t *testing.T) {
	var got backend.CompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/task", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"done"}}]}`))
	}))
	defer srv.Close()

	client := backend.NewAIClient(srv.URL+"/", time.Second)
	c, err := client.Complete(context.Background(), backend.CompletionRequest{
		Provider: "groq", ModelID: "llama-3.1-8b-instant", Prompt: "Search for: gpus", SystemPrompt: "be brief",
	})
	assert.NoError(t, err)
	assert.Equal(t, "done", c.Text())
	assert.Equal(t, "groq", got.Provider)
	assert.Equal(t, "be brief", got.SystemPrompt)
}

func TestAIClient_Errors(t *testing.T) {
	t.Run("non 2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := backend.NewAIClient(srv.URL, time.Second).Complete(context.Background(), backend.CompletionRequest{})
		assert.ErrorIs(t, err, backend.ErrUnavailable)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()
		_, err := backend.NewAIClient(srv.URL, 50*time.Millisecond).Complete(context.Background(), backend.CompletionRequest{})
		assert.ErrorIs(t, err, backend.ErrUnavailable)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := backend.NewAIClient("http://127.0.0.1:1", time.Second).Complete(context.Background(), backend.CompletionRequest{})
		assert.ErrorIs(t, err, backend.ErrUnavailable)
	})
}

func TestBrowserClient_Execute(t *testing.T) {
	t.Run("success with typed price", func(t *testing.T) {
		var got map[string]interface{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/execute", r.URL.Path)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"success":true,"data":{"navigation":[],"searches":[],"actions":[],"extractedData":[{"price":"$450"}],"price":450},"logs":["ok"]}`))
		}))
		defer srv.Close()

		res, err := backend.NewBrowserClient(srv.URL, time.Second).Execute(context.Background(), backend.BrowserRequest{
			TodoID: "t1", Title: "gpu price",
			Actions: models.ActionList{{Type: models.ExtractAction, Description: "price"}},
		})
		assert.NoError(t, err)
		assert.True(t, res.Success)
		if assert.NotNil(t, res.Data) && assert.NotNil(t, res.Data.Price) {
			assert.Equal(t, 450.0, *res.Data.Price)
		}
		// empty lists are sent as [] so the service can apply its search fallback
		assert.Equal(t, []interface{}{}, got["goTo"])
		assert.Equal(t, []interface{}{}, got["search"])
	})

	t.Run("success false is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"error":"page crashed","logs":[]}`))
		}))
		defer srv.Close()

		_, err := backend.NewBrowserClient(srv.URL, time.Second).Execute(context.Background(), backend.BrowserRequest{TodoID: "t1", Title: "x"})
		assert.ErrorIs(t, err, backend.ErrUnavailable)
		assert.Contains(t, err.Error(), "page crashed")
	})
}
