package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/klio-ai/klio/pkg/cache"
	"github.com/klio-ai/klio/pkg/config"
	"github.com/klio-ai/klio/pkg/keyring"
	"github.com/klio-ai/klio/pkg/models"
)

func textResponse(text, finishReason string) models.GeminiResponse {
	return models.GeminiResponse{
		Candidates: []models.GeminiCandidate{
			{
				Content:      models.GeminiContent{Role: "model", Parts: []models.GeminiPart{{Text: text}}},
				FinishReason: finishReason,
			},
		},
	}
}

func newTestClient(t *testing.T, upstreamURL string, keys []string, withCache bool) *Client {
	t.Helper()
	ring, err := keyring.New(keys)
	if err != nil {
		t.Fatal(err)
	}

	var store *cache.Store
	if withCache {
		path := filepath.Join(t.TempDir(), "cache.json")
		store = cache.New(path, 0, 10*time.Millisecond, zerolog.Nop())
		t.Cleanup(func() { _ = store.Close() })
	}

	cfg := config.GeminiConfig{
		Model:   "gemini-2.0-flash",
		BaseURL: upstreamURL,
		Timeout: 5 * time.Second,
	}
	return New(cfg, ring, store, nil, zerolog.Nop())
}

func TestFingerprintDeterministic(t *testing.T) {
	req := models.GenerationRequest{Prompt: "кто такой Пётр I", Temperature: 0.7, MaxTokens: 500, TopP: 0.9, TopK: 40}

	if Fingerprint("m", req) != Fingerprint("m", req) {
		t.Error("identical requests must share a fingerprint")
	}

	variants := []models.GenerationRequest{
		{Prompt: "кто такой Пётр II", Temperature: 0.7, MaxTokens: 500, TopP: 0.9, TopK: 40},
		{Prompt: "кто такой Пётр I", Temperature: 0.3, MaxTokens: 500, TopP: 0.9, TopK: 40},
		{Prompt: "кто такой Пётр I", Temperature: 0.7, MaxTokens: 100, TopP: 0.9, TopK: 40},
		{Prompt: "кто такой Пётр I", Temperature: 0.7, MaxTokens: 500, TopP: 0.5, TopK: 40},
		{Prompt: "кто такой Пётр I", Temperature: 0.7, MaxTokens: 500, TopP: 0.9, TopK: 10},
	}
	base := Fingerprint("m", req)
	for i, v := range variants {
		if Fingerprint("m", v) == base {
			t.Errorf("variant %d must not collide with base fingerprint", i)
		}
	}
	if Fingerprint("other-model", req) == base {
		t.Error("different model must not collide")
	}
}

func TestGenerateSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.GeminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text == "" {
			t.Error("expected prompt in contents")
		}
		if req.GenerationConfig == nil || req.GenerationConfig.Temperature == nil {
			t.Error("expected temperature forwarded")
		}
		json.NewEncoder(w).Encode(textResponse("Пётр I — первый российский император.", "STOP"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, []string{"key-a"}, false)
	result := c.Generate(context.Background(), models.GenerationRequest{
		Prompt: "кто такой Пётр I", Temperature: 0.7, MaxTokens: 500,
	})

	if !result.OK() {
		t.Fatalf("expected success, got kind %s", result.Kind)
	}
	if result.ServedFromCache {
		t.Error("first call must not be served from cache")
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
}

func TestGenerateCacheHitSkipsNetwork(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(textResponse("ответ", "STOP"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, []string{"key-a"}, true)
	req := models.GenerationRequest{Prompt: "вопрос", Temperature: 0.2, MaxTokens: 100, TTL: time.Hour}

	first := c.Generate(context.Background(), req)
	if !first.OK() || first.ServedFromCache {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second := c.Generate(context.Background(), req)
	if !second.OK() {
		t.Fatalf("expected cached success, got %s", second.Kind)
	}
	if !second.ServedFromCache {
		t.Error("expected second call served from cache")
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", calls.Load())
	}
}

func TestGenerateRotatesOnQuota(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "key-c" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(textResponse("успех на третьем ключе", "STOP"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, []string{"key-a", "key-b", "key-c"}, false)
	result := c.Generate(context.Background(), models.GenerationRequest{Prompt: "p", Temperature: 0.1})

	if !result.OK() {
		t.Fatalf("expected success after rotation, got %s", result.Kind)
	}
	if result.Attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", result.Attempts)
	}
}

func TestGenerateExhausted(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, []string{"key-a", "key-b", "key-c"}, false)
	result := c.Generate(context.Background(), models.GenerationRequest{Prompt: "p", Temperature: 0.1})

	if result.Kind != models.KindExhausted {
		t.Fatalf("expected KindExhausted, got %s", result.Kind)
	}
	if result.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("expected exactly 3 attempts, got attempts=%d calls=%d", result.Attempts, calls.Load())
	}
}

func TestGenerateBadRequestHaltsImmediately(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, []string{"key-a", "key-b", "key-c"}, false)
	result := c.Generate(context.Background(), models.GenerationRequest{Prompt: "p", Temperature: 0.1})

	if result.Kind != models.KindBadRequest {
		t.Fatalf("expected KindBadRequest, got %s", result.Kind)
	}
	if calls.Load() != 1 {
		t.Errorf("400 must halt rotation: expected 1 call, got %d", calls.Load())
	}
}

func TestGenerateServerErrorsRotate(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "key-a" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(textResponse("ok", "STOP"))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, []string{"key-a", "key-b"}, false)
	result := c.Generate(context.Background(), models.GenerationRequest{Prompt: "p", Temperature: 0.1})

	if !result.OK() || result.Attempts != 2 {
		t.Errorf("expected success on second key, got %+v", result)
	}
}

func TestGenerateParseErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, []string{"key-a", "key-b"}, false)
	result := c.Generate(context.Background(), models.GenerationRequest{Prompt: "p", Temperature: 0.1})

	if result.Kind != models.KindParseError {
		t.Fatalf("expected KindParseError, got %s", result.Kind)
	}
	if calls.Load() != 1 {
		t.Errorf("parse failure must not burn more keys: got %d calls", calls.Load())
	}
}

func TestGenerateTruncatedFlag(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse("обрезанный отв", models.FinishMaxTokens))
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, []string{"key-a"}, false)
	result := c.Generate(context.Background(), models.GenerationRequest{Prompt: "p", Temperature: 0.1, MaxTokens: 10})

	if !result.OK() {
		t.Fatalf("expected success, got %s", result.Kind)
	}
	if !result.Truncated {
		t.Error("expected truncated flag for MAX_TOKENS finish")
	}
}

func TestGenerateFailureNotCached(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	c := newTestClient(t, upstream.URL, []string{"key-a"}, true)
	req := models.GenerationRequest{Prompt: "p", Temperature: 0.1, TTL: time.Hour}

	c.Generate(context.Background(), req)
	c.Generate(context.Background(), req)

	if calls.Load() != 2 {
		t.Errorf("failures must not be cached: expected 2 upstream calls, got %d", calls.Load())
	}
}
