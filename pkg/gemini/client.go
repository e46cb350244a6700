// Package gemini is the gateway to the LLM provider: it builds
// generateContent payloads, consults the response cache before any
// network trip, rotates across configured credentials on transient
// failure and normalizes every outcome into a GenerationResult.
package gemini

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/klio-ai/klio/pkg/audit"
	"github.com/klio-ai/klio/pkg/cache"
	"github.com/klio-ai/klio/pkg/config"
	"github.com/klio-ai/klio/pkg/keyring"
	"github.com/klio-ai/klio/pkg/models"
)

// Client turns GenerationRequests into GenerationResults.
type Client struct {
	cfg     config.GeminiConfig
	ring    *keyring.Ring
	cache   *cache.Store
	auditor *audit.Logger
	httpc   *http.Client
	log     zerolog.Logger
}

// New creates a Client. cache and auditor may be nil to disable the
// respective concern.
func New(cfg config.GeminiConfig, ring *keyring.Ring, store *cache.Store, auditor *audit.Logger, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		ring:    ring,
		cache:   store,
		auditor: auditor,
		httpc:   &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// Fingerprint computes the cache key for a request: a SHA-256 digest
// over the model and every generation parameter. Credentials and TTL
// do not participate, so answers are shared across keys.
func Fingerprint(model string, req models.GenerationRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%g\x00%d\x00%g\x00%d",
		model, req.Prompt, req.Temperature, req.MaxTokens, req.TopP, req.TopK)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Generate resolves the request from cache or the provider, rotating
// through credentials on transient failure.
func (c *Client) Generate(ctx context.Context, req models.GenerationRequest) models.GenerationResult {
	start := time.Now()
	fp := Fingerprint(c.cfg.Model, req)

	if c.cache != nil {
		if value, ok := c.cache.Get(fp); ok {
			result := models.GenerationResult{Text: value, ServedFromCache: true}
			c.record(req, fp, "", result, http.StatusOK, start)
			return result
		}
	}

	payload, err := json.Marshal(buildPayload(req))
	if err != nil {
		// Cannot happen for the types involved, but a payload we
		// cannot build is a request defect, not a provider fault.
		result := models.GenerationResult{Kind: models.KindBadRequest}
		c.record(req, fp, "", result, 0, start)
		return result
	}

	var attempts int
	var lastStatus int
	var lastKey string

	for i := 0; i < c.ring.Count(); i++ {
		key, err := c.ring.At(i)
		if err != nil {
			break
		}
		lastKey = key
		attempts++

		status, body, err := c.call(ctx, key, payload)
		lastStatus = status
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempts).Msg("provider call failed, rotating key")
			continue
		}

		if status == http.StatusTooManyRequests || status >= 500 {
			c.log.Warn().Int("status", status).Int("attempt", attempts).Msg("transient provider status, rotating key")
			continue
		}

		if status < 200 || status > 299 {
			c.log.Error().Int("status", status).Msg("provider rejected request")
			result := models.GenerationResult{Kind: models.KindBadRequest, Attempts: attempts}
			c.record(req, fp, key, result, status, start)
			return result
		}

		text, truncated, perr := parseResponse(body)
		if perr != nil {
			// A 2xx we cannot parse is a contract mismatch, not
			// transient unavailability. Do not burn more keys.
			c.log.Error().Err(perr).Msg("provider response unparsable")
			result := models.GenerationResult{Kind: models.KindParseError, Attempts: attempts}
			c.record(req, fp, key, result, status, start)
			return result
		}

		if c.cache != nil && req.TTL > 0 {
			c.cache.Put(fp, text, req.TTL)
		}
		result := models.GenerationResult{Text: text, Truncated: truncated, Attempts: attempts}
		c.record(req, fp, key, result, status, start)
		return result
	}

	result := models.GenerationResult{Kind: models.KindExhausted, Attempts: attempts}
	c.record(req, fp, lastKey, result, lastStatus, start)
	return result
}

// buildPayload maps the request onto the provider wire format. Only
// parameters the caller actually set are forwarded.
func buildPayload(req models.GenerationRequest) models.GeminiRequest {
	gc := &models.GeminiGenerationConfig{
		Temperature: &req.Temperature,
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = &req.MaxTokens
	}
	if req.TopP > 0 {
		gc.TopP = &req.TopP
	}
	if req.TopK > 0 {
		gc.TopK = &req.TopK
	}
	return models.GeminiRequest{
		Contents: []models.GeminiContent{
			{Role: "user", Parts: []models.GeminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: gc,
	}
}

func (c *Client) call(ctx context.Context, key string, payload []byte) (int, []byte, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, key)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// parseResponse is the single boundary between the provider's JSON and
// the typed result. Anything that fails validation here becomes a
// parse error upstream.
func parseResponse(body []byte) (text string, truncated bool, err error) {
	var resp models.GeminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", false, fmt.Errorf("response has no candidates")
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", false, fmt.Errorf("candidate has no text parts")
	}
	return sb.String(), cand.FinishReason == models.FinishMaxTokens, nil
}

// record writes the call outcome to the audit log off the request path.
func (c *Client) record(req models.GenerationRequest, fp, key string, result models.GenerationResult, status int, start time.Time) {
	if c.auditor == nil {
		return
	}
	var keyHash, keyPrefix string
	if key != "" {
		keyHash, keyPrefix = audit.HashKey(key)
	}
	rec := models.CallRecord{
		RequestID:  uuid.NewString(),
		KeyHash:    keyHash,
		KeyPrefix:  keyPrefix,
		Model:      c.cfg.Model,
		PromptHash: fp,
		Prompt:     req.Prompt,
		Response:   result.Text,
		StatusCode: status,
		Attempts:   result.Attempts,
		CacheHit:   result.ServedFromCache,
		Kind:       result.Kind.String(),
		LatencyMs:  time.Since(start).Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	go func() {
		if err := c.auditor.Log(context.Background(), rec); err != nil {
			c.log.Warn().Err(err).Msg("audit log failed")
		}
	}()
}
