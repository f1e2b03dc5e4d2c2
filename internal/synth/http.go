package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// HTTPConfig holds configuration for an HTTP speech provider.
type HTTPConfig struct {
	// Endpoint receives POSTed synthesis requests.
	Endpoint string `env:"ENDPOINT"`

	// APIKey is sent as a bearer token when set.
	APIKey string `env:"API_KEY"`

	// Provider names the backend in results and cache entries (defaults to "http").
	Provider string `env:"PROVIDER_NAME"`

	// RequestsPerMinute paces outgoing requests (defaults to 120, <0 disables).
	RequestsPerMinute int

	// Timeout bounds each request (defaults to 30s).
	Timeout time.Duration
}

// HTTPClient is a Client speaking a JSON request/response protocol:
// request {text, voiceId, speakingRate}; response either raw audio/* bytes
// or {audioContent (base64), provider, contentType}.
type HTTPClient struct {
	endpoint string
	apiKey   string
	provider string

	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *log.Logger

	mu       sync.Mutex
	requests int64
}

var _ Client = (*HTTPClient)(nil)

type httpRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voiceId,omitempty"`
	SpeakingRate float64 `json:"speakingRate,omitempty"`
}

type httpResponse struct {
	AudioContent string `json:"audioContent"`
	Provider     string `json:"provider"`
	ContentType  string `json:"contentType"`
}

// NewHTTPClient creates an HTTP provider client.
func NewHTTPClient(config HTTPConfig, logger *log.Logger) (*HTTPClient, error) {
	return NewHTTPClientWithClient(config, &http.Client{}, logger)
}

// NewHTTPClientWithClient creates an HTTP provider client using a custom HTTP client.
func NewHTTPClientWithClient(config HTTPConfig, client *http.Client, logger *log.Logger) (*HTTPClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrNotConfigured)
	}
	if config.Provider == "" {
		config.Provider = "http"
	}
	if config.RequestsPerMinute == 0 {
		config.RequestsPerMinute = 120
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1)
	}

	if client.Timeout == 0 {
		client.Timeout = config.Timeout
	}

	return &HTTPClient{
		endpoint:    config.Endpoint,
		apiKey:      config.APIKey,
		provider:    config.Provider,
		httpClient:  client,
		rateLimiter: limiter,
		logger:      logger.WithPrefix("synth"),
	}, nil
}

// Name returns the provider identifier.
func (c *HTTPClient) Name() string {
	return c.provider
}

// Requests returns how many requests were sent.
func (c *HTTPClient) Requests() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// Synthesize sends one request to the provider.
func (c *HTTPClient) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(httpRequest{
		Text:         strings.TrimSpace(req.Text),
		VoiceID:      req.VoiceID,
		SpeakingRate: req.Speed,
	})
	if err != nil {
		return nil, &FatalError{Message: "marshal request", Cause: err}
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{Message: "create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, audio/*")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.mu.Lock()
	c.requests++
	c.mu.Unlock()

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Synthesis response", "status", resp.StatusCode, "voice", req.VoiceID,
		"chars", len(req.Text), "elapsed", time.Since(start))

	if classified := Classify(resp.StatusCode, ""); classified != nil {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, c.withDetail(classified, resp, strings.TrimSpace(string(errBody)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ctx, fmt.Errorf("read response: %w", err))
	}

	return c.decode(resp.Header.Get("Content-Type"), data)
}

func (c *HTTPClient) decode(contentType string, data []byte) (*Result, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if strings.HasPrefix(mediaType, "audio/") {
		if len(data) == 0 {
			return nil, &FatalError{Status: http.StatusOK, Message: "empty body", Cause: ErrNoAudio}
		}
		return &Result{Audio: data, Provider: c.provider, ContentType: mediaType}, nil
	}

	var payload httpResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &FatalError{Status: http.StatusOK, Message: "malformed response", Cause: err}
	}
	if payload.AudioContent == "" {
		return nil, &FatalError{Status: http.StatusOK, Message: "missing audioContent", Cause: ErrNoAudio}
	}

	audio, err := base64.StdEncoding.DecodeString(payload.AudioContent)
	if err != nil {
		return nil, &FatalError{Status: http.StatusOK, Message: "audioContent is not base64", Cause: err}
	}

	result := &Result{
		Audio:       audio,
		Provider:    payload.Provider,
		ContentType: payload.ContentType,
	}
	if result.Provider == "" {
		result.Provider = c.provider
	}
	if result.ContentType == "" {
		result.ContentType = "audio/mpeg"
	}
	return result, nil
}

func (c *HTTPClient) withDetail(err error, resp *http.Response, body string) error {
	var te *TransientError
	if errors.As(err, &te) {
		te.Message = body
		te.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return te
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		fe.Message = body
		return fe
	}
	return err
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
