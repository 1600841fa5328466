// Package generation talks to the platform's AI generation and question
// persistence endpoints.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/logger"
	"github.com/hochfrequenz/oa-pipeline/internal/prompts"
)

const (
	defaultTimeout = 10 * time.Minute
	apiKeyHeader   = "X-API-Key"
)

// Config holds the backend settings for a Client
type Config struct {
	GenerateURL string
	PersistURL  string
	APIKey      string
	Model       string
	HTTPTimeout time.Duration
}

// Client issues generation and persistence requests.
// It never retries; retry policy belongs to the caller.
type Client struct {
	cfg     Config
	http    *http.Client
	prompts *prompts.Loader
	log     logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithPrompts sets the prompt loader
func WithPrompts(l *prompts.Loader) Option {
	return func(c *Client) { c.prompts = l }
}

// New creates a Client
func New(cfg Config, opts ...Option) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultTimeout
	}
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if c.prompts == nil {
		c.prompts = prompts.NewLoader()
	}
	if c.log == nil {
		c.log = logger.NewNop()
	}
	return c
}

// Image is an attachment sent with a generation request
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// GenerateRequest is one raw generation call
type GenerateRequest struct {
	Stage     string // used only for error reporting
	Prompt    string
	Thinking  domain.ThinkingLevel
	MaxTokens int
	Images    []Image
	// DefaultMessage is reported when the backend fails without a message
	DefaultMessage string
}

// GenerateResult is the backend's successful answer
type GenerateResult struct {
	Text     string
	Thinking string
	Usage    *domain.TokenUsage
}

type generateResponse struct {
	Status   string             `json:"status"`
	Text     string             `json:"text"`
	Message  string             `json:"message"`
	Usage    *domain.TokenUsage `json:"usage"`
	Thinking string             `json:"thinking"`
}

// Generate sends a multipart generation request
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	stage := req.Stage
	if stage == "" {
		stage = "generate"
	}

	body, contentType, err := c.multipartBody(req)
	if err != nil {
		return nil, &Error{Stage: stage, Kind: KindTransport, Message: err.Error(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GenerateURL, body)
	if err != nil {
		return nil, transportError(stage, 0, err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set(apiKeyHeader, c.cfg.APIKey)

	var resp generateResponse
	if err := c.do(httpReq, stage, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		fallback := req.DefaultMessage
		if fallback == "" {
			fallback = "Unknown backend error"
		}
		return nil, backendError(stage, resp.Message, fallback)
	}

	return &GenerateResult{Text: resp.Text, Thinking: resp.Thinking, Usage: resp.Usage}, nil
}

func (c *Client) multipartBody(req GenerateRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"prompt", req.Prompt},
		{"model", c.cfg.Model},
		{"thinking_level", string(req.Thinking)},
	}
	if req.MaxTokens > 0 {
		fields = append(fields, [2]string{"max_tokens", strconv.Itoa(req.MaxTokens)})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	for i, img := range req.Images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="image_%d"; filename=%q`, i, img.Filename))
		ct := img.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// do executes req, checks the status code, then decodes the JSON body into out
func (c *Client) do(req *http.Request, stage string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("Backend request failed",
			logger.String("stage", stage),
			logger.Error(err))
		return transportError(stage, 0, err)
	}
	defer resp.Body.Close()

	c.log.Debug("Backend request",
		logger.String("stage", stage),
		logger.Int("status", resp.StatusCode),
		logger.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return transportError(stage, resp.StatusCode, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transportError(stage, 0, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
