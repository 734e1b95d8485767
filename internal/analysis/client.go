// Package analysis calls the generative model that turns a medical image into
// a structured report.
//
// The model is treated as an opaque service: image bytes and a MIME type go
// in, a models.Report or a classified error comes out. A quota failure on the
// primary model is retried once on the fallback model.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/mediscan/internal/logging"
	"github.com/dmitrijs2005/mediscan/internal/models"
)

const (
	DefaultTemperature     = 0.4
	DefaultMaxOutputTokens = 4096
)

// Options tune a single request. Zero values take the defaults.
type Options struct {
	Temperature     *float64
	MaxOutputTokens int
}

type Config struct {
	APIKey            string
	BaseURL           string
	PrimaryModel      string
	FallbackModel     string
	RequestsPerMinute int
	HTTPClient        *http.Client
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logging.Logger
}

func New(cfg Config, log logging.Logger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.With("module", "analysis"),
	}
}

// Analyze submits the image and returns the parsed report.
func (c *Client) Analyze(ctx context.Context, image []byte, mimeType string, opts Options) (*models.Report, error) {
	if c.cfg.APIKey == "" || c.cfg.PrimaryModel == "" {
		return nil, ErrConfiguration
	}
	if len(image) == 0 {
		return nil, errors.New("analysis: empty image")
	}

	body, err := json.Marshal(buildRequest(base64.StdEncoding.EncodeToString(image), mimeType, opts))
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}

	report, err := c.generate(ctx, c.cfg.PrimaryModel, body)
	if !errors.Is(err, ErrQuotaExceeded) || c.cfg.FallbackModel == "" || c.cfg.FallbackModel == c.cfg.PrimaryModel {
		return report, err
	}

	c.log.Warn(ctx, "primary model over quota, trying fallback",
		"primary", c.cfg.PrimaryModel, "fallback", c.cfg.FallbackModel)
	return c.generate(ctx, c.cfg.FallbackModel, body)
}

func (c *Client) generate(ctx context.Context, model string, body []byte) (*models.Report, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read analysis response: %w", err)
	}
	c.log.Debug(ctx, "model answered", "model", model, "status", resp.StatusCode, "elapsed", time.Since(start).String())

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, raw)
	}
	return parseReport(raw)
}

func classify(status int, raw []byte) error {
	var env errorEnvelope
	_ = json.Unmarshal(raw, &env)
	apiErr := &APIError{StatusCode: status, Status: env.Error.Status, Message: env.Error.Message}

	msg := strings.ToLower(apiErr.Message)
	switch {
	case status == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" || strings.Contains(msg, "quota"):
		return fmt.Errorf("%w (%w)", ErrQuotaExceeded, apiErr)
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		apiErr.Status == "PERMISSION_DENIED" || apiErr.Status == "UNAUTHENTICATED" ||
		strings.Contains(msg, "api key"):
		return fmt.Errorf("%w (%w)", ErrConfiguration, apiErr)
	}
	return apiErr
}

func parseReport(raw []byte) (*models.Report, error) {
	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var text strings.Builder
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
		if text.Len() > 0 {
			break
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var report models.Report
	if err := json.Unmarshal([]byte(text.String()), &report); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if err := report.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return &report, nil
}
