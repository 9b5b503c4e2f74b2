// Package ai talks to OpenAI-compatible text and image generation APIs.
package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"playforge/internal/config"
	"playforge/internal/models"
	"playforge/internal/observability"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 60 * time.Second
	maxImageSize   = 10 << 20
)

// ErrNotConfigured is returned when a provider URL or key is missing.
var ErrNotConfigured = errors.New("ai provider not configured")

const systemPrompt = `You build small browser games. Reply with:
TITLE: <short game title>
DESCRIPTION: <one sentence>
followed by one complete, self-contained HTML document in a fenced ` + "```html" + ` block.
Inline all CSS and JavaScript. Do not load external resources. Use a <canvas>
or DOM elements, support keyboard and touch input, and keep the game playable
inside an iframe.`

// Options configures a Client.
type Options struct {
	LLMURL            string
	LLMKey            string
	LLMModel          string
	ImageURL          string
	ImageKey          string
	ImageModel        string
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// GameDraft is the parsed result of a game generation call.
type GameDraft struct {
	Title       string
	Description string
	HTML        string
}

// Client is safe for concurrent use.
type Client struct {
	opts    Options
	http    *http.Client
	llm     *openai.Client
	image   *openai.Client
	limiter *rate.Limiter
}

// New builds a client. RequestsPerMinute <= 0 disables throttling.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60.0)
		burst = max(1, opts.RequestsPerMinute/10)
	}
	c := &Client{
		opts:    opts,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
	}
	if opts.LLMURL != "" {
		c.llm = newProvider(opts.LLMURL, opts.LLMKey, hc)
	}
	if opts.ImageURL != "" {
		c.image = newProvider(opts.ImageURL, opts.ImageKey, hc)
	}
	return c
}

func newProvider(baseURL, key string, hc *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = hc
	return openai.NewClientWithConfig(cfg)
}

// NewFromConfig builds a client from application config.
func NewFromConfig(cfg *config.Config) *Client {
	return New(Options{
		LLMURL:            cfg.LLMAPIURL,
		LLMKey:            cfg.LLMAPIKey,
		LLMModel:          cfg.LLMModel,
		ImageURL:          cfg.ImageAPIURL,
		ImageKey:          cfg.ImageAPIKey,
		ImageModel:        cfg.ImageModel,
		RequestsPerMinute: cfg.AIRequestsPerMinute,
	})
}

// GameEnabled reports whether game generation has a provider.
func (c *Client) GameEnabled() bool {
	return c != nil && c.llm != nil
}

// ImageEnabled reports whether image generation has a provider.
func (c *Client) ImageEnabled() bool {
	return c != nil && c.image != nil
}

// GenerateGame asks the LLM for a playable HTML game.
func (c *Client) GenerateGame(ctx context.Context, prompt string) (*GameDraft, error) {
	if !c.GameEnabled() {
		return nil, models.NewUpstreamError("LLM", ErrNotConfigured)
	}

	var resp openai.ChatCompletionResponse
	err := c.call(ctx, "llm", func(ctx context.Context) (err error) {
		resp, err = c.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.opts.LLMModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: 0.7,
		})
		return err
	})
	if err != nil {
		return nil, models.NewUpstreamError("LLM", err)
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewUpstreamError("LLM", errors.New("empty completion"))
	}

	draft, err := ParseGameDraft(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, models.NewUpstreamError("LLM", err)
	}
	return draft, nil
}

// GenerateImage returns the raw bytes of one generated image.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if !c.ImageEnabled() {
		return nil, models.NewUpstreamError("Image", ErrNotConfigured)
	}

	var resp openai.ImageResponse
	err := c.call(ctx, "image", func(ctx context.Context) (err error) {
		resp, err = c.image.CreateImage(ctx, openai.ImageRequest{
			Model:  c.opts.ImageModel,
			Prompt: prompt,
			N:      1,
			Size:   openai.CreateImageSize1024x1024,
		})
		return err
	})
	if err != nil {
		return nil, models.NewUpstreamError("Image", err)
	}
	if len(resp.Data) == 0 {
		return nil, models.NewUpstreamError("Image", errors.New("no image returned"))
	}

	item := resp.Data[0]
	switch {
	case item.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, models.NewUpstreamError("Image", fmt.Errorf("decode b64_json: %w", err))
		}
		return data, nil
	case item.URL != "":
		data, err := c.download(ctx, item.URL)
		if err != nil {
			return nil, models.NewUpstreamError("Image", err)
		}
		return data, nil
	default:
		return nil, models.NewUpstreamError("Image", errors.New("image has neither b64_json nor url"))
	}
}

// call waits for the limiter, then runs fn under the request timeout with
// tracing and upstream metrics.
func (c *Client) call(ctx context.Context, provider string, fn func(context.Context) error) (err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	start := time.Now()
	ctx, span := observability.StartClientSpan(ctx, provider, "generate")
	defer func() {
		observability.ObserveUpstream(provider, start, err)
		observability.EndSpan(span, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return fn(ctx)
}

func (c *Client) download(ctx context.Context, url string) (data []byte, err error) {
	start := time.Now()
	defer func() { observability.ObserveUpstream("image_download", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageSize {
		return nil, errors.New("image too large")
	}
	return data, nil
}

var (
	fencedHTML   = regexp.MustCompile("(?s)```(?:html|HTML)?\\s*\\n(.*?)```")
	titleLine    = regexp.MustCompile(`(?im)^\s*\**title\**\s*:\s*(.+)$`)
	descLine     = regexp.MustCompile(`(?im)^\s*\**description\**\s*:\s*(.+)$`)
	htmlTitleTag = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
)

// ParseGameDraft extracts the title, description and HTML document from a
// completion. The HTML comes from the first fenced block, or the whole
// reply when it is a bare document.
func ParseGameDraft(content string) (*GameDraft, error) {
	draft := &GameDraft{}

	if m := fencedHTML.FindStringSubmatch(content); m != nil {
		draft.HTML = strings.TrimSpace(m[1])
	} else if i := strings.Index(strings.ToLower(content), "<!doctype html"); i >= 0 {
		draft.HTML = strings.TrimSpace(content[i:])
	} else if i := strings.Index(strings.ToLower(content), "<html"); i >= 0 {
		draft.HTML = strings.TrimSpace(content[i:])
	}
	if draft.HTML == "" || !strings.Contains(strings.ToLower(draft.HTML), "<") {
		return nil, errors.New("completion contained no HTML document")
	}

	if m := titleLine.FindStringSubmatch(content); m != nil {
		draft.Title = cleanLine(m[1])
	}
	if draft.Title == "" {
		if m := htmlTitleTag.FindStringSubmatch(draft.HTML); m != nil {
			draft.Title = cleanLine(m[1])
		}
	}
	if m := descLine.FindStringSubmatch(content); m != nil {
		draft.Description = cleanLine(m[1])
	}
	return draft, nil
}

// cleanLine strips surrounding whitespace, markdown emphasis and quotes.
func cleanLine(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("*\"'`", r)
	})
}
