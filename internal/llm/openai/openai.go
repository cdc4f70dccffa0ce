package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/ChatBilling/internal/llm"
	log "github.com/sirupsen/logrus"
)

// Ensure Adapter implements llm.Gateway.
var _ llm.Gateway = (*Adapter)(nil)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultTimeout    = 60 * time.Second
	maxErrorBodyBytes = 4 << 10
	maxBodyBytes      = 4 << 20
)

// Config holds configuration for an OpenAI-compatible endpoint.
type Config struct {
	APIKey         string
	BaseURL        string
	Organization   string
	RequestTimeout time.Duration
	// ModelOverride replaces the requested model name when set.
	ModelOverride string
}

// Adapter sends chat completions to an OpenAI-compatible API.
type Adapter struct {
	apiKey        string
	baseURL       string
	org           string
	modelOverride string
	httpClient    *http.Client
}

// New creates an Adapter.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Adapter{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		org:           strings.TrimSpace(cfg.Organization),
		modelOverride: strings.TrimSpace(cfg.ModelOverride),
		httpClient:    &http.Client{Timeout: timeout},
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends req to /chat/completions.
func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	if len(req.Messages) == 0 {
		return llm.Completion{}, fmt.Errorf("%w: openai: no messages provided", llm.ErrProviderError)
	}
	model := req.Model
	if a.modelOverride != "" {
		model = a.modelOverride
	}

	body, errMarshal := json.Marshal(chatRequest{Model: model, Messages: req.Messages})
	if errMarshal != nil {
		return llm.Completion{}, fmt.Errorf("%w: openai: marshal request: %v", llm.ErrProviderError, errMarshal)
	}
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if errReq != nil {
		return llm.Completion{}, fmt.Errorf("%w: openai: create request: %v", llm.ErrProviderError, errReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if a.org != "" {
		httpReq.Header.Set("OpenAI-Organization", a.org)
	}

	resp, errDo := a.httpClient.Do(httpReq)
	if errDo != nil {
		return llm.Completion{}, classifyTransport(errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("openai: close response body failed")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return llm.Completion{}, classifyStatus(resp)
	}

	respBody, errRead := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if errRead != nil {
		return llm.Completion{}, classifyTransport(errRead)
	}
	if len(respBody) > maxBodyBytes {
		return llm.Completion{}, fmt.Errorf("%w: openai: response exceeds %d bytes", llm.ErrProviderError, maxBodyBytes)
	}
	var parsed chatResponse
	if errUnmarshal := json.Unmarshal(respBody, &parsed); errUnmarshal != nil {
		return llm.Completion{}, fmt.Errorf("%w: openai: unmarshal response: %v", llm.ErrProviderError, errUnmarshal)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return llm.Completion{}, fmt.Errorf("%w: openai: empty completion", llm.ErrProviderError)
	}
	return llm.Completion{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     nonNegative(parsed.Usage.PromptTokens),
		CompletionTokens: nonNegative(parsed.Usage.CompletionTokens),
	}, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: openai: %v", llm.ErrProviderTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: openai: %v", llm.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: openai: %v", llm.ErrProviderUnavailable, err)
}

func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	detail := fmt.Sprintf("http %d", resp.StatusCode)
	var errResp errorResponse
	if errUnmarshal := json.Unmarshal(raw, &errResp); errUnmarshal == nil && errResp.Error.Message != "" {
		detail = fmt.Sprintf("http %d: %s (type=%s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: openai: %s", llm.ErrProviderTimeout, detail)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: openai: %s", llm.ErrProviderUnavailable, detail)
	default:
		return fmt.Errorf("%w: openai: %s", llm.ErrProviderError, detail)
	}
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
