package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aquamitra/aquamitra/internal/gateway"
)

type Client interface {
	Chat(ctx context.Context, req gateway.Request) (gateway.Response, error)
}

// StatusError is a non-2xx reply from the chat endpoint.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Detail)
}

type HTTPClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Chat(ctx context.Context, request gateway.Request) (gateway.Response, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return gateway.Response{}, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return gateway.Response{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(c.APIKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return gateway.Response{}, fmt.Errorf("post chat: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.Response{}, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var errBody struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(body, &errBody)
		if errBody.Detail == "" {
			errBody.Detail = strings.TrimSpace(string(body))
		}
		return gateway.Response{}, &StatusError{Status: resp.StatusCode, Detail: errBody.Detail}
	}

	var out gateway.Response
	if err := json.Unmarshal(body, &out); err != nil {
		return gateway.Response{}, fmt.Errorf("decode chat response: %w", err)
	}
	return out, nil
}
