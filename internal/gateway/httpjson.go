package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseBody = 1 << 20

// DoJSON 发送 JSON 请求并解码响应；5xx 归为 ErrProviderError，4xx 额外标记 ErrProviderRejected
func DoJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body interface{}, out interface{}) error {
	if client == nil {
		client = http.DefaultClient
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %w: encode request: %v", ErrProviderError, ErrProviderRejected, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%w: %w: build request: %v", ErrProviderError, ErrProviderRejected, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Normalize(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Normalize(err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: http %d: %s", ErrProviderError, resp.StatusCode, snippet(raw))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %w: http %d: %s", ErrProviderError, ErrProviderRejected, resp.StatusCode, snippet(raw))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProviderError, err)
	}
	return nil
}

func snippet(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if len(text) > 256 {
		return text[:256]
	}
	return text
}
