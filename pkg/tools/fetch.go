package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// FetchResult is the JSON document http_fetch returns. Error and the
// success fields are mutually exclusive.
type FetchResult struct {
	URL       string `json:"url"`
	Status    int    `json:"status,omitempty"`
	Content   string `json:"content,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HTTPFetchTool retrieves a URL and returns its body, capped at maxBytes.
type HTTPFetchTool struct {
	client   *http.Client
	maxBytes int
}

// NewHTTPFetchTool creates an http_fetch tool with the given body cap.
func NewHTTPFetchTool(maxBytes int) *HTTPFetchTool {
	return &HTTPFetchTool{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: maxBytes,
	}
}

func (t *HTTPFetchTool) Name() string { return "http_fetch" }

func (t *HTTPFetchTool) Description() string {
	return "Fetch the contents of a URL over HTTP(S). Returns a JSON document with the response body."
}

func (t *HTTPFetchTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"url": map[string]any{
			"type":        "string",
			"description": "The http(s) URL to fetch",
		},
	}, "url")
}

func (t *HTTPFetchTool) Execute(ctx context.Context, params map[string]any) string {
	rawURL, errText := stringParam(params, "url")
	if errText != "" {
		return errText
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return marshalFetchResult(FetchResult{URL: rawURL, Error: "only http and https URLs are supported"})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return marshalFetchResult(FetchResult{URL: rawURL, Error: err.Error()})
	}
	req.Header.Set("User-Agent", "openloop/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return marshalFetchResult(FetchResult{URL: rawURL, Error: err.Error()})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBytes)+1))
	if err != nil {
		return marshalFetchResult(FetchResult{URL: rawURL, Error: err.Error()})
	}

	truncated := false
	if len(body) > t.maxBytes {
		body = body[:t.maxBytes]
		truncated = true
	}

	return marshalFetchResult(FetchResult{
		URL:       rawURL,
		Status:    resp.StatusCode,
		Content:   string(body),
		Truncated: truncated,
	})
}

func marshalFetchResult(result FetchResult) string {
	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"url":%q,"error":%q}`, result.URL, err.Error())
	}
	return string(out)
}
