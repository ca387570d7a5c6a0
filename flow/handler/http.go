package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fluxline/fluxline/flow"
)

// HTTPRequest is a handler for calling HTTP services from a workflow node.
//
// It supports GET, POST, PUT, PATCH, and DELETE and returns the response
// including status code, headers, and body.
//
// Parameters:
//   - url: target URL (required)
//   - method: HTTP method (defaults to "GET")
//   - headers: optional map of request headers
//   - body: optional request body; a string is sent verbatim, any other
//     value is JSON-encoded with Content-Type: application/json
//   - credential: optional credential name resolved through the provider
//
// Output:
//   - status_code: HTTP status code
//   - headers: response headers as a map
//   - body: response body as a string, or decoded JSON under "json" when the
//     response declares application/json
//
// Responses with status >= 400 are handler errors, so they count as node
// failures and participate in retry and error-port routing.
type HTTPRequest struct {
	client *http.Client
	creds  CredentialProvider
}

// NewHTTPRequest creates the http request handler. creds may be nil, in
// which case the credential parameter is rejected at execution time.
func NewHTTPRequest(creds CredentialProvider) *HTTPRequest {
	return &HTTPRequest{
		client: &http.Client{
			// Timeout handled via context
		},
		creds: creds,
	}
}

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Execute implements flow.Handler.
func (h *HTTPRequest) Execute(ctx context.Context, params map[string]any, input any) (any, error) {
	urlStr, ok := params["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if !supportedMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	var body io.Reader
	contentType := ""
	switch b := params["body"].(type) {
	case nil:
	case string:
		if b != "" {
			body = bytes.NewBufferString(b)
		}
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewBuffer(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if headers, ok := params["headers"].(map[string]any); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	if name, ok := params["credential"].(string); ok && name != "" {
		if err := h.applyCredential(req, name); err != nil {
			return nil, err
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request to %s failed with status %d", urlStr, resp.StatusCode)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	out := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(respBody, &decoded); err == nil {
			out["json"] = decoded
		}
	}
	return out, nil
}

func (h *HTTPRequest) applyCredential(req *http.Request, name string) error {
	if h.creds == nil {
		return fmt.Errorf("node references credential %q but no credential provider is configured", name)
	}
	cred, err := h.creds.Get(name)
	if err != nil {
		return fmt.Errorf("failed to resolve credential %q: %w", name, err)
	}

	switch cred.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+cred.Data["token"])
	case "header":
		header := cred.Data["name"]
		if header == "" {
			return fmt.Errorf("credential %q has no header name", name)
		}
		req.Header.Set(header, cred.Data["value"])
	case "basic":
		req.SetBasicAuth(cred.Data["user"], cred.Data["password"])
	default:
		return fmt.Errorf("credential %q has unsupported type %q", name, cred.Type)
	}
	return nil
}

var _ flow.Handler = (*HTTPRequest)(nil)
