// Package http provides an HTTP client for the buttongate service.
package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	buttongate "github.com/vmxmy/buttongate/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the buttongate server, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements buttongate.Evaluator, buttongate.RuleManager, and
// buttongate.Streamer over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewHTTPClient returns a new HTTP client for the buttongate service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, httpClient: hc}
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("buttongate: HTTP %d: %s", e.StatusCode, e.Message)
}

// -- wire types --------------------------------------------------------------

type wireEvaluateReq struct {
	ButtonType   string         `json:"button_type,omitempty"`
	ButtonTypes  []string       `json:"button_types,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	DepartmentID string         `json:"department_id,omitempty"`
	RoleName     string         `json:"role_name,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

type wireBatchResp struct {
	Results map[string]buttongate.Result `json:"results"`
}

// -- helpers -----------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("buttongate: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("buttongate: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("buttongate: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp, nil
}

func apiError(resp *http.Response) *APIError {
	msg, _ := io.ReadAll(resp.Body)
	message := strings.TrimSpace(string(msg))
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(msg, &wire); err == nil && wire.Error != "" {
		message = wire.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

func decodeBody(resp *http.Response, dst any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("buttongate: decode response: %w", err)
	}
	return nil
}

// -- Evaluator ---------------------------------------------------------------

func evaluateReq(evalCtx buttongate.EvaluationContext) wireEvaluateReq {
	return wireEvaluateReq{
		UserID:       evalCtx.UserID,
		DepartmentID: evalCtx.DepartmentID,
		RoleName:     evalCtx.RoleName,
		Context:      evalCtx.Attributes,
	}
}

func (c *Client) Evaluate(ctx context.Context, buttonType string, evalCtx buttongate.EvaluationContext) (buttongate.Result, error) {
	body := evaluateReq(evalCtx)
	body.ButtonType = buttonType

	resp, err := c.do(ctx, http.MethodPost, "/v1/evaluate", body)
	if err != nil {
		return buttongate.Result{}, err
	}
	var out buttongate.Result
	if err := decodeBody(resp, &out); err != nil {
		return buttongate.Result{}, err
	}
	return out, nil
}

func (c *Client) EvaluateBatch(ctx context.Context, buttonTypes []string, evalCtx buttongate.EvaluationContext) (map[string]buttongate.Result, error) {
	body := evaluateReq(evalCtx)
	body.ButtonTypes = buttonTypes

	resp, err := c.do(ctx, http.MethodPost, "/v1/evaluate", body)
	if err != nil {
		return nil, err
	}
	var out wireBatchResp
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// -- RuleManager -------------------------------------------------------------

func (c *Client) UpsertRule(ctx context.Context, params buttongate.UpsertRuleParams) (buttongate.Rule, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/rules", params)
	if err != nil {
		return buttongate.Rule{}, err
	}
	var out buttongate.Rule
	if err := decodeBody(resp, &out); err != nil {
		return buttongate.Rule{}, err
	}
	return out, nil
}

func (c *Client) GetRule(ctx context.Context, id string) (buttongate.Rule, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/rules/"+url.PathEscape(id), nil)
	if err != nil {
		return buttongate.Rule{}, err
	}
	var out buttongate.Rule
	if err := decodeBody(resp, &out); err != nil {
		return buttongate.Rule{}, err
	}
	return out, nil
}

func (c *Client) ListRules(ctx context.Context, buttonType string) ([]buttongate.Rule, error) {
	path := "/v1/rules"
	if buttonType != "" {
		path += "?button_type=" + url.QueryEscape(buttonType)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out []buttongate.Rule
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteRule(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/rules/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// -- Streamer ----------------------------------------------------------------

// Stream connects to the SSE feed and emits ChangeEvents on the returned
// channel. The channel is closed when ctx is cancelled or the connection
// drops. Pass lastEventID > 0 to resume after the given event, and a
// non-empty buttonType to receive events for one button type only.
func (c *Client) Stream(ctx context.Context, lastEventID int64, buttonType string) (<-chan buttongate.ChangeEvent, error) {
	path := "/v1/stream"
	if buttonType != "" {
		path += "?button_type=" + url.QueryEscape(buttonType)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("buttongate: create stream request: %w", err)
	}
	if lastEventID > 0 {
		req.Header.Set("Last-Event-ID", fmt.Sprintf("%d", lastEventID))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("buttongate: stream connect: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}

	ch := make(chan buttongate.ChangeEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		// Buffered reader sized to handle large SSE data lines.
		br := bufio.NewReaderSize(resp.Body, 1<<20)
		parseSSE(ctx, br, ch)
	}()
	return ch, nil
}

// parseSSE reads SSE lines from r and sends parsed ChangeEvents to ch.
// It implements the subset of the SSE spec used by the buttongate server:
// id, event, data fields; blank-line flush; multi-line data concatenation.
func parseSSE(ctx context.Context, r *bufio.Reader, ch chan<- buttongate.ChangeEvent) {
	var (
		eventType string
		dataLines []string
		eventID   int64
	)

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Blank line: dispatch event if we have data.
			if len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				ev := buttongate.ChangeEvent{Type: eventType, EventID: eventID}
				if eventType == "upsert" || eventType == "delete" {
					var rule buttongate.Rule
					if jsonErr := json.Unmarshal([]byte(data), &rule); jsonErr == nil {
						ev.Rule = &rule
					}
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			// Reset for next event.
			eventType = ""
			dataLines = nil
		} else if strings.HasPrefix(line, "id:") {
			fmt.Sscanf(strings.TrimSpace(strings.TrimPrefix(line, "id:")), "%d", &eventID)
		} else if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if err != nil {
			return
		}
	}
}

var (
	_ buttongate.Evaluator   = (*Client)(nil)
	_ buttongate.RuleManager = (*Client)(nil)
	_ buttongate.Streamer    = (*Client)(nil)
)
