package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/logger"
)

var (
	// ErrMissingToken is returned before any request is made when no bearer token is available.
	ErrMissingToken = errors.New("stream: no authentication token available")
	// ErrNilBody is returned when a successful response carries no body to stream.
	ErrNilBody = errors.New("stream: response has no body")
)

const maxErrorBody = 64 << 10

// HTTPError is a non-2xx response from the agent API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("stream: %s (status %d)", e.Message, e.StatusCode)
}

// Client opens event streams against the agent API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
}

// NewClient builds a client. A nil httpClient uses a client without an overall timeout,
// since streams are long lived.
func NewClient(baseURL string, ts oauth2.TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		tokenSource: ts,
	}
}

// NewClientFromConfig wires the API and auth sections of cfg.
func NewClientFromConfig(ctx context.Context, cfg *config.Config) *Client {
	snapshot := cfg.Clone()
	return NewClient(snapshot.API.BaseURL, TokenSourceFromConfig(ctx, snapshot.Auth), &http.Client{
		Timeout: cfg.APITimeout(),
	})
}

// TokenSourceFromConfig returns a static source for a fixed access token, a cached
// client-credentials source when a token endpoint is configured, or nil.
func TokenSourceFromConfig(ctx context.Context, auth config.AuthConfig) oauth2.TokenSource {
	if strings.TrimSpace(auth.AccessToken) != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.AccessToken, TokenType: "Bearer"})
	}
	if auth.TokenURL == "" || auth.ClientID == "" {
		return nil
	}
	cc := &clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}
	return oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx))
}

// EditAgent streams the response to an edit instruction for an agent.
func (c *Client) EditAgent(ctx context.Context, agentID, instruction string, h Handlers) error {
	path := "/agents/" + url.PathEscape(agentID) + "/edit/stream"
	return c.stream(ctx, path, map[string]string{"instruction": instruction}, h)
}

// SendMessage posts a user message to a conversation and streams the status and
// message events that follow.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, h Handlers) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/stream"
	return c.stream(ctx, path, map[string]string{"content": content, "role": string(RoleUser)}, h)
}

func (c *Client) stream(ctx context.Context, path string, body interface{}, h Handlers) error {
	resp, err := c.open(ctx, path, body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.ErrorCF("stream", "Stream request failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		h.fail(err)
		return err
	}
	defer resp.Body.Close()

	return Read(ctx, resp.Body, h)
}

func (c *Client) open(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeHTTPError(resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNilBody
	}
	return resp, nil
}

func (c *Client) token() (string, error) {
	if c.tokenSource == nil {
		return "", ErrMissingToken
	}
	tok, err := c.tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingToken, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", ErrMissingToken
	}
	return tok.AccessToken, nil
}

func decodeHTTPError(resp *http.Response) error {
	herr := &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("request failed with status %d", resp.StatusCode),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return herr
	}

	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if json.Unmarshal(data, &body) != nil {
		return herr
	}

	var msg string
	if len(body.Error) > 0 && json.Unmarshal(body.Error, &msg) == nil && msg != "" {
		herr.Message = msg
	} else if body.Message != "" {
		herr.Message = body.Message
	} else if body.Detail != "" {
		herr.Message = body.Detail
	} else if len(body.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
			herr.Message = nested.Message
		}
	}
	return herr
}
