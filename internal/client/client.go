package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mathomhouse/mathom/internal/model"
)

// ErrCodeNetwork marks failures to reach the server at all, as opposed to
// errors the server returned.
const ErrCodeNetwork = "NETWORK_ERROR"

// APIError is a failure reported through the response envelope, or a
// transport failure wrapped as ErrCodeNetwork.
type APIError struct {
	Code    string
	Message string
	Status  int
	cause   error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// ErrorCode extracts the envelope error code from err, or "" if err is
// not an APIError.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// AuthResult is the payload returned by register and login.
type AuthResult struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Client is the typed HTTP API client. It is safe for concurrent use;
// the bearer token is the only mutable state.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// SetToken replaces the bearer token used on subsequent requests. An
// empty token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// envelope mirrors the server's response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do issues a request and decodes the envelope into out (which may be
// nil). Transport failures come back as ErrCodeNetwork; envelope errors
// keep their server-assigned code.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Code: ErrCodeNetwork, Message: "request failed", cause: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Code: ErrCodeNetwork, Message: "malformed response", Status: resp.StatusCode, cause: err}
	}

	if !env.Success {
		apiErr := &APIError{Code: "INTERNAL_SERVER_ERROR", Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// Register creates an account and adopts the returned token.
func (c *Client) Register(ctx context.Context, email, password, displayName string) (*AuthResult, error) {
	var res AuthResult
	err := c.do(ctx, http.MethodPost, "/api/register", map[string]string{
		"email": email, "password": password, "displayName": displayName,
	}, &res)
	if err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// Login signs in and adopts the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var res AuthResult
	err := c.do(ctx, http.MethodPost, "/api/login", map[string]string{
		"email": email, "password": password,
	}, &res)
	if err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// Logout revokes the session server-side and clears the local token. The
// token is cleared even when revocation fails; the caller is signed out
// locally either way.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/logout", nil, nil)
	c.SetToken("")
	return err
}

// Profile fetches the caller's own profile.
func (c *Client) Profile(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodGet, "/api/profile", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateProfile applies a partial profile patch.
func (c *Client) UpdateProfile(ctx context.Context, changes map[string]any) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodPut, "/api/profile", changes, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateHousehold founds a household owned by the caller.
func (c *Client) CreateHousehold(ctx context.Context, name string) (*model.Household, error) {
	var h model.Household
	if err := c.do(ctx, http.MethodPost, "/api/households", map[string]string{"name": name}, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Household fetches one household.
func (c *Client) Household(ctx context.Context, id string) (*model.Household, error) {
	var h model.Household
	if err := c.do(ctx, http.MethodGet, "/api/households/"+id, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Items lists every item visible to the caller.
func (c *Client) Items(ctx context.Context) ([]model.Item, error) {
	var items []model.Item
	if err := c.do(ctx, http.MethodGet, "/api/items", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateItem adds an item to the caller's household.
func (c *Client) CreateItem(ctx context.Context, body map[string]any) (*model.Item, error) {
	var it model.Item
	if err := c.do(ctx, http.MethodPost, "/api/items", body, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

// UpdateItem applies a partial item patch.
func (c *Client) UpdateItem(ctx context.Context, id string, changes map[string]any) (*model.Item, error) {
	var it model.Item
	if err := c.do(ctx, http.MethodPut, "/api/items/"+id, changes, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

// DeleteItem removes an item.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/items/"+id, nil, nil)
}
