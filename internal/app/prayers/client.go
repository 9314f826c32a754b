package prayers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/duashare/project/internal/contracts"
)

// APIError is a non-2xx answer from the prayers API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("prayers api: %d %s", e.Status, e.Message)
}

// Client talks to the prayers REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) List(ctx context.Context, view, token string) ([]contracts.Prayer, error) {
	var resp listResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/prayers?view="+url.QueryEscape(view), token, nil, &resp)
	return resp.Prayers, err
}

func (c *Client) Create(ctx context.Context, content string) (contracts.Prayer, error) {
	var row contracts.Prayer
	err := c.do(ctx, http.MethodPost, "/api/v1/prayers", "", createPrayerRequest{Content: content}, &row)
	return row, err
}

func (c *Client) Ameen(ctx context.Context, id string, observed int) (contracts.Prayer, error) {
	var row contracts.Prayer
	err := c.do(ctx, http.MethodPost, "/api/v1/prayers/"+url.PathEscape(id)+"/ameen", "", ameenRequest{ObservedCount: observed}, &row)
	return row, err
}

func (c *Client) Login(ctx context.Context, password string) (string, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/login", "", loginRequest{Password: password}, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/admin/logout", token, nil, nil)
}

func (c *Client) SetPublished(ctx context.Context, token, id string, value bool) (contracts.Prayer, error) {
	var row contracts.Prayer
	err := c.do(ctx, http.MethodPatch, "/api/v1/prayers/"+url.PathEscape(id), token, contracts.PrayerPatch{IsPublished: &value}, &row)
	return row, err
}

func (c *Client) Delete(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/prayers/"+url.PathEscape(id), token, nil, nil)
}

func (c *Client) History(ctx context.Context, token, id string, limit int) ([]contracts.AuditEntry, error) {
	path := "/api/v1/prayers/" + url.PathEscape(id) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp historyResponse
	err := c.do(ctx, http.MethodGet, path, token, nil, &resp)
	return resp.Entries, err
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
