package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/storefront_backend/utils"
)

// Client is the low-level HTTP client for the hosted record store. It speaks
// an OData-flavored API: filtered reads on entity sets, creates, and
// field-level patches on single records. Single-record writes are the only
// transactional primitive the platform offers.
type Client struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
	limiter <-chan time.Time
}

func NewClient(tokens TokenProvider) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("STORE_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("STORE_BASE_URL is required")
	}
	if tokens == nil {
		return nil, errors.New("token provider is required")
	}

	rateLimitPerMin := int64(120)
	if v := strings.TrimSpace(os.Getenv("STORE_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.Tick(interval),
	}, nil
}

type listResponse struct {
	Value []json.RawMessage `json:"value"`
}

func (c *Client) do(ctx context.Context, method string, endpoint string, body io.Reader, headers map[string]string) ([]byte, error) {
	<-c.limiter

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", endpoint, utils.ErrorRecordNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("record store error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// List performs a filtered read on an entity set.
func (c *Client) List(ctx context.Context, entitySet string, params url.Values) ([]json.RawMessage, error) {
	endpoint := c.baseURL + "/" + entitySet
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return parsed.Value, nil
}

// Create posts a record and returns the created representation.
func (c *Client) Create(ctx context.Context, entitySet string, record any) (json.RawMessage, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/"+entitySet, bytes.NewReader(payload), map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "return=representation",
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Patch applies a field-level update to a single record by id.
func (c *Client) Patch(ctx context.Context, entitySet string, id string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/%s(%s)", c.baseURL, entitySet, id)
	_, err = c.do(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload), map[string]string{
		"Content-Type": "application/json",
		"If-Match":     "*",
	})
	return err
}

// filterEq builds an OData equality filter, escaping embedded quotes.
func filterEq(field string, value string) string {
	return fmt.Sprintf("%s eq '%s'", field, strings.ReplaceAll(value, "'", "''"))
}

func filterAnd(parts ...string) string {
	return strings.Join(parts, " and ")
}
