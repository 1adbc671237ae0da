// Package notion is a small client for the Notion REST API covering database
// queries, page writes, comments and block text.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"

	"github.com/claysader-arch/todo-aggregator/internal/retry"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	APIVersion     = "2022-06-28"

	// MaxBlockDepth bounds recursion into nested blocks.
	MaxBlockDepth = 3
)

// APIError is a non-2xx answer from Notion.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("Notion API error (status %d)", e.Status)
	}
	return fmt.Sprintf("%s (status %d, %s)", e.Message, e.Status, e.Code)
}

// Client talks to one Notion integration.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Policy
	log        *logrus.Entry
}

// NewClient creates a Notion client. Notion allows about three requests per
// second per integration.
func NewClient(apiKey, baseURL string, policy retry.Policy, log *logrus.Entry) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(3), 3),
		retry:      policy,
		log:        log.WithField("component", "notion"),
	}
}

// Request performs one API call and returns the parsed body.
func (c *Client) Request(ctx context.Context, method, endpoint string, body []byte) (gjson.Result, error) {
	var result gjson.Result
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Notion-Version", APIVersion)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(fmt.Errorf("request failed: %w", err), 0)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retryable(fmt.Errorf("failed to read response: %w", err), 0)
		}

		parsed := gjson.ParseBytes(respBody)
		if resp.StatusCode >= 400 {
			apiErr := &APIError{
				Status:  resp.StatusCode,
				Code:    parsed.Get("code").String(),
				Message: parsed.Get("message").String(),
			}
			return retry.StatusError(resp, apiErr)
		}
		result = parsed
		return nil
	})
	return result, err
}

// QueryDatabase returns every page matching query, following next_cursor.
// query is a raw JSON object carrying optional "filter" and "sorts".
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, query []byte) ([]gjson.Result, error) {
	if len(query) == 0 {
		query = []byte(`{}`)
	}

	var pages []gjson.Result
	cursor := ""
	for {
		body, err := sjson.SetBytes(query, "page_size", 100)
		if err != nil {
			return nil, err
		}
		if cursor != "" {
			if body, err = sjson.SetBytes(body, "start_cursor", cursor); err != nil {
				return nil, err
			}
		}

		resp, err := c.Request(ctx, http.MethodPost, "/databases/"+databaseID+"/query", body)
		if err != nil {
			return nil, fmt.Errorf("query database %s: %w", databaseID, err)
		}
		pages = append(pages, resp.Get("results").Array()...)

		if !resp.Get("has_more").Bool() {
			break
		}
		cursor = resp.Get("next_cursor").String()
		if cursor == "" {
			break
		}
	}
	return pages, nil
}

// CreatePage creates a page under a database with the given properties object.
func (c *Client) CreatePage(ctx context.Context, databaseID string, properties []byte) (gjson.Result, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "parent.database_id", databaseID)
	if err != nil {
		return gjson.Result{}, err
	}
	if body, err = sjson.SetRawBytes(body, "properties", properties); err != nil {
		return gjson.Result{}, err
	}
	return c.Request(ctx, http.MethodPost, "/pages", body)
}

// UpdatePage patches page properties.
func (c *Client) UpdatePage(ctx context.Context, pageID string, properties []byte) (gjson.Result, error) {
	body, err := sjson.SetRawBytes([]byte(`{}`), "properties", properties)
	if err != nil {
		return gjson.Result{}, err
	}
	return c.Request(ctx, http.MethodPatch, "/pages/"+pageID, body)
}

// AddComment posts a plain text comment on a page.
func (c *Client) AddComment(ctx context.Context, pageID, text string) error {
	body, err := sjson.SetBytes([]byte(`{}`), "parent.page_id", pageID)
	if err != nil {
		return err
	}
	if body, err = sjson.SetRawBytes(body, "rich_text", RichText(text)); err != nil {
		return err
	}
	_, err = c.Request(ctx, http.MethodPost, "/comments", body)
	return err
}

// RichText encodes s as a single-segment rich_text array.
func RichText(s string) []byte {
	raw, _ := json.Marshal([]map[string]any{
		{"type": "text", "text": map[string]string{"content": s}},
	})
	return raw
}

// BlockText returns the text of a page or block and its children, one block
// per line, descending at most MaxBlockDepth levels. Unsupported blocks are
// not descended into and unreadable subtrees are skipped.
func (c *Client) BlockText(ctx context.Context, blockID string) string {
	return c.blockText(ctx, blockID, 0)
}

func (c *Client) blockText(ctx context.Context, blockID string, depth int) string {
	if depth > MaxBlockDepth {
		return ""
	}

	var parts []string
	cursor := ""
	for {
		endpoint := "/blocks/" + blockID + "/children?page_size=100"
		if cursor != "" {
			endpoint += "&start_cursor=" + cursor
		}
		resp, err := c.Request(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			c.log.WithError(err).WithField("block_id", blockID).Debug("could not fetch block children")
			break
		}

		for _, block := range resp.Get("results").Array() {
			if text := blockPlainText(block); text != "" {
				parts = append(parts, text)
			}
			if block.Get("has_children").Bool() && block.Get("type").String() != "unsupported" {
				if child := c.blockText(ctx, block.Get("id").String(), depth+1); child != "" {
					parts = append(parts, child)
				}
			}
		}

		if !resp.Get("has_more").Bool() || resp.Get("next_cursor").String() == "" {
			break
		}
		cursor = resp.Get("next_cursor").String()
	}
	return strings.Join(parts, "\n")
}

func blockPlainText(block gjson.Result) string {
	blockType := block.Get("type").String()
	if blockType == "" {
		return ""
	}
	return JoinPlainText(block.Get(blockType + ".rich_text"))
}

// JoinPlainText joins the plain_text of a rich_text array with spaces.
func JoinPlainText(richText gjson.Result) string {
	var texts []string
	for _, item := range richText.Array() {
		if s := item.Get("plain_text").String(); s != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, " ")
}

// PageURL builds the public URL of a page.
func PageURL(pageID string) string {
	return "https://notion.so/" + strings.ReplaceAll(pageID, "-", "")
}
