package collectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/claysader-arch/todo-aggregator/internal/retry"
)

// SlackAPIError is an ok:false answer from the Slack Web API.
type SlackAPIError struct {
	Method string
	Code   string
}

func (e *SlackAPIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// searchDeniedCodes are the errors search.messages returns for tokens that
// may not search (bot tokens, missing search:read).
var searchDeniedCodes = map[string]bool{
	"missing_scope":          true,
	"not_allowed_token_type": true,
}

// SlackClient is a thin Web API client with tier-2 pacing, retry on rate
// limits and a display-name cache.
type SlackClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Policy
	names      *cache.Cache
	log        *logrus.Entry
}

// SlackOption configures a SlackClient.
type SlackOption func(*SlackClient)

// WithSlackRateLimit replaces the default pacing (about three calls a second).
func WithSlackRateLimit(limit rate.Limit, burst int) SlackOption {
	return func(c *SlackClient) { c.limiter = rate.NewLimiter(limit, burst) }
}

// NewSlackClient creates a client for a user token.
func NewSlackClient(token, baseURL string, policy retry.Policy, log *logrus.Entry, opts ...SlackOption) *SlackClient {
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	c := &SlackClient{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second/3), 5),
		retry:      policy,
		names:      cache.New(cache.NoExpiration, 0),
		log:        log.WithField("component", "slack_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call invokes a Web API method. Rate limits, both HTTP 429 and ok:false
// "ratelimited", are retried; once retries run out the error wraps ErrRateLimited.
func (c *SlackClient) call(ctx context.Context, method string, params url.Values) (gjson.Result, error) {
	var result gjson.Result
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		endpoint := c.baseURL + "/" + method
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(fmt.Errorf("slack %s: %w", method, err), 0)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return retry.Retryable(fmt.Errorf("slack %s: %w", method, ErrRateLimited), retry.RetryAfter(resp.Header))
		}
		if resp.StatusCode >= 500 {
			return retry.Retryable(fmt.Errorf("slack %s: status %d", method, resp.StatusCode), 0)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retryable(fmt.Errorf("slack %s: %w", method, err), 0)
		}
		parsed := gjson.ParseBytes(body)
		if !parsed.Get("ok").Bool() {
			code := parsed.Get("error").String()
			if code == "ratelimited" {
				return retry.Retryable(fmt.Errorf("slack %s: %w", method, ErrRateLimited), retry.RetryAfter(resp.Header))
			}
			return &SlackAPIError{Method: method, Code: code}
		}
		result = parsed
		return nil
	})
	return result, err
}

// AuthTest returns the token owner's user id and workspace domain.
func (c *SlackClient) AuthTest(ctx context.Context) (userID, domain string, err error) {
	resp, err := c.call(ctx, "auth.test", nil)
	if err != nil {
		return "", "", err
	}
	userID = resp.Get("user_id").String()
	if u, perr := url.Parse(resp.Get("url").String()); perr == nil {
		domain, _, _ = strings.Cut(u.Hostname(), ".")
	}
	return userID, domain, nil
}

// SearchPage is one page of search.messages results.
type SearchPage struct {
	Matches []gjson.Result
	Total   int
	Pages   int
}

// SearchMessages runs one page of a search. Tokens that may not search yield
// ErrSearchUnavailable.
func (c *SlackClient) SearchMessages(ctx context.Context, query string, page int) (SearchPage, error) {
	resp, err := c.call(ctx, "search.messages", url.Values{
		"query":    {query},
		"sort":     {"timestamp"},
		"sort_dir": {"desc"},
		"count":    {"100"},
		"page":     {strconv.Itoa(page)},
	})
	if err != nil {
		var apiErr *SlackAPIError
		if errors.As(err, &apiErr) && searchDeniedCodes[apiErr.Code] {
			return SearchPage{}, fmt.Errorf("%w: %s", ErrSearchUnavailable, apiErr.Code)
		}
		return SearchPage{}, err
	}
	return SearchPage{
		Matches: resp.Get("messages.matches").Array(),
		Total:   int(resp.Get("messages.total").Int()),
		Pages:   int(resp.Get("messages.paging.pages").Int()),
	}, nil
}

// ListConversations enumerates conversations of the given types, following
// cursors for at most maxPages pages.
func (c *SlackClient) ListConversations(ctx context.Context, types string, maxPages int) ([]gjson.Result, error) {
	var all []gjson.Result
	cursor := ""
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		params := url.Values{
			"types":            {types},
			"limit":            {"200"},
			"exclude_archived": {"true"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		resp, err := c.call(ctx, "conversations.list", params)
		if err != nil {
			return all, err
		}
		all = append(all, resp.Get("channels").Array()...)

		cursor = resp.Get("response_metadata.next_cursor").String()
		if cursor == "" {
			return all, nil
		}
	}
	c.log.WithField("pages", maxPages).Warn("conversations.list page ceiling reached")
	return all, nil
}

// History returns up to limit recent messages of a conversation, newest first.
// oldest may be empty.
func (c *SlackClient) History(ctx context.Context, channelID, oldest string, limit int) ([]gjson.Result, error) {
	params := url.Values{"channel": {channelID}, "limit": {strconv.Itoa(limit)}}
	if oldest != "" {
		params.Set("oldest", oldest)
	}
	resp, err := c.call(ctx, "conversations.history", params)
	if err != nil {
		return nil, err
	}
	return resp.Get("messages").Array(), nil
}

// Replies returns the messages of a thread posted at or after oldest.
func (c *SlackClient) Replies(ctx context.Context, channelID, threadTS, oldest string) ([]gjson.Result, error) {
	params := url.Values{"channel": {channelID}, "ts": {threadTS}, "limit": {"100"}}
	if oldest != "" {
		params.Set("oldest", oldest)
	}
	resp, err := c.call(ctx, "conversations.replies", params)
	if err != nil {
		return nil, err
	}
	return resp.Get("messages").Array(), nil
}

// UserName resolves a user id to display name, real name or handle. Lookups
// are cached for the lifetime of the client; failures fall back to the id.
func (c *SlackClient) UserName(ctx context.Context, userID string) string {
	if userID == "" {
		return "unknown"
	}
	if name, ok := c.names.Get(userID); ok {
		return name.(string)
	}

	name := userID
	resp, err := c.call(ctx, "users.info", url.Values{"user": {userID}})
	if err != nil {
		c.log.WithError(err).WithField("user", userID).Debug("users.info failed")
	} else {
		for _, path := range []string{"user.profile.display_name", "user.real_name", "user.name"} {
			if v := resp.Get(path).String(); v != "" {
				name = v
				break
			}
		}
	}
	c.names.Set(userID, name, cache.NoExpiration)
	return name
}

// slackTSParam renders t as a Slack "oldest" parameter.
func slackTSParam(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}
