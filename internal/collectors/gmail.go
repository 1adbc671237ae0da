package collectors

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/markusmobius/go-trafilatura"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
	"golang.org/x/oauth2"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/retry"
)

const (
	gmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"
	gmailBodyLimit     = 2000
	gmailDateLayout    = "2006-01-02 15:04"
)

// GmailHTTPClient returns an HTTP client that exchanges a stored refresh token
// for access tokens as needed.
func GmailHTTPClient(ctx context.Context, clientID, clientSecret, refreshToken, tokenURL string) *http.Client {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{gmailReadonlyScope},
	}
	return conf.Client(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

// GmailAPIError is a non-2xx answer from the Gmail API.
type GmailAPIError struct {
	Status  int
	Message string
}

func (e *GmailAPIError) Error() string {
	return fmt.Sprintf("gmail API error (status %d): %s", e.Status, e.Message)
}

// GmailClient reads messages and threads from the authenticated mailbox.
type GmailClient struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// NewGmailClient wraps an authorized HTTP client (see GmailHTTPClient).
func NewGmailClient(httpClient *http.Client, baseURL string, policy retry.Policy) *GmailClient {
	if baseURL == "" {
		baseURL = "https://gmail.googleapis.com"
	}
	return &GmailClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		retry:      policy,
	}
}

func (c *GmailClient) get(ctx context.Context, endpoint string, params url.Values) (gjson.Result, error) {
	var result gjson.Result
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		u := c.baseURL + "/gmail/v1/users/me/" + endpoint
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(fmt.Errorf("gmail %s: %w", endpoint, err), 0)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retryable(fmt.Errorf("failed to read response: %w", err), 0)
		}
		parsed := gjson.ParseBytes(body)
		if resp.StatusCode >= 400 {
			apiErr := &GmailAPIError{Status: resp.StatusCode, Message: parsed.Get("error.message").String()}
			if resp.StatusCode == http.StatusTooManyRequests {
				return retry.Retryable(fmt.Errorf("%w: %w", ErrRateLimited, apiErr), retry.RetryAfter(resp.Header))
			}
			return retry.StatusError(resp, apiErr)
		}
		result = parsed
		return nil
	})
	return result, err
}

// ListMessages returns message references (id, threadId) matching query.
func (c *GmailClient) ListMessages(ctx context.Context, query string, maxResults int) ([]gjson.Result, error) {
	params := url.Values{"q": {query}}
	if maxResults > 0 {
		params.Set("maxResults", strconv.Itoa(maxResults))
	}
	resp, err := c.get(ctx, "messages", params)
	if err != nil {
		return nil, err
	}
	return resp.Get("messages").Array(), nil
}

// GetThread fetches a thread with full message payloads.
func (c *GmailClient) GetThread(ctx context.Context, threadID string) (gjson.Result, error) {
	return c.get(ctx, "threads/"+url.PathEscape(threadID), url.Values{"format": {"full"}})
}

// GmailCollector turns recent mail threads into one content item per thread.
// Threads involving a meeting-notes sender are attributed to the meeting source.
type GmailCollector struct {
	client *GmailClient
	cfg    config.RunConfig
	log    *logrus.Entry
}

func NewGmailCollector(client *GmailClient, cfg config.RunConfig, log *logrus.Entry) *GmailCollector {
	return &GmailCollector{client: client, cfg: cfg, log: log.WithField("collector", "gmail")}
}

func (c *GmailCollector) Name() string { return "gmail" }

func (c *GmailCollector) Collect(ctx context.Context) ([]models.ContentItem, error) {
	query := c.query()
	refs, err := c.client.ListMessages(ctx, query, c.cfg.Limits().GmailMaxResults)
	if err != nil {
		return nil, fmt.Errorf("list gmail messages: %w", err)
	}

	seen := map[string]bool{}
	var threadIDs []string
	for _, ref := range refs {
		id := ref.Get("threadId").String()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		threadIDs = append(threadIDs, id)
	}
	c.log.WithFields(logrus.Fields{"messages": len(refs), "threads": len(threadIDs)}).Debug("gmail messages grouped")

	var items []models.ContentItem
	meetings := 0
	for _, id := range threadIDs {
		thread, err := c.client.GetThread(ctx, id)
		if err != nil {
			c.log.WithError(err).WithField("thread_id", id).Warn("skipping gmail thread")
			continue
		}
		item, ok := c.threadItem(id, thread)
		if !ok {
			continue
		}
		if item.Source == models.SourceMeeting {
			meetings++
		}
		items = append(items, item)
	}

	c.log.WithFields(logrus.Fields{"threads": len(items), "meeting_threads": meetings}).Info("gmail collection complete")
	return items, nil
}

// query is the configured override, or the lookback window without
// promotional and social mail.
func (c *GmailCollector) query() string {
	if q := c.cfg.GmailQuery(); q != "" {
		return q
	}
	after := c.cfg.Cutoff().Format("2006/01/02")
	return "after:" + after + " -category:promotions -category:social"
}

func (c *GmailCollector) threadItem(threadID string, thread gjson.Result) (models.ContentItem, bool) {
	messages := thread.Get("messages").Array()
	if len(messages) == 0 {
		return models.ContentItem{}, false
	}

	subject := headerValue(messages[0], "Subject")
	if subject == "" {
		subject = "(no subject)"
	}

	isMeeting := false
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		from := headerValue(msg, "From")
		if c.isMeetingSender(from) {
			isMeeting = true
		}
		body := truncateRunes(messageBody(msg.Get("payload")), gmailBodyLimit, "\n... [truncated]")
		parts = append(parts, fmt.Sprintf("[%s] From: %s\n%s", formatMailDate(headerValue(msg, "Date")), from, body))
	}

	latest := messages[len(messages)-1]
	source := models.SourceEmail
	if isMeeting {
		source = models.SourceMeeting
	}

	metadata := map[string]any{
		models.MetaThreadID:     threadID,
		models.MetaSubject:      subject,
		models.MetaMessageCount: len(messages),
		models.MetaAuthor:       headerValue(latest, "From"),
	}
	if ms := latest.Get("internalDate").Int(); ms > 0 {
		metadata[models.MetaTimestamp] = time.UnixMilli(ms)
	}

	return models.ContentItem{
		Text:      "=== Gmail Thread: " + subject + " ===\n" + strings.Join(parts, "\n---\n"),
		SourceURL: "https://mail.google.com/mail/u/0/#inbox/" + latest.Get("id").String(),
		Source:    source,
		Metadata:  metadata,
	}, true
}

func (c *GmailCollector) isMeetingSender(from string) bool {
	from = strings.ToLower(from)
	if from == "" {
		return false
	}
	for _, sender := range c.cfg.MeetingSenders() {
		if strings.Contains(from, sender) {
			return true
		}
	}
	return false
}

func headerValue(message gjson.Result, name string) string {
	for _, h := range message.Get("payload.headers").Array() {
		if strings.EqualFold(h.Get("name").String(), name) {
			return h.Get("value").String()
		}
	}
	return ""
}

// messageBody returns the first text/plain body anywhere in the part tree.
// HTML is used only when no plain part exists, reduced to readable text.
func messageBody(payload gjson.Result) string {
	if body := findPart(payload, "text/plain"); body != "" {
		return body
	}
	if markup := findPart(payload, "text/html"); markup != "" {
		return htmlToText(markup)
	}
	return ""
}

// findPart walks the part tree depth first. A bodied part without a mime type
// counts as plain text.
func findPart(part gjson.Result, mimeType string) string {
	mt := part.Get("mimeType").String()
	if mt == mimeType || (mt == "" && mimeType == "text/plain") {
		if data := part.Get("body.data").String(); data != "" {
			return decodeBase64URL(data)
		}
	}
	for _, child := range part.Get("parts").Array() {
		if body := findPart(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func htmlToText(markup string) string {
	result, err := trafilatura.Extract(strings.NewReader(markup), trafilatura.Options{EnableFallback: true})
	if err == nil && result != nil {
		if text := strings.TrimSpace(result.ContentText); text != "" {
			return text
		}
	}
	return visibleText(markup)
}

var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "blockquote": true,
}

var hiddenTags = map[string]bool{"head": true, "script": true, "style": true, "title": true}

// visibleText keeps the text nodes outside head, script and style, one line per block.
func visibleText(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	hidden := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			var lines []string
			for _, line := range strings.Split(b.String(), "\n") {
				if line = strings.Join(strings.Fields(line), " "); line != "" {
					lines = append(lines, line)
				}
			}
			return strings.Join(lines, "\n")
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if hiddenTags[tag] {
				if tt == html.StartTagToken {
					hidden++
				} else if tt == html.EndTagToken && hidden > 0 {
					hidden--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if hidden == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func decodeBase64URL(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return ""
		}
	}
	return strings.ToValidUTF8(string(decoded), "�")
}

func formatMailDate(raw string) string {
	if raw == "" {
		return "unknown"
	}
	t, err := mail.ParseDate(raw)
	if err != nil {
		return truncateRunes(raw, 20, "")
	}
	return t.Format(gmailDateLayout)
}
