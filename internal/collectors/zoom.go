package collectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/retry"
)

// ZoomHTTPClient returns a client authorized with a server-to-server OAuth
// app. Tokens are cached until they expire.
func ZoomHTTPClient(ctx context.Context, accountID, clientID, clientSecret, tokenURL string) *http.Client {
	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		EndpointParams: url.Values{
			"grant_type": {"account_credentials"},
			"account_id": {accountID},
		},
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	return conf.Client(ctx)
}

// ZoomAPIError is a non-2xx answer from the Zoom API.
type ZoomAPIError struct {
	Status  int
	Code    int64
	Message string
}

func (e *ZoomAPIError) Error() string {
	return fmt.Sprintf("zoom API error (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

// ZoomClient reads meetings and AI summaries for the authorized account.
type ZoomClient struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

func NewZoomClient(httpClient *http.Client, baseURL string, policy retry.Policy) *ZoomClient {
	if baseURL == "" {
		baseURL = "https://api.zoom.us/v2"
	}
	return &ZoomClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, retry: policy}
}

func (c *ZoomClient) get(ctx context.Context, endpoint string) (gjson.Result, error) {
	var result gjson.Result
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.Retryable(fmt.Errorf("zoom %s: %w", endpoint, err), 0)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retryable(fmt.Errorf("failed to read response: %w", err), 0)
		}
		parsed := gjson.ParseBytes(body)
		if resp.StatusCode >= 400 {
			apiErr := &ZoomAPIError{
				Status:  resp.StatusCode,
				Code:    parsed.Get("code").Int(),
				Message: parsed.Get("message").String(),
			}
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

// ScheduledMeetings lists the user's scheduled meetings.
func (c *ZoomClient) ScheduledMeetings(ctx context.Context) ([]gjson.Result, error) {
	resp, err := c.get(ctx, "/users/me/meetings?type=scheduled&page_size=100")
	if err != nil {
		return nil, err
	}
	return resp.Get("meetings").Array(), nil
}

// PastInstances lists past occurrences of a meeting.
func (c *ZoomClient) PastInstances(ctx context.Context, meetingID string) ([]gjson.Result, error) {
	resp, err := c.get(ctx, "/past_meetings/"+url.PathEscape(meetingID)+"/instances")
	if err != nil {
		return nil, err
	}
	return resp.Get("meetings").Array(), nil
}

// MeetingSummary fetches the AI Companion summary of a meeting instance.
func (c *ZoomClient) MeetingSummary(ctx context.Context, instanceUUID string) (gjson.Result, error) {
	return c.get(ctx, "/meetings/"+escapeMeetingUUID(instanceUUID)+"/meeting_summary")
}

// escapeMeetingUUID double-encodes UUIDs that begin with '/' or contain "//",
// which Zoom requires for those identifiers.
func escapeMeetingUUID(uuid string) string {
	if strings.HasPrefix(uuid, "/") || strings.Contains(uuid, "//") {
		return url.PathEscape(url.PathEscape(uuid))
	}
	return url.PathEscape(uuid)
}

// ZoomCollector turns AI meeting summaries from the lookback window into
// meeting content items.
type ZoomCollector struct {
	client *ZoomClient
	cfg    config.RunConfig
	log    *logrus.Entry
}

func NewZoomCollector(client *ZoomClient, cfg config.RunConfig, log *logrus.Entry) *ZoomCollector {
	return &ZoomCollector{client: client, cfg: cfg, log: log.WithField("collector", "zoom")}
}

func (c *ZoomCollector) Name() string { return "zoom" }

func (c *ZoomCollector) Collect(ctx context.Context) ([]models.ContentItem, error) {
	meetings, err := c.client.ScheduledMeetings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list zoom meetings: %w", err)
	}
	cutoff := c.cfg.Cutoff()

	var items []models.ContentItem
	for _, meeting := range meetings {
		meetingID := meeting.Get("id").String()
		topic := meeting.Get("topic").String()
		if topic == "" {
			topic = "Unknown Meeting"
		}

		instances, err := c.client.PastInstances(ctx, meetingID)
		if err != nil {
			c.log.WithError(err).WithField("meeting_id", meetingID).Debug("no past instances")
			continue
		}

		for _, instance := range instances {
			startRaw := instance.Get("start_time").String()
			start, err := time.Parse(time.RFC3339, startRaw)
			if err != nil || start.Before(cutoff) {
				continue
			}
			instanceUUID := instance.Get("uuid").String()
			if instanceUUID == "" {
				continue
			}

			summary, err := c.client.MeetingSummary(ctx, instanceUUID)
			if err != nil {
				var apiErr *ZoomAPIError
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
					c.log.WithField("meeting_id", meetingID).Debug("no AI summary for meeting")
				} else {
					c.log.WithError(err).WithField("meeting_id", meetingID).Warn("could not fetch meeting summary")
				}
				continue
			}

			text := summaryText(summary)
			if strings.TrimSpace(text) == "" {
				continue
			}
			items = append(items, models.ContentItem{
				Text:      fmt.Sprintf("=== Zoom Meeting: %s (%s) ===\n\n%s", topic, startRaw, text),
				SourceURL: "https://zoom.us/j/" + strings.ReplaceAll(meetingID, "-", ""),
				Source:    models.SourceMeeting,
				Metadata: map[string]any{
					models.MetaMeetingID: meetingID,
					models.MetaTitle:     topic,
					models.MetaTimestamp: start,
				},
			})
		}
	}

	c.log.WithField("meetings", len(items)).Info("zoom collection complete")
	return items, nil
}

// summaryText prefers the pre-rendered summary and otherwise assembles one
// from the overview, details and next steps.
func summaryText(summary gjson.Result) string {
	if content := summary.Get("summary_content").String(); content != "" {
		return content
	}

	var b strings.Builder
	b.WriteString(summary.Get("summary_overview").String())
	b.WriteString("\n\n")

	if details := summary.Get("summary_details").Array(); len(details) > 0 {
		b.WriteString("Details:\n")
		for _, d := range details {
			fmt.Fprintf(&b, "\n%s:\n%s\n", d.Get("label").String(), d.Get("summary").String())
		}
		b.WriteString("\n")
	}
	if steps := summary.Get("next_steps").Array(); len(steps) > 0 {
		b.WriteString("Next Steps:\n")
		for _, s := range steps {
			fmt.Fprintf(&b, "- %s\n", s.String())
		}
	}
	return b.String()
}
