package collectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/retry"
)

type fakeZoom struct {
	mu        sync.Mutex
	responses map[string]jsonObj
	requested []string
	tokenForm map[string]string
	basicUser string
}

func (f *fakeZoom) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/oauth/token" {
		_ = r.ParseForm()
		f.basicUser, _, _ = r.BasicAuth()
		f.tokenForm = map[string]string{
			"grant_type": r.PostForm.Get("grant_type"),
			"account_id": r.PostForm.Get("account_id"),
		}
		_ = json.NewEncoder(w).Encode(jsonObj{"access_token": "zoom-token", "token_type": "bearer", "expires_in": 3599})
		return
	}

	path := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	f.requested = append(f.requested, path)

	if r.Header.Get("Authorization") != "Bearer zoom-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, ok := f.responses[path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(jsonObj{"code": 3001, "message": "Meeting does not exist"})
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func TestZoomCollectorCollectsSummariesInWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	iso := func(d time.Duration) string { return now.Add(-d).Format(time.RFC3339) }

	fake := &fakeZoom{responses: map[string]jsonObj{
		"/v2/users/me/meetings?type=scheduled&page_size=100": {"meetings": []jsonObj{
			{"id": 85012345678, "topic": "Weekly sync"},
			{"id": 999, "topic": "Retired"},
		}},
		"/v2/past_meetings/85012345678/instances": {"meetings": []jsonObj{
			{"uuid": "abc==", "start_time": iso(2 * time.Hour)},
			{"uuid": "/slash//uuid", "start_time": iso(3 * time.Hour)},
			{"uuid": "old", "start_time": iso(72 * time.Hour)},
			{"uuid": "nosummary", "start_time": iso(time.Hour)},
		}},
		"/v2/meetings/abc==/meeting_summary": {"summary_content": "Alice will send the deck by Friday."},
		"/v2/meetings/%252Fslash%252F%252Fuuid/meeting_summary": {
			"summary_overview": "Planning for Q3.",
			"summary_details":  []jsonObj{{"label": "Budget", "summary": "Bob owns the budget review."}},
			"next_steps":       []string{"Alice to draft the roadmap"},
		},
	}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	httpClient := ZoomHTTPClient(context.Background(), "acct-1", "client-id", "secret", server.URL+"/oauth/token")
	client := NewZoomClient(httpClient, server.URL+"/v2", retry.NoDelay(2))
	cfg := config.NewRunConfig(config.NewIdentity("Alice", "", ""), now)

	items, err := NewZoomCollector(client, cfg, logging.Discard()).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "=== Zoom Meeting: Weekly sync ("+iso(2*time.Hour)+") ===\n\nAlice will send the deck by Friday.", items[0].Text)
	assert.Equal(t, "https://zoom.us/j/85012345678", items[0].SourceURL)
	assert.Equal(t, models.SourceMeeting, items[0].Source)

	assert.Contains(t, items[1].Text, "Planning for Q3.\n\nDetails:\n\nBudget:\nBob owns the budget review.\n")
	assert.Contains(t, items[1].Text, "Next Steps:\n- Alice to draft the roadmap\n")
	ts, ok := items[1].Timestamp()
	require.True(t, ok)
	assert.True(t, ts.Equal(now.Add(-3*time.Hour)))

	assert.NotContains(t, fake.requested, "/v2/meetings/old/meeting_summary", "instances before the cutoff are not fetched")
	assert.Equal(t, "client-id", fake.basicUser)
	assert.Equal(t, map[string]string{"grant_type": "account_credentials", "account_id": "acct-1"}, fake.tokenForm)
}

func TestZoomCollectorListFailure(t *testing.T) {
	fake := &fakeZoom{responses: map[string]jsonObj{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	httpClient := ZoomHTTPClient(context.Background(), "acct", "id", "secret", server.URL+"/oauth/token")
	client := NewZoomClient(httpClient, server.URL+"/v2", retry.NoDelay(1))
	_, err := NewZoomCollector(client, config.NewRunConfig(config.Identity{}, time.Now()), logging.Discard()).Collect(context.Background())

	var apiErr *ZoomAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, int64(3001), apiErr.Code)
}

func TestEscapeMeetingUUID(t *testing.T) {
	assert.Equal(t, "abc==", escapeMeetingUUID("abc=="))
	assert.Equal(t, "a%2Fb", escapeMeetingUUID("a/b"))
	assert.Equal(t, "%252Fabc", escapeMeetingUUID("/abc"))
	assert.Equal(t, "a%252F%252Fb", escapeMeetingUUID("a//b"))
}

func TestSummaryTextPrefersContent(t *testing.T) {
	assert.Equal(t, "done", summaryText(gjson.Parse(`{"summary_content":"done","summary_overview":"ignored"}`)))
	assert.Equal(t, "Overview\n\n", summaryText(gjson.Parse(`{"summary_overview":"Overview"}`)))
}
