package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/retry"
)

type jsonObj = map[string]any

func tsAt(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

type fakeSlack struct {
	t *testing.T

	mu          sync.Mutex
	searchErr   string
	fromMe      []jsonObj
	dms         []jsonObj
	searchTotal int
	searchPages int
	history     map[string][]jsonObj
	replies     map[string][]jsonObj
	channels    []jsonObj
	rateLimited map[string]bool
	names       map[string]string
	calls       map[string]int
	queries     []string
}

func newFakeSlack(t *testing.T) *fakeSlack {
	return &fakeSlack{
		t:           t,
		history:     map[string][]jsonObj{},
		replies:     map[string][]jsonObj{},
		rateLimited: map[string]bool{},
		names:       map[string]string{"UME": "alice", "UBOB": "Bob", "UCAROL": "Carol"},
		calls:       map[string]int{},
	}
}

func (f *fakeSlack) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	method := strings.TrimPrefix(r.URL.Path, "/")
	f.calls[method]++
	q := r.URL.Query()
	w.Header().Set("Content-Type", "application/json")

	write := func(v jsonObj) {
		v["ok"] = true
		_ = json.NewEncoder(w).Encode(v)
	}

	switch method {
	case "auth.test":
		write(jsonObj{"user_id": "UME", "url": "https://acme.slack.com/"})
	case "users.info":
		write(jsonObj{"user": jsonObj{"name": "handle", "profile": jsonObj{"display_name": f.names[q.Get("user")]}}})
	case "search.messages":
		f.queries = append(f.queries, q.Get("query"))
		if f.searchErr != "" {
			_ = json.NewEncoder(w).Encode(jsonObj{"ok": false, "error": f.searchErr})
			return
		}
		matches := f.fromMe
		if strings.HasPrefix(q.Get("query"), "is:dm") {
			matches = f.dms
		}
		total, pages := len(matches), 1
		if f.searchTotal > 0 {
			total, pages = f.searchTotal, f.searchPages
		}
		write(jsonObj{"messages": jsonObj{"matches": matches, "total": total, "paging": jsonObj{"pages": pages}}})
	case "conversations.list":
		write(jsonObj{"channels": f.channels, "response_metadata": jsonObj{"next_cursor": ""}})
	case "conversations.history":
		ch := q.Get("channel")
		if f.rateLimited[ch] {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		msgs := f.history[ch]
		if oldest := q.Get("oldest"); oldest != "" {
			var recent []jsonObj
			for _, m := range msgs {
				if m["ts"].(string) >= oldest {
					recent = append(recent, m)
				}
			}
			msgs = recent
		}
		write(jsonObj{"messages": msgs})
	case "conversations.replies":
		write(jsonObj{"messages": f.replies[q.Get("channel")+":"+q.Get("ts")]})
	default:
		_ = json.NewEncoder(w).Encode(jsonObj{"ok": false, "error": "unknown_method"})
	}
}

func newTestSlackCollector(t *testing.T, fake *fakeSlack, now time.Time, opts ...config.RunOption) *SlackCollector {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := NewSlackClient("xoxp-test", server.URL, retry.NoDelay(2), logging.Discard(),
		WithSlackRateLimit(rate.Inf, 1))
	cfg := config.NewRunConfig(config.NewIdentity("Alice", "", "alice"), now, opts...)
	return NewSlackCollector(client, cfg, logging.Discard())
}

func channelMatch(id, name string, ts time.Time) jsonObj {
	return jsonObj{"ts": tsAt(ts), "user": "UME", "text": "posted", "channel": jsonObj{"id": id, "name": name}}
}

func TestSlackCollectorReconstructsThreadsAndFiltersParticipation(t *testing.T) {
	now := time.Now().UTC()
	fake := newFakeSlack(t)

	fake.fromMe = []jsonObj{
		channelMatch("C1", "general", now.Add(-2*time.Hour)),
		channelMatch("C2", "random", now.Add(-3*time.Hour)),
		channelMatch("C3", "flaky", now.Add(-3*time.Hour)),
		{"ts": tsAt(now.Add(-time.Hour)), "channel": jsonObj{"id": "D9", "is_im": true}},
	}
	fake.dms = []jsonObj{{
		"ts": tsAt(now.Add(-30 * time.Minute)), "user": "UCAROL", "text": "Can you send me the deck?",
		"permalink": "https://acme.slack.com/archives/D1/p1", "channel": jsonObj{"id": "D1", "is_im": true},
	}}

	oldParent := tsAt(now.Add(-10 * 24 * time.Hour))
	fake.history["C1"] = []jsonObj{
		{"ts": tsAt(now.Add(-time.Hour)), "bot_id": "B1", "text": "deploy done"},
		{"ts": tsAt(now.Add(-2 * time.Hour)), "user": "UME", "text": "I'll finish the report tomorrow"},
		{"ts": tsAt(now.Add(-5 * 24 * time.Hour)), "user": "UBOB", "text": "stale chatter"},
		{"ts": oldParent, "thread_ts": oldParent, "reply_count": 1, "user": "UBOB", "text": "Can you review the budget?"},
	}
	fake.replies["C1:"+oldParent] = []jsonObj{
		{"ts": oldParent, "thread_ts": oldParent, "user": "UBOB", "text": "Can you review the budget?"},
		{"ts": tsAt(now.Add(-3 * time.Hour)), "thread_ts": oldParent, "user": "UME", "text": "Reviewing it now"},
	}
	fake.history["C2"] = []jsonObj{{"ts": tsAt(now.Add(-time.Hour)), "user": "UBOB", "text": "lunch?"}}
	fake.rateLimited["C3"] = true

	collector := newTestSlackCollector(t, fake, now)
	items, err := collector.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 4)

	dm := items[0]
	assert.Equal(t, "https://acme.slack.com/archives/D1/p1", dm.SourceURL)
	assert.Contains(t, dm.Text, "=== Slack: DM with Carol ===")
	assert.Contains(t, dm.Text, "@Carol: Can you send me the deck?")

	assert.Contains(t, items[1].Text, "Can you review the budget?", "old parent of an active thread is kept")
	assert.Contains(t, items[2].Text, "(thread reply)")
	assert.Contains(t, items[2].SourceURL, "?thread_ts="+oldParent+"&cid=C1")
	assert.Contains(t, items[3].Text, "@alice: I'll finish the report tomorrow")

	ts := items[3].Metadata[models.MetaMessageTS].(string)
	assert.Equal(t, "https://acme.slack.com/archives/C1/p"+strings.ReplaceAll(ts, ".", ""), items[3].SourceURL)
	_, ok := items[3].Timestamp()
	assert.True(t, ok)

	for _, item := range items {
		assert.Equal(t, models.SourceChat, item.Source)
		assert.NotContains(t, item.Text, "stale chatter")
		assert.NotContains(t, item.Text, "deploy done")
		assert.NotContains(t, item.Text, "lunch?", "conversation without participation is skipped")
	}

	assert.Equal(t, 0, fake.calls["conversations.list"], "enumeration is not used when search works")
	// C1 and C2 once each, C3 twice before giving up on the rate limit
	assert.Equal(t, 4, fake.calls["conversations.history"])
}

func TestSlackCollectorFallsBackToEnumerationOnMissingScope(t *testing.T) {
	now := time.Now().UTC()
	fake := newFakeSlack(t)
	fake.searchErr = "missing_scope"
	fake.channels = []jsonObj{
		{"id": "C1", "name": "general", "is_channel": true, "is_member": true},
		{"id": "C4", "name": "not-joined", "is_channel": true, "is_member": false},
		{"id": "C5", "name": "old", "is_channel": true, "is_member": true, "is_archived": true},
		{"id": "D1", "is_im": true, "user": "UBOB"},
	}
	fake.history["C1"] = []jsonObj{{"ts": tsAt(now.Add(-time.Hour)), "user": "UME", "text": "I'll send the invoice"}}
	fake.history["C4"] = []jsonObj{{"ts": tsAt(now.Add(-time.Hour)), "user": "UME", "text": "should not be read"}}

	collector := newTestSlackCollector(t, fake, now)
	items, err := collector.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].Text, "I'll send the invoice")
	assert.Equal(t, 1, fake.calls["conversations.list"])
}

func TestSlackCollectorDoesNotFallBackOnOtherSearchErrors(t *testing.T) {
	for _, code := range []string{"invalid_auth", "no_permission", "account_inactive"} {
		t.Run(code, func(t *testing.T) {
			fake := newFakeSlack(t)
			fake.searchErr = code

			collector := newTestSlackCollector(t, fake, time.Now().UTC())
			_, err := collector.Collect(context.Background())
			require.Error(t, err)
			assert.Equal(t, 0, fake.calls["conversations.list"])

			var apiErr *SlackAPIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, code, apiErr.Code)
		})
	}
}

func TestSlackCollectorSkipsThreadsWithStaleReplies(t *testing.T) {
	now := time.Now().UTC()
	fake := newFakeSlack(t)
	fake.fromMe = []jsonObj{channelMatch("C1", "general", now.Add(-time.Hour))}

	history := []jsonObj{{"ts": tsAt(now.Add(-time.Hour)), "user": "UME", "text": "I'll ship the fix tonight"}}
	staleReply := tsAt(now.Add(-7 * 24 * time.Hour))
	for i := 0; i < 20; i++ {
		ts := tsAt(now.Add(-8*24*time.Hour + time.Duration(i)*time.Minute))
		history = append(history, jsonObj{
			"ts": ts, "thread_ts": ts, "reply_count": 3, "latest_reply": staleReply,
			"user": "UBOB", "text": fmt.Sprintf("old discussion %d", i),
		})
	}
	oldParent := tsAt(now.Add(-10 * 24 * time.Hour))
	bump := tsAt(now.Add(-2 * time.Hour))
	history = append(history, jsonObj{
		"ts": oldParent, "thread_ts": oldParent, "reply_count": 4, "latest_reply": bump,
		"user": "UBOB", "text": "Can you sign off on the vendor contract?",
	})
	fake.history["C1"] = history
	fake.replies["C1:"+oldParent] = []jsonObj{
		{"ts": oldParent, "thread_ts": oldParent, "user": "UBOB", "text": "Can you sign off on the vendor contract?"},
		{"ts": bump, "thread_ts": oldParent, "user": "UBOB", "text": "bump, need it today"},
	}

	collector := newTestSlackCollector(t, fake, now)
	items, err := collector.Collect(context.Background())
	require.NoError(t, err)

	var texts []string
	for _, item := range items {
		texts = append(texts, item.Text)
	}
	all := strings.Join(texts, "\n")
	assert.Contains(t, all, "bump, need it today")
	assert.Contains(t, all, "Can you sign off on the vendor contract?")
	assert.Contains(t, all, "I'll ship the fix tonight")
	assert.NotContains(t, all, "old discussion")
	assert.Equal(t, 1, fake.calls["conversations.replies"], "threads that went quiet before the window are not fetched")
}

func TestSlackMessageTextIsCapped(t *testing.T) {
	now := time.Now().UTC()
	fake := newFakeSlack(t)
	fake.fromMe = []jsonObj{channelMatch("C1", "general", now.Add(-time.Hour))}
	fake.history["C1"] = []jsonObj{
		{"ts": tsAt(now.Add(-time.Hour)), "user": "UME", "text": "Please review: " + strings.Repeat("é", 5000)},
	}

	collector := newTestSlackCollector(t, fake, now)
	items, err := collector.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	text := items[0].Text
	assert.Contains(t, text, "Please review: ")
	assert.True(t, strings.HasSuffix(text, " ... [truncated]"))
	assert.True(t, utf8.ValidString(text))
	assert.Less(t, utf8.RuneCountInString(text), slackMessageLimit+100)
}

func TestSlackCollectorStopsAtSearchPageCeiling(t *testing.T) {
	now := time.Now().UTC()
	fake := newFakeSlack(t)
	fake.fromMe = []jsonObj{channelMatch("C1", "general", now.Add(-time.Hour))}
	fake.searchTotal, fake.searchPages = 1000, 10

	collector := newTestSlackCollector(t, fake, now,
		config.WithLimits(config.Limits{SearchPages: 2, ThreadProbes: 5, GmailMaxResults: 5}))
	_, err := collector.Collect(context.Background())
	require.NoError(t, err)

	fromMe := 0
	for _, q := range fake.queries {
		if strings.HasPrefix(q, "from:me after:") {
			fromMe++
		}
	}
	assert.Equal(t, 2, fromMe)
}

func TestSlackSearchAfterDate(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	collector := &SlackCollector{cfg: config.NewRunConfig(config.NewIdentity("A", "", ""), now, config.WithLookbackDays(1))}
	assert.Equal(t, "2024-05-08", collector.searchAfter())
}

func TestSlackPermalink(t *testing.T) {
	assert.Equal(t, "https://acme.slack.com/archives/C1/p1712345678000100",
		slackPermalink("acme", "C1", "1712345678.000100", ""))
	assert.Equal(t, "", slackPermalink("", "C1", "1.2", ""))
}
